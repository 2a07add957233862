package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/automoto/arenanet/shared/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		port     int
		ttl      time.Duration
		logLevel string
	)
	cmd := &cobra.Command{
		Use:           "arenanet-master",
		Short:         "Master server listing running arenanet game servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				return errors.New("ttl must be positive")
			}
			logger, err := logging.New(os.Stderr, logLevel, "text")
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, fmt.Sprintf(":%d", port), ttl, logger.With("component", "master"))
		},
	}
	f := cmd.Flags()
	f.IntVar(&port, "port", 8080, "HTTP listen port")
	f.DurationVar(&ttl, "ttl", 90*time.Second, "drop servers that miss heartbeats for this long")
	f.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	return cmd
}

func serve(ctx context.Context, addr string, ttl time.Duration, logger *slog.Logger) error {
	registry := NewRegistry(ttl, logger)
	go registry.Run(ttl / 3)
	defer registry.Stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           Router(registry, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("master server listening", "addr", addr, "ttl", ttl)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
