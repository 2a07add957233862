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

	"github.com/automoto/arenanet/server/config"
	"github.com/automoto/arenanet/server/core"
	"github.com/automoto/arenanet/shared/logging"
	"github.com/automoto/arenanet/shared/pmove"
	"github.com/automoto/arenanet/transport"
	"github.com/automoto/arenanet/transport/quictransport"
	"github.com/automoto/arenanet/transport/udp"
	"github.com/automoto/arenanet/transport/wstransport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		mapName    string
		addr       string
		kind       string
		httpAddr   string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:           "arenanet-server",
		Short:         "Dedicated arenanet game server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("map") {
				cfg.Map = mapName
			}
			if flags.Changed("addr") {
				cfg.Transport.Addr = addr
			}
			if flags.Changed("transport") {
				cfg.Transport.Kind = kind
			}
			if flags.Changed("http") {
				cfg.HTTP.Addr = httpAddr
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.StringVar(&mapName, "map", "", "map to load from <maps_dir>/levels")
	f.StringVar(&addr, "addr", "", "game transport listen address")
	f.StringVar(&kind, "transport", "", "game transport: udp, quic or ws")
	f.StringVar(&httpAddr, "http", "", "status/metrics/websocket listen address (empty disables)")
	f.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	level, err := core.LoadServerLevel(cfg.MapsDir, cfg.Map, pmove.DefaultParams())
	if err != nil {
		return err
	}

	mux := transport.NewMux()
	var ws *wstransport.Transport
	if cfg.HTTP.Addr != "" {
		ws = wstransport.NewServer(cfg.HTTP.Addr, logger)
		if err := mux.Add("ws", ws); err != nil {
			return err
		}
	}
	switch cfg.Transport.Kind {
	case "udp":
		t, err := udp.Listen(cfg.Transport.Addr, logger)
		if err != nil {
			return err
		}
		if err := mux.Add("udp", t); err != nil {
			return err
		}
	case "quic":
		t, err := quictransport.Listen(cfg.Transport.Addr, nil, logger)
		if err != nil {
			return err
		}
		if err := mux.Add("quic", t); err != nil {
			return err
		}
	case "ws":
		if ws == nil {
			return errors.New("transport ws needs http.addr")
		}
	}
	defer mux.Close()

	srv, err := core.NewServer(core.Options{
		Config:    cfg,
		Transport: mux,
		Level:     level,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	loop := core.NewGameLoop(srv, cfg.Net.TickRate)

	logger.Info("starting server",
		"name", cfg.Name,
		"map", level.Name(),
		"transport", mux.LocalAddr(),
		"tick_rate", cfg.Net.TickRate)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		loop.Stop()
		srv.Shutdown("server shutting down")
		return nil
	})
	if cfg.HTTP.Addr != "" {
		var wsHandler http.Handler
		if ws != nil {
			wsHandler = ws.Handler()
		}
		httpSrv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           srv.Router(wsHandler),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}
	if cfg.Master.URL != "" {
		address := cfg.Master.Address
		if address == "" {
			address = cfg.Transport.Addr
		}
		reg := core.NewRegistration(cfg.Master.URL, cfg.Name, address, cfg.Master.Region, cfg.MaxClients, srv.PlayerCount, logger)
		g.Go(func() error { return reg.Run(ctx) })
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
