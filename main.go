package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/automoto/arenanet/demo"
	"github.com/automoto/arenanet/network"
	"github.com/automoto/arenanet/shared/leveldata"
	"github.com/automoto/arenanet/shared/logging"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/transport"
	"github.com/automoto/arenanet/transport/quictransport"
	"github.com/automoto/arenanet/transport/udp"
	"github.com/automoto/arenanet/transport/wstransport"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:           "arenanet",
		Short:         "Headless arenanet client and demo tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	logger := func() (*slog.Logger, error) {
		l, err := logging.New(os.Stderr, logLevel, "text")
		if err != nil {
			return nil, err
		}
		return l.With("component", "client"), nil
	}
	cmd.AddCommand(connectCmd(logger), demoCmd())
	return cmd
}

type connectFlags struct {
	server  string
	kind    string
	name    string
	mapsDir string
	record  string
	say     string
	fps     int
	run     bool
}

func connectCmd(logger func() (*slog.Logger, error)) *cobra.Command {
	var f connectFlags
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a server and play as a bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := logger()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runClient(ctx, f, l)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.server, "server", "s", "127.0.0.1:27960", "server address, or a ws:// URL for --transport ws")
	fl.StringVar(&f.kind, "transport", "udp", "udp, quic or ws")
	fl.StringVar(&f.name, "name", "player", "player name")
	fl.StringVar(&f.mapsDir, "maps", "maps", "directory containing levels/*.tmx")
	fl.StringVar(&f.record, "record", "", "record a demo to this file")
	fl.StringVar(&f.say, "say", "", "chat message sent once connected")
	fl.IntVar(&f.fps, "fps", 60, "client frames per second")
	fl.BoolVar(&f.run, "run", false, "run in circles instead of standing still")
	return cmd
}

func dial(ctx context.Context, kind, server string, logger *slog.Logger) (transport.Transport, string, error) {
	switch kind {
	case "udp":
		t, err := udp.Dial(server, logger)
		if err != nil {
			return nil, "", err
		}
		return t, t.RemoteAddr(), nil
	case "quic":
		t, err := quictransport.Dial(ctx, server, nil, logger)
		if err != nil {
			return nil, "", err
		}
		return t, t.RemoteAddr(), nil
	case "ws":
		t, err := wstransport.Dial(ctx, server, logger)
		if err != nil {
			return nil, "", err
		}
		return t, t.RemoteAddr(), nil
	}
	return nil, "", fmt.Errorf("unknown transport %q", kind)
}

func runClient(ctx context.Context, f connectFlags, logger *slog.Logger) error {
	if f.fps <= 0 {
		return errors.New("fps must be positive")
	}
	maps, _, err := leveldata.LoadAllLevels(os.DirFS(f.mapsDir), "levels")
	if err != nil {
		logger.Warn("no maps loaded, only open-plane servers will work", "dir", f.mapsDir, "err", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	t, server, err := dial(dialCtx, f.kind, f.server, logger)
	cancel()
	if err != nil {
		return err
	}
	defer t.Close()

	c, err := network.NewClient(network.Options{
		Transport: t,
		Server:    server,
		Name:      f.name,
		Maps:      maps,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	var demoFile *os.File
	ticker := time.NewTicker(time.Second / time.Duration(f.fps))
	defer ticker.Stop()

	start := time.Now()
	c.Connect(start)
	said := false
	for {
		select {
		case <-ctx.Done():
			c.Disconnect()
			return closeDemo(c, demoFile)
		case now := <-ticker.C:
			c.Frame(now, botInput(f.run, now.Sub(start)))

			switch c.State() {
			case network.StateDisconnected, network.StateError:
				if err := closeDemo(c, demoFile); err != nil {
					logger.Warn("closing demo", "err", err)
				}
				return c.LastError()
			case network.StateActive:
				if f.record != "" && demoFile == nil {
					if demoFile, err = startDemo(c, f.record); err != nil {
						return err
					}
					logger.Info("recording demo", "file", f.record)
				}
				if f.say != "" && !said {
					said = c.SendCommand("say "+f.say) == nil
				}
			}
			for _, cmd := range c.DrainCommands() {
				fmt.Println(cmd)
			}
			for _, ev := range c.DrainEvents() {
				logger.Debug("entity event", "entity", ev.Number, "event", ev.Event, "parm", ev.Parm, "server_time", ev.ServerTime)
			}
		}
	}
}

// botInput steers a slow circle when run is set.
func botInput(run bool, elapsed time.Duration) network.Input {
	if !run {
		return network.Input{}
	}
	yaw := float32(math.Mod(elapsed.Seconds()*45, 360))
	return network.Input{Forward: 127, Angles: netstate.Vec3{0, yaw, 0}}
}

func startDemo(c *network.Client, path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create demo: %w", err)
	}
	if err := c.StartRecording(f); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func closeDemo(c *network.Client, f *os.File) error {
	if f == nil {
		return nil
	}
	return errors.Join(c.StopRecording(), f.Close())
}

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo <file>",
		Short: "Play back a recorded demo and summarize it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return summarizeDemo(f, cmd.OutOrStdout())
		},
	}
}

func summarizeDemo(r io.Reader, out io.Writer) error {
	d, err := demo.NewReader(r)
	if err != nil {
		return err
	}
	defer d.Close()
	pb, err := network.NewPlayback(d, network.Settings{})
	if err != nil {
		return err
	}

	var full, deltas, events, maxEnts int
	var first, last int32
	for {
		snap, commands, err := pb.Step()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		for _, cmd := range commands {
			fmt.Fprintf(out, "command: %s\n", cmd)
		}
		events += len(pb.DrainEvents())
		if snap == nil {
			continue
		}
		if full+deltas == 0 {
			first = snap.ServerTime
		}
		last = snap.ServerTime
		if snap.Delta {
			deltas++
		} else {
			full++
		}
		maxEnts = max(maxEnts, len(snap.Entities))
	}

	h := pb.Header()
	fmt.Fprintf(out, "map %q protocol %d entity %d\n", h.Map, h.Protocol, h.EntityNum)
	fmt.Fprintf(out, "%d records, %d snapshots (%d full, %d delta), %d invalid\n",
		pb.Records(), full+deltas, full, deltas, pb.InvalidSnapshots())
	fmt.Fprintf(out, "duration %s, up to %d entities, %d events\n",
		time.Duration(last-first)*time.Millisecond, maxEnts, events)
	return nil
}
