package core

import (
	"log/slog"
	"time"
)

// GameLoop drives a Server at a fixed tick rate on its own goroutine.
type GameLoop struct {
	server   *Server
	tickRate int
	logger   *slog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

func NewGameLoop(server *Server, tickRate int) *GameLoop {
	return &GameLoop{
		server:   server,
		tickRate: tickRate,
		logger:   server.logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run ticks the server until Stop is called.
func (g *GameLoop) Run() {
	defer close(g.done)
	ticker := time.NewTicker(time.Second / time.Duration(g.tickRate))
	defer ticker.Stop()

	g.logger.Info("game loop started", "tick_rate", g.tickRate)

	for {
		select {
		case <-g.stopChan:
			g.logger.Info("game loop stopped")
			return
		case now := <-ticker.C:
			g.server.Frame(now)
		}
	}
}

// Stop ends Run and waits for the current frame to finish.
func (g *GameLoop) Stop() {
	close(g.stopChan)
	<-g.done
}
