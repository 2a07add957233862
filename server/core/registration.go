package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/automoto/arenanet/shared/netconfig"
)

// HeartbeatInterval is how often a registered server refreshes its entry.
const HeartbeatInterval = 30 * time.Second

// Registration handles registering and heartbeating with the master server.
type Registration struct {
	masterURL  string
	serverID   string
	name       string
	address    string
	region     string
	maxPlayers int
	players    func() int
	client     *http.Client
	logger     *slog.Logger
}

type regRequest struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Version    string `json:"version"`
	Region     string `json:"region"`
}

type regResponse struct {
	ID string `json:"id"`
}

type heartbeatRequest struct {
	ID      string `json:"id"`
	Players int    `json:"players"`
}

// NewRegistration prepares registration of the server reachable at address.
// players reports the current player count.
func NewRegistration(masterURL, name, address, region string, maxPlayers int, players func() int, logger *slog.Logger) *Registration {
	return &Registration{
		masterURL:  masterURL,
		name:       name,
		address:    address,
		region:     region,
		maxPlayers: maxPlayers,
		players:    players,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     logger.With("component", "registration"),
	}
}

// Run registers and then heartbeats until ctx is cancelled. Failures are
// logged and retried on the next heartbeat.
func (r *Registration) Run(ctx context.Context) error {
	if err := r.register(ctx); err != nil {
		r.logger.Warn("initial registration failed", "err", err)
	}
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.heartbeat(ctx); err != nil {
				r.logger.Warn("heartbeat failed", "err", err)
			}
		}
	}
}

// ID returns the id assigned by the master, empty until registered.
func (r *Registration) ID() string { return r.serverID }

func (r *Registration) post(ctx context.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.masterURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	return resp, nil
}

func (r *Registration) register(ctx context.Context) error {
	resp, err := r.post(ctx, "/servers/register", regRequest{
		Name:       r.name,
		Address:    r.address,
		Players:    r.players(),
		MaxPlayers: r.maxPlayers,
		Version:    fmt.Sprintf("%d", netconfig.ProtocolVersion),
		Region:     r.region,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result regResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	r.serverID = result.ID
	r.logger.Info("registered with master", "id", r.serverID)
	return nil
}

func (r *Registration) heartbeat(ctx context.Context) error {
	if r.serverID == "" {
		return r.register(ctx)
	}
	resp, err := r.post(ctx, "/servers/heartbeat", heartbeatRequest{
		ID:      r.serverID,
		Players: r.players(),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		r.logger.Info("master lost our registration, re-registering")
		return r.register(ctx)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
