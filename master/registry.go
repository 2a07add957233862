package main

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServerInfo describes a game server visible to clients.
type ServerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Version    string `json:"version"`
	Region     string `json:"region"`
}

type serverRecord struct {
	ServerInfo
	LastSeen time.Time
}

// Registry is an in-memory store of active game servers with TTL-based expiry.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*serverRecord
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	stopCh  chan struct{}
	stopped sync.Once
}

func NewRegistry(ttl time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		servers: make(map[string]*serverRecord),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Run sweeps expired servers every interval until Stop.
func (r *Registry) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Expire()
		}
	}
}

func (r *Registry) Stop() {
	r.stopped.Do(func() { close(r.stopCh) })
}

// Register adds a server and returns its id. A server registering again from
// the same address replaces its old entry.
func (r *Registry) Register(info ServerInfo) string {
	info.ID = uuid.NewString()

	r.mu.Lock()
	for id, rec := range r.servers {
		if rec.Address == info.Address {
			delete(r.servers, id)
		}
	}
	r.servers[info.ID] = &serverRecord{
		ServerInfo: info,
		LastSeen:   r.now(),
	}
	r.mu.Unlock()

	return info.ID
}

func (r *Registry) Heartbeat(id string, players int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.servers[id]
	if !ok || r.expired(rec, r.now()) {
		return false
	}
	rec.LastSeen = r.now()
	rec.Players = players
	return true
}

// List returns live servers sorted by name. A non-empty version keeps only
// servers running that protocol version.
func (r *Registry) List(version string) []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	result := make([]ServerInfo, 0, len(r.servers))
	for _, rec := range r.servers {
		if r.expired(rec, now) || (version != "" && rec.Version != version) {
			continue
		}
		result = append(result, rec.ServerInfo)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (r *Registry) expired(rec *serverRecord, now time.Time) bool {
	return now.Sub(rec.LastSeen) >= r.ttl
}

// Expire removes servers that missed their heartbeats and returns how many.
func (r *Registry) Expire() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for id, rec := range r.servers {
		if r.expired(rec, now) {
			r.logger.Info("expired server", "name", rec.Name, "id", id,
				"last_seen", now.Sub(rec.LastSeen).Round(time.Second))
			delete(r.servers, id)
			n++
		}
	}
	return n
}
