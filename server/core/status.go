package core

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is a point-in-time summary of the server for the status endpoint
// and master registration.
type Status struct {
	Name       string         `json:"name"`
	Map        string         `json:"map"`
	MaxClients int            `json:"maxClients"`
	TickRate   int            `json:"tickRate"`
	ServerTime int32          `json:"serverTime"`
	Snapshot   uint32         `json:"snapshot"`
	Entities   int            `json:"entities"`
	Retained   int            `json:"retainedSnapshots"`
	Clients    []ClientStatus `json:"clients"`
}

// ClientStatus describes one connected client.
type ClientStatus struct {
	Num     int    `json:"num"`
	Name    string `json:"name"`
	Addr    string `json:"addr"`
	PingMs  int64  `json:"pingMs"`
	Sync    string `json:"sync"`
	Dropped int    `json:"droppedPackets"`
}

func (s *Server) publishStatus(snap *WorldSnapshot) {
	st := Status{
		Name:       s.cfg.Name,
		Map:        s.level.Name(),
		MaxClients: s.cfg.MaxClients,
		TickRate:   s.cfg.Net.TickRate,
		ServerTime: s.serverTime,
		Snapshot:   snap.Seq,
		Entities:   len(snap.Entities),
		Retained:   s.ring.Len(),
		Clients:    make([]ClientStatus, 0, s.clients.Len()),
	}
	s.eachClient(func(c *Client) {
		st.Clients = append(st.Clients, ClientStatus{
			Num:     c.Num,
			Name:    c.Name,
			Addr:    c.Addr,
			PingMs:  c.ping.Milliseconds(),
			Sync:    c.sync.String(),
			Dropped: c.channel.Dropped(),
		})
	})
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Status returns the summary published at the end of the last frame.
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// PlayerCount returns the number of connected players as of the last frame.
func (s *Server) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.status.Clients)
}

// Router serves /health, /status and /metrics. A non-nil ws handler is mounted
// at /ws for WebSocket clients.
func (s *Server) Router(ws http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
			s.logger.Warn("status encode failed", "err", err)
		}
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	if ws != nil {
		r.Handle("/ws", ws)
	}
	return r
}
