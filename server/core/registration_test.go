package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type fakeMaster struct {
	mu         sync.Mutex
	registered []regRequest
	beats      []heartbeatRequest
	forget     bool
}

func (m *fakeMaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch r.URL.Path {
	case "/servers/register":
		var req regRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		m.registered = append(m.registered, req)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(regResponse{ID: "srv-1"})
	case "/servers/heartbeat":
		var req heartbeatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		m.beats = append(m.beats, req)
		if m.forget {
			http.Error(w, "unknown", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func TestRegistrationRegistersAndHeartbeats(t *testing.T) {
	m := &fakeMaster{}
	ts := httptest.NewServer(m)
	defer ts.Close()

	players := 2
	r := NewRegistration(ts.URL, "dm1", "10.0.0.1:27960", "eu", 8, func() int { return players }, testLogger)
	ctx := context.Background()
	if err := r.register(ctx); err != nil {
		t.Fatal(err)
	}
	if r.ID() != "srv-1" {
		t.Fatalf("id %q", r.ID())
	}
	players = 5
	if err := r.heartbeat(ctx); err != nil {
		t.Fatal(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.registered) != 1 || m.registered[0].Name != "dm1" || m.registered[0].MaxPlayers != 8 || m.registered[0].Players != 2 {
		t.Fatalf("registered %+v", m.registered)
	}
	if len(m.beats) != 1 || m.beats[0].ID != "srv-1" || m.beats[0].Players != 5 {
		t.Fatalf("heartbeats %+v", m.beats)
	}
}

func TestRegistrationReRegistersWhenForgotten(t *testing.T) {
	m := &fakeMaster{forget: true}
	ts := httptest.NewServer(m)
	defer ts.Close()

	r := NewRegistration(ts.URL, "dm1", "10.0.0.1:27960", "", 8, func() int { return 0 }, testLogger)
	ctx := context.Background()
	if err := r.register(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.heartbeat(ctx); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.registered) != 2 {
		t.Fatalf("registered %d times, want 2", len(m.registered))
	}
}
