package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterHeartbeatList(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute)
	h := Router(reg, testLogger)

	rec := post(t, h, "/servers/register",
		`{"name":"dm1","address":"10.0.0.1:27960","maxPlayers":8,"version":"1","region":"eu"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", rec.Code, rec.Body)
	}
	var resp registerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.ID == "" {
		t.Fatalf("register response %q: %v", rec.Body, err)
	}

	rec = post(t, h, "/servers/heartbeat", `{"id":"`+resp.ID+`","players":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/servers?version=1", nil))
	var list []ServerInfo
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "dm1" || list[0].Players != 3 || list[0].Region != "eu" {
		t.Fatalf("list %+v", list)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type %q", got)
	}
}

func TestRegisterRejectsBadRequests(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute)
	h := Router(reg, testLogger)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"not json", "/servers/register", "{", http.StatusBadRequest},
		{"no address", "/servers/register", `{"name":"x"}`, http.StatusBadRequest},
		{"unknown heartbeat", "/servers/heartbeat", `{"id":"nope"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := post(t, h, tt.path, tt.body); rec.Code != tt.want {
			t.Fatalf("%s: status %d, want %d", tt.name, rec.Code, tt.want)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/servers/register", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET register status %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute)
	rec := httptest.NewRecorder()
	Router(reg, testLogger).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("health %d %q", rec.Code, rec.Body)
	}
}
