package wstransport

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/automoto/arenanet/transport"
	"github.com/go-chi/chi/v5"
)

func waitFor(t *testing.T, tr transport.Transport) transport.Datagram {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := tr.Poll(nil); len(got) > 0 {
			return got[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no datagram received")
	return transport.Datagram{}
}

func TestWebSocketExchange(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := NewServer("test", logger)
	defer server.Close()

	r := chi.NewRouter()
	r.Handle("/ws", server.Handler())
	ts := httptest.NewServer(r)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, err := Dial(ctx, "ws://"+strings.TrimPrefix(ts.URL, "http://")+"/ws", logger)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.Send(client.RemoteAddr(), []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	d := waitFor(t, server)
	if len(d.Data) != 3 || d.Data[2] != 3 {
		t.Fatalf("server got %v", d.Data)
	}

	if err := server.Send(d.From, []byte{9}); err != nil {
		t.Fatal(err)
	}
	reply := waitFor(t, client)
	if len(reply.Data) != 1 || reply.Data[0] != 9 || reply.From != client.RemoteAddr() {
		t.Fatalf("client got %+v", reply)
	}
}
