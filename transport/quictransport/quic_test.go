package quictransport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/automoto/arenanet/transport"
)

func TestDatagramExchange(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := Listen("127.0.0.1:0", nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, server.LocalAddr(), nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.Send(client.RemoteAddr(), []byte("hello")); err != nil {
		t.Fatal(err)
	}
	var got []transport.Datagram
	deadline := time.Now().Add(5 * time.Second)
	for len(got) == 0 && time.Now().Before(deadline) {
		got = server.Poll(got)
		time.Sleep(5 * time.Millisecond)
	}
	if len(got) != 1 || string(got[0].Data) != "hello" {
		t.Fatalf("server got %+v", got)
	}

	if err := server.Send(got[0].From, []byte("world")); err != nil {
		t.Fatal(err)
	}
	var reply []transport.Datagram
	for len(reply) == 0 && time.Now().Before(deadline) {
		reply = client.Poll(reply)
		time.Sleep(5 * time.Millisecond)
	}
	if len(reply) != 1 || string(reply[0].Data) != "world" {
		t.Fatalf("client got %+v", reply)
	}
}

func TestSendToUnknownPeer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := Listen("127.0.0.1:0", nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	if err := server.Send("10.0.0.1:1", []byte("x")); err == nil {
		t.Fatal("expected an error")
	}
}
