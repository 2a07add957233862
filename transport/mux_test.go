package transport_test

import (
	"errors"
	"testing"

	"github.com/automoto/arenanet/transport"
	"github.com/automoto/arenanet/transport/loopback"
)

func TestMuxPrefixesPeers(t *testing.T) {
	n := loopback.NewNetwork(1)
	a := n.Endpoint("server-a")
	b := n.Endpoint("server-b")
	peer := n.Endpoint("peer")

	mux := transport.NewMux()
	if err := mux.Add("a", a); err != nil {
		t.Fatal(err)
	}
	if err := mux.Add("b", b); err != nil {
		t.Fatal(err)
	}
	if err := mux.Add("a", b); err == nil {
		t.Fatal("duplicate name accepted")
	}

	if err := peer.Send("server-b", []byte{7}); err != nil {
		t.Fatal(err)
	}
	got := mux.Poll(nil)
	if len(got) != 1 || got[0].From != "b|peer" {
		t.Fatalf("polled %+v", got)
	}

	if err := mux.Send(got[0].From, []byte{8}); err != nil {
		t.Fatal(err)
	}
	reply := peer.Poll(nil)
	if len(reply) != 1 || reply[0].From != "server-b" || reply[0].Data[0] != 8 {
		t.Fatalf("peer got %+v", reply)
	}

	if err := mux.Send("c|peer", nil); !errors.Is(err, transport.ErrUnknownPeer) {
		t.Fatalf("send to unknown transport: %v", err)
	}
}
