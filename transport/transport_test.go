package transport

import "testing"

func TestInboxDropsWhenFull(t *testing.T) {
	in := NewInbox(2)
	for i := 0; i < 3; i++ {
		in.Push(Datagram{From: "a", Data: []byte{byte(i)}})
	}
	got := in.Drain(nil)
	if len(got) != 2 || got[0].Data[0] != 0 || got[1].Data[0] != 1 {
		t.Fatalf("drained %+v", got)
	}
	if in.Dropped() != 1 {
		t.Fatalf("dropped = %d", in.Dropped())
	}
	if got := in.Drain(nil); len(got) != 0 {
		t.Fatalf("second drain returned %d datagrams", len(got))
	}
}
