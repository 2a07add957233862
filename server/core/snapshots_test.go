package core

import "testing"

func TestSnapshotRingEviction(t *testing.T) {
	r := NewSnapshotRing(5)
	if _, ok := r.Latest(); ok {
		t.Fatal("empty ring has a latest snapshot")
	}
	for i := 0; i < 10; i++ {
		r.Seal(int32(i*50), nil)
	}
	if latest, _ := r.Latest(); latest.Seq != 10 {
		t.Fatalf("latest = %d, want 10", latest.Seq)
	}
	for seq := uint32(1); seq <= 5; seq++ {
		if _, ok := r.Get(seq); ok {
			t.Fatalf("seq %d still retained with window 5", seq)
		}
	}
	for seq := uint32(6); seq <= 10; seq++ {
		s, ok := r.Get(seq)
		if !ok || s.Seq != seq {
			t.Fatalf("Get(%d) = %+v, %v", seq, s, ok)
		}
	}
	if _, ok := r.Get(11); ok {
		t.Fatal("Get returned a snapshot from the future")
	}
}

func TestSnapshotRingPrune(t *testing.T) {
	r := NewSnapshotRing(8)
	for i := 0; i < 6; i++ {
		r.Seal(0, nil)
	}
	if n := r.PruneBefore(4); n != 3 {
		t.Fatalf("pruned %d, want 3", n)
	}
	if _, ok := r.Get(3); ok {
		t.Fatal("seq 3 survived pruning")
	}
	if _, ok := r.Get(4); !ok {
		t.Fatal("seq 4 was pruned")
	}
	r.PruneBefore(100)
	if _, ok := r.Latest(); !ok || r.Len() != 1 {
		t.Fatalf("pruning everything left %d snapshots and latest ok=%v", r.Len(), ok)
	}
}
