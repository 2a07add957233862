package core

import (
	"github.com/automoto/arenanet/shared/netchan"
	"github.com/automoto/arenanet/shared/netstate"
)

// WorldSnapshot is the sealed, immutable entity state of one tick. Player
// states are per client and live in the client's sent-frame ring instead.
type WorldSnapshot struct {
	Seq        uint32
	ServerTime int32
	Entities   []netstate.EntityState // sorted by Number
}

// SnapshotRing retains the most recent sealed snapshots by sequence number.
// A snapshot leaves the ring when it falls out of the window or is pruned
// because no client can still use it as a baseline.
type SnapshotRing struct {
	slots  []*WorldSnapshot
	latest uint32
	sealed bool
}

// NewSnapshotRing creates a ring holding up to window snapshots.
func NewSnapshotRing(window int) *SnapshotRing {
	if window < 1 {
		window = 1
	}
	return &SnapshotRing{slots: make([]*WorldSnapshot, window)}
}

// Window returns the ring capacity.
func (r *SnapshotRing) Window() int { return len(r.slots) }

// Seal stores entities as the next snapshot and returns it. The ring takes
// ownership of entities.
func (r *SnapshotRing) Seal(serverTime int32, entities []netstate.EntityState) *WorldSnapshot {
	r.latest++
	r.sealed = true
	s := &WorldSnapshot{Seq: r.latest, ServerTime: serverTime, Entities: entities}
	r.slots[r.index(s.Seq)] = s
	return s
}

func (r *SnapshotRing) index(seq uint32) int { return int(seq % uint32(len(r.slots))) }

// Get returns the snapshot with sequence seq if it is still retained.
func (r *SnapshotRing) Get(seq uint32) (*WorldSnapshot, bool) {
	if !r.sealed || netchan.Seq(seq).After(netchan.Seq(r.latest)) {
		return nil, false
	}
	s := r.slots[r.index(seq)]
	if s == nil || s.Seq != seq {
		return nil, false
	}
	return s, true
}

// Latest returns the most recently sealed snapshot.
func (r *SnapshotRing) Latest() (*WorldSnapshot, bool) {
	if !r.sealed {
		return nil, false
	}
	return r.Get(r.latest)
}

// PruneBefore drops every retained snapshot older than seq. The latest
// snapshot is never dropped.
func (r *SnapshotRing) PruneBefore(seq uint32) int {
	n := 0
	for i, s := range r.slots {
		if s == nil || s.Seq == r.latest {
			continue
		}
		if netchan.Seq(seq).After(netchan.Seq(s.Seq)) {
			r.slots[i] = nil
			n++
		}
	}
	return n
}

// Len returns the number of retained snapshots.
func (r *SnapshotRing) Len() int {
	n := 0
	for _, s := range r.slots {
		if s != nil {
			n++
		}
	}
	return n
}
