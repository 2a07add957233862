// Package messages defines what travels inside sequenced packets (snapshots,
// user commands) and the connectionless handshake that precedes them.
//
// A server packet payload is the reliable command block followed by opcode
// blocks and SvcEOF. A client packet payload is the reliable command block
// followed by a ClcMove block and ClcEOF.
package messages

import (
	"github.com/automoto/arenanet/shared/delta"
	"github.com/automoto/arenanet/shared/neterr"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/shared/wire"
)

// ServerOp introduces a block in a server-to-client payload.
type ServerOp uint8

const (
	SvcEOF ServerOp = iota
	SvcSnapshot
)

// ClientOp introduces a block in a client-to-server payload.
type ClientOp uint8

const (
	ClcEOF ClientOp = iota
	ClcMove
)

const (
	snapFull  = 0
	snapDelta = 1
)

// SnapshotHeader precedes the player state and entity records of a snapshot.
type SnapshotHeader struct {
	Seq        uint32
	Delta      bool
	Baseline   uint32 // snapshot the payload is relative to, when Delta
	ServerTime int32
}

// Snapshot is one sealed world state as the wire carries it.
type Snapshot struct {
	SnapshotHeader
	Player   netstate.PlayerState
	Entities []netstate.EntityState // sorted by Number
}

// WriteSnapshot appends an SvcSnapshot block encoding snap relative to base.
// A nil base writes a full snapshot.
func WriteSnapshot(w *wire.Writer, base, snap *Snapshot) delta.Stats {
	w.WriteUint8(uint8(SvcSnapshot))
	w.WriteUint32(snap.Seq)
	var fromPlayer *netstate.PlayerState
	var fromEntities []netstate.EntityState
	if base != nil {
		w.WriteUint8(snapDelta)
		w.WriteUint32(base.Seq)
		fromPlayer = &base.Player
		fromEntities = base.Entities
	} else {
		w.WriteUint8(snapFull)
	}
	w.WriteInt32(snap.ServerTime)
	delta.WritePlayerState(w, fromPlayer, &snap.Player)
	return delta.WriteEntities(w, fromEntities, snap.Entities)
}

// ReadSnapshotHeader decodes the start of an SvcSnapshot block; the opcode has
// already been consumed. The caller resolves the baseline and then calls
// ReadSnapshotBody.
func ReadSnapshotHeader(r *wire.Reader) (SnapshotHeader, error) {
	var h SnapshotHeader
	var err error
	if h.Seq, err = r.ReadUint32(); err != nil {
		return h, err
	}
	kind, err := r.ReadUint8()
	if err != nil {
		return h, err
	}
	switch kind {
	case snapFull:
	case snapDelta:
		h.Delta = true
		if h.Baseline, err = r.ReadUint32(); err != nil {
			return h, err
		}
	default:
		return h, neterr.Malformed("snapshot", "unknown snapshot kind %d", kind)
	}
	if h.ServerTime, err = r.ReadInt32(); err != nil {
		return h, err
	}
	return h, nil
}

// ReadSnapshotBody decodes the player state and entity records on top of
// base, which must be nil for a full snapshot.
func ReadSnapshotBody(r *wire.Reader, h SnapshotHeader, base *Snapshot) (*Snapshot, error) {
	snap := &Snapshot{SnapshotHeader: h}
	var fromPlayer *netstate.PlayerState
	var fromEntities []netstate.EntityState
	if base != nil {
		fromPlayer = &base.Player
		fromEntities = base.Entities
	}
	var err error
	if snap.Player, err = delta.ReadPlayerState(r, fromPlayer); err != nil {
		return nil, err
	}
	if snap.Entities, err = delta.ReadEntities(r, fromEntities); err != nil {
		return nil, err
	}
	return snap, nil
}

// Entity returns the entity with the given number, or nil.
func (s *Snapshot) Entity(number uint16) *netstate.EntityState {
	lo, hi := 0, len(s.Entities)
	for lo < hi {
		mid := (lo + hi) / 2
		switch n := s.Entities[mid].Number; {
		case n == number:
			return &s.Entities[mid]
		case n < number:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return nil
}
