package network

import (
	"github.com/automoto/arenanet/shared/arena"
	"github.com/automoto/arenanet/shared/messages"
	"github.com/automoto/arenanet/shared/netchan"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/neterr"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/shared/wire"
)

// Renderer receives the scene for one frame.
type Renderer interface {
	SetView(ps netstate.PlayerState)
	AddEntity(es netstate.EntityState)
}

const eventQueue = 64

// reconstruction turns server payloads into a sequence of complete
// snapshots. Client and Playback share it.
type reconstruction struct {
	ring   [netconfig.PacketBackup]*messages.Snapshot
	latest *messages.Snapshot
	view   *View
	interp *Interpolator
	events chan EntityEvent
	// invalid counts snapshots whose baseline was no longer in the ring.
	invalid int
}

func newReconstruction(interp *Interpolator) *reconstruction {
	return &reconstruction{
		view:   NewView(),
		interp: interp,
		events: make(chan EntityEvent, eventQueue),
	}
}

// baseline returns the reconstructed snapshot seq, if the ring still has it.
func (rc *reconstruction) baseline(seq uint32) *messages.Snapshot {
	s := rc.ring[seq%netconfig.PacketBackup]
	if s == nil || s.Seq != seq {
		return nil
	}
	return s
}

// readBlocks decodes the opcode blocks of a server payload that follow the
// reliable block. snap is nil when the packet carried no snapshot or its
// baseline is gone; in the latter case missing is true and the rest of the
// packet is skipped, since it cannot be decoded.
func (rc *reconstruction) readBlocks(r *wire.Reader) (snap *messages.Snapshot, missing bool, err error) {
	for {
		op, err := r.ReadUint8()
		if err != nil {
			return nil, false, err
		}
		switch messages.ServerOp(op) {
		case messages.SvcEOF:
			return snap, false, nil
		case messages.SvcSnapshot:
			h, err := messages.ReadSnapshotHeader(r)
			if err != nil {
				return nil, false, err
			}
			var base *messages.Snapshot
			if h.Delta {
				if base = rc.baseline(h.Baseline); base == nil {
					rc.invalid++
					return nil, true, nil
				}
			}
			if snap, err = messages.ReadSnapshotBody(r, h, base); err != nil {
				return nil, false, err
			}
		default:
			return nil, false, neterr.Malformed("server packet", "unknown opcode %d", op)
		}
	}
}

// commit makes snap the newest snapshot. It reports false for a snapshot
// that is not newer than the current one.
func (rc *reconstruction) commit(snap *messages.Snapshot) bool {
	if rc.latest != nil && !netchan.Seq(snap.Seq).After(netchan.Seq(rc.latest.Seq)) {
		return false
	}
	rc.ring[snap.Seq%netconfig.PacketBackup] = snap
	rc.latest = snap
	rc.view.apply(snap.Entities, snap.ServerTime, func(ev EntityEvent) {
		select {
		case rc.events <- ev:
		default:
		}
	})
	rc.interp.Push(snap)
	return true
}

func (rc *reconstruction) reset() {
	rc.ring = [netconfig.PacketBackup]*messages.Snapshot{}
	rc.latest = nil
	rc.view.Clear()
	rc.interp.Reset()
}

// scene hands every interpolated entity except skip to r.
func (rc *reconstruction) scene(renderTime int32, skip uint16, r Renderer) {
	rc.view.Each(func(_ arena.Handle, e *EntityView) {
		if e.State.Number == skip || e.State.Flags&(netconfig.FlagNoDraw|netconfig.FlagInvisible) != 0 {
			return
		}
		if es, ok := rc.interp.EntityAt(e.State.Number, renderTime); ok {
			r.AddEntity(es)
		}
	})
}
