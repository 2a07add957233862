// Package delta encodes one snapshot's entity list and player state against a
// baseline. Entity records go out in increasing index order and end with
// netconfig.EntityIndexEnd; an entity the baseline already has and that did
// not change is not written at all, and the reader carries it forward.
package delta

import (
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/neterr"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/shared/wire"
)

// Op is the record kind that follows an entity index.
type Op uint8

const (
	OpDelta  Op = iota // mask + changed fields against the baseline entity
	OpNew              // every field; the baseline does not have this entity
	OpRemove           // drop the entity from the client's world view
)

func (o Op) String() string {
	switch o {
	case OpDelta:
		return "delta"
	case OpNew:
		return "new"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

// Stats counts what WriteEntities emitted.
type Stats struct {
	New       int
	Changed   int
	Removed   int
	Unchanged int
}

// WriteEntities writes the records that turn from into to. Both slices must
// be sorted by Number with no duplicates; a nil from writes every entity as
// new.
func WriteEntities(w *wire.Writer, from, to []netstate.EntityState) Stats {
	var st Stats
	i, j := 0, 0
	for i < len(from) || j < len(to) {
		switch {
		case j >= len(to) || (i < len(from) && from[i].Number < to[j].Number):
			writeHeader(w, from[i].Number, OpRemove)
			st.Removed++
			i++
		case i >= len(from) || to[j].Number < from[i].Number:
			writeHeader(w, to[j].Number, OpNew)
			netstate.WriteDelta(w, netstate.AllFields(), &to[j])
			st.New++
			j++
		default:
			mask := netstate.Compare(&from[i], &to[j])
			if mask.Empty() {
				st.Unchanged++
			} else {
				writeHeader(w, to[j].Number, OpDelta)
				w.WriteMask(uint32(mask), int(netstate.FieldCount))
				netstate.WriteDelta(w, mask, &to[j])
				st.Changed++
			}
			i++
			j++
		}
	}
	w.WriteUint16(netconfig.EntityIndexEnd)
	return st
}

func writeHeader(w *wire.Writer, index uint16, op Op) {
	w.WriteUint16(index)
	w.WriteUint8(uint8(op))
}

// ReadEntities applies the records in r to from and returns the resulting
// entity list, sorted by Number. from is not modified.
func ReadEntities(r *wire.Reader, from []netstate.EntityState) ([]netstate.EntityState, error) {
	out := make([]netstate.EntityState, 0, len(from)+8)
	i := 0
	last := -1
	for {
		index, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		if index == netconfig.EntityIndexEnd {
			break
		}
		if index >= netconfig.MaxEntities {
			return nil, neterr.Desync("entity index %d out of range", index)
		}
		if int(index) <= last {
			return nil, neterr.Malformed("entities", "index %d after %d", index, last)
		}
		last = int(index)

		// Baseline entities below this index were not mentioned: unchanged.
		for i < len(from) && from[i].Number < index {
			out = append(out, from[i])
			i++
		}
		var base *netstate.EntityState
		if i < len(from) && from[i].Number == index {
			base = &from[i]
			i++
		}

		b, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		switch op := Op(b); op {
		case OpNew:
			es, err := netstate.ReadDelta(r, netstate.AllFields(), netstate.EntityState{})
			if err != nil {
				return nil, err
			}
			es.Number = index
			out = append(out, es)
		case OpDelta:
			if base == nil {
				return nil, neterr.Desync("delta for entity %d missing from baseline", index)
			}
			m, err := r.ReadMask(int(netstate.FieldCount))
			if err != nil {
				return nil, err
			}
			es, err := netstate.ReadDelta(r, netstate.Mask(m), *base)
			if err != nil {
				return nil, err
			}
			out = append(out, es)
		case OpRemove:
			if base == nil {
				return nil, neterr.Desync("remove for entity %d missing from baseline", index)
			}
		default:
			return nil, neterr.Malformed("entities", "unknown op %d for entity %d", b, index)
		}
	}
	out = append(out, from[i:]...)
	return out, nil
}

// WritePlayerState writes a mask and the fields of to that differ from from.
// A nil from is the zero state.
func WritePlayerState(w *wire.Writer, from, to *netstate.PlayerState) netstate.Mask {
	var zero netstate.PlayerState
	if from == nil {
		from = &zero
	}
	mask := netstate.ComparePlayer(from, to)
	w.WriteMask(uint32(mask), int(netstate.PlayerFieldCount))
	netstate.WritePlayerDelta(w, mask, to)
	return mask
}

// ReadPlayerState reverses WritePlayerState.
func ReadPlayerState(r *wire.Reader, from *netstate.PlayerState) (netstate.PlayerState, error) {
	var base netstate.PlayerState
	if from != nil {
		base = *from
	}
	m, err := r.ReadMask(int(netstate.PlayerFieldCount))
	if err != nil {
		return base, err
	}
	return netstate.ReadPlayerDelta(r, netstate.Mask(m), base)
}
