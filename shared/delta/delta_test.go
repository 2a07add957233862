package delta

import (
	"errors"
	"reflect"
	"testing"

	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/neterr"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/shared/wire"
)

func ent(n uint16, x float32) netstate.EntityState {
	return netstate.EntityState{
		Number: n,
		Type:   netconfig.EntityPlayer,
		Origin: netstate.Vec3{x, 0, 24},
		Model:  3,
	}
}

func roundTrip(t *testing.T, from, to []netstate.EntityState) ([]netstate.EntityState, Stats) {
	t.Helper()
	w := wire.NewWriter(256)
	st := WriteEntities(w, from, to)
	r := wire.NewReader(w.Bytes())
	got, err := ReadEntities(r, from)
	if err != nil {
		t.Fatalf("ReadEntities: %v", err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("%d trailing bytes", r.Remaining())
	}
	return got, st
}

func TestFullSnapshotWithoutBaseline(t *testing.T) {
	to := []netstate.EntityState{ent(0, 1), ent(5, 2), ent(900, 3)}
	got, st := roundTrip(t, nil, to)
	if st.New != 3 || st.Changed != 0 || st.Removed != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if !reflect.DeepEqual(got, to) {
		t.Fatalf("got %+v, want %+v", got, to)
	}
}

func TestDeltaAgainstBaseline(t *testing.T) {
	from := []netstate.EntityState{ent(1, 0), ent(2, 0), ent(3, 0), ent(7, 0)}
	to := []netstate.EntityState{ent(1, 0), ent(2, 16), ent(4, 8), ent(7, 0)}

	got, st := roundTrip(t, from, to)
	want := Stats{New: 1, Changed: 1, Removed: 1, Unchanged: 2}
	if st != want {
		t.Fatalf("stats = %+v, want %+v", st, want)
	}
	if !reflect.DeepEqual(got, to) {
		t.Fatalf("got %+v, want %+v", got, to)
	}
}

func TestUnchangedSnapshotIsJustTheSentinel(t *testing.T) {
	from := []netstate.EntityState{ent(1, 0), ent(2, 0)}
	w := wire.NewWriter(16)
	WriteEntities(w, from, from)
	if w.Len() != 2 {
		t.Fatalf("unchanged snapshot took %d bytes, want 2", w.Len())
	}
}

func TestOmittedFieldsCarryForward(t *testing.T) {
	base := ent(1, 0)
	base.Origin = netstate.Vec3{0, 0, 0}
	next := base
	next.Angles = netstate.Vec3{0, 90, 0}

	got, _ := roundTrip(t, []netstate.EntityState{base}, []netstate.EntityState{next})
	if got[0].Origin != (netstate.Vec3{0, 0, 0}) || got[0].Angles[1] != 90 {
		t.Fatalf("got %+v", got[0])
	}
}

func TestDecoderRejectsBadRecords(t *testing.T) {
	cases := []struct {
		name   string
		build  func(w *wire.Writer)
		desync bool
	}{
		{
			name: "non-increasing index",
			build: func(w *wire.Writer) {
				writeHeader(w, 4, OpRemove)
				writeHeader(w, 4, OpRemove)
			},
		},
		{
			name: "index out of range",
			build: func(w *wire.Writer) {
				writeHeader(w, netconfig.MaxEntities, OpRemove)
			},
			desync: true,
		},
		{
			name: "delta for absent entity",
			build: func(w *wire.Writer) {
				writeHeader(w, 9, OpDelta)
				w.WriteMask(1, int(netstate.FieldCount))
				w.WriteInt16(8)
			},
			desync: true,
		},
		{
			name: "remove for absent entity",
			build: func(w *wire.Writer) {
				writeHeader(w, 9, OpRemove)
			},
			desync: true,
		},
		{
			name: "unknown op",
			build: func(w *wire.Writer) {
				writeHeader(w, 4, Op(9))
			},
		},
		{
			name: "missing sentinel",
			build: func(w *wire.Writer) {
				writeHeader(w, 4, OpRemove)
			},
		},
	}
	from := []netstate.EntityState{ent(4, 0)}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := wire.NewWriter(32)
			tc.build(w)
			if tc.name != "missing sentinel" && tc.name != "unknown op" {
				w.WriteUint16(netconfig.EntityIndexEnd)
			}
			_, err := ReadEntities(wire.NewReader(w.Bytes()), from)
			if err == nil {
				t.Fatal("expected an error")
			}
			var de *neterr.DesyncError
			var pe *neterr.ProtocolError
			if tc.desync && !errors.As(err, &de) {
				t.Fatalf("expected DesyncError, got %v", err)
			}
			if !tc.desync && !errors.As(err, &pe) {
				t.Fatalf("expected ProtocolError, got %v", err)
			}
		})
	}
}

func TestNewReplacesExistingEntity(t *testing.T) {
	from := []netstate.EntityState{ent(3, 40)}
	w := wire.NewWriter(64)
	writeHeader(w, 3, OpNew)
	fresh := ent(3, 8)
	fresh.Model = 11
	netstate.WriteDelta(w, netstate.AllFields(), &fresh)
	w.WriteUint16(netconfig.EntityIndexEnd)

	got, err := ReadEntities(wire.NewReader(w.Bytes()), from)
	if err != nil {
		t.Fatalf("ReadEntities: %v", err)
	}
	if len(got) != 1 || got[0] != fresh {
		t.Fatalf("got %+v, want %+v", got, fresh)
	}
}

func TestPlayerStateNilBaseline(t *testing.T) {
	to := netstate.PlayerState{CommandSeq: 12, Origin: netstate.Vec3{3.3, 4.4, 0}, Health: 100}
	w := wire.NewWriter(64)
	WritePlayerState(w, nil, &to)
	got, err := ReadPlayerState(wire.NewReader(w.Bytes()), nil)
	if err != nil {
		t.Fatalf("ReadPlayerState: %v", err)
	}
	if got != to {
		t.Fatalf("got %+v, want %+v", got, to)
	}

	w.Reset()
	if m := WritePlayerState(w, &to, &to); !m.Empty() {
		t.Fatalf("self delta mask = %s", m)
	}
}
