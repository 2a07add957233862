package core

import (
	"testing"

	"github.com/automoto/arenanet/shared/netcomponents"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/netstate"
)

func TestWorldGatherSortedActive(t *testing.T) {
	w := NewWorld()
	a, _, err := w.Spawn(netstate.EntityState{Type: netconfig.EntityItem})
	if err != nil {
		t.Fatal(err)
	}
	b, _, _ := w.Spawn(netstate.EntityState{Type: netconfig.EntityMissile})
	p, _, _ := w.SpawnAt(3, netstate.EntityState{Type: netconfig.EntityPlayer}, netcomponents.Player)
	if a.Index != netconfig.MaxClients || b.Index != netconfig.MaxClients+1 || p.Index != 3 {
		t.Fatalf("numbers = %d, %d, %d", a.Index, b.Index, p.Index)
	}

	w.SetActive(a, false)
	got := w.Gather(nil)
	if len(got) != 2 || got[0].Number != 3 || got[1].Number != b.Index {
		t.Fatalf("gathered %+v", got)
	}

	w.Mutate(b, func(es *netstate.EntityState) {
		es.Origin = netstate.Vec3{1.1, 0, 0}
		es.Number = 999
	})
	got = w.Gather(got[:0])
	if got[1].Number != b.Index {
		t.Fatalf("Mutate changed the entity number to %d", got[1].Number)
	}
	if got[1].Origin[0] != 1.125 {
		t.Fatalf("gathered origin %v was not quantized", got[1].Origin[0])
	}
}

func TestWorldDespawnInvalidatesHandle(t *testing.T) {
	w := NewWorld()
	h, _, _ := w.Spawn(netstate.EntityState{})
	if !w.Despawn(h) {
		t.Fatal("Despawn failed")
	}
	if w.Despawn(h) || w.Mutate(h, func(*netstate.EntityState) {}) {
		t.Fatal("stale handle still usable")
	}
	h2, _, _ := w.Spawn(netstate.EntityState{})
	if h2.Index != h.Index || h2.Gen == h.Gen {
		t.Fatalf("reused slot %+v, old %+v", h2, h)
	}
	if _, ok := w.Entry(h); ok {
		t.Fatal("old handle resolved to the new entity")
	}
	if w.Len() != 1 {
		t.Fatalf("Len = %d", w.Len())
	}
}

func TestWorldSpawnAtReplaces(t *testing.T) {
	w := NewWorld()
	old, _, _ := w.SpawnAt(0, netstate.EntityState{Model: 1})
	h, _, _ := w.SpawnAt(0, netstate.EntityState{Model: 2})
	if _, ok := w.State(old); ok {
		t.Fatal("replaced entity still resolves")
	}
	if st, _ := w.State(h); st.Model != 2 || w.Len() != 1 {
		t.Fatalf("state %+v, len %d", st, w.Len())
	}
}
