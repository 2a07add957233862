package core

import (
	"errors"

	"github.com/automoto/arenanet/shared/arena"
	"github.com/automoto/arenanet/shared/netcomponents"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/ecs"
)

// ErrWorldFull is returned by Spawn when every entity number is taken.
var ErrWorldFull = errors.New("core: no free entity numbers")

// World is the authoritative entity store. Entity numbers come from an arena
// so a stale handle to a despawned entity never reaches its replacement; the
// components themselves live in a donburi world driven by the tick systems.
// Numbers below MaxClients are reserved for player entities.
type World struct {
	ecs   *ecs.ECS
	slots *arena.Arena[donburi.Entity]
}

// NewWorld creates an empty world.
func NewWorld() *World {
	slots := arena.New[donburi.Entity](netconfig.MaxEntities)
	slots.Reserve(netconfig.MaxClients)
	return &World{
		ecs:   ecs.NewECS(donburi.NewWorld()),
		slots: slots,
	}
}

// ECS returns the system runner over the world's components.
func (w *World) ECS() *ecs.ECS { return w.ecs }

// Spawn adds an active entity with the lowest free non-player number. extra
// components are attached alongside NetEntity and left zeroed.
func (w *World) Spawn(state netstate.EntityState, extra ...donburi.IComponentType) (arena.Handle, *donburi.Entry, error) {
	h, ok := w.slots.Alloc(0)
	if !ok {
		return arena.Handle{}, nil, ErrWorldFull
	}
	return h, w.attach(h, state, extra), nil
}

// SpawnAt adds an active entity with a fixed number, replacing whatever held
// it before.
func (w *World) SpawnAt(number int, state netstate.EntityState, extra ...donburi.IComponentType) (arena.Handle, *donburi.Entry, error) {
	if old, _, ok := w.slots.At(number); ok {
		w.ecs.World.Remove(*old)
	}
	h, ok := w.slots.AllocAt(number, 0)
	if !ok {
		return arena.Handle{}, nil, ErrWorldFull
	}
	return h, w.attach(h, state, extra), nil
}

func (w *World) attach(h arena.Handle, state netstate.EntityState, extra []donburi.IComponentType) *donburi.Entry {
	comps := append([]donburi.IComponentType{netcomponents.NetEntity}, extra...)
	e := w.ecs.World.Create(comps...)
	*w.slots.Get(h) = e
	entry := w.ecs.World.Entry(e)
	state.Number = h.Index
	netcomponents.NetEntity.Set(entry, &netcomponents.NetEntityData{State: state, Active: true, Slot: h})
	return entry
}

// Entry returns the donburi entry h refers to.
func (w *World) Entry(h arena.Handle) (*donburi.Entry, bool) {
	e := w.slots.Get(h)
	if e == nil || !w.ecs.World.Valid(*e) {
		return nil, false
	}
	return w.ecs.World.Entry(*e), true
}

// Despawn removes the entity h refers to. The number becomes free at once and
// the next snapshot carries a remove record for it.
func (w *World) Despawn(h arena.Handle) bool {
	e := w.slots.Get(h)
	if e == nil {
		return false
	}
	if w.ecs.World.Valid(*e) {
		w.ecs.World.Remove(*e)
	}
	return w.slots.Free(h)
}

// Mutate applies fn to the replicated state of h. Number cannot be changed.
func (w *World) Mutate(h arena.Handle, fn func(*netstate.EntityState)) bool {
	entry, ok := w.Entry(h)
	if !ok {
		return false
	}
	ne := netcomponents.NetEntity.Get(entry)
	fn(&ne.State)
	ne.State.Number = h.Index
	return true
}

// SetActive includes or excludes h from future snapshots without freeing its
// number.
func (w *World) SetActive(h arena.Handle, active bool) bool {
	entry, ok := w.Entry(h)
	if !ok {
		return false
	}
	netcomponents.NetEntity.Get(entry).Active = active
	return true
}

// State returns a copy of the replicated state of h.
func (w *World) State(h arena.Handle) (netstate.EntityState, bool) {
	entry, ok := w.Entry(h)
	if !ok {
		return netstate.EntityState{}, false
	}
	return netcomponents.NetEntity.Get(entry).State, true
}

// Len returns the number of allocated entities, active or not.
func (w *World) Len() int { return w.slots.Len() }

// Gather appends the quantized state of every active entity to dst, ordered
// by entity number.
func (w *World) Gather(dst []netstate.EntityState) []netstate.EntityState {
	w.slots.Each(func(h arena.Handle, e *donburi.Entity) bool {
		if !w.ecs.World.Valid(*e) {
			return true
		}
		ne := netcomponents.NetEntity.Get(w.ecs.World.Entry(*e))
		if ne.Active {
			dst = append(dst, ne.State.Quantize())
		}
		return true
	})
	return dst
}
