package network

import (
	"github.com/automoto/arenanet/shared/arena"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/netstate"
)

// EntityView is the client's record of one entity in the newest snapshot.
type EntityView struct {
	State netstate.EntityState
	Since int32 // server time the entity (re)appeared
}

// EntityEvent is a one-shot event an entity carried in a snapshot.
type EntityEvent struct {
	Number     uint16
	Event      netconfig.EventID
	Parm       uint8
	ServerTime int32
}

// View is the client's entity world, keyed by entity number. An entity that
// is removed, or whose number is reused by a different kind of entity, gets
// a new handle generation, so renderers holding a Handle notice.
type View struct {
	ents *arena.Arena[EntityView]
}

// NewView creates an empty view.
func NewView() *View {
	return &View{ents: arena.New[EntityView](netconfig.MaxEntities)}
}

// Len returns the number of entities in view.
func (v *View) Len() int { return v.ents.Len() }

// Lookup returns the entity h refers to, or false if it has left the view.
func (v *View) Lookup(h arena.Handle) (netstate.EntityState, bool) {
	e := v.ents.Get(h)
	if e == nil {
		return netstate.EntityState{}, false
	}
	return e.State, true
}

// Handle returns the current handle of entity number.
func (v *View) Handle(number uint16) (arena.Handle, bool) {
	_, h, ok := v.ents.At(int(number))
	return h, ok
}

// Each visits every entity in number order.
func (v *View) Each(fn func(h arena.Handle, e *EntityView)) {
	v.ents.Each(func(h arena.Handle, e *EntityView) bool {
		fn(h, e)
		return true
	})
}

// Clear empties the view, invalidating every handle.
func (v *View) Clear() { v.ents.Clear() }

// apply replaces the view with next, reporting the events that are new
// relative to what was already in view.
func (v *View) apply(next []netstate.EntityState, serverTime int32, emit func(EntityEvent)) {
	j := 0
	v.ents.Each(func(h arena.Handle, e *EntityView) bool {
		for j < len(next) && next[j].Number < h.Index {
			j++
		}
		if j >= len(next) || next[j].Number != h.Index {
			v.ents.Free(h)
		}
		return true
	})
	for i := range next {
		es := &next[i]
		cur, _, ok := v.ents.At(int(es.Number))
		fresh := !ok || cur.State.Type != es.Type
		if es.Event != netconfig.EventNone &&
			(fresh || cur.State.Event != es.Event || cur.State.EventParm != es.EventParm) {
			emit(EntityEvent{Number: es.Number, Event: es.Event, Parm: es.EventParm, ServerTime: serverTime})
		}
		if fresh {
			v.ents.AllocAt(int(es.Number), EntityView{State: *es, Since: serverTime})
			continue
		}
		cur.State = *es
	}
}
