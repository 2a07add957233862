package network

import (
	"testing"

	"github.com/automoto/arenanet/shared/arena"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/netstate"
)

func TestViewTracksEntitiesAndEvents(t *testing.T) {
	v := NewView()
	var events []EntityEvent
	emit := func(ev EntityEvent) { events = append(events, ev) }

	v.apply([]netstate.EntityState{
		{Number: 1, Type: netconfig.EntityPlayer},
		{Number: 70, Type: netconfig.EntityMissile, Event: netconfig.EventFireWeapon, EventParm: 1},
	}, 100, emit)
	if v.Len() != 2 || len(events) != 1 || events[0].Number != 70 {
		t.Fatalf("len %d events %+v", v.Len(), events)
	}
	missile, ok := v.Handle(70)
	if !ok {
		t.Fatal("no handle for entity 70")
	}

	// The same event still showing is not a new event; a bumped parm is.
	events = nil
	v.apply([]netstate.EntityState{
		{Number: 1, Type: netconfig.EntityPlayer, Event: netconfig.EventJump, EventParm: 1},
		{Number: 70, Type: netconfig.EntityMissile, Event: netconfig.EventFireWeapon, EventParm: 1},
	}, 150, emit)
	if len(events) != 1 || events[0].Number != 1 || events[0].Event != netconfig.EventJump {
		t.Fatalf("events %+v", events)
	}
	if _, ok := v.Lookup(missile); !ok {
		t.Fatal("unchanged entity lost its handle")
	}

	// Removal invalidates the handle; reuse of the number gets a new one.
	v.apply([]netstate.EntityState{{Number: 1, Type: netconfig.EntityPlayer}}, 200, emit)
	if _, ok := v.Lookup(missile); ok {
		t.Fatal("removed entity still resolves")
	}
	v.apply([]netstate.EntityState{
		{Number: 1, Type: netconfig.EntityPlayer},
		{Number: 70, Type: netconfig.EntityItem},
	}, 250, emit)
	h, _ := v.Handle(70)
	if h == missile {
		t.Fatal("reused entity number kept the old handle")
	}
	if _, ok := v.Lookup(missile); ok {
		t.Fatal("stale handle resolves to the new occupant")
	}
}

func TestViewTypeChangeIsANewEntity(t *testing.T) {
	v := NewView()
	noop := func(EntityEvent) {}
	v.apply([]netstate.EntityState{{Number: 80, Type: netconfig.EntityMissile}}, 0, noop)
	before, _ := v.Handle(80)
	v.apply([]netstate.EntityState{{Number: 80, Type: netconfig.EntityItem}}, 50, noop)
	after, _ := v.Handle(80)
	if before == after {
		t.Fatal("type change kept the handle")
	}
	var since int32
	v.Each(func(_ arena.Handle, e *EntityView) { since = e.Since })
	if since != 50 {
		t.Fatalf("Since = %d", since)
	}
}
