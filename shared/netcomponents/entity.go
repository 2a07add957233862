// Package netcomponents holds the donburi components of the server's entity
// world. Only NetEntity is replicated; the others are server-side bookkeeping
// attached to the same entities.
package netcomponents

import (
	"github.com/automoto/arenanet/shared/arena"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/yohamta/donburi"
)

// NetEntityData is the replicated state of one entity. Inactive entities stay
// allocated but are left out of snapshots.
type NetEntityData struct {
	State  netstate.EntityState
	Active bool
	Slot   arena.Handle
}

var NetEntity = donburi.NewComponentType[NetEntityData]()
