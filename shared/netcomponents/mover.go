package netcomponents

import (
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/tanema/gween"
	"github.com/yohamta/donburi"
)

// MoverData drives a prop back and forth between Base and Base+Offset. Each
// leg tweens the fraction of Offset travelled.
type MoverData struct {
	Base   netstate.Vec3
	Offset netstate.Vec3
	Legs   []*gween.Tween
	Leg    int
}

var Mover = donburi.NewComponentType[MoverData]()
