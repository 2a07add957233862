package netcomponents

import "github.com/yohamta/donburi"

// MissileData moves an entity along its replicated velocity until it hits a
// wall or expires.
type MissileData struct {
	Owner     uint16 // entity number of the player that fired it
	ExpiresAt int32  // server time, ms
}

var Missile = donburi.NewComponentType[MissileData]()
