package netcomponents

import "github.com/yohamta/donburi"

// PlayerData links a player entity to its client slot.
type PlayerData struct {
	ClientNum  int
	NextFireAt int32 // server time, ms
}

var Player = donburi.NewComponentType[PlayerData]()
