package netcomponents

import "github.com/yohamta/donburi"

// ItemData is a pickup. A taken item stays hidden until RespawnAt.
type ItemData struct {
	Amount    int16
	RespawnAt int32 // server time, ms
}

var Item = donburi.NewComponentType[ItemData]()
