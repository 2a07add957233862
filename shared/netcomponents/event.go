package netcomponents

import "github.com/yohamta/donburi"

// EventData clears an entity's event once it has been visible long enough to
// reach clients through a lost packet or two.
type EventData struct {
	ClearAt int32 // server time, ms
}

var Event = donburi.NewComponentType[EventData]()
