// Package leveldata parses arena maps (Tiled TMX) into the data both client
// and server need for movement: solid wall tiles and player spawn points. Maps
// are top-down: TMX x/y become world x/y, and the floor sits at z = 0.
package leveldata

// CollisionData holds all collision-relevant data parsed from a TMX map.
type CollisionData struct {
	Name        string
	SolidRects  []SolidRect
	SpawnPoints []SpawnPoint
	Movers      []MoverPath
	Items       []ItemSpawn
	MapWidth    int
	MapHeight   int
}

// SolidRect is one solid wall tile, in world units.
type SolidRect struct {
	X, Y, W, H float64
}

// SpawnPoint is a player spawn location and facing.
type SpawnPoint struct {
	X, Y  float64
	Yaw   float64 // degrees
	Index int
}

// MoverPath is a non-solid moving prop that travels from (X, Y) by
// (DX, DY) and back, taking Duration seconds each way.
type MoverPath struct {
	X, Y     float64
	DX, DY   float64
	Duration float64
	Model    int
}

// ItemSpawn is where a pickup sits. Amount is the health it restores.
type ItemSpawn struct {
	X, Y   float64
	Model  int
	Amount int
}

// Spawn returns the spawn point for the n-th joining player, cycling through
// the available points. ok is false for a map without spawns.
func (d *CollisionData) Spawn(n int) (sp SpawnPoint, ok bool) {
	if d == nil || len(d.SpawnPoints) == 0 {
		return SpawnPoint{}, false
	}
	if n < 0 {
		n = -n
	}
	return d.SpawnPoints[n%len(d.SpawnPoints)], true
}
