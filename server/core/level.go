package core

import (
	"fmt"
	"os"
	"strings"

	"github.com/automoto/arenanet/shared/leveldata"
	"github.com/automoto/arenanet/shared/pmove"
)

// ServerLevel is the map a server runs: collision for movement and
// projectiles, plus spawn rotation.
type ServerLevel struct {
	Data      *leveldata.CollisionData // nil for the open plane
	Move      *pmove.World
	nextSpawn int
}

// NewServerLevel builds the movement world for data. A nil data is an open
// plane with a single spawn at the origin.
func NewServerLevel(data *leveldata.CollisionData, p pmove.Params) *ServerLevel {
	return &ServerLevel{Data: data, Move: pmove.NewWorld(data, p)}
}

// LoadServerLevel loads levels/<name>.tmx from mapsDir. An empty name selects
// the open plane.
func LoadServerLevel(mapsDir, name string, p pmove.Params) (*ServerLevel, error) {
	if name == "" {
		return NewServerLevel(nil, p), nil
	}
	levels, names, err := leveldata.LoadAllLevels(os.DirFS(mapsDir), "levels")
	if err != nil {
		return nil, fmt.Errorf("load all levels: %w", err)
	}
	data, ok := levels[name]
	if !ok {
		return nil, fmt.Errorf("map %q not found in %s/levels (have %s)", name, mapsDir, strings.Join(names, ", "))
	}
	return NewServerLevel(data, p), nil
}

// Name returns the map name sent to connecting clients.
func (l *ServerLevel) Name() string {
	if l.Data == nil {
		return ""
	}
	return l.Data.Name
}

// NextSpawn rotates through the map's spawn points.
func (l *ServerLevel) NextSpawn() leveldata.SpawnPoint {
	sp, ok := l.Data.Spawn(l.nextSpawn)
	l.nextSpawn++
	if !ok {
		return leveldata.SpawnPoint{}
	}
	return sp
}
