package netstate

import (
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/wire"
)

// PlayerState is the per-client state that is only sent to the client that
// owns it. Origin and velocity travel at full precision because prediction
// replays movement on top of them and must land on the same bits as the
// server.
type PlayerState struct {
	CommandSeq   uint32 // last user command the server executed
	CommandTime  int32  // server time of that command, in ms
	Origin       Vec3
	Velocity     Vec3
	ViewAngles   Vec3
	Flags        uint8 // netconfig.PMF* bits
	GroundEntity uint16
	EntityNum    uint16
	Health       int16
	Weapon       uint8
	Event        netconfig.EventID
}

// OnGround reports whether the last movement step ended on the floor.
func (ps *PlayerState) OnGround() bool {
	return ps.Flags&netconfig.PMFOnGround != 0
}

// PlayerField names one replicated PlayerState field.
type PlayerField uint8

const (
	PlayerCommandSeq PlayerField = iota
	PlayerCommandTime
	PlayerOriginX
	PlayerOriginY
	PlayerOriginZ
	PlayerVelocityX
	PlayerVelocityY
	PlayerVelocityZ
	PlayerPitch
	PlayerYaw
	PlayerRoll
	PlayerFlags
	PlayerGroundEntity
	PlayerEntityNum
	PlayerHealth
	PlayerWeapon
	PlayerEvent
	PlayerFieldCount
)

var (
	_ [PlayerFieldCount - 17]struct{}
	_ [17 - PlayerFieldCount]struct{}
)

func (f PlayerField) Mask() Mask { return Mask(0).With(int(f)) }

func (f PlayerField) String() string {
	if f < PlayerFieldCount {
		return playerFields[f].name
	}
	return "unknown"
}

var playerFields = fieldTable[PlayerState]{
	PlayerCommandSeq:   u32Field("commandSeq", func(s *PlayerState) *uint32 { return &s.CommandSeq }),
	PlayerCommandTime:  i32Field("commandTime", func(s *PlayerState) *int32 { return &s.CommandTime }),
	PlayerOriginX:      floatField("origin[0]", func(s *PlayerState) *float32 { return &s.Origin[0] }),
	PlayerOriginY:      floatField("origin[1]", func(s *PlayerState) *float32 { return &s.Origin[1] }),
	PlayerOriginZ:      floatField("origin[2]", func(s *PlayerState) *float32 { return &s.Origin[2] }),
	PlayerVelocityX:    floatField("velocity[0]", func(s *PlayerState) *float32 { return &s.Velocity[0] }),
	PlayerVelocityY:    floatField("velocity[1]", func(s *PlayerState) *float32 { return &s.Velocity[1] }),
	PlayerVelocityZ:    floatField("velocity[2]", func(s *PlayerState) *float32 { return &s.Velocity[2] }),
	PlayerPitch:        angleField("viewangles[0]", func(s *PlayerState) *float32 { return &s.ViewAngles[0] }),
	PlayerYaw:          angleField("viewangles[1]", func(s *PlayerState) *float32 { return &s.ViewAngles[1] }),
	PlayerRoll:         angleField("viewangles[2]", func(s *PlayerState) *float32 { return &s.ViewAngles[2] }),
	PlayerFlags:        u8Field("flags", func(s *PlayerState) *uint8 { return &s.Flags }),
	PlayerGroundEntity: u16Field("groundEntity", func(s *PlayerState) *uint16 { return &s.GroundEntity }),
	PlayerEntityNum:    u16Field("entityNum", func(s *PlayerState) *uint16 { return &s.EntityNum }),
	PlayerHealth:       i16Field("health", func(s *PlayerState) *int16 { return &s.Health }),
	PlayerWeapon:       u8Field("weapon", func(s *PlayerState) *uint8 { return &s.Weapon }),
	PlayerEvent:        u16Field("event", func(s *PlayerState) *netconfig.EventID { return &s.Event }),
}

// ComparePlayer returns the fields in which a and b differ at wire precision.
func ComparePlayer(a, b *PlayerState) Mask {
	return playerFields.compare(a, b)
}

// WritePlayerDelta writes the fields of to named in mask.
func WritePlayerDelta(w *wire.Writer, mask Mask, to *PlayerState) {
	playerFields.write(w, mask, to)
}

// ReadPlayerDelta decodes the fields named in mask on top of base.
func ReadPlayerDelta(r *wire.Reader, mask Mask, base PlayerState) (PlayerState, error) {
	if err := playerFields.validate(mask, "player"); err != nil {
		return base, err
	}
	out := base
	if err := playerFields.read(r, mask, &out); err != nil {
		return base, err
	}
	return out, nil
}

// Quantize returns ps exactly as the owning client will reconstruct it.
func (ps PlayerState) Quantize() PlayerState {
	return playerFields.quantize(ps)
}

// AllPlayerFields is the mask with every player field set.
func AllPlayerFields() Mask { return playerFields.all() }
