// Package netstate holds the fixed-shape records that are replicated from
// server to client, and the field tables that define how they are compared
// and delta-encoded. The tables are the protocol contract: their order, length
// and wire types must match on both sides.
package netstate

import (
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/wire"
)

// EntityState is everything a client needs to present one entity.
type EntityState struct {
	Number       uint16
	Type         netconfig.EntityType
	Flags        uint32
	Origin       Vec3
	Velocity     Vec3
	Angles       Vec3
	Frame        uint16
	Event        netconfig.EventID
	EventParm    uint8
	Model        uint16
	Model2       uint16
	Skin         uint8
	Sound        uint16
	Solid        uint32 // packed bounding box, see PackSolid
	Weapon       uint8
	Powerups     uint16
	ClientNum    uint8
	GroundEntity uint16
	OtherEntity  uint16
}

// Field names one replicated EntityState field. The numbering is the bit
// position in a delta mask and is ordered by how often the field changes.
type Field uint8

const (
	FieldOriginX Field = iota
	FieldOriginY
	FieldOriginZ
	FieldYaw
	FieldVelocityX
	FieldVelocityY
	FieldVelocityZ
	FieldFrame
	FieldEvent
	FieldEventParm
	FieldPitch
	FieldRoll
	FieldFlags
	FieldGroundEntity
	FieldType
	FieldModel
	FieldModel2
	FieldSkin
	FieldSound
	FieldSolid
	FieldWeapon
	FieldPowerups
	FieldClientNum
	FieldOtherEntity
	FieldCount
)

// Both must be non-negative array lengths, which pins FieldCount to the
// number of entries in entityFields.
var (
	_ [FieldCount - 24]struct{}
	_ [24 - FieldCount]struct{}
)

// Mask returns the single-bit mask for f.
func (f Field) Mask() Mask { return Mask(0).With(int(f)) }

func (f Field) String() string {
	if f < FieldCount {
		return entityFields[f].name
	}
	return "unknown"
}

var entityFields = fieldTable[EntityState]{
	FieldOriginX:      coordField("origin[0]", func(s *EntityState) *float32 { return &s.Origin[0] }),
	FieldOriginY:      coordField("origin[1]", func(s *EntityState) *float32 { return &s.Origin[1] }),
	FieldOriginZ:      coordField("origin[2]", func(s *EntityState) *float32 { return &s.Origin[2] }),
	FieldYaw:          angleField("angles[1]", func(s *EntityState) *float32 { return &s.Angles[1] }),
	FieldVelocityX:    coordField("velocity[0]", func(s *EntityState) *float32 { return &s.Velocity[0] }),
	FieldVelocityY:    coordField("velocity[1]", func(s *EntityState) *float32 { return &s.Velocity[1] }),
	FieldVelocityZ:    coordField("velocity[2]", func(s *EntityState) *float32 { return &s.Velocity[2] }),
	FieldFrame:        u16Field("frame", func(s *EntityState) *uint16 { return &s.Frame }),
	FieldEvent:        u16Field("event", func(s *EntityState) *netconfig.EventID { return &s.Event }),
	FieldEventParm:    u8Field("eventParm", func(s *EntityState) *uint8 { return &s.EventParm }),
	FieldPitch:        angleField("angles[0]", func(s *EntityState) *float32 { return &s.Angles[0] }),
	FieldRoll:         angleField("angles[2]", func(s *EntityState) *float32 { return &s.Angles[2] }),
	FieldFlags:        u32Field("flags", func(s *EntityState) *uint32 { return &s.Flags }),
	FieldGroundEntity: u16Field("groundEntity", func(s *EntityState) *uint16 { return &s.GroundEntity }),
	FieldType:         u8Field("type", func(s *EntityState) *netconfig.EntityType { return &s.Type }),
	FieldModel:        u16Field("model", func(s *EntityState) *uint16 { return &s.Model }),
	FieldModel2:       u16Field("model2", func(s *EntityState) *uint16 { return &s.Model2 }),
	FieldSkin:         u8Field("skin", func(s *EntityState) *uint8 { return &s.Skin }),
	FieldSound:        u16Field("sound", func(s *EntityState) *uint16 { return &s.Sound }),
	FieldSolid:        u32Field("solid", func(s *EntityState) *uint32 { return &s.Solid }),
	FieldWeapon:       u8Field("weapon", func(s *EntityState) *uint8 { return &s.Weapon }),
	FieldPowerups:     u16Field("powerups", func(s *EntityState) *uint16 { return &s.Powerups }),
	FieldClientNum:    u8Field("clientNum", func(s *EntityState) *uint8 { return &s.ClientNum }),
	FieldOtherEntity:  u16Field("otherEntity", func(s *EntityState) *uint16 { return &s.OtherEntity }),
}

// AllFields is the mask with every entity field set.
func AllFields() Mask { return entityFields.all() }

// Compare returns the fields in which a and b differ at wire precision.
// Compare(a, a) is always empty.
func Compare(a, b *EntityState) Mask {
	return entityFields.compare(a, b)
}

// WriteDelta writes the fields of to named in mask.
func WriteDelta(w *wire.Writer, mask Mask, to *EntityState) {
	entityFields.write(w, mask, to)
}

// ReadDelta decodes the fields named in mask on top of base. Fields not in
// mask keep the value they have in base.
func ReadDelta(r *wire.Reader, mask Mask, base EntityState) (EntityState, error) {
	if err := entityFields.validate(mask, "entity"); err != nil {
		return base, err
	}
	out := base
	if err := entityFields.read(r, mask, &out); err != nil {
		return base, err
	}
	return out, nil
}

// Apply decodes a standalone delta payload (as produced by WriteDelta) onto
// base.
func Apply(mask Mask, payload []byte, base EntityState) (EntityState, error) {
	return ReadDelta(wire.NewReader(payload), mask, base)
}

// Quantize returns s exactly as a client will reconstruct it.
func (s EntityState) Quantize() EntityState {
	n := s.Number
	out := entityFields.quantize(s)
	out.Number = n
	return out
}

// ChangedNames lists the field names in mask, for logging.
func ChangedNames(mask Mask) []string {
	return entityFields.names(mask)
}

// PackSolid encodes an axis-aligned bounding box the way the wire carries
// it: x/y half-extent, downward extent and upward extent, each in whole units
// and capped at 255.
func PackSolid(halfWidth, down, up float32) uint32 {
	clamp := func(v float32) uint32 {
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return uint32(v)
	}
	return clamp(halfWidth) | clamp(down)<<8 | clamp(up)<<16
}

// UnpackSolid reverses PackSolid.
func UnpackSolid(solid uint32) (halfWidth, down, up float32) {
	return float32(solid & 0xFF), float32(solid >> 8 & 0xFF), float32(solid >> 16 & 0xFF)
}
