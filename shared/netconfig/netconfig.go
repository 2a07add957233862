// Package netconfig defines the protocol constants shared between client and
// server. Anything here is part of the wire contract: changing a value
// requires bumping ProtocolVersion.
package netconfig

const (
	// ProtocolVersion is checked during the connect handshake.
	ProtocolVersion = 71

	// MaxEntities bounds entity numbers; valid indices are [0, MaxEntities).
	MaxEntities = 1024
	// EntityIndexEnd terminates the entity record list of a snapshot.
	EntityIndexEnd = 0xFFFF
	// MaxClients bounds simultaneously connected players.
	MaxClients = 64

	// MaxPacketSize is the largest datagram either side will send.
	MaxPacketSize = 1400
	// MaxStringLen bounds every string on the wire, terminator included.
	MaxStringLen = 1024
	// MaxReliableCommands bounds unacknowledged reliable commands per peer.
	MaxReliableCommands = 64
	// MaxPacketCommands bounds user commands carried in one move packet.
	MaxPacketCommands = 32

	// PacketBackup is the size of the per-client sent-frame ring and the
	// client's reconstructed-snapshot ring.
	PacketBackup = 32
	// CommandBackup is the size of the client's command ring.
	CommandBackup = 64
)

// EntityType classifies entities for the renderer and game code.
type EntityType uint8

const (
	EntityGeneral EntityType = iota
	EntityPlayer
	EntityItem
	EntityMissile
	EntityMover
	EntityEvent // temporary entity carrying only an event
)

var entityTypeNames = map[EntityType]string{
	EntityGeneral: "general",
	EntityPlayer:  "player",
	EntityItem:    "item",
	EntityMissile: "missile",
	EntityMover:   "mover",
	EntityEvent:   "event",
}

func (t EntityType) String() string {
	if name, ok := entityTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// EventID identifies a one-shot entity event (footstep, jump, fire...).
type EventID uint16

const (
	EventNone EventID = iota
	EventFootstep
	EventJump
	EventLand
	EventFireWeapon
	EventPain
	EventDeath
	EventItemPickup
)

// Entity effect flags carried in EntityState.Flags.
const (
	FlagDead      uint32 = 1 << 0
	FlagTeleport  uint32 = 1 << 1 // origin jumped; never interpolate across
	FlagFiring    uint32 = 1 << 2
	FlagInvisible uint32 = 1 << 3
	FlagNoDraw    uint32 = 1 << 4
)

// Player movement flags carried in PlayerState.Flags.
const (
	PMFOnGround  uint8 = 1 << 0
	PMFJumpHeld  uint8 = 1 << 1
	PMFTimeLand  uint8 = 1 << 2
	PMFRespawned uint8 = 1 << 3
)

// Button bits carried in UserCmd.Buttons.
const (
	ButtonAttack uint8 = 1 << 0
	ButtonUse    uint8 = 1 << 1
	ButtonWalk   uint8 = 1 << 2
	ButtonAny    uint8 = 1 << 7
)
