package messages

import (
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/neterr"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/shared/wire"
)

// UserCmd is one frame of player input. Clients send the last few commands in
// every move packet so a single lost datagram loses no input.
type UserCmd struct {
	Seq        uint32 // incrementing, used for prediction reconciliation
	ServerTime int32  // client's estimate of server time when generated, ms
	Msec       uint8  // duration this command simulates
	Angles     netstate.Vec3
	Forward    int8 // -127..127
	Right      int8
	Up         int8 // jump when positive
	Buttons    uint8
	Weapon     uint8
}

// Duration returns how long the command simulates, in seconds.
func (c *UserCmd) Duration() float32 { return float32(c.Msec) / 1000 }

// Jump reports whether the command asks to jump.
func (c *UserCmd) Jump() bool { return c.Up > 0 }

const (
	cmdServerTime = iota
	cmdMsec
	cmdPitch
	cmdYaw
	cmdRoll
	cmdForward
	cmdRight
	cmdUp
	cmdButtons
	cmdWeapon
	cmdFieldCount
)

// cmdMask returns the fields in which to differs from from.
func cmdMask(from, to *UserCmd) netstate.Mask {
	var m netstate.Mask
	if from.ServerTime != to.ServerTime {
		m = m.With(cmdServerTime)
	}
	if from.Msec != to.Msec {
		m = m.With(cmdMsec)
	}
	for i := 0; i < 3; i++ {
		if wire.AngleToShort(from.Angles[i]) != wire.AngleToShort(to.Angles[i]) {
			m = m.With(cmdPitch + i)
		}
	}
	if from.Forward != to.Forward {
		m = m.With(cmdForward)
	}
	if from.Right != to.Right {
		m = m.With(cmdRight)
	}
	if from.Up != to.Up {
		m = m.With(cmdUp)
	}
	if from.Buttons != to.Buttons {
		m = m.With(cmdButtons)
	}
	if from.Weapon != to.Weapon {
		m = m.With(cmdWeapon)
	}
	return m
}

// writeUserCmd writes to relative to from. Seq is always written in full so
// that a receiver can drop commands it has already run.
func writeUserCmd(w *wire.Writer, from, to *UserCmd) {
	w.WriteUint32(to.Seq)
	m := cmdMask(from, to)
	w.WriteMask(uint32(m), cmdFieldCount)
	if m.Has(cmdServerTime) {
		w.WriteInt32(to.ServerTime)
	}
	if m.Has(cmdMsec) {
		w.WriteUint8(to.Msec)
	}
	for i := 0; i < 3; i++ {
		if m.Has(cmdPitch + i) {
			w.WriteAngle16(to.Angles[i])
		}
	}
	if m.Has(cmdForward) {
		w.WriteInt8(to.Forward)
	}
	if m.Has(cmdRight) {
		w.WriteInt8(to.Right)
	}
	if m.Has(cmdUp) {
		w.WriteInt8(to.Up)
	}
	if m.Has(cmdButtons) {
		w.WriteUint8(to.Buttons)
	}
	if m.Has(cmdWeapon) {
		w.WriteUint8(to.Weapon)
	}
}

func readUserCmd(r *wire.Reader, from *UserCmd) (UserCmd, error) {
	out := *from
	var err error
	if out.Seq, err = r.ReadUint32(); err != nil {
		return out, err
	}
	raw, err := r.ReadMask(cmdFieldCount)
	if err != nil {
		return out, err
	}
	m := netstate.Mask(raw)
	if m>>cmdFieldCount != 0 {
		return out, neterr.Desync("usercmd mask %s references unknown fields", m)
	}
	if m.Has(cmdServerTime) {
		if out.ServerTime, err = r.ReadInt32(); err != nil {
			return out, err
		}
	}
	if m.Has(cmdMsec) {
		if out.Msec, err = r.ReadUint8(); err != nil {
			return out, err
		}
	}
	for i := 0; i < 3; i++ {
		if m.Has(cmdPitch + i) {
			if out.Angles[i], err = r.ReadAngle16(); err != nil {
				return out, err
			}
		}
	}
	if m.Has(cmdForward) {
		if out.Forward, err = r.ReadInt8(); err != nil {
			return out, err
		}
	}
	if m.Has(cmdRight) {
		if out.Right, err = r.ReadInt8(); err != nil {
			return out, err
		}
	}
	if m.Has(cmdUp) {
		if out.Up, err = r.ReadInt8(); err != nil {
			return out, err
		}
	}
	if m.Has(cmdButtons) {
		if out.Buttons, err = r.ReadUint8(); err != nil {
			return out, err
		}
	}
	if m.Has(cmdWeapon) {
		if out.Weapon, err = r.ReadUint8(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Move carries the newest user commands, oldest first.
type Move struct {
	// NoDelta asks the server for a full snapshot because the client could
	// not reconstruct the last one.
	NoDelta bool
	Cmds    []UserCmd
}

const moveFlagNoDelta = 1 << 0

// WriteMove appends a ClcMove block.
func WriteMove(w *wire.Writer, m Move) {
	w.WriteUint8(uint8(ClcMove))
	var flags uint8
	if m.NoDelta {
		flags |= moveFlagNoDelta
	}
	w.WriteUint8(flags)
	w.WriteUint8(uint8(len(m.Cmds)))
	var prev UserCmd
	for i := range m.Cmds {
		writeUserCmd(w, &prev, &m.Cmds[i])
		prev = m.Cmds[i]
	}
}

// ReadMove decodes a ClcMove block; the opcode has already been consumed.
func ReadMove(r *wire.Reader) (Move, error) {
	var m Move
	flags, err := r.ReadUint8()
	if err != nil {
		return m, err
	}
	m.NoDelta = flags&moveFlagNoDelta != 0
	n, err := r.ReadUint8()
	if err != nil {
		return m, err
	}
	if int(n) > netconfig.MaxPacketCommands {
		return m, neterr.Malformed("move", "%d commands in one packet", n)
	}
	m.Cmds = make([]UserCmd, 0, n)
	var prev UserCmd
	for i := 0; i < int(n); i++ {
		cmd, err := readUserCmd(r, &prev)
		if err != nil {
			return m, err
		}
		m.Cmds = append(m.Cmds, cmd)
		prev = cmd
	}
	return m, nil
}
