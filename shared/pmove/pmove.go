// Package pmove is the player movement step shared by client prediction and
// the server. Simulate must produce bit-identical results on both sides for
// the same inputs, so it only uses float32 arithmetic in a fixed order and
// never depends on wall-clock time or map iteration.
package pmove

import (
	"math"

	"github.com/automoto/arenanet/shared/leveldata"
	"github.com/automoto/arenanet/shared/messages"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/solarlune/resolv"
)

const tagSolid = "solid"

// Params are the movement tunables. Client and server must use the same
// values.
type Params struct {
	MaxSpeed     float32 // units/s
	Accelerate   float32
	AirAccel     float32
	Friction     float32
	StopSpeed    float32
	Gravity      float32 // units/s²
	JumpVelocity float32
	HalfWidth    float32 // player box half-extent on x and y
	Height       float32
}

// DefaultParams returns Quake III's standard movement values.
func DefaultParams() Params {
	return Params{
		MaxSpeed:     320,
		Accelerate:   10,
		AirAccel:     1,
		Friction:     6,
		StopSpeed:    100,
		Gravity:      800,
		JumpVelocity: 270,
		HalfWidth:    15,
		Height:       56,
	}
}

// World holds the static collision geometry of a map. It is not safe for
// concurrent use: client and server each own one.
type World struct {
	params Params
	space  *resolv.Space
	box    *resolv.Object
	bullet *resolv.Object
}

// NewWorld builds the collision space for level. A nil level is an open plane.
func NewWorld(level *leveldata.CollisionData, p Params) *World {
	w := &World{params: p}
	if level == nil {
		return w
	}
	w.space = resolv.NewSpace(level.MapWidth, level.MapHeight, 16, 16)
	for _, r := range level.SolidRects {
		obj := resolv.NewObject(r.X, r.Y, r.W, r.H, tagSolid)
		obj.SetShape(resolv.NewRectangle(0, 0, r.W, r.H))
		w.space.Add(obj)
	}
	size := float64(2 * p.HalfWidth)
	w.box = resolv.NewObject(0, 0, size, size, "player")
	w.box.SetShape(resolv.NewRectangle(0, 0, size, size))
	w.space.Add(w.box)
	w.bullet = resolv.NewObject(0, 0, 2, 2, "projectile")
	w.bullet.SetShape(resolv.NewRectangle(0, 0, 2, 2))
	w.space.Add(w.bullet)
	return w
}

// Params returns the movement tunables.
func (w *World) Params() Params { return w.params }

// Simulate advances ps by one user command lasting dt seconds and returns the
// new state. ps is not modified.
func (w *World) Simulate(ps netstate.PlayerState, cmd messages.UserCmd, dt float32) netstate.PlayerState {
	p := &w.params
	ps.CommandSeq = cmd.Seq
	ps.CommandTime = cmd.ServerTime
	ps.ViewAngles = cmd.Angles
	ps.Event = netconfig.EventNone
	if dt <= 0 {
		return ps
	}

	onGround := ps.OnGround()
	if cmd.Jump() {
		if onGround && ps.Flags&netconfig.PMFJumpHeld == 0 {
			ps.Velocity[2] = p.JumpVelocity
			onGround = false
			ps.Event = netconfig.EventJump
		}
		ps.Flags |= netconfig.PMFJumpHeld
	} else {
		ps.Flags &^= netconfig.PMFJumpHeld
	}

	if onGround {
		applyFriction(&ps.Velocity, p, dt)
	}

	wishDir, wishSpeed := wishVelocity(&cmd, p)
	accel := p.AirAccel
	if onGround {
		accel = p.Accelerate
	}
	accelerate(&ps.Velocity, wishDir, wishSpeed, accel, dt)

	if !onGround {
		ps.Velocity[2] -= p.Gravity * dt
	}

	w.moveHorizontal(&ps, dt)

	ps.Origin[2] += ps.Velocity[2] * dt
	if ps.Origin[2] <= 0 {
		if !onGround && ps.Velocity[2] < 0 {
			ps.Event = netconfig.EventLand
		}
		ps.Origin[2] = 0
		ps.Velocity[2] = 0
		ps.Flags |= netconfig.PMFOnGround
	} else {
		ps.Flags &^= netconfig.PMFOnGround
	}
	return ps
}

// wishVelocity turns stick input into a horizontal direction and speed.
func wishVelocity(cmd *messages.UserCmd, p *Params) (netstate.Vec3, float32) {
	yaw := float64(cmd.Angles[1]) * math.Pi / 180
	fx, fy := float32(math.Cos(yaw)), float32(math.Sin(yaw))
	rx, ry := fy, -fx

	fmove := float32(cmd.Forward) / 127
	smove := float32(cmd.Right) / 127
	wish := netstate.Vec3{fx*fmove + rx*smove, fy*fmove + ry*smove, 0}
	l := wish.Len()
	if l == 0 {
		return netstate.Vec3{}, 0
	}
	if l > 1 {
		l = 1
	}
	dir := wish.Scale(1 / wish.Len())
	speed := p.MaxSpeed * l
	if cmd.Buttons&netconfig.ButtonWalk != 0 {
		speed *= 0.5
	}
	return dir, speed
}

func accelerate(vel *netstate.Vec3, dir netstate.Vec3, wishSpeed, accel, dt float32) {
	current := vel.Dot(dir)
	add := wishSpeed - current
	if add <= 0 {
		return
	}
	speed := accel * dt * wishSpeed
	if speed > add {
		speed = add
	}
	vel[0] += speed * dir[0]
	vel[1] += speed * dir[1]
}

func applyFriction(vel *netstate.Vec3, p *Params, dt float32) {
	speed := netstate.Vec3{vel[0], vel[1], 0}.Len()
	if speed < 1 {
		vel[0], vel[1] = 0, 0
		return
	}
	control := speed
	if control < p.StopSpeed {
		control = p.StopSpeed
	}
	newSpeed := speed - control*p.Friction*dt
	if newSpeed < 0 {
		newSpeed = 0
	}
	scale := newSpeed / speed
	vel[0] *= scale
	vel[1] *= scale
}

// maxStep bounds how far a box moves between two collision checks. resolv
// only tests the destination of a move, so longer moves are split to keep
// fast movers from skipping over walls.
const maxStep = 8

// substeps splits d into n equal steps no longer than maxStep.
func substeps(d float32) (n int, step float32) {
	n = int(math.Ceil(math.Abs(float64(d)) / maxStep))
	if n < 1 {
		n = 1
	}
	return n, d / float32(n)
}

// sweep moves obj by (dx, dy) in steps and returns the distance actually
// covered, stopping flush against the first solid it touches.
func sweep(obj *resolv.Object, dx, dy float32) (float32, float32, bool) {
	n, _ := substeps(dx)
	if m, _ := substeps(dy); m > n {
		n = m
	}
	sx, sy := dx/float32(n), dy/float32(n)
	var mx, my float32
	x0, y0 := obj.X, obj.Y
	defer func() {
		obj.X, obj.Y = x0, y0
		obj.Update()
	}()
	for i := 0; i < n; i++ {
		if check := obj.Check(float64(sx), float64(sy), tagSolid); check != nil {
			if solids := check.ObjectsByTags(tagSolid); len(solids) > 0 {
				c := check.ContactWithObject(solids[0])
				return mx + float32(c.X()), my + float32(c.Y()), true
			}
		}
		mx += sx
		my += sy
		obj.X = x0 + float64(mx)
		obj.Y = y0 + float64(my)
		obj.Update()
	}
	return dx, dy, false
}

// moveHorizontal moves ps on x then y, stopping flush against walls.
func (w *World) moveHorizontal(ps *netstate.PlayerState, dt float32) {
	dx := ps.Velocity[0] * dt
	dy := ps.Velocity[1] * dt
	if w.space == nil {
		ps.Origin[0] += dx
		ps.Origin[1] += dy
		return
	}

	half := float64(w.params.HalfWidth)
	w.box.X = float64(ps.Origin[0]) - half
	w.box.Y = float64(ps.Origin[1]) - half
	w.box.Update()

	if dx != 0 {
		var hit bool
		if dx, _, hit = sweep(w.box, dx, 0); hit {
			ps.Velocity[0] = 0
		}
		w.box.X += float64(dx)
		w.box.Update()
	}
	if dy != 0 {
		var hit bool
		if _, dy, hit = sweep(w.box, 0, dy); hit {
			ps.Velocity[1] = 0
		}
	}
	ps.Origin[0] += dx
	ps.Origin[1] += dy
}

// Trace moves a small projectile from start by delta on the horizontal
// plane. It returns where the projectile stops and whether it hit a wall.
func (w *World) Trace(start, delta netstate.Vec3) (netstate.Vec3, bool) {
	end := start.Add(delta)
	if w.space == nil {
		return end, false
	}
	w.bullet.X = float64(start[0]) - 1
	w.bullet.Y = float64(start[1]) - 1
	w.bullet.Update()
	dx, dy, hit := sweep(w.bullet, delta[0], delta[1])
	if !hit {
		return end, false
	}
	end[0] = start[0] + dx
	end[1] = start[1] + dy
	return end, true
}

// Spawn returns the initial player state at sp.
func Spawn(sp leveldata.SpawnPoint, entityNum uint16) netstate.PlayerState {
	return netstate.PlayerState{
		Origin:     netstate.Vec3{float32(sp.X), float32(sp.Y), 0},
		ViewAngles: netstate.Vec3{0, float32(sp.Yaw), 0},
		Flags:      netconfig.PMFOnGround | netconfig.PMFRespawned,
		EntityNum:  entityNum,
		Health:     100,
	}
}
