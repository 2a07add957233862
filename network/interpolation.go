package network

import (
	"time"

	"github.com/automoto/arenanet/shared/messages"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/netstate"
)

// Interpolator keeps the most recent reconstructed snapshots and answers
// where an entity should be drawn at a given server time.
type Interpolator struct {
	frames []*messages.Snapshot // oldest first
	size   int
	delay  int32 // ms
}

// NewInterpolator buffers up to size snapshots (at least two) and renders
// delay behind the requested time.
func NewInterpolator(size int, delay time.Duration) *Interpolator {
	if size < 2 {
		size = 2
	}
	return &Interpolator{size: size, delay: int32(delay.Milliseconds())}
}

// Push adds a snapshot. Snapshots that are not newer than the last one are
// ignored.
func (ip *Interpolator) Push(s *messages.Snapshot) {
	if n := len(ip.frames); n > 0 && s.ServerTime <= ip.frames[n-1].ServerTime {
		return
	}
	if len(ip.frames) == ip.size {
		copy(ip.frames, ip.frames[1:])
		ip.frames = ip.frames[:ip.size-1]
	}
	ip.frames = append(ip.frames, s)
}

// Reset forgets every buffered snapshot.
func (ip *Interpolator) Reset() { ip.frames = ip.frames[:0] }

// Len returns the number of buffered snapshots.
func (ip *Interpolator) Len() int { return len(ip.frames) }

// Delay returns the interpolation delay in milliseconds.
func (ip *Interpolator) Delay() int32 { return ip.delay }

// Range returns the server times of the oldest and newest buffered
// snapshots.
func (ip *Interpolator) Range() (oldest, newest int32, ok bool) {
	if len(ip.frames) == 0 {
		return 0, 0, false
	}
	return ip.frames[0].ServerTime, ip.frames[len(ip.frames)-1].ServerTime, true
}

// EntityAt returns the state of entity number as it should be drawn at
// renderTime, which is shifted back by the interpolation delay. Times
// outside the buffered range clamp to the nearest snapshot; nothing is
// extrapolated. ok is false if the entity is not in the snapshot that
// decides visibility.
func (ip *Interpolator) EntityAt(number uint16, renderTime int32) (netstate.EntityState, bool) {
	return ip.Sample(number, renderTime-ip.delay)
}

// Sample is EntityAt without the delay.
func (ip *Interpolator) Sample(number uint16, t int32) (netstate.EntityState, bool) {
	from, to, frac := ip.bracket(t)
	if to == nil {
		return netstate.EntityState{}, false
	}
	next := to.Entity(number)
	if next == nil {
		return netstate.EntityState{}, false
	}
	if from == nil || frac >= 1 {
		return *next, true
	}
	prev := from.Entity(number)
	if prev == nil || prev.Type != next.Type || (prev.Flags^next.Flags)&netconfig.FlagTeleport != 0 {
		return *next, true
	}
	out := *next
	out.Origin = prev.Origin.Lerp(next.Origin, frac)
	out.Angles = prev.Angles.LerpAngles(next.Angles, frac)
	return out, true
}

// bracket finds the snapshots around t. from is nil when t is at or before
// the oldest snapshot.
func (ip *Interpolator) bracket(t int32) (from, to *messages.Snapshot, frac float32) {
	n := len(ip.frames)
	if n == 0 {
		return nil, nil, 0
	}
	if t <= ip.frames[0].ServerTime {
		return nil, ip.frames[0], 1
	}
	if t >= ip.frames[n-1].ServerTime {
		return nil, ip.frames[n-1], 1
	}
	for i := 1; i < n; i++ {
		if next := ip.frames[i]; t <= next.ServerTime {
			prev := ip.frames[i-1]
			frac = float32(t-prev.ServerTime) / float32(next.ServerTime-prev.ServerTime)
			return prev, next, frac
		}
	}
	return nil, ip.frames[n-1], 1
}
