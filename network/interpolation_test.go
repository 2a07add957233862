package network

import (
	"testing"
	"time"

	"github.com/automoto/arenanet/shared/messages"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/netstate"
)

func snapAt(seq uint32, serverTime int32, ents ...netstate.EntityState) *messages.Snapshot {
	return &messages.Snapshot{
		SnapshotHeader: messages.SnapshotHeader{Seq: seq, ServerTime: serverTime},
		Entities:       ents,
	}
}

func TestInterpolatesBetweenBracketingSnapshots(t *testing.T) {
	ip := NewInterpolator(4, 100*time.Millisecond)
	ip.Push(snapAt(1, 100, netstate.EntityState{Number: 70, Origin: netstate.Vec3{0, 0, 0}}))
	ip.Push(snapAt(2, 150, netstate.EntityState{Number: 70, Origin: netstate.Vec3{10, 0, 0}}))

	// Render time 225 less the 100ms delay is server time 125.
	es, ok := ip.EntityAt(70, 225)
	if !ok {
		t.Fatal("entity not found")
	}
	if es.Origin != (netstate.Vec3{5, 0, 0}) {
		t.Fatalf("origin %v, want (5,0,0)", es.Origin)
	}
}

func TestInterpolationClampsOutsideBufferedRange(t *testing.T) {
	ip := NewInterpolator(4, 0)
	ip.Push(snapAt(1, 100, netstate.EntityState{Number: 70, Origin: netstate.Vec3{0, 0, 0}}))
	ip.Push(snapAt(2, 150, netstate.EntityState{Number: 70, Origin: netstate.Vec3{10, 0, 0}}))

	tests := []struct {
		name string
		t    int32
		want netstate.Vec3
	}{
		{"before oldest", 20, netstate.Vec3{0, 0, 0}},
		{"at oldest", 100, netstate.Vec3{0, 0, 0}},
		{"at newest", 150, netstate.Vec3{10, 0, 0}},
		{"far past newest", 5000, netstate.Vec3{10, 0, 0}},
	}
	for _, tt := range tests {
		es, ok := ip.Sample(70, tt.t)
		if !ok || es.Origin != tt.want {
			t.Fatalf("%s: origin %v ok %v, want %v", tt.name, es.Origin, ok, tt.want)
		}
	}
}

func TestInterpolationAnglesTakeShortestArc(t *testing.T) {
	ip := NewInterpolator(4, 0)
	ip.Push(snapAt(1, 0, netstate.EntityState{Number: 3, Angles: netstate.Vec3{0, 350, 0}}))
	ip.Push(snapAt(2, 100, netstate.EntityState{Number: 3, Angles: netstate.Vec3{0, 10, 0}}))

	es, _ := ip.Sample(3, 50)
	if yaw := es.Angles[1]; yaw != 360 && yaw != 0 {
		t.Fatalf("yaw %v, want 0 or 360", yaw)
	}
}

func TestInterpolationDoesNotCrossTeleport(t *testing.T) {
	ip := NewInterpolator(4, 0)
	ip.Push(snapAt(1, 0, netstate.EntityState{Number: 3, Origin: netstate.Vec3{0, 0, 0}}))
	ip.Push(snapAt(2, 100, netstate.EntityState{Number: 3, Origin: netstate.Vec3{800, 0, 0}, Flags: netconfig.FlagTeleport}))

	es, _ := ip.Sample(3, 50)
	if es.Origin[0] != 800 {
		t.Fatalf("origin %v, want the post-teleport position", es.Origin)
	}
}

func TestInterpolationVisibilityFollowsLaterSnapshot(t *testing.T) {
	ip := NewInterpolator(4, 0)
	ip.Push(snapAt(1, 0, netstate.EntityState{Number: 3}))
	ip.Push(snapAt(2, 100, netstate.EntityState{Number: 4, Origin: netstate.Vec3{1, 2, 3}}))

	if _, ok := ip.Sample(3, 50); ok {
		t.Fatal("removed entity still drawn")
	}
	if es, ok := ip.Sample(4, 50); !ok || es.Origin != (netstate.Vec3{1, 2, 3}) {
		t.Fatalf("new entity %+v ok %v", es, ok)
	}
}

func TestInterpolatorKeepsNewestFrames(t *testing.T) {
	ip := NewInterpolator(3, 0)
	for i := 1; i <= 5; i++ {
		ip.Push(snapAt(uint32(i), int32(i*50)))
	}
	ip.Push(snapAt(6, 100)) // older than what is buffered
	oldest, newest, ok := ip.Range()
	if !ok || oldest != 150 || newest != 250 || ip.Len() != 3 {
		t.Fatalf("range %d..%d len %d", oldest, newest, ip.Len())
	}
}
