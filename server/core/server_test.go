package core

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/automoto/arenanet/server/config"
	"github.com/automoto/arenanet/shared/leveldata"
	"github.com/automoto/arenanet/shared/messages"
	"github.com/automoto/arenanet/shared/netchan"
	"github.com/automoto/arenanet/shared/netcomponents"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/shared/pmove"
	"github.com/automoto/arenanet/shared/wire"
	"github.com/automoto/arenanet/transport/loopback"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const tick = 50 * time.Millisecond

type clock struct{ now time.Time }

func (c *clock) advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *loopback.Network, *clock) {
	t.Helper()
	cfg := config.Default()
	cfg.Name = "test"
	if mutate != nil {
		mutate(&cfg)
	}
	n := loopback.NewNetwork(1)
	s, err := NewServer(Options{Config: cfg, Transport: n.Endpoint("server"), Logger: testLogger})
	if err != nil {
		t.Fatal(err)
	}
	return s, n, &clock{now: time.Unix(1000, 0)}
}

// peer is a minimal protocol client driven directly by the tests.
type peer struct {
	t        *testing.T
	name     string
	ep       *loopback.Endpoint
	ch       *netchan.Channel
	rel      netchan.Reliable
	snaps    map[uint32]*messages.Snapshot
	token    string
	conn     *messages.ConnectResponse
	dropped  string
	commands []string
	cmdSeq   uint32
	unread   []*messages.Snapshot
}

func newPeer(t *testing.T, n *loopback.Network, name string) *peer {
	return &peer{
		t:     t,
		name:  name,
		ep:    n.Endpoint(name),
		ch:    netchan.NewChannel(time.Time{}),
		snaps: make(map[uint32]*messages.Snapshot),
	}
}

func (p *peer) sendConnectionless(env messages.Envelope) {
	p.t.Helper()
	pkt, err := messages.EncodeConnectionless(env)
	if err != nil {
		p.t.Fatal(err)
	}
	if err := p.ep.Send("server", pkt); err != nil {
		p.t.Fatal(err)
	}
}

func (p *peer) connectWith(s *Server, clk *clock, entityFields int) *messages.ConnectResponse {
	p.t.Helper()
	p.sendConnectionless(messages.Envelope{
		Kind:         messages.KindGetChallenge,
		GetChallenge: &messages.GetChallenge{Protocol: netconfig.ProtocolVersion},
	})
	s.Frame(clk.advance(tick))
	p.pump()
	if p.token == "" {
		p.t.Fatal("no challenge received")
	}
	p.sendConnectionless(messages.Envelope{
		Kind: messages.KindConnect,
		Connect: &messages.Connect{
			Challenge:    p.token,
			Protocol:     netconfig.ProtocolVersion,
			EntityFields: entityFields,
			PlayerFields: int(netstate.PlayerFieldCount),
			Name:         p.name,
		},
	})
	s.Frame(clk.advance(tick))
	p.pump()
	return p.conn
}

func (p *peer) connect(s *Server, clk *clock) *messages.ConnectResponse {
	p.t.Helper()
	resp := p.connectWith(s, clk, int(netstate.FieldCount))
	if resp == nil || !resp.Accepted {
		p.t.Fatalf("connect refused: %+v", resp)
	}
	return resp
}

// receive returns the snapshots delivered since the last call.
func (p *peer) receive() []*messages.Snapshot {
	p.t.Helper()
	p.pump()
	out := p.unread
	p.unread = nil
	return out
}

func (p *peer) pump() {
	p.t.Helper()
	for _, d := range p.ep.Poll(nil) {
		if messages.IsConnectionless(d.Data) {
			env, err := messages.DecodeConnectionless(d.Data)
			if err != nil {
				p.t.Fatal(err)
			}
			switch env.Kind {
			case messages.KindChallenge:
				p.token = env.Challenge.Token
			case messages.KindConnectResponse:
				p.conn = env.ConnectResponse
			case messages.KindDisconnect:
				p.dropped = env.Disconnect.Reason
			}
			continue
		}
		h, payload, err := p.ch.Process(d.Data)
		if err != nil {
			continue
		}
		r := wire.NewReader(payload)
		cmds, err := p.rel.Read(r)
		if err != nil {
			p.t.Fatal(err)
		}
		p.commands = append(p.commands, cmds...)
		if op, err := r.ReadUint8(); err != nil || messages.ServerOp(op) != messages.SvcSnapshot {
			p.t.Fatalf("expected snapshot block, got op %d err %v", op, err)
		}
		hdr, err := messages.ReadSnapshotHeader(r)
		if err != nil {
			p.t.Fatal(err)
		}
		var base *messages.Snapshot
		if hdr.Delta {
			if base = p.snaps[hdr.Baseline]; base == nil {
				p.t.Fatalf("snapshot %d deltas from unknown baseline %d", hdr.Seq, hdr.Baseline)
			}
		}
		snap, err := messages.ReadSnapshotBody(r, hdr, base)
		if err != nil {
			p.t.Fatal(err)
		}
		p.ch.Accept(h, time.Time{})
		p.snaps[snap.Seq] = snap
		p.unread = append(p.unread, snap)
	}
}

func (p *peer) cmd(forward int8, buttons uint8) messages.UserCmd {
	p.cmdSeq++
	return messages.UserCmd{Seq: p.cmdSeq, Msec: 50, Forward: forward, Buttons: buttons}
}

func (p *peer) sendMove(noDelta bool, cmds ...messages.UserCmd) {
	p.t.Helper()
	w := wire.NewWriter(256)
	p.rel.Write(w)
	messages.WriteMove(w, messages.Move{NoDelta: noDelta, Cmds: cmds})
	w.WriteUint8(uint8(messages.ClcEOF))
	pkt, _ := p.ch.Transmit(w.Bytes())
	if err := p.ep.Send("server", pkt); err != nil {
		p.t.Fatal(err)
	}
}

func (p *peer) lastSnapshot(snaps []*messages.Snapshot) *messages.Snapshot {
	p.t.Helper()
	if len(snaps) == 0 {
		p.t.Fatal("no snapshot received")
	}
	return snaps[len(snaps)-1]
}

// steady connects p and acknowledges the first snapshot, returning the first
// delta snapshot.
func (p *peer) steady(s *Server, clk *clock) *messages.Snapshot {
	p.t.Helper()
	p.connect(s, clk)
	full := p.lastSnapshot(p.receive())
	if full.Delta {
		p.t.Fatal("first snapshot was a delta")
	}
	p.sendMove(false)
	s.Frame(clk.advance(tick))
	snap := p.lastSnapshot(p.receive())
	if !snap.Delta || snap.Baseline != full.Seq {
		p.t.Fatalf("second snapshot delta=%v baseline=%d, want delta from %d", snap.Delta, snap.Baseline, full.Seq)
	}
	return snap
}

func TestHandshakeThenDeltaSnapshots(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	p := newPeer(t, n, "alice")
	resp := p.connect(s, clk)
	if resp.ServerName != "test" || resp.TickRate != 20 || resp.EntityNum != uint16(resp.ClientNum) {
		t.Fatalf("connect response %+v", resp)
	}
	first := p.lastSnapshot(p.receive())
	if first.Delta {
		t.Fatal("first snapshot was a delta")
	}
	if e := first.Entity(resp.EntityNum); e == nil || e.Type != netconfig.EntityPlayer {
		t.Fatalf("player entity missing from %+v", first.Entities)
	}

	p.sendMove(false)
	s.Frame(clk.advance(tick))
	second := p.lastSnapshot(p.receive())
	if !second.Delta || second.Baseline != first.Seq {
		t.Fatalf("second snapshot delta=%v baseline=%d", second.Delta, second.Baseline)
	}
	c, _ := s.Client(resp.ClientNum)
	if c.Sync() != DeltaSteady {
		t.Fatalf("sync = %s", c.Sync())
	}
	if base, _ := c.Baseline(); base != first.Seq {
		t.Fatalf("baseline = %d, want %d", base, first.Seq)
	}
	if s.PlayerCount() != 1 {
		t.Fatalf("PlayerCount = %d", s.PlayerCount())
	}
}

func TestAckTimeoutRevertsToFullSnapshots(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	p := newPeer(t, n, "alice")
	p.steady(s, clk)

	s.Frame(clk.advance(1500 * time.Millisecond))
	snap := p.lastSnapshot(p.receive())
	if snap.Delta {
		t.Fatal("snapshot after ack timeout was a delta")
	}
	c, _ := s.Client(0)
	if c.Sync() != NeedsFullSnapshot {
		t.Fatalf("sync = %s", c.Sync())
	}

	p.sendMove(false)
	s.Frame(clk.advance(tick))
	if snap := p.lastSnapshot(p.receive()); !snap.Delta {
		t.Fatal("client did not return to deltas after acking the full snapshot")
	}
}

func TestEvictedBaselineForcesFullSnapshot(t *testing.T) {
	s, n, clk := newTestServer(t, func(c *config.Config) {
		c.Net.RetentionWindow = 2
		c.Net.AckTimeout = 10 * time.Second
	})
	p := newPeer(t, n, "alice")
	p.steady(s, clk)

	s.Frame(clk.advance(tick))
	snap := p.lastSnapshot(p.receive())
	if snap.Delta {
		t.Fatalf("snapshot %d deltas from %d, which left the ring", snap.Seq, snap.Baseline)
	}
	c, _ := s.Client(0)
	if c.Sync() != NeedsFullSnapshot {
		t.Fatalf("sync = %s", c.Sync())
	}
}

func TestNoDeltaRequestGetsFullSnapshot(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	p := newPeer(t, n, "alice")
	p.steady(s, clk)

	p.sendMove(true)
	s.Frame(clk.advance(tick))
	if snap := p.lastSnapshot(p.receive()); snap.Delta {
		t.Fatal("NoDelta request answered with a delta")
	}
}

func TestMismatchedFieldTablesRejected(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	p := newPeer(t, n, "old-build")
	resp := p.connectWith(s, clk, int(netstate.FieldCount)+1)
	if resp == nil || resp.Accepted {
		t.Fatalf("response %+v", resp)
	}
	if !strings.HasPrefix(resp.Reason, "incompatible version") {
		t.Fatalf("reason %q", resp.Reason)
	}
	if s.World().Len() != 0 {
		t.Fatal("rejected client got an entity")
	}
}

func TestBadChallengeRejected(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	p := newPeer(t, n, "spoof")
	p.sendConnectionless(messages.Envelope{
		Kind: messages.KindConnect,
		Connect: &messages.Connect{
			Challenge:    "made-up",
			Protocol:     netconfig.ProtocolVersion,
			EntityFields: int(netstate.FieldCount),
			PlayerFields: int(netstate.PlayerFieldCount),
		},
	})
	s.Frame(clk.advance(tick))
	p.pump()
	if p.conn == nil || p.conn.Accepted || p.conn.Reason != "bad challenge" {
		t.Fatalf("response %+v", p.conn)
	}
}

func TestMalformedPacketDropsOnlyThatClient(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	bad := newPeer(t, n, "bad")
	good := newPeer(t, n, "good")
	bad.connect(s, clk)
	good.connect(s, clk)
	bad.receive()
	good.receive()

	w := wire.NewWriter(32)
	bad.rel.Write(w)
	w.WriteUint8(0x7f)
	pkt, _ := bad.ch.Transmit(w.Bytes())
	bad.ep.Send("server", pkt)
	good.sendMove(false)
	s.Frame(clk.advance(tick))

	bad.pump()
	if !strings.HasPrefix(bad.dropped, "bad packet") {
		t.Fatalf("bad client disconnect reason %q", bad.dropped)
	}
	if snap := good.lastSnapshot(good.receive()); len(snap.Entities) != 1 {
		t.Fatalf("good client sees %d entities, want 1", len(snap.Entities))
	}
	if s.PlayerCount() != 1 || s.World().Len() != 1 {
		t.Fatalf("players %d, entities %d", s.PlayerCount(), s.World().Len())
	}
}

func TestConnectionTimeoutDropsClient(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	p := newPeer(t, n, "alice")
	p.connect(s, clk)

	s.Frame(clk.advance(31 * time.Second))
	p.pump()
	if p.dropped != "timed out" {
		t.Fatalf("disconnect reason %q", p.dropped)
	}
	if s.PlayerCount() != 0 || s.World().Len() != 0 {
		t.Fatalf("players %d, entities %d after timeout", s.PlayerCount(), s.World().Len())
	}
}

func TestCommandsExecuteOnce(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	p := newPeer(t, n, "alice")
	p.connect(s, clk)

	c1 := p.cmd(127, 0)
	c2 := p.cmd(127, 0)
	p.sendMove(false, c1)
	s.Frame(clk.advance(tick))
	p.sendMove(false, c1, c2)
	s.Frame(clk.advance(tick))

	w := pmove.NewWorld(nil, pmove.DefaultParams())
	want := pmove.Spawn(leveldata.SpawnPoint{}, 0)
	want = w.Simulate(want, c1, c1.Duration())
	want = w.Simulate(want, c2, c2.Duration())

	c, _ := s.Client(0)
	got := c.Player()
	if got.CommandSeq != 2 || got.Origin != want.Origin {
		t.Fatalf("player seq %d origin %v, want seq 2 origin %v", got.CommandSeq, got.Origin, want.Origin)
	}
}

func TestMissileLifecycle(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	p := newPeer(t, n, "alice")
	p.connect(s, clk)
	p.receive()

	p.sendMove(false, p.cmd(0, netconfig.ButtonAttack))
	s.Frame(clk.advance(tick))
	snap := p.lastSnapshot(p.receive())
	if len(snap.Entities) != 2 || snap.Entities[1].Type != netconfig.EntityMissile {
		t.Fatalf("entities after firing: %+v", snap.Entities)
	}
	if snap.Entities[0].Event != netconfig.EventFireWeapon {
		t.Fatalf("player event = %d", snap.Entities[0].Event)
	}
	if snap.Entities[0].Flags&netconfig.FlagFiring == 0 {
		t.Fatal("firing player lacks FlagFiring")
	}
	if x := snap.Entities[1].Origin[0]; x <= 19 {
		t.Fatalf("missile did not move: x = %v", x)
	}

	p.sendMove(false)
	s.Frame(clk.advance(400 * time.Millisecond))
	snap = p.lastSnapshot(p.receive())
	if snap.Entities[0].Event != netconfig.EventNone {
		t.Fatal("fire event was not cleared")
	}

	p.sendMove(false)
	s.Frame(clk.advance(2 * time.Second))
	snap = p.lastSnapshot(p.receive())
	if len(snap.Entities) != 1 || s.World().Len() != 1 {
		t.Fatalf("missile not removed: %+v", snap.Entities)
	}
}

func TestReliableChatBroadcast(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	a := newPeer(t, n, "alice")
	b := newPeer(t, n, "bob")
	a.connect(s, clk)
	b.connect(s, clk)
	a.receive()
	b.receive()

	if err := a.rel.Queue("say hello"); err != nil {
		t.Fatal(err)
	}
	a.sendMove(false)
	s.Frame(clk.advance(tick))
	b.receive()
	found := false
	for _, cmd := range b.commands {
		if cmd == "chat alice: hello" {
			found = true
		}
	}
	if !found {
		t.Fatalf("bob's commands: %q", b.commands)
	}

	if err := b.rel.Queue("disconnect"); err != nil {
		t.Fatal(err)
	}
	b.sendMove(false)
	s.Frame(clk.advance(tick))
	if s.PlayerCount() != 1 {
		t.Fatalf("PlayerCount = %d after disconnect", s.PlayerCount())
	}
}

func TestMoverTravelsAsDeltaRecords(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	h, err := s.SpawnMover(leveldata.MoverPath{X: 200, Y: 40, DX: 100, Duration: 1, Model: 5})
	if err != nil {
		t.Fatal(err)
	}
	p := newPeer(t, n, "alice")
	resp := p.connect(s, clk)
	full := p.lastSnapshot(p.receive())
	start := full.Entity(h.Index)
	if start == nil || start.Type != netconfig.EntityMover {
		t.Fatalf("mover missing from %+v", full.Entities)
	}
	c, _ := s.Client(resp.ClientNum)

	prev := start.Origin
	for i := 0; i < 3; i++ {
		p.sendMove(false)
		s.Frame(clk.advance(tick))
		snap := p.lastSnapshot(p.receive())
		if !snap.Delta {
			t.Fatalf("frame %d: snapshot was not a delta", i)
		}
		m := snap.Entity(h.Index)
		if m == nil || m.Origin[0] <= prev[0] || m.Origin[1] != 40 {
			t.Fatalf("frame %d: mover at %v, previously %v", i, m, prev)
		}
		prev = m.Origin
		if st := c.LastSnapshotStats(); st.Changed < 1 || st.New != 0 || st.Removed != 0 {
			t.Fatalf("frame %d: stats %+v", i, st)
		}
	}

	// The return leg brings it back to the start.
	for i := 0; i < 40; i++ {
		p.sendMove(false)
		s.Frame(clk.advance(tick))
		p.receive()
	}
	entry, _ := s.World().Entry(h)
	if x := netcomponents.NetEntity.Get(entry).State.Origin[0]; x < 200 || x > 300 {
		t.Fatalf("mover left its path: x = %v", x)
	}
}

func TestItemPickupHealsAndHides(t *testing.T) {
	s, n, clk := newTestServer(t, nil)
	p := newPeer(t, n, "alice")
	resp := p.connect(s, clk)
	p.receive()
	c, _ := s.Client(resp.ClientNum)
	c.player.Health = 50

	h, err := s.SpawnItem(leveldata.ItemSpawn{X: float64(c.player.Origin[0]), Y: float64(c.player.Origin[1]), Model: 7, Amount: 25})
	if err != nil {
		t.Fatal(err)
	}
	p.sendMove(false)
	s.Frame(clk.advance(tick))
	snap := p.lastSnapshot(p.receive())
	if c.Player().Health != 75 {
		t.Fatalf("health = %d, want 75", c.Player().Health)
	}
	it := snap.Entity(h.Index)
	if it == nil || it.Type != netconfig.EntityItem || it.Flags&netconfig.FlagInvisible == 0 || it.Event != netconfig.EventItemPickup {
		t.Fatalf("item after pickup: %+v", it)
	}
	found := false
	for _, cmd := range p.commands {
		if strings.HasPrefix(cmd, "print picked up 25") {
			found = true
		}
	}
	if !found {
		t.Fatalf("commands: %q", p.commands)
	}

	// A hidden item is not taken again.
	p.sendMove(false)
	s.Frame(clk.advance(tick))
	p.receive()
	if c.Player().Health != 75 {
		t.Fatalf("hidden item healed again: health = %d", c.Player().Health)
	}

	p.sendMove(false)
	s.Frame(clk.advance(itemRespawnMs * time.Millisecond))
	snap = p.lastSnapshot(p.receive())
	if it := snap.Entity(h.Index); it == nil || it.Flags&netconfig.FlagInvisible != 0 {
		t.Fatalf("item did not respawn: %+v", it)
	}
}
