package core

import (
	"time"

	"github.com/automoto/arenanet/shared/arena"
	"github.com/automoto/arenanet/shared/delta"
	"github.com/automoto/arenanet/shared/messages"
	"github.com/automoto/arenanet/shared/netchan"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/netstate"
)

// SyncState is where a client stands in snapshot delivery.
type SyncState int

const (
	// NeedsFullSnapshot: no usable baseline, every snapshot is sent in full.
	NeedsFullSnapshot SyncState = iota
	// DeltaSteady: snapshots are delta-encoded against the last acked one.
	DeltaSteady
)

func (s SyncState) String() string {
	switch s {
	case NeedsFullSnapshot:
		return "needs_full"
	case DeltaSteady:
		return "delta"
	}
	return "unknown"
}

// sentFrame remembers what one outgoing packet carried, so an ack for the
// packet can be turned into a baseline.
type sentFrame struct {
	packet   netchan.Seq
	snapshot uint32
	sentAt   time.Time
	player   netstate.PlayerState
	valid    bool
}

// Client is the server's view of one connected player.
type Client struct {
	Num         int
	Addr        string
	Name        string
	ConnectedAt time.Time

	slot       arena.Handle
	challenge  string
	channel    *netchan.Channel
	reliable   netchan.Reliable
	overflowed bool

	sync        SyncState
	frames      [netconfig.PacketBackup]sentFrame
	baseline    sentFrame
	hasBaseline bool
	lastAckAt   time.Time
	ping        time.Duration

	entity     arena.Handle
	player     netstate.PlayerState
	pending    []messages.UserCmd
	lastQueued uint32 // newest command accepted into pending
	firing     bool

	lastStats delta.Stats
}

func newClient(num int, addr, name, challenge string, now time.Time) *Client {
	return &Client{
		Num:         num,
		Addr:        addr,
		Name:        name,
		ConnectedAt: now,
		challenge:   challenge,
		channel:     netchan.NewChannel(now),
		lastAckAt:   now,
	}
}

// LastSnapshotStats returns the entity records of the newest snapshot sent
// to the client.
func (c *Client) LastSnapshotStats() delta.Stats { return c.lastStats }

// Sync returns the client's snapshot delivery state.
func (c *Client) Sync() SyncState { return c.sync }

// Ping returns the round trip of the most recently acked packet.
func (c *Client) Ping() time.Duration { return c.ping }

// Player returns the authoritative player state.
func (c *Client) Player() netstate.PlayerState { return c.player }

// Baseline returns the snapshot sequence currently used as delta base.
func (c *Client) Baseline() (uint32, bool) { return c.baseline.snapshot, c.hasBaseline }

func (c *Client) recordFrame(packet netchan.Seq, snapshot uint32, player netstate.PlayerState, now time.Time) {
	c.frames[int(packet)%len(c.frames)] = sentFrame{
		packet:   packet,
		snapshot: snapshot,
		sentAt:   now,
		player:   player,
		valid:    true,
	}
}

// acknowledge handles a newly acked packet. A frame newer than the current
// baseline becomes the baseline and the client enters DeltaSteady.
func (c *Client) acknowledge(ack netchan.Seq, now time.Time) {
	f := c.frames[int(ack)%len(c.frames)]
	if !f.valid || f.packet != ack {
		// Acked too late: the frame was overwritten by newer sends.
		return
	}
	c.lastAckAt = now
	c.ping = now.Sub(f.sentAt)
	if c.hasBaseline && !netchan.Seq(f.snapshot).After(netchan.Seq(c.baseline.snapshot)) {
		return
	}
	c.baseline = f
	c.hasBaseline = true
	c.sync = DeltaSteady
}

// resync drops the baseline so the next snapshot is sent in full. It reports
// whether the client was in DeltaSteady.
func (c *Client) resync() bool {
	was := c.sync == DeltaSteady
	c.sync = NeedsFullSnapshot
	c.hasBaseline = false
	c.baseline = sentFrame{}
	return was
}

// ackTimedOut reports whether a delta client has not acked anything for
// longer than limit.
func (c *Client) ackTimedOut(now time.Time, limit time.Duration) bool {
	return c.sync == DeltaSteady && now.Sub(c.lastAckAt) > limit
}

// baselineSnapshot builds the delta base for the next snapshot, or nil when a
// full snapshot must be sent. evicted is true when the baseline had already
// left the ring; the client is then moved back to NeedsFullSnapshot.
func (c *Client) baselineSnapshot(ring *SnapshotRing) (base *messages.Snapshot, evicted bool) {
	if c.sync != DeltaSteady || !c.hasBaseline {
		return nil, false
	}
	ws, ok := ring.Get(c.baseline.snapshot)
	if !ok {
		c.resync()
		return nil, true
	}
	return &messages.Snapshot{
		SnapshotHeader: messages.SnapshotHeader{Seq: ws.Seq, ServerTime: ws.ServerTime},
		Player:         c.baseline.player,
		Entities:       ws.Entities,
	}, false
}

// oldestNeeded returns the oldest snapshot this client may still use as a
// baseline: its current one, or any it has not acked yet.
func (c *Client) oldestNeeded() (uint32, bool) {
	var oldest uint32
	found := false
	consider := func(seq uint32) {
		if !found || netchan.Seq(oldest).After(netchan.Seq(seq)) {
			oldest = seq
			found = true
		}
	}
	if c.hasBaseline {
		consider(c.baseline.snapshot)
	}
	acked := c.channel.Acked()
	for i := range c.frames {
		f := &c.frames[i]
		if f.valid && f.packet.After(acked) {
			consider(f.snapshot)
		}
	}
	return oldest, found
}

// queueCommands keeps the commands newer than anything queued before. Move
// packets repeat recent commands, so most of each batch is usually old.
func (c *Client) queueCommands(cmds []messages.UserCmd) {
	for _, cmd := range cmds {
		if !netchan.Seq(cmd.Seq).After(netchan.Seq(c.lastQueued)) {
			continue
		}
		c.pending = append(c.pending, cmd)
		c.lastQueued = cmd.Seq
	}
}
