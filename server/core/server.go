// Package core is the authoritative game server: it owns the entity world,
// runs player movement, seals one snapshot per tick and delivers it to every
// client as a delta against the last snapshot that client acknowledged.
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/automoto/arenanet/server/config"
	"github.com/automoto/arenanet/shared/arena"
	"github.com/automoto/arenanet/shared/messages"
	"github.com/automoto/arenanet/shared/netchan"
	"github.com/automoto/arenanet/shared/netcomponents"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/neterr"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/shared/pmove"
	"github.com/automoto/arenanet/shared/wire"
	"github.com/automoto/arenanet/transport"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// maxCmdMsec caps how much time a single user command may simulate.
const maxCmdMsec = 200

// Options configure a Server.
type Options struct {
	Config    config.Config
	Transport transport.Transport
	// Level is the map to run; nil runs the open plane.
	Level  *ServerLevel
	Logger *slog.Logger
}

type pendingChallenge struct {
	token  string
	issued time.Time
}

// Server is one game server instance. Frame and everything it calls run on a
// single goroutine; Status and PlayerCount may be called from any goroutine.
type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	transport transport.Transport
	level     *ServerLevel
	world     *World
	ring      *SnapshotRing
	registry  *prometheus.Registry
	metrics   *Metrics

	clients    *arena.Arena[*Client]
	byAddr     map[string]arena.Handle
	challenges map[string]pendingChallenge

	started    bool
	start      time.Time
	now        time.Time
	frameTime  float32 // seconds since the previous frame
	serverTime int32   // ms since the first frame

	inbox []transport.Datagram
	out   *wire.Writer

	mu     sync.RWMutex
	status Status
}

// NewServer creates a server. Nothing happens until Frame is called.
func NewServer(opts Options) (*Server, error) {
	if opts.Transport == nil {
		return nil, errors.New("core: server needs a transport")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := opts.Level
	if level == nil {
		level = NewServerLevel(nil, pmove.DefaultParams())
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	s := &Server{
		cfg:        opts.Config,
		logger:     logger.With("component", "server"),
		transport:  opts.Transport,
		level:      level,
		world:      NewWorld(),
		ring:       NewSnapshotRing(opts.Config.Net.RetentionWindow),
		registry:   reg,
		metrics:    NewMetrics(reg),
		clients:    arena.New[*Client](opts.Config.MaxClients),
		byAddr:     make(map[string]arena.Handle),
		challenges: make(map[string]pendingChallenge),
		out:        wire.NewWriter(netconfig.MaxPacketSize),
	}
	s.world.ECS().AddSystem(s.updateMovers)
	s.world.ECS().AddSystem(s.updateMissiles)
	s.world.ECS().AddSystem(s.updateItems)
	s.world.ECS().AddSystem(s.updateEvents)
	if err := s.spawnLevelEntities(); err != nil {
		return nil, err
	}
	return s, nil
}

// Registry returns the Prometheus registry holding the server's metrics.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// World returns the entity world.
func (s *Server) World() *World { return s.world }

// ServerTime returns milliseconds since the first frame.
func (s *Server) ServerTime() int32 { return s.serverTime }

// Client returns the connected client in slot num.
func (s *Server) Client(num int) (*Client, bool) {
	c, _, ok := s.clients.At(num)
	if !ok {
		return nil, false
	}
	return *c, true
}

// Frame runs one server tick at time now.
func (s *Server) Frame(now time.Time) {
	began := time.Now()
	if !s.started {
		s.started = true
		s.start = now
		s.now = now
	}
	s.frameTime = float32(now.Sub(s.now).Seconds())
	s.now = now
	s.serverTime = int32(now.Sub(s.start) / time.Millisecond)

	s.readPackets()
	s.runCommands()
	s.world.ECS().Update()
	s.syncPlayers()
	s.checkTimeouts()

	snap := s.ring.Seal(s.serverTime, s.world.Gather(nil))
	s.metrics.entities.Set(float64(len(snap.Entities)))
	s.eachClient(func(c *Client) { s.sendSnapshot(c, snap) })
	s.prune()
	s.publishStatus(snap)
	s.metrics.tickDuration.Observe(time.Since(began).Seconds())
}

func (s *Server) eachClient(fn func(c *Client)) {
	s.clients.Each(func(_ arena.Handle, c **Client) bool {
		fn(*c)
		return true
	})
}

func (s *Server) readPackets() {
	s.inbox = s.transport.Poll(s.inbox[:0])
	for _, d := range s.inbox {
		if messages.IsConnectionless(d.Data) {
			s.handleConnectionless(d)
			continue
		}
		h, ok := s.byAddr[d.From]
		if !ok {
			s.metrics.packetsDropped.WithLabelValues("unknown_peer").Inc()
			continue
		}
		c := *s.clients.Get(h)
		if err := s.handlePacket(c, d.Data); err != nil {
			if errors.Is(err, netchan.ErrStale) {
				s.metrics.packetsDropped.WithLabelValues("stale").Inc()
				continue
			}
			s.logger.Warn("dropping client after bad packet", "client", c.Num, "addr", c.Addr, "err", err)
			s.dropClient(c, neterr.DisconnectReason(err), dropLabel(err), true)
		}
	}
}

func dropLabel(err error) string {
	var de *neterr.DesyncError
	switch {
	case errors.As(err, &de):
		return "desync"
	case errors.Is(err, netchan.ErrReliableOverflow):
		return "reliable_overflow"
	}
	return "protocol"
}

// handlePacket decodes a sequenced client packet in full before any of it is
// applied, so a malformed packet leaves the client's state untouched.
func (s *Server) handlePacket(c *Client, data []byte) error {
	h, payload, err := c.channel.Process(data)
	if err != nil {
		return err
	}
	r := wire.NewReader(payload)
	commands, err := c.reliable.Read(r)
	if err != nil {
		return err
	}
	var move messages.Move
	hasMove := false
read:
	for {
		op, err := r.ReadUint8()
		if err != nil {
			return err
		}
		switch messages.ClientOp(op) {
		case messages.ClcEOF:
			break read
		case messages.ClcMove:
			if move, err = messages.ReadMove(r); err != nil {
				return err
			}
			hasMove = true
		default:
			return neterr.Malformed("client packet", "unknown opcode %d", op)
		}
	}

	prevAck := c.channel.Acked()
	c.channel.Accept(h, s.now)
	if ack := c.channel.Acked(); ack.After(prevAck) {
		c.acknowledge(ack, s.now)
	}
	if hasMove {
		if move.NoDelta && c.resync() {
			s.metrics.resyncs.WithLabelValues("client_request").Inc()
			s.logger.Debug("client requested full snapshot", "client", c.Num)
		}
		c.queueCommands(move.Cmds)
	}
	for _, cmd := range commands {
		if !s.clientCommand(c, cmd) {
			break
		}
	}
	return nil
}

// clientCommand executes one reliable command. It returns false once the
// client is gone.
func (s *Server) clientCommand(c *Client, cmd string) bool {
	name, arg, _ := strings.Cut(cmd, " ")
	switch name {
	case "disconnect":
		s.dropClient(c, "disconnected", "client_quit", false)
		return false
	case "say":
		if arg != "" {
			s.broadcast(fmt.Sprintf("chat %s: %s", c.Name, arg))
		}
	case "name":
		if arg != "" && arg != c.Name {
			s.broadcast(fmt.Sprintf("print %s renamed to %s", c.Name, arg))
			c.Name = arg
		}
	default:
		s.queueReliable(c, "print unknown command: "+name)
	}
	return true
}

func (s *Server) queueReliable(c *Client, cmd string) {
	if err := c.reliable.Queue(cmd); err != nil {
		// Dropped in checkTimeouts, outside whatever loop got us here.
		c.overflowed = true
	}
}

func (s *Server) broadcast(cmd string) {
	s.eachClient(func(c *Client) { s.queueReliable(c, cmd) })
}

func (s *Server) runCommands() {
	s.eachClient(func(c *Client) {
		for _, cmd := range c.pending {
			if cmd.Msec > maxCmdMsec {
				cmd.Msec = maxCmdMsec
			}
			c.player = s.level.Move.Simulate(c.player, cmd, cmd.Duration())
			if c.player.Event != netconfig.EventNone {
				s.raiseEvent(c.entity, c.player.Event)
			}
			c.firing = cmd.Buttons&netconfig.ButtonAttack != 0
			if c.firing {
				s.fireMissile(c)
			}
		}
		c.pending = c.pending[:0]
	})
}

func (s *Server) syncPlayers() {
	s.eachClient(func(c *Client) {
		ps := &c.player
		s.world.Mutate(c.entity, func(es *netstate.EntityState) {
			es.Origin = ps.Origin
			es.Velocity = ps.Velocity
			es.Angles = netstate.Vec3{0, ps.ViewAngles[1], 0}
			es.Weapon = ps.Weapon
			es.GroundEntity = ps.GroundEntity
			if ps.Health <= 0 {
				es.Flags |= netconfig.FlagDead
			} else {
				es.Flags &^= netconfig.FlagDead
			}
			if c.firing {
				es.Flags |= netconfig.FlagFiring
			} else {
				es.Flags &^= netconfig.FlagFiring
			}
		})
	})
}

func (s *Server) checkTimeouts() {
	type drop struct {
		c      *Client
		reason string
		label  string
	}
	var drops []drop
	s.eachClient(func(c *Client) {
		switch {
		case c.overflowed:
			drops = append(drops, drop{c, "reliable command overflow", "reliable_overflow"})
		case c.channel.TimedOut(s.now, s.cfg.Net.ConnectionTimeout) != nil:
			drops = append(drops, drop{c, "timed out", "timeout"})
		case c.ackTimedOut(s.now, s.cfg.Net.AckTimeout):
			c.resync()
			s.metrics.resyncs.WithLabelValues("ack_timeout").Inc()
			s.logger.Debug("ack timeout, resending full snapshots", "client", c.Num)
		}
	})
	for _, d := range drops {
		s.dropClient(d.c, d.reason, d.label, true)
	}
	for addr, ch := range s.challenges {
		if s.now.Sub(ch.issued) > s.cfg.Net.ChallengeTimeout {
			delete(s.challenges, addr)
		}
	}
}

func (s *Server) sendSnapshot(c *Client, ws *WorldSnapshot) {
	base, evicted := c.baselineSnapshot(s.ring)
	if evicted {
		s.metrics.resyncs.WithLabelValues("baseline_evicted").Inc()
		s.logger.Debug("baseline left the ring, resending full snapshots", "client", c.Num)
	}
	snap := &messages.Snapshot{
		SnapshotHeader: messages.SnapshotHeader{Seq: ws.Seq, ServerTime: ws.ServerTime},
		Player:         c.player.Quantize(),
		Entities:       ws.Entities,
	}

	s.out.Reset()
	c.reliable.Write(s.out)
	stats := messages.WriteSnapshot(s.out, base, snap)
	c.lastStats = stats
	s.out.WriteUint8(uint8(messages.SvcEOF))
	pkt, seq := c.channel.Transmit(s.out.Bytes())
	c.recordFrame(seq, ws.Seq, snap.Player, s.now)

	kind := "full"
	if base != nil {
		kind = "delta"
	}
	s.metrics.snapshotsSent.WithLabelValues(kind).Inc()
	s.metrics.snapshotBytes.Observe(float64(len(pkt)))
	s.metrics.entityRecords.WithLabelValues("new").Add(float64(stats.New))
	s.metrics.entityRecords.WithLabelValues("delta").Add(float64(stats.Changed))
	s.metrics.entityRecords.WithLabelValues("remove").Add(float64(stats.Removed))
	if len(pkt) > netconfig.MaxPacketSize {
		s.logger.Warn("snapshot exceeds packet size", "client", c.Num, "bytes", len(pkt), "kind", kind)
	}
	if err := s.transport.Send(c.Addr, pkt); err != nil {
		s.logger.Debug("send failed", "client", c.Num, "err", err)
	}
}

// prune drops snapshots no client can use as a baseline any more.
func (s *Server) prune() {
	latest, ok := s.ring.Latest()
	if !ok {
		return
	}
	oldest := latest.Seq
	s.eachClient(func(c *Client) {
		if seq, ok := c.oldestNeeded(); ok && netchan.Seq(oldest).After(netchan.Seq(seq)) {
			oldest = seq
		}
	})
	s.ring.PruneBefore(oldest)
}

func (s *Server) handleConnectionless(d transport.Datagram) {
	env, err := messages.DecodeConnectionless(d.Data)
	if err != nil {
		s.metrics.packetsDropped.WithLabelValues("malformed").Inc()
		s.logger.Debug("bad connectionless packet", "from", d.From, "err", err)
		return
	}
	switch env.Kind {
	case messages.KindGetChallenge:
		s.handleGetChallenge(d.From, env.GetChallenge)
	case messages.KindConnect:
		s.handleConnect(d.From, env.Connect)
	case messages.KindDisconnect:
		if h, ok := s.byAddr[d.From]; ok {
			s.dropClient(*s.clients.Get(h), "disconnected", "client_quit", false)
		}
	default:
		s.metrics.packetsDropped.WithLabelValues("unexpected").Inc()
	}
}

func (s *Server) handleGetChallenge(from string, req *messages.GetChallenge) {
	if req.Protocol != netconfig.ProtocolVersion {
		s.reject(from, fmt.Sprintf("incompatible version: protocol %d, server runs %d", req.Protocol, netconfig.ProtocolVersion))
		return
	}
	ch, ok := s.challenges[from]
	if !ok {
		ch = pendingChallenge{token: uuid.NewString(), issued: s.now}
		s.challenges[from] = ch
	}
	s.sendConnectionless(from, messages.Envelope{
		Kind:      messages.KindChallenge,
		Challenge: &messages.Challenge{Token: ch.token},
	})
}

func (s *Server) handleConnect(from string, req *messages.Connect) {
	if h, ok := s.byAddr[from]; ok {
		c := *s.clients.Get(h)
		if c.challenge == req.Challenge {
			// Our response was lost; the client is retrying.
			s.accept(c)
			return
		}
		s.dropClient(c, "reconnecting", "reconnect", false)
	}

	ch, ok := s.challenges[from]
	if !ok || ch.token != req.Challenge {
		s.reject(from, "bad challenge")
		return
	}
	switch {
	case req.Protocol != netconfig.ProtocolVersion:
		s.reject(from, fmt.Sprintf("incompatible version: protocol %d, server runs %d", req.Protocol, netconfig.ProtocolVersion))
		return
	case req.EntityFields != int(netstate.FieldCount) || req.PlayerFields != int(netstate.PlayerFieldCount):
		s.reject(from, fmt.Sprintf("incompatible version: field tables %d/%d, server has %d/%d",
			req.EntityFields, req.PlayerFields, int(netstate.FieldCount), int(netstate.PlayerFieldCount)))
		return
	}

	slot, ok := s.clients.Alloc(nil)
	if !ok {
		s.reject(from, "server is full")
		return
	}
	delete(s.challenges, from)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("player%d", slot.Index)
	}
	c := newClient(int(slot.Index), from, name, req.Challenge, s.now)
	c.slot = slot
	c.player = pmove.Spawn(s.level.NextSpawn(), slot.Index)

	p := s.level.Move.Params()
	h, entry, err := s.world.SpawnAt(c.Num, netstate.EntityState{
		Type:      netconfig.EntityPlayer,
		Origin:    c.player.Origin,
		Angles:    netstate.Vec3{0, c.player.ViewAngles[1], 0},
		ClientNum: uint8(c.Num),
		Model:     1,
		Solid:     netstate.PackSolid(p.HalfWidth, 0, p.Height),
	}, netcomponents.Player, netcomponents.Event)
	if err != nil {
		s.clients.Free(slot)
		s.reject(from, "no free entity")
		return
	}
	netcomponents.Player.Get(entry).ClientNum = c.Num
	c.entity = h

	*s.clients.Get(slot) = c
	s.byAddr[from] = slot
	s.metrics.clients.Set(float64(s.clients.Len()))
	s.logger.Info("client connected", "client", c.Num, "name", c.Name, "addr", from)
	s.broadcast(fmt.Sprintf("print %s connected", c.Name))
	s.accept(c)
}

func (s *Server) accept(c *Client) {
	s.sendConnectionless(c.Addr, messages.Envelope{
		Kind: messages.KindConnectResponse,
		ConnectResponse: &messages.ConnectResponse{
			Accepted:   true,
			ClientNum:  c.Num,
			EntityNum:  c.entity.Index,
			TickRate:   s.cfg.Net.TickRate,
			ServerName: s.cfg.Name,
			MapName:    s.level.Name(),
		},
	})
}

func (s *Server) reject(to, reason string) {
	s.logger.Info("connection refused", "addr", to, "reason", reason)
	s.sendConnectionless(to, messages.Envelope{
		Kind:            messages.KindConnectResponse,
		ConnectResponse: &messages.ConnectResponse{Reason: reason},
	})
}

func (s *Server) sendConnectionless(to string, env messages.Envelope) {
	pkt, err := messages.EncodeConnectionless(env)
	if err != nil {
		s.logger.Error("encode connectionless packet", "kind", env.Kind, "err", err)
		return
	}
	if err := s.transport.Send(to, pkt); err != nil {
		s.logger.Debug("send failed", "addr", to, "err", err)
	}
}

// dropClient disconnects c and frees its entity, baseline and command state.
// notify sends the reason to the client first.
func (s *Server) dropClient(c *Client, reason, label string, notify bool) {
	if s.clients.Get(c.slot) == nil {
		return
	}
	if notify {
		s.sendConnectionless(c.Addr, messages.Envelope{
			Kind:       messages.KindDisconnect,
			Disconnect: &messages.Disconnect{Reason: reason},
		})
	}
	if d, ok := s.transport.(transport.Disconnecter); ok {
		d.Disconnect(c.Addr, reason)
	}
	s.world.Despawn(c.entity)
	s.clients.Free(c.slot)
	delete(s.byAddr, c.Addr)

	s.metrics.disconnects.WithLabelValues(label).Inc()
	s.metrics.clients.Set(float64(s.clients.Len()))
	s.logger.Info("client disconnected", "client", c.Num, "name", c.Name, "reason", reason)
	s.broadcast(fmt.Sprintf("print %s disconnected (%s)", c.Name, reason))
}

// Shutdown notifies every client and releases their slots.
func (s *Server) Shutdown(reason string) {
	var all []*Client
	s.eachClient(func(c *Client) { all = append(all, c) })
	for _, c := range all {
		s.dropClient(c, reason, "shutdown", true)
	}
}
