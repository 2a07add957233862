// Package network is the client side of the protocol: the connection
// handshake, snapshot reconstruction, interpolation for rendering, and
// prediction of the local player.
//
// A Client is driven by calling Frame once per client frame from a single
// goroutine. BuildScene and the other frame-side queries must be called from
// that same goroutine; State, LastError and Info may be called from anywhere.
package network

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/automoto/arenanet/demo"
	"github.com/automoto/arenanet/shared/leveldata"
	"github.com/automoto/arenanet/shared/messages"
	"github.com/automoto/arenanet/shared/netchan"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/neterr"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/shared/pmove"
	"github.com/automoto/arenanet/shared/wire"
	"github.com/automoto/arenanet/transport"
)

type ClientState int

const (
	StateDisconnected ClientState = iota
	StateChallenging
	StateConnecting
	StateActive
	StateError
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateChallenging:
		return "challenging"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	handshakeRetry    = time.Second
	handshakeAttempts = 5
	maxCmdMsec        = 200
	disconnectRepeats = 3
)

var (
	// ErrRejected wraps the reason a server refused a connection.
	ErrRejected = errors.New("connection refused")
	// ErrServerDisconnect wraps the reason a server ended a connection.
	ErrServerDisconnect = errors.New("disconnected by server")
	// ErrNotActive is returned by operations that need an active connection.
	ErrNotActive = errors.New("not connected")
)

// Settings are the client's protocol tunables.
type Settings struct {
	InterpDelay   time.Duration
	InterpFrames  int
	Timeout       time.Duration
	Epsilon       float32 // prediction error that snaps instead of smoothing
	RedundantCmds int     // commands repeated in every move packet
}

// DefaultSettings returns the built-in tunables.
func DefaultSettings() Settings {
	return Settings{
		InterpDelay:   100 * time.Millisecond,
		InterpFrames:  netconfig.PacketBackup,
		Timeout:       30 * time.Second,
		Epsilon:       0.25,
		RedundantCmds: 3,
	}
}

// Options configure a Client.
type Options struct {
	Transport transport.Transport
	Server    string // address of the server on Transport
	Name      string
	// Maps holds collision data by map name for prediction. A map the
	// server names that is missing here ends the connection.
	Maps     map[string]*leveldata.CollisionData
	Params   pmove.Params // zero means pmove.DefaultParams
	Settings Settings     // zero means DefaultSettings
	Logger   *slog.Logger
}

// Input is what the player is doing during one client frame.
type Input struct {
	Angles  netstate.Vec3
	Forward int8
	Right   int8
	Up      int8
	Buttons uint8
	Weapon  uint8
}

// Client is one connection to a server.
type Client struct {
	mu        sync.RWMutex
	state     ClientState
	lastError error
	info      messages.ConnectResponse

	transport transport.Transport
	server    string
	name      string
	maps      map[string]*leveldata.CollisionData
	params    pmove.Params
	settings  Settings
	logger    *slog.Logger

	start       time.Time
	token       string
	attempts    int
	lastAttempt time.Time

	channel   *netchan.Channel
	reliable  netchan.Reliable
	snaps     *reconstruction
	predictor *Predictor
	noDelta   bool
	timeDelta int32
	hasDelta  bool
	lastCmdAt time.Time

	commandCh chan string

	recorder    *demo.Recorder
	demoWaiting bool // recording starts at the next full snapshot

	inbox []transport.Datagram
	out   *wire.Writer
}

// NewClient creates a disconnected client.
func NewClient(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("network: no transport")
	}
	if opts.Server == "" {
		return nil, fmt.Errorf("network: no server address")
	}
	if opts.Params == (pmove.Params{}) {
		opts.Params = pmove.DefaultParams()
	}
	if opts.Settings == (Settings{}) {
		opts.Settings = DefaultSettings()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "player"
	}
	return &Client{
		state:     StateDisconnected,
		transport: opts.Transport,
		server:    opts.Server,
		name:      name,
		maps:      opts.Maps,
		params:    opts.Params,
		settings:  opts.Settings,
		logger:    logger.With("component", "client", "server", opts.Server),
		snaps:     newReconstruction(NewInterpolator(opts.Settings.InterpFrames, opts.Settings.InterpDelay)),
		commandCh: make(chan string, netconfig.MaxReliableCommands),
		out:       wire.NewWriter(netconfig.MaxPacketSize),
	}, nil
}

// Connect starts the handshake. Progress happens in Frame.
func (c *Client) Connect(now time.Time) {
	c.mu.Lock()
	c.state = StateChallenging
	c.lastError = nil
	c.info = messages.ConnectResponse{}
	c.mu.Unlock()

	c.start = now
	c.token = ""
	c.attempts = 0
	c.hasDelta = false
	c.logger.Info("connecting")
	c.sendGetChallenge(now)
}

// Frame polls the network, advances the handshake or, once active, turns the
// input into a user command, predicts it and sends it.
func (c *Client) Frame(now time.Time, in Input) {
	switch c.State() {
	case StateDisconnected, StateError:
		return
	}
	c.readPackets(now)

	switch c.State() {
	case StateChallenging, StateConnecting:
		c.retryHandshake(now)
	case StateActive:
		if err := c.channel.TimedOut(now, c.settings.Timeout); err != nil {
			c.fail(err)
			return
		}
		c.sendMove(now, in)
	}
}

func (c *Client) readPackets(now time.Time) {
	c.inbox = c.transport.Poll(c.inbox[:0])
	for _, d := range c.inbox {
		if d.From != c.server {
			continue
		}
		if messages.IsConnectionless(d.Data) {
			c.handleConnectionless(d.Data, now)
			continue
		}
		if c.State() != StateActive {
			continue
		}
		if err := c.handlePacket(d.Data, now); err != nil {
			if errors.Is(err, netchan.ErrStale) {
				c.logger.Debug("stale packet dropped")
				continue
			}
			c.fail(err)
			return
		}
	}
}

func (c *Client) handlePacket(data []byte, now time.Time) error {
	h, payload, err := c.channel.Process(data)
	if err != nil {
		return err
	}
	r := wire.NewReader(payload)
	commands, err := c.reliable.Read(r)
	if err != nil {
		return err
	}
	blocks := r.Rest()
	snap, missing, err := c.snaps.readBlocks(r)
	if err != nil {
		return err
	}
	// A packet whose snapshot baseline is gone is still acked. The server
	// would delta from it next, so the missing branch below sets noDelta and
	// the next move asks for a full snapshot instead.
	c.channel.Accept(h, now)

	for _, cmd := range commands {
		c.serverCommand(cmd)
	}
	if missing {
		c.noDelta = true
		c.logger.Debug("snapshot baseline no longer buffered, requesting a full snapshot")
		return nil
	}
	if snap == nil || !c.snaps.commit(snap) {
		return nil
	}
	c.noDelta = false
	c.adjustTime(snap.ServerTime, now)
	c.predictor.Reconcile(snap.Player, c.clientMs(now))
	c.record(uint32(h.Sequence), snap, commands, blocks)
	return nil
}

func (c *Client) serverCommand(cmd string) {
	c.logger.Debug("server command", "cmd", cmd)
	select {
	case c.commandCh <- cmd:
	default:
	}
}

// adjustTime keeps the estimate of server time in step with incoming
// snapshots: large jumps reset it, moderate ones are averaged and small
// drift is followed one millisecond at a time.
func (c *Client) adjustTime(serverTime int32, now time.Time) {
	delta := serverTime - c.clientMs(now)
	if !c.hasDelta {
		c.timeDelta, c.hasDelta = delta, true
		return
	}
	diff := delta - c.timeDelta
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff > 500:
		c.timeDelta = delta
	case diff > 100:
		c.timeDelta = (c.timeDelta + delta) / 2
	case delta > c.timeDelta:
		c.timeDelta++
	case delta < c.timeDelta:
		c.timeDelta--
	}
}

func (c *Client) clientMs(now time.Time) int32 {
	return int32(now.Sub(c.start).Milliseconds())
}

// ServerTime estimates the server's clock at now, in milliseconds.
func (c *Client) ServerTime(now time.Time) int32 {
	return c.clientMs(now) + c.timeDelta
}

func (c *Client) handleConnectionless(data []byte, now time.Time) {
	env, err := messages.DecodeConnectionless(data)
	if err != nil {
		c.logger.Debug("bad connectionless packet", "err", err)
		return
	}
	switch env.Kind {
	case messages.KindChallenge:
		if c.State() != StateChallenging {
			return
		}
		c.token = env.Challenge.Token
		c.attempts = 0
		c.setState(StateConnecting)
		c.sendConnect(now)
	case messages.KindConnectResponse:
		if c.State() != StateConnecting {
			return
		}
		resp := env.ConnectResponse
		if !resp.Accepted {
			c.setError(fmt.Errorf("%w: %s", ErrRejected, resp.Reason))
			c.logger.Warn("connection refused", "reason", resp.Reason)
			return
		}
		c.activate(*resp, now)
	case messages.KindDisconnect:
		switch c.State() {
		case StateActive, StateConnecting:
			c.logger.Info("disconnected by server", "reason", env.Disconnect.Reason)
			c.stopRecording()
			c.mu.Lock()
			c.state = StateDisconnected
			c.lastError = fmt.Errorf("%w: %s", ErrServerDisconnect, env.Disconnect.Reason)
			c.mu.Unlock()
		}
	}
}

func (c *Client) activate(resp messages.ConnectResponse, now time.Time) {
	var level *leveldata.CollisionData
	if resp.MapName != "" {
		var ok bool
		if level, ok = c.maps[resp.MapName]; !ok {
			c.fail(fmt.Errorf("server map %q is not installed", resp.MapName))
			return
		}
	}
	c.channel = netchan.NewChannel(now)
	c.reliable = netchan.Reliable{}
	c.snaps.reset()
	c.predictor = NewPredictor(pmove.NewWorld(level, c.params), c.settings.Epsilon,
		netstate.PlayerState{EntityNum: resp.EntityNum})
	c.noDelta = false
	c.lastCmdAt = now

	c.mu.Lock()
	c.state = StateActive
	c.info = resp
	c.mu.Unlock()
	c.logger.Info("connected", "client", resp.ClientNum, "entity", resp.EntityNum,
		"map", resp.MapName, "server_name", resp.ServerName, "tick_rate", resp.TickRate)
}

func (c *Client) retryHandshake(now time.Time) {
	if now.Sub(c.lastAttempt) < handshakeRetry {
		return
	}
	if c.attempts >= handshakeAttempts {
		c.fail(&neterr.TimeoutError{Kind: "handshake", After: now.Sub(c.start)})
		return
	}
	if c.State() == StateChallenging {
		c.sendGetChallenge(now)
	} else {
		c.sendConnect(now)
	}
}

func (c *Client) sendGetChallenge(now time.Time) {
	c.attempts++
	c.lastAttempt = now
	c.sendConnectionless(messages.Envelope{
		Kind:         messages.KindGetChallenge,
		GetChallenge: &messages.GetChallenge{Protocol: netconfig.ProtocolVersion},
	})
}

func (c *Client) sendConnect(now time.Time) {
	c.attempts++
	c.lastAttempt = now
	c.sendConnectionless(messages.Envelope{
		Kind: messages.KindConnect,
		Connect: &messages.Connect{
			Challenge:    c.token,
			Protocol:     netconfig.ProtocolVersion,
			EntityFields: int(netstate.FieldCount),
			PlayerFields: int(netstate.PlayerFieldCount),
			Name:         c.name,
		},
	})
}

func (c *Client) sendConnectionless(env messages.Envelope) {
	pkt, err := messages.EncodeConnectionless(env)
	if err != nil {
		c.logger.Error("encode failed", "kind", env.Kind, "err", err)
		return
	}
	if err := c.transport.Send(c.server, pkt); err != nil {
		c.logger.Debug("send failed", "kind", env.Kind, "err", err)
	}
}

// sendMove builds this frame's command, predicts it and sends it along with
// the few commands before it.
func (c *Client) sendMove(now time.Time, in Input) {
	msec := now.Sub(c.lastCmdAt).Milliseconds()
	if msec < 1 {
		return
	}
	if msec > maxCmdMsec {
		msec = maxCmdMsec
	}
	c.lastCmdAt = now

	cmds := c.predictor.Commands()
	cmd := messages.UserCmd{
		Seq:        cmds.NextSeq(),
		ServerTime: c.ServerTime(now),
		Msec:       uint8(msec),
		Forward:    in.Forward,
		Right:      in.Right,
		Up:         in.Up,
		Buttons:    in.Buttons,
		Weapon:     in.Weapon,
	}
	// The server only sees wire precision, so predict with the same angles.
	for i := range in.Angles {
		cmd.Angles[i] = wire.QuantizeAngle16(in.Angles[i])
	}
	c.predictor.Predict(cmd)

	c.out.Reset()
	c.reliable.Write(c.out)
	messages.WriteMove(c.out, messages.Move{
		NoDelta: c.noDelta || c.demoWaiting,
		Cmds:    cmds.Latest(c.settings.RedundantCmds),
	})
	c.out.WriteUint8(uint8(messages.ClcEOF))
	c.transmit()
}

func (c *Client) transmit() {
	pkt, _ := c.channel.Transmit(c.out.Bytes())
	if err := c.transport.Send(c.server, pkt); err != nil {
		c.logger.Debug("send failed", "err", err)
	}
}

// SendCommand queues a reliable command such as "say hello" for the server.
func (c *Client) SendCommand(cmd string) error {
	if c.State() != StateActive {
		return ErrNotActive
	}
	if err := c.reliable.Queue(cmd); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// Disconnect ends the connection. An active connection tells the server, in
// a few copies since the packets are not retransmitted.
func (c *Client) Disconnect() {
	if c.State() == StateActive {
		_ = c.reliable.Queue("disconnect")
		for i := 0; i < disconnectRepeats; i++ {
			c.out.Reset()
			c.reliable.Write(c.out)
			c.out.WriteUint8(uint8(messages.ClcEOF))
			c.transmit()
		}
		c.logger.Info("disconnected")
	}
	c.stopRecording()
	c.setState(StateDisconnected)
}

// fail ends the connection because of err and tells the server why.
func (c *Client) fail(err error) {
	switch c.State() {
	case StateActive, StateConnecting:
		c.sendConnectionless(messages.Envelope{
			Kind:       messages.KindDisconnect,
			Disconnect: &messages.Disconnect{Reason: neterr.DisconnectReason(err)},
		})
	}
	c.logger.Warn("connection failed", "err", err, "reason", neterr.DisconnectReason(err))
	c.stopRecording()
	c.setError(err)
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) setError(err error) {
	c.mu.Lock()
	c.state = StateError
	c.lastError = err
	c.mu.Unlock()
}

func (c *Client) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Info returns what the server said when it accepted the connection.
func (c *Client) Info() messages.ConnectResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Predicted returns the locally predicted player state, or false before the
// connection is active.
func (c *Client) Predicted() (netstate.PlayerState, bool) {
	if c.predictor == nil {
		return netstate.PlayerState{}, false
	}
	return c.predictor.State(), true
}

// LastReconciliation returns what the newest snapshot did to the prediction.
func (c *Client) LastReconciliation() Reconciliation {
	if c.predictor == nil {
		return Reconciliation{}
	}
	return c.predictor.Last()
}

// Latest returns the newest reconstructed snapshot, or nil.
func (c *Client) Latest() *messages.Snapshot { return c.snaps.latest }

// View returns the entity world of the newest snapshot.
func (c *Client) View() *View { return c.snaps.view }

// InvalidSnapshots returns how many snapshots could not be reconstructed
// because their baseline was gone.
func (c *Client) InvalidSnapshots() int { return c.snaps.invalid }

// Dropped returns how many server packets never arrived.
func (c *Client) Dropped() int {
	if c.channel == nil {
		return 0
	}
	return c.channel.Dropped()
}

// EntityAt returns entity number as it should be drawn at now.
func (c *Client) EntityAt(number uint16, now time.Time) (netstate.EntityState, bool) {
	return c.snaps.interp.EntityAt(number, c.ServerTime(now))
}

// BuildScene hands r the predicted view and every other entity interpolated
// for now. It does not change client state.
func (c *Client) BuildScene(now time.Time, r Renderer) {
	if c.predictor == nil {
		return
	}
	ps := c.predictor.View(c.clientMs(now))
	r.SetView(ps)
	c.snaps.scene(c.ServerTime(now), ps.EntityNum, r)
}

// DrainCommands returns the reliable commands received since the last call.
func (c *Client) DrainCommands() []string {
	return drainChan(c.commandCh)
}

// DrainEvents returns the entity events seen since the last call.
func (c *Client) DrainEvents() []EntityEvent {
	return drainChan(c.snaps.events)
}

// StartRecording writes every snapshot from the next full one onwards to w
// as a demo. StopRecording or the end of the connection finishes the demo;
// w is not closed.
func (c *Client) StartRecording(w io.Writer) error {
	if c.State() != StateActive {
		return ErrNotActive
	}
	if c.recorder != nil {
		return fmt.Errorf("already recording")
	}
	info := c.Info()
	rec, err := demo.NewRecorder(w, demo.Header{
		Protocol:  netconfig.ProtocolVersion,
		EntityNum: info.EntityNum,
		Map:       info.MapName,
	})
	if err != nil {
		return err
	}
	c.recorder = rec
	c.demoWaiting = true
	c.logger.Info("recording demo")
	return nil
}

// StopRecording finishes the current demo.
func (c *Client) StopRecording() error {
	if c.recorder == nil {
		return nil
	}
	rec := c.recorder
	c.recorder = nil
	c.demoWaiting = false
	c.logger.Info("demo finished", "records", rec.Records())
	return rec.Close()
}

func (c *Client) stopRecording() {
	if err := c.StopRecording(); err != nil {
		c.logger.Warn("closing demo", "err", err)
	}
}

func (c *Client) record(seq uint32, snap *messages.Snapshot, commands []string, blocks []byte) {
	if c.recorder == nil {
		return
	}
	if c.demoWaiting {
		if snap.Delta {
			return
		}
		c.demoWaiting = false
	}
	if err := c.recorder.Write(seq, encodeDemoMessage(commands, blocks)); err != nil {
		c.logger.Warn("demo write failed, recording stopped", "err", err)
		c.stopRecording()
	}
}

func drainChan[T any](ch chan T) []T {
	var out []T
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}
