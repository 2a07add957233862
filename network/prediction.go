package network

import (
	"github.com/automoto/arenanet/shared/messages"
	"github.com/automoto/arenanet/shared/netchan"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/shared/pmove"
)

const commandBufferSize = netconfig.CommandBackup

// CommandRecord stores a command alongside the player state predicted after
// running it.
type CommandRecord struct {
	Cmd       messages.UserCmd
	Predicted netstate.PlayerState
	valid     bool
}

// CommandBuffer is a ring of the most recent user commands, indexed by
// sequence, used to replay unacknowledged input on top of server state.
type CommandBuffer struct {
	history [commandBufferSize]CommandRecord
	nextSeq uint32
	acked   uint32
}

// Store saves a command and the state predicted from it.
func (cb *CommandBuffer) Store(cmd messages.UserCmd, predicted netstate.PlayerState) {
	cb.history[cmd.Seq%commandBufferSize] = CommandRecord{Cmd: cmd, Predicted: predicted, valid: true}
	cb.nextSeq = cmd.Seq + 1
}

// Get returns the record for seq. It reports false if the slot has been
// overwritten or seq was already discarded.
func (cb *CommandBuffer) Get(seq uint32) (CommandRecord, bool) {
	rec := cb.history[seq%commandBufferSize]
	if !rec.valid || rec.Cmd.Seq != seq {
		return CommandRecord{}, false
	}
	return rec, true
}

// NextSeq returns the sequence the next stored command should carry.
func (cb *CommandBuffer) NextSeq() uint32 { return cb.nextSeq }

// Acked returns the newest sequence passed to Discard.
func (cb *CommandBuffer) Acked() uint32 { return cb.acked }

// Discard drops every command up to and including seq.
func (cb *CommandBuffer) Discard(seq uint32) {
	if !netchan.Seq(seq).After(netchan.Seq(cb.acked)) {
		return
	}
	for s := cb.oldest(cb.acked); netchan.Seq(seq + 1).After(netchan.Seq(s)); s++ {
		if rec := &cb.history[s%commandBufferSize]; rec.valid && rec.Cmd.Seq == s {
			rec.valid = false
		}
	}
	cb.acked = seq
}

// oldest returns the first sequence after from that can still be in the ring.
func (cb *CommandBuffer) oldest(from uint32) uint32 {
	start := from + 1
	if floor := cb.nextSeq - commandBufferSize; netchan.Seq(floor).After(netchan.Seq(start)) {
		start = floor
	}
	return start
}

// Unacknowledged returns the stored commands newer than lastAcked, oldest
// first.
func (cb *CommandBuffer) Unacknowledged(lastAcked uint32) []CommandRecord {
	var out []CommandRecord
	for s := cb.oldest(lastAcked); netchan.Seq(cb.nextSeq).After(netchan.Seq(s)); s++ {
		if rec, ok := cb.Get(s); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Latest returns up to n of the newest commands, oldest first.
func (cb *CommandBuffer) Latest(n int) []messages.UserCmd {
	out := make([]messages.UserCmd, 0, n)
	for s := cb.nextSeq - uint32(n); s != cb.nextSeq; s++ {
		rec := cb.history[s%commandBufferSize]
		if rec.valid && rec.Cmd.Seq == s {
			out = append(out, rec.Cmd)
		}
	}
	return out
}

// PredictionError returns the distance between the origin predicted for seq
// and the server's, or 0 if seq is no longer buffered.
func (cb *CommandBuffer) PredictionError(seq uint32, server netstate.Vec3) float32 {
	rec, ok := cb.Get(seq)
	if !ok {
		return 0
	}
	return rec.Predicted.Origin.Distance(server)
}

// Reconciliation describes what one authoritative player state did to the
// prediction.
type Reconciliation struct {
	Ack      uint32  // command the server state includes
	Error    float32 // distance between predicted and server origin at Ack
	Snapped  bool    // Error exceeded epsilon
	Replayed int     // commands re-simulated on top of the server state
}

// Predictor runs the local player ahead of the server and corrects it when
// authoritative state arrives.
type Predictor struct {
	move    *pmove.World
	cmds    CommandBuffer
	epsilon float32
	current netstate.PlayerState
	last    Reconciliation

	// Sub-epsilon corrections are smoothed out over errorDecay ms instead of
	// jumping the view.
	errorDecay int32
	smoothing  netstate.Vec3
	smoothAt   int32
}

// NewPredictor creates a predictor starting from ps. The first command it
// expects is the one after ps.CommandSeq.
func NewPredictor(move *pmove.World, epsilon float32, ps netstate.PlayerState) *Predictor {
	p := &Predictor{move: move, epsilon: epsilon, current: ps, errorDecay: 100}
	p.cmds.nextSeq = ps.CommandSeq + 1
	p.cmds.acked = ps.CommandSeq
	return p
}

// Commands returns the command buffer.
func (p *Predictor) Commands() *CommandBuffer { return &p.cmds }

// State returns the predicted state after the newest command.
func (p *Predictor) State() netstate.PlayerState { return p.current }

// Last returns the result of the latest Reconcile.
func (p *Predictor) Last() Reconciliation { return p.last }

// Predict runs cmd on top of the current prediction and buffers it.
func (p *Predictor) Predict(cmd messages.UserCmd) netstate.PlayerState {
	p.current = p.move.Simulate(p.current, cmd, cmd.Duration())
	p.cmds.Store(cmd, p.current)
	return p.current
}

// Reconcile resets the prediction to auth and replays every buffered command
// the server has not executed yet. now is in client milliseconds and only
// affects View smoothing.
func (p *Predictor) Reconcile(auth netstate.PlayerState, now int32) Reconciliation {
	before := p.current.Origin
	rec := Reconciliation{Ack: auth.CommandSeq}
	rec.Error = p.cmds.PredictionError(auth.CommandSeq, auth.Origin)
	rec.Snapped = rec.Error > p.epsilon
	p.cmds.Discard(auth.CommandSeq)

	state := auth
	for _, r := range p.cmds.Unacknowledged(auth.CommandSeq) {
		state = p.move.Simulate(state, r.Cmd, r.Cmd.Duration())
		p.cmds.Store(r.Cmd, state)
		rec.Replayed++
	}
	// Replay re-stores the newest command, which restores nextSeq.
	p.current = state

	if rec.Snapped {
		p.smoothing = netstate.Vec3{}
	} else {
		p.smoothing = p.smoothOffset(now).Add(before.Sub(state.Origin))
		p.smoothAt = now
	}
	p.last = rec
	return rec
}

func (p *Predictor) smoothOffset(now int32) netstate.Vec3 {
	elapsed := now - p.smoothAt
	if elapsed >= p.errorDecay || elapsed < 0 {
		return netstate.Vec3{}
	}
	return p.smoothing.Scale(1 - float32(elapsed)/float32(p.errorDecay))
}

// View returns the predicted state to draw at client time now, with any
// small correction still being decayed.
func (p *Predictor) View(now int32) netstate.PlayerState {
	ps := p.current
	ps.Origin = ps.Origin.Add(p.smoothOffset(now))
	return ps
}
