package netchan

import (
	"errors"
	"fmt"

	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/neterr"
	"github.com/automoto/arenanet/shared/wire"
)

// ErrReliableOverflow means the peer stopped acknowledging reliable commands
// and the queue is full. The connection cannot recover from it.
var ErrReliableOverflow = errors.New("netchan: reliable command overflow")

// Reliable is a queue of string commands that must arrive exactly once and in
// order. Unacknowledged commands are written into every outgoing packet until
// the peer reports having executed them, so loss only delays them.
type Reliable struct {
	commands [netconfig.MaxReliableCommands]string
	sequence uint32 // last queued
	acked    uint32 // last executed by the peer
	executed uint32 // last received from the peer
}

// Queue appends cmd to the outgoing queue.
func (q *Reliable) Queue(cmd string) error {
	if q.sequence-q.acked >= netconfig.MaxReliableCommands {
		return ErrReliableOverflow
	}
	q.sequence++
	q.commands[q.sequence%netconfig.MaxReliableCommands] = cmd
	return nil
}

// Pending returns the number of commands the peer has not acknowledged.
func (q *Reliable) Pending() int { return int(q.sequence - q.acked) }

// Executed returns the sequence of the last command received from the peer.
func (q *Reliable) Executed() uint32 { return q.executed }

// Write emits our acknowledgment of the peer's commands followed by every
// command the peer has not acknowledged yet.
func (q *Reliable) Write(w *wire.Writer) {
	w.WriteUint32(q.executed)
	n := q.sequence - q.acked
	w.WriteUint8(uint8(n))
	for s := q.acked + 1; s != q.sequence+1; s++ {
		w.WriteUint32(s)
		w.WriteString(q.commands[s%netconfig.MaxReliableCommands], netconfig.MaxStringLen)
	}
}

// Read consumes a block written by the peer's Write and returns the commands
// that have not been seen before, in order.
func (q *Reliable) Read(r *wire.Reader) ([]string, error) {
	ack, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if int32(ack-q.acked) > 0 {
		if int32(ack-q.sequence) > 0 {
			return nil, neterr.Malformed("reliable", "ack %d beyond queued %d", ack, q.sequence)
		}
		q.acked = ack
	}
	n, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	if int(n) > netconfig.MaxReliableCommands {
		return nil, neterr.Malformed("reliable", "%d commands in one packet", n)
	}
	var out []string
	for i := 0; i < int(n); i++ {
		seq, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		cmd, err := r.ReadString(netconfig.MaxStringLen)
		if err != nil {
			return nil, err
		}
		if int32(seq-q.executed) <= 0 {
			continue
		}
		if seq != q.executed+1 {
			return nil, fmt.Errorf("%w: lost reliable commands %d..%d", ErrReliableOverflow, q.executed+1, seq-1)
		}
		q.executed = seq
		out = append(out, cmd)
	}
	return out, nil
}
