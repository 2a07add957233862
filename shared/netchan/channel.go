// Package netchan sequences datagrams between two peers. Every packet carries
// its own sequence number and the highest sequence the sender has accepted
// from the other side. Stale and duplicate packets are dropped before their
// payload is looked at; lost packets are never retransmitted.
package netchan

import (
	"errors"
	"time"

	"github.com/automoto/arenanet/shared/neterr"
	"github.com/automoto/arenanet/shared/wire"
)

// HeaderSize is the length of the sequence/ack header in front of every
// sequenced payload.
const HeaderSize = 8

// reservedSeq is never sent: a datagram starting with it reads as a
// connectionless packet.
const reservedSeq Seq = 0xFFFFFFFF

// ErrStale is returned by Process for a packet whose sequence is not newer
// than the last one accepted.
var ErrStale = errors.New("netchan: stale or duplicate packet")

// Seq is a 32-bit sequence number. Comparisons are modular so the counter may
// wrap; never compare two Seq values with < directly.
type Seq uint32

// After reports whether s is newer than o.
func (s Seq) After(o Seq) bool { return int32(s-o) > 0 }

// Since returns how many steps s is ahead of o (negative if behind).
func (s Seq) Since(o Seq) int32 { return int32(s - o) }

// Header precedes every sequenced payload.
type Header struct {
	Sequence Seq
	Ack      Seq
}

// Channel holds the sequencing state of one peer connection. It is owned by
// the simulation goroutine and is not safe for concurrent use.
type Channel struct {
	outgoing Seq // last sequence sent
	incoming Seq // last sequence accepted
	acked    Seq // highest of our sequences the peer has accepted

	dropped      int
	lastReceived time.Time
}

// NewChannel creates a channel. Both sides start at sequence zero, so the
// first packet carries sequence one.
func NewChannel(now time.Time) *Channel {
	return &Channel{lastReceived: now}
}

// Transmit prepends a header to payload and returns the datagram along with
// the sequence it was stamped with.
func (c *Channel) Transmit(payload []byte) ([]byte, Seq) {
	c.outgoing++
	if c.outgoing == reservedSeq {
		c.outgoing++
	}
	w := wire.NewWriter(HeaderSize + len(payload))
	w.WriteUint32(uint32(c.outgoing))
	w.WriteUint32(uint32(c.incoming))
	w.WriteBytes(payload)
	return w.Bytes(), c.outgoing
}

// Process parses the header of an incoming datagram. It returns ErrStale for
// a sequence that is not newer than the last accepted one, and a
// *neterr.ProtocolError for a datagram too short to hold a header. Process does
// not change channel state: call Accept once the payload decoded successfully.
func (c *Channel) Process(datagram []byte) (Header, []byte, error) {
	r := wire.NewReader(datagram)
	seq, err := r.ReadUint32()
	if err != nil {
		return Header{}, nil, err
	}
	ack, err := r.ReadUint32()
	if err != nil {
		return Header{}, nil, err
	}
	h := Header{Sequence: Seq(seq), Ack: Seq(ack)}
	if !h.Sequence.After(c.incoming) {
		return h, nil, ErrStale
	}
	return h, r.Rest(), nil
}

// Accept records h as the newest packet from the peer. A sequence gap counts
// towards Dropped.
func (c *Channel) Accept(h Header, now time.Time) {
	if !h.Sequence.After(c.incoming) {
		return
	}
	gap := h.Sequence.Since(c.incoming) - 1
	if reservedSeq.After(c.incoming) && h.Sequence.After(reservedSeq) {
		gap--
	}
	if gap > 0 {
		c.dropped += int(gap)
	}
	c.incoming = h.Sequence
	if h.Ack.After(c.acked) && !h.Ack.After(c.outgoing) {
		c.acked = h.Ack
	}
	c.lastReceived = now
}

// Outgoing returns the last sequence sent.
func (c *Channel) Outgoing() Seq { return c.outgoing }

// Incoming returns the last sequence accepted from the peer; it is the ack
// carried in every outgoing header.
func (c *Channel) Incoming() Seq { return c.incoming }

// Acked returns the highest of our sequences the peer has reported accepting.
func (c *Channel) Acked() Seq { return c.acked }

// Dropped returns the number of peer packets that never arrived or arrived too
// late to be used.
func (c *Channel) Dropped() int { return c.dropped }

// LastReceived returns the time of the last accepted packet.
func (c *Channel) LastReceived() time.Time { return c.lastReceived }

// TimedOut returns a *neterr.TimeoutError when nothing was accepted for
// longer than limit.
func (c *Channel) TimedOut(now time.Time, limit time.Duration) error {
	if since := now.Sub(c.lastReceived); since > limit {
		return &neterr.TimeoutError{Kind: "connection", After: since}
	}
	return nil
}
