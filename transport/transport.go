// Package transport defines the datagram interface the client and server
// simulation loops poll once per frame. Implementations run their own reader
// goroutines; those goroutines only push into an Inbox, so the simulation
// never blocks on the network and never shares state with the readers beyond
// the inbox channel.
package transport

import (
	"errors"
	"sync/atomic"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: closed")

// ErrUnknownPeer is returned by Send for an address the transport has no
// connection to.
var ErrUnknownPeer = errors.New("transport: unknown peer")

// Datagram is one received packet and the address it came from.
type Datagram struct {
	From string
	Data []byte
}

// Transport is an unreliable, unordered datagram socket.
type Transport interface {
	// Poll appends every datagram received since the last call to dst and
	// returns the extended slice. It never blocks.
	Poll(dst []Datagram) []Datagram
	// Send queues b for delivery to the peer at to. Delivery is not
	// guaranteed.
	Send(to string, b []byte) error
	// LocalAddr returns the address peers send to.
	LocalAddr() string
	Close() error
}

// DefaultInboxSize bounds the datagrams buffered between two polls.
const DefaultInboxSize = 1024

// Inbox is the bounded hand-off between reader goroutines and the simulation
// loop. When the simulation falls behind, new datagrams are dropped rather
// than blocking the reader.
type Inbox struct {
	ch      chan Datagram
	dropped atomic.Uint64
}

// NewInbox creates an inbox holding up to size datagrams.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{ch: make(chan Datagram, size)}
}

// Push offers d without blocking. It reports false if the inbox was full.
func (in *Inbox) Push(d Datagram) bool {
	select {
	case in.ch <- d:
		return true
	default:
		in.dropped.Add(1)
		return false
	}
}

// Drain appends everything currently buffered to dst.
func (in *Inbox) Drain(dst []Datagram) []Datagram {
	for {
		select {
		case d := <-in.ch:
			dst = append(dst, d)
		default:
			return dst
		}
	}
}

// Dropped returns how many datagrams were discarded because the inbox was
// full.
func (in *Inbox) Dropped() uint64 { return in.dropped.Load() }

// Disconnecter is implemented by transports that hold per-peer state which
// should be released when the protocol drops a client.
type Disconnecter interface {
	Disconnect(peer, reason string)
}
