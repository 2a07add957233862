// Package loopback is an in-memory transport for tests and single-process
// play. A Network connects any number of endpoints by name and can drop,
// duplicate or reorder datagrams to exercise the protocol's loss handling.
package loopback

import (
	"math/rand"
	"sync"

	"github.com/automoto/arenanet/transport"
)

// Conditions shape delivery on a Network. Rates are in [0, 1].
type Conditions struct {
	DropRate      float64
	DuplicateRate float64
	// ReorderRate is the chance a datagram is held back and delivered after
	// the next one sent to the same endpoint.
	ReorderRate float64
}

// Network routes datagrams between endpoints.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	cond      Conditions
	rng       *rand.Rand
	held      map[string]transport.Datagram
}

// NewNetwork creates a lossless network. seed makes impaired delivery
// reproducible.
func NewNetwork(seed int64) *Network {
	return &Network{
		endpoints: make(map[string]*Endpoint),
		rng:       rand.New(rand.NewSource(seed)),
		held:      make(map[string]transport.Datagram),
	}
}

// SetConditions changes delivery impairments for subsequent sends.
func (n *Network) SetConditions(c Conditions) {
	n.mu.Lock()
	n.cond = c
	n.mu.Unlock()
}

// Endpoint registers a new endpoint reachable at addr.
func (n *Network) Endpoint(addr string) *Endpoint {
	e := &Endpoint{net: n, addr: addr, inbox: transport.NewInbox(transport.DefaultInboxSize)}
	n.mu.Lock()
	n.endpoints[addr] = e
	n.mu.Unlock()
	return e
}

func (n *Network) deliver(from, to string, b []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	dst, ok := n.endpoints[to]
	if !ok {
		// Unroutable datagrams vanish, as on a real network.
		return nil
	}
	if n.cond.DropRate > 0 && n.rng.Float64() < n.cond.DropRate {
		return nil
	}
	d := transport.Datagram{From: from, Data: append([]byte(nil), b...)}
	if n.cond.ReorderRate > 0 && n.rng.Float64() < n.cond.ReorderRate {
		if _, busy := n.held[to]; !busy {
			n.held[to] = d
			return nil
		}
	}
	dst.inbox.Push(d)
	if n.cond.DuplicateRate > 0 && n.rng.Float64() < n.cond.DuplicateRate {
		dst.inbox.Push(d)
	}
	if late, ok := n.held[to]; ok {
		delete(n.held, to)
		dst.inbox.Push(late)
	}
	return nil
}

func (n *Network) remove(addr string) {
	n.mu.Lock()
	delete(n.endpoints, addr)
	delete(n.held, addr)
	n.mu.Unlock()
}

// Endpoint is one transport.Transport on a Network.
type Endpoint struct {
	net    *Network
	addr   string
	inbox  *transport.Inbox
	mu     sync.Mutex
	closed bool
}

var _ transport.Transport = (*Endpoint)(nil)

func (e *Endpoint) Poll(dst []transport.Datagram) []transport.Datagram {
	return e.inbox.Drain(dst)
}

func (e *Endpoint) Send(to string, b []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	return e.net.deliver(e.addr, to, b)
}

func (e *Endpoint) LocalAddr() string { return e.addr }

func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.net.remove(e.addr)
	return nil
}
