package transport

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const muxSep = "|"

// Mux serves several transports as one. Peer addresses are prefixed with the
// name the transport was added under, so "udp|1.2.3.4:5000" and
// "ws|10.0.0.1:40000" can share one client table.
type Mux struct {
	names []string
	byKey map[string]Transport
	buf   []Datagram
}

var _ Transport = (*Mux)(nil)

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{byKey: make(map[string]Transport)}
}

// Add registers t under name. Names must be unique and must not contain "|".
func (m *Mux) Add(name string, t Transport) error {
	if name == "" || strings.Contains(name, muxSep) {
		return fmt.Errorf("transport: invalid mux name %q", name)
	}
	if _, ok := m.byKey[name]; ok {
		return fmt.Errorf("transport: duplicate mux name %q", name)
	}
	m.byKey[name] = t
	m.names = append(m.names, name)
	sort.Strings(m.names)
	return nil
}

func (m *Mux) split(addr string) (Transport, string, error) {
	name, peer, ok := strings.Cut(addr, muxSep)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	t, ok := m.byKey[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	return t, peer, nil
}

func (m *Mux) Poll(dst []Datagram) []Datagram {
	for _, name := range m.names {
		m.buf = m.byKey[name].Poll(m.buf[:0])
		for _, d := range m.buf {
			dst = append(dst, Datagram{From: name + muxSep + d.From, Data: d.Data})
		}
	}
	return dst
}

func (m *Mux) Send(to string, b []byte) error {
	t, peer, err := m.split(to)
	if err != nil {
		return err
	}
	return t.Send(peer, b)
}

// Disconnect forwards to the underlying transport when it supports it.
func (m *Mux) Disconnect(peer, reason string) {
	t, p, err := m.split(peer)
	if err != nil {
		return
	}
	if d, ok := t.(Disconnecter); ok {
		d.Disconnect(p, reason)
	}
}

func (m *Mux) LocalAddr() string {
	addrs := make([]string, 0, len(m.names))
	for _, name := range m.names {
		addrs = append(addrs, name+muxSep+m.byKey[name].LocalAddr())
	}
	return strings.Join(addrs, ",")
}

func (m *Mux) Close() error {
	var errs []error
	for _, name := range m.names {
		if err := m.byKey[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
