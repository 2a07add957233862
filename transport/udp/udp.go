// Package udp implements transport.Transport on a plain UDP socket.
package udp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/transport"
)

// Transport is a UDP socket with a background reader.
type Transport struct {
	conn   *net.UDPConn
	peer   *net.UDPAddr // set for dialed transports
	inbox  *transport.Inbox
	logger *slog.Logger

	mu    sync.Mutex
	addrs map[string]*net.UDPAddr
	done  chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// Listen opens a socket on addr for a server.
func Listen(addr string, logger *slog.Logger) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return start(conn, nil, logger), nil
}

// Dial opens an ephemeral socket for a client talking to server.
func Dial(server string, logger *slog.Logger) (*Transport, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", server, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	return start(conn, raddr, logger), nil
}

func start(conn *net.UDPConn, peer *net.UDPAddr, logger *slog.Logger) *Transport {
	t := &Transport{
		conn:   conn,
		peer:   peer,
		inbox:  transport.NewInbox(transport.DefaultInboxSize),
		logger: logger.With("transport", "udp"),
		addrs:  make(map[string]*net.UDPAddr),
		done:   make(chan struct{}),
	}
	if peer != nil {
		t.addrs[peer.String()] = peer
	}
	go t.readLoop()
	return t
}

func (t *Transport) readLoop() {
	defer close(t.done)
	buf := make([]byte, netconfig.MaxPacketSize+1)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("read failed", "err", err)
			continue
		}
		if n > netconfig.MaxPacketSize {
			t.logger.Debug("oversized datagram dropped", "from", from, "len", n)
			continue
		}
		key := from.String()
		t.mu.Lock()
		if _, ok := t.addrs[key]; !ok {
			t.addrs[key] = from
		}
		t.mu.Unlock()
		if !t.inbox.Push(transport.Datagram{From: key, Data: append([]byte(nil), buf[:n]...)}) {
			t.logger.Debug("inbox full, datagram dropped", "from", key)
		}
	}
}

func (t *Transport) Poll(dst []transport.Datagram) []transport.Datagram {
	return t.inbox.Drain(dst)
}

func (t *Transport) Send(to string, b []byte) error {
	t.mu.Lock()
	addr, ok := t.addrs[to]
	t.mu.Unlock()
	if !ok {
		var err error
		if addr, err = net.ResolveUDPAddr("udp", to); err != nil {
			return fmt.Errorf("%w: %s", transport.ErrUnknownPeer, to)
		}
	}
	if _, err := t.conn.WriteToUDP(b, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return transport.ErrClosed
		}
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

func (t *Transport) LocalAddr() string { return t.conn.LocalAddr().String() }

// RemoteAddr returns the server address of a dialed transport, as it appears
// in Datagram.From.
func (t *Transport) RemoteAddr() string {
	if t.peer == nil {
		return ""
	}
	return t.peer.String()
}

// Disconnect drops the cached address of a peer. UDP has no connection to
// close, so reason is unused.
func (t *Transport) Disconnect(peer, reason string) {
	t.mu.Lock()
	delete(t.addrs, peer)
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	err := t.conn.Close()
	<-t.done
	return err
}
