// Package wstransport carries protocol datagrams as binary WebSocket
// messages, for clients that cannot open UDP sockets. Each message is one
// datagram. The stream is reliable underneath, but outgoing messages are
// dropped rather than queued without bound when a peer cannot keep up, so
// the protocol sees the same loss it would on UDP.
package wstransport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/transport"
	"github.com/coder/websocket"
)

const (
	sendQueue    = 64
	writeTimeout = 5 * time.Second
)

type peer struct {
	conn   *websocket.Conn
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func (p *peer) close(code websocket.StatusCode, reason string) {
	p.once.Do(func() {
		_ = p.conn.Close(code, reason)
		close(p.closed)
	})
}

// Transport is a set of WebSocket peers. A server transport gains peers
// through its http.Handler; a dialed transport has exactly one.
type Transport struct {
	ctx    context.Context
	cancel context.CancelFunc
	inbox  *transport.Inbox
	logger *slog.Logger
	local  string
	remote string

	mu    sync.Mutex
	peers map[string]*peer
	wg    sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// NewServer creates a transport whose peers connect through Handler. local
// is reported by LocalAddr.
func NewServer(local string, logger *slog.Logger) *Transport {
	t := newTransport(logger)
	t.local = local
	return t
}

// Dial connects to a server's WebSocket endpoint, e.g. ws://host:27960/ws.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	t := newTransport(logger)
	t.local = "ws-client"
	t.remote = url
	t.serve(url, conn)
	return t, nil
}

func newTransport(logger *slog.Logger) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		ctx:    ctx,
		cancel: cancel,
		inbox:  transport.NewInbox(transport.DefaultInboxSize),
		logger: logger.With("transport", "ws"),
		peers:  make(map[string]*peer),
	}
}

// Handler upgrades requests to WebSocket peers. The peer address is the
// request's remote address.
func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		p := t.serve(r.RemoteAddr, conn)
		// The handler must not return while the connection is in use.
		select {
		case <-p.closed:
		case <-t.ctx.Done():
		}
	})
}

func (t *Transport) serve(key string, conn *websocket.Conn) *peer {
	conn.SetReadLimit(netconfig.MaxPacketSize)
	p := &peer{conn: conn, out: make(chan []byte, sendQueue), closed: make(chan struct{})}
	t.mu.Lock()
	if old, ok := t.peers[key]; ok {
		go old.close(websocket.StatusPolicyViolation, "replaced")
	}
	t.peers[key] = p
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(t.ctx)
	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		defer cancel()
		for {
			typ, b, err := conn.Read(ctx)
			if err != nil {
				t.logger.Debug("peer closed", "peer", key, "err", err)
				t.drop(key, p)
				return
			}
			if typ != websocket.MessageBinary {
				continue
			}
			t.inbox.Push(transport.Datagram{From: key, Data: b})
		}
	}()
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-p.out:
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Write(wctx, websocket.MessageBinary, b)
				wcancel()
				if err != nil {
					t.logger.Debug("write failed", "peer", key, "err", err)
					cancel()
					return
				}
			}
		}
	}()
	return p
}

func (t *Transport) drop(key string, p *peer) {
	t.mu.Lock()
	if t.peers[key] == p {
		delete(t.peers, key)
	}
	t.mu.Unlock()
	p.close(websocket.StatusNormalClosure, "")
}

func (t *Transport) Poll(dst []transport.Datagram) []transport.Datagram {
	return t.inbox.Drain(dst)
}

func (t *Transport) Send(to string, b []byte) error {
	if t.ctx.Err() != nil {
		return transport.ErrClosed
	}
	t.mu.Lock()
	p, ok := t.peers[to]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownPeer, to)
	}
	select {
	case p.out <- append([]byte(nil), b...):
	default:
		t.logger.Debug("send queue full, datagram dropped", "peer", to)
	}
	return nil
}

func (t *Transport) LocalAddr() string { return t.local }

// Disconnect closes the WebSocket of one peer.
func (t *Transport) Disconnect(peer, reason string) {
	t.mu.Lock()
	p, ok := t.peers[peer]
	delete(t.peers, peer)
	t.mu.Unlock()
	if ok {
		p.close(websocket.StatusNormalClosure, reason)
	}
}

// RemoteAddr returns the server URL of a dialed transport.
func (t *Transport) RemoteAddr() string { return t.remote }

func (t *Transport) Close() error {
	t.cancel()
	t.mu.Lock()
	peers := t.peers
	t.peers = make(map[string]*peer)
	t.mu.Unlock()
	for _, p := range peers {
		p.close(websocket.StatusGoingAway, "shutdown")
	}
	t.wg.Wait()
	return nil
}
