// Package quictransport carries protocol datagrams in QUIC unreliable
// datagram frames (RFC 9221). QUIC adds encryption and connection migration;
// the protocol's own sequencing, loss tolerance and resync still apply, since
// datagram frames are neither retransmitted nor ordered.
package quictransport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/automoto/arenanet/transport"
	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated during the TLS handshake.
const ALPN = "arenanet"

func quicConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 5 * time.Second,
	}
}

// Transport multiplexes QUIC connections behind transport.Transport. A
// listening transport accepts any number of peers; a dialed one has exactly
// one.
type Transport struct {
	ctx    context.Context
	cancel context.CancelFunc
	ln     *quic.Listener
	inbox  *transport.Inbox
	logger *slog.Logger
	local  string
	remote string // set for dialed transports

	mu    sync.Mutex
	conns map[string]quic.Connection
	wg    sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// Listen accepts QUIC connections on addr. A nil tlsConf uses a freshly
// generated self-signed certificate.
func Listen(addr string, tlsConf *tls.Config, logger *slog.Logger) (*Transport, error) {
	if tlsConf == nil {
		var err error
		if tlsConf, err = SelfSignedTLS(); err != nil {
			return nil, err
		}
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("listen quic %s: %w", addr, err)
	}
	t := newTransport(logger)
	t.ln = ln
	t.local = ln.Addr().String()
	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

// Dial connects to a QUIC server. A nil tlsConf skips certificate
// verification, which suits servers using SelfSignedTLS.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, logger *slog.Logger) (*Transport, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true, NextProtos: []string{ALPN}}
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial quic %s: %w", addr, err)
	}
	if !conn.ConnectionState().SupportsDatagrams {
		_ = conn.CloseWithError(0, "datagrams unsupported")
		return nil, fmt.Errorf("dial quic %s: peer does not support datagrams", addr)
	}
	t := newTransport(logger)
	t.local = conn.LocalAddr().String()
	t.remote = conn.RemoteAddr().String()
	t.track(conn)
	return t, nil
}

func newTransport(logger *slog.Logger) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		ctx:    ctx,
		cancel: cancel,
		inbox:  transport.NewInbox(transport.DefaultInboxSize),
		logger: logger.With("transport", "quic"),
		conns:  make(map[string]quic.Connection),
	}
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.ln.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil {
				t.logger.Warn("accept failed", "err", err)
			}
			return
		}
		t.track(conn)
	}
}

func (t *Transport) track(conn quic.Connection) {
	key := conn.RemoteAddr().String()
	t.mu.Lock()
	t.conns[key] = conn
	t.mu.Unlock()
	t.logger.Debug("connection opened", "peer", key)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			if t.conns[key] == conn {
				delete(t.conns, key)
			}
			t.mu.Unlock()
		}()
		for {
			b, err := conn.ReceiveDatagram(t.ctx)
			if err != nil {
				if t.ctx.Err() == nil {
					t.logger.Debug("connection closed", "peer", key, "err", err)
				}
				return
			}
			t.inbox.Push(transport.Datagram{From: key, Data: b})
		}
	}()
}

func (t *Transport) Poll(dst []transport.Datagram) []transport.Datagram {
	return t.inbox.Drain(dst)
}

func (t *Transport) Send(to string, b []byte) error {
	if t.ctx.Err() != nil {
		return transport.ErrClosed
	}
	t.mu.Lock()
	conn, ok := t.conns[to]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownPeer, to)
	}
	if err := conn.SendDatagram(b); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

func (t *Transport) LocalAddr() string { return t.local }

// RemoteAddr returns the server address of a dialed transport.
func (t *Transport) RemoteAddr() string { return t.remote }

// Disconnect closes the connection to one peer.
func (t *Transport) Disconnect(peer, reason string) {
	t.mu.Lock()
	conn, ok := t.conns[peer]
	delete(t.conns, peer)
	t.mu.Unlock()
	if ok {
		_ = conn.CloseWithError(0, reason)
	}
}

func (t *Transport) Close() error {
	t.cancel()
	t.mu.Lock()
	for _, conn := range t.conns {
		_ = conn.CloseWithError(0, "shutdown")
	}
	t.mu.Unlock()
	var err error
	if t.ln != nil {
		err = t.ln.Close()
	}
	t.wg.Wait()
	return err
}

// SelfSignedTLS returns a server TLS config with a throwaway certificate.
func SelfSignedTLS() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
	}, nil
}
