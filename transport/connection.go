// Package transport implements the encrypted TCP link and connection
// registry described in §4.5/§4.6: PeerConnection frames wire messages over
// a duplex stream with a single send-serializer; ConnectionManager owns the
// listener, outbound dialer, and the active-connection map. It generalizes
// the teacher's p2p transport plumbing (accept loop, register/unregister
// bookkeeping under a mutex) to a plain net.Conn-based link rather than
// devp2p's RLPx handshake, since the on-wire encryption here is a bare TLS
// upgrade (§5 "Transport: TCP; optional TLS 1.2 or 1.3").
package transport

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/postchain/node/log"
	"github.com/postchain/node/wire"
	"github.com/postchain/node/wireerr"
)

// PeerConnection is a framed duplex link to one remote peer (§4.6).
type PeerConnection struct {
	id   string
	conn net.Conn
	log  log.Logger

	sendMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// newPeerConnection wraps an established net.Conn.
func newPeerConnection(id string, conn net.Conn) *PeerConnection {
	return &PeerConnection{
		id:     id,
		conn:   conn,
		log:    log.New("subsystem", "transport", "peer", id),
		closed: make(chan struct{}),
	}
}

// ID returns the locally generated peer id for this link.
func (c *PeerConnection) ID() string { return c.id }

// RemoteAddr returns the underlying socket's remote address.
func (c *PeerConnection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Send acquires the per-link send-serializer, encodes m and writes it to the
// stream (§4.6 "acquires a per-link send-serializer").
func (c *PeerConnection) Send(m wire.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.IsConnected() {
		return wireerr.ErrStreamClosed
	}
	return wire.Encode(c.conn, m)
}

// Receive decodes one framed message from the stream. A clean EOF at a
// frame boundary closes the link and yields (nil, nil), "stream closed";
// any other read failure, including a reset or a stream cut mid-frame, is
// returned as an error (wrapping ErrMalformedFrame) and the link is left
// open.
func (c *PeerConnection) Receive() (wire.Message, error) {
	m, err := wire.Decode(c.conn)
	if err != nil {
		if err == wireerr.ErrStreamClosed {
			c.Close()
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// Close idempotently shuts the socket down.
func (c *PeerConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// IsConnected is false once Close has run, including the Close Receive
// performs on a clean EOF. The socket itself is not probed, so a link that
// failed any other way reads as connected until Close is called.
func (c *PeerConnection) IsConnected() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// upgradeClientTLS optionally wraps conn in a TLS client connection.
// Certificate checking is whatever tlsConfig sets: InsecureClientTLSConfig
// accepts any certificate, while a config with a RootCAs pool verifies it.
func upgradeClientTLS(conn net.Conn, tlsConfig *tls.Config, timeout time.Duration) (net.Conn, error) {
	if tlsConfig == nil {
		return conn, nil
	}
	tc := tls.Client(conn, tlsConfig)
	tc.SetDeadline(time.Now().Add(timeout))
	if err := tc.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	tc.SetDeadline(time.Time{})
	return tc, nil
}

func upgradeServerTLS(conn net.Conn, tlsConfig *tls.Config) (net.Conn, error) {
	if tlsConfig == nil {
		return conn, nil
	}
	tc := tls.Server(conn, tlsConfig)
	if err := tc.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return tc, nil
}

// InsecureClientTLSConfig returns the documented-unsafe default: TLS 1.2
// minimum, any certificate accepted. Production deployments should supply
// their own *tls.Config with certificate verification enabled instead.
func InsecureClientTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	}
}
