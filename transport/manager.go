package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cloudflare/cloudflare-go"

	"github.com/postchain/node/log"
	"github.com/postchain/node/peer"
)

// Config holds ConnectionManager tunables (§4.5, §6 defaults).
type Config struct {
	MaxConnections int
	RetryDelay     time.Duration
	TLSConfig      *tls.Config // nil disables TLS

	// DNS announcement (supplemental, SPEC_FULL.md DOMAIN STACK): when set,
	// Start publishes ListenEndpoint's reachable address as a DNS A/AAAA
	// record via the Cloudflare API so DNS-seed discovery can find this node.
	DNSAnnounce *DNSAnnounceConfig
}

// DNSAnnounceConfig names the Cloudflare zone/record to keep pointed at this
// node's public endpoint.
type DNSAnnounceConfig struct {
	APIToken   string
	ZoneID     string
	RecordName string
	PublicIP   string
}

// DefaultConfig returns the §6-documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 125,
		RetryDelay:     time.Second,
	}
}

// ConnectionManager owns the listener, outbound dialer, and the active
// connection registry (§4.5). Modeled on the teacher's accept-loop-plus-
// registered-peer-map pattern, generalized from devp2p's RLPx dial loop to a
// plain framed-TCP/TLS link.
type ConnectionManager struct {
	cfg     Config
	peers   *peer.Manager
	log     log.Logger
	onPeer  func(*PeerConnection)
	cloudfl *cloudflare.API

	mu     sync.RWMutex
	active map[string]*PeerConnection
	ln     net.Listener
	quit   chan struct{}
	wg     sync.WaitGroup
}

// New constructs a ConnectionManager. onPeer, if non-nil, is invoked for
// every newly registered connection (inbound or outbound) so the caller can
// spawn its receive loop.
func New(cfg Config, peers *peer.Manager, onPeer func(*PeerConnection)) *ConnectionManager {
	cm := &ConnectionManager{
		cfg:    cfg,
		peers:  peers,
		log:    log.New("subsystem", "transport"),
		onPeer: onPeer,
		active: make(map[string]*PeerConnection),
	}
	if cfg.DNSAnnounce != nil {
		if api, err := cloudflare.NewWithAPIToken(cfg.DNSAnnounce.APIToken); err == nil {
			cm.cloudfl = api
		} else {
			cm.log.Warn("cloudflare client init failed, DNS announce disabled", "err", err)
		}
	}
	return cm
}

// Start binds listenEndpoint and launches the accept loop (§4.5).
func (cm *ConnectionManager) Start(listenEndpoint peer.Endpoint) error {
	ln, err := net.Listen("tcp", listenEndpoint.String())
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", listenEndpoint, err)
	}
	cm.mu.Lock()
	cm.ln = ln
	cm.quit = make(chan struct{})
	cm.mu.Unlock()

	cm.wg.Add(1)
	go cm.acceptLoop()

	if cm.cloudfl != nil {
		go cm.announceDNS(listenEndpoint)
	}
	return nil
}

func (cm *ConnectionManager) acceptLoop() {
	defer cm.wg.Done()
	for {
		conn, err := cm.ln.Accept()
		if err != nil {
			select {
			case <-cm.quit:
				return
			default:
			}
			cm.log.Warn("accept error, pausing", "delay", cm.cfg.RetryDelay, "err", err)
			select {
			case <-time.After(cm.cfg.RetryDelay):
				continue
			case <-cm.quit:
				return
			}
		}

		if cm.Len() >= cm.cfg.MaxConnections {
			conn.Close()
			continue
		}

		if cm.cfg.TLSConfig != nil {
			upgraded, err := upgradeServerTLS(conn, cm.cfg.TLSConfig)
			if err != nil {
				cm.log.Debug("inbound TLS handshake failed", "err", err)
				continue
			}
			conn = upgraded
		}

		id := peer.NewPeerID()
		pc := newPeerConnection(id, conn)
		cm.register(pc)
	}
}

// Connect dials endpoint with the given timeout, optionally upgrades to
// TLS, registers the resulting PeerConnection and reports it to the
// PeerManager (§4.5). Returns nil, nil if the connection cap is exceeded.
func (cm *ConnectionManager) Connect(ctx context.Context, endpoint peer.Endpoint, timeout time.Duration) (*PeerConnection, error) {
	if cm.Len() >= cm.cfg.MaxConnections {
		return nil, nil
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint.String())
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", endpoint, err)
	}

	if cm.cfg.TLSConfig != nil {
		upgraded, err := upgradeClientTLS(conn, cm.cfg.TLSConfig, timeout)
		if err != nil {
			return nil, fmt.Errorf("transport: tls handshake %s: %w", endpoint, err)
		}
		conn = upgraded
	}

	id := peer.NewPeerID()
	pc := newPeerConnection(id, conn)
	cm.register(pc)
	if cm.peers != nil {
		cm.peers.Add(id, endpoint, 0)
		cm.peers.UpdateConnectionStatus(id, true)
	}
	return pc, nil
}

func (cm *ConnectionManager) register(pc *PeerConnection) {
	cm.mu.Lock()
	cm.active[pc.ID()] = pc
	cm.mu.Unlock()
	if cm.onPeer != nil {
		cm.onPeer(pc)
	}
}

// Disconnect removes and closes the connection for id, if present.
func (cm *ConnectionManager) Disconnect(id string) {
	cm.mu.Lock()
	pc, ok := cm.active[id]
	delete(cm.active, id)
	cm.mu.Unlock()
	if ok {
		pc.Close()
	}
	if cm.peers != nil {
		cm.peers.UpdateConnectionStatus(id, false)
	}
}

// Get returns the active connection for id, if any.
func (cm *ConnectionManager) Get(id string) (*PeerConnection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	pc, ok := cm.active[id]
	return pc, ok
}

// GetActiveConnections returns a snapshot of every active connection.
func (cm *ConnectionManager) GetActiveConnections() []*PeerConnection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]*PeerConnection, 0, len(cm.active))
	for _, pc := range cm.active {
		out = append(out, pc)
	}
	return out
}

// ListenPort returns the port the listener bound to, useful when Start was
// called with port 0 (ephemeral) and a caller needs to dial back in.
func (cm *ConnectionManager) ListenPort() uint16 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.ln == nil {
		return 0
	}
	return uint16(cm.ln.Addr().(*net.TCPAddr).Port)
}

// Len reports the number of active connections.
func (cm *ConnectionManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.active)
}

// Stop cancels the accept loop and closes every active connection.
func (cm *ConnectionManager) Stop() {
	cm.mu.Lock()
	if cm.quit != nil {
		select {
		case <-cm.quit:
		default:
			close(cm.quit)
		}
	}
	if cm.ln != nil {
		cm.ln.Close()
	}
	conns := make([]*PeerConnection, 0, len(cm.active))
	for _, pc := range cm.active {
		conns = append(conns, pc)
	}
	cm.active = make(map[string]*PeerConnection)
	cm.mu.Unlock()

	for _, pc := range conns {
		pc.Close()
	}
	cm.wg.Wait()
}

// announceDNS publishes the node's public endpoint via the Cloudflare API so
// DNS-seed discovery can resolve it (supplemental feature, grounded on the
// teacher's go.mod dependency on cloudflare/cloudflare-go).
func (cm *ConnectionManager) announceDNS(listenEndpoint peer.Endpoint) {
	cfg := cm.cfg.DNSAnnounce
	ip := cfg.PublicIP
	if ip == "" {
		ip = listenEndpoint.IP.String()
	}
	recordType := "A"
	if listenEndpoint.IP.To4() == nil {
		recordType = "AAAA"
	}
	ctx := context.Background()
	rc := cloudflare.ZoneIdentifier(cfg.ZoneID)
	_, err := cm.cloudfl.CreateDNSRecord(ctx, rc, cloudflare.CreateDNSRecordParams{
		Type:    recordType,
		Name:    cfg.RecordName,
		Content: ip,
		TTL:     300,
	})
	if err != nil {
		cm.log.Warn("DNS announce failed", "err", err)
	}
}
