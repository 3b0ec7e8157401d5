package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	mapset "github.com/deckarep/golang-set"

	"github.com/postchain/node/addrbook"
	"github.com/postchain/node/log"
	"github.com/postchain/node/peer"
	"github.com/postchain/node/transport"
	"github.com/postchain/node/wire"
)

// GossipConfig holds PeerGossiper tunables (§4.7 Gossiper defaults).
type GossipConfig struct {
	GossipInterval     time.Duration
	AddressesPerGossip int
	DedupWindow        time.Duration
}

// DefaultGossipConfig returns the §4.7-documented defaults: 10-minute
// interval, 20 addresses per push, 1-hour dedup window.
func DefaultGossipConfig() GossipConfig {
	return GossipConfig{GossipInterval: 10 * time.Minute, AddressesPerGossip: 20, DedupWindow: time.Hour}
}

// PeerGossiper periodically pushes the book's best addresses to every
// connected peer and deduplicates inbound address announcements against a
// sliding window, backed by hashicorp/golang-lru the same way the teacher
// caches recently seen transaction/block hashes.
type PeerGossiper struct {
	cfg   GossipConfig
	book  *addrbook.Book
	tp    *transport.ConnectionManager
	log   log.Logger
	seen  *lru.Cache
	mu    sync.Mutex
	quit  chan struct{}
	doneW sync.WaitGroup
}

// NewPeerGossiper constructs a PeerGossiper.
func NewPeerGossiper(cfg GossipConfig, book *addrbook.Book, tp *transport.ConnectionManager) *PeerGossiper {
	cache, _ := lru.New(4096)
	return &PeerGossiper{cfg: cfg, book: book, tp: tp, log: log.New("subsystem", "discovery.gossip"), seen: cache}
}

// Start launches the background gossip loop. Stop tears it down.
func (g *PeerGossiper) Start() {
	g.quit = make(chan struct{})
	g.doneW.Add(1)
	go g.loop()
}

func (g *PeerGossiper) Stop() {
	close(g.quit)
	g.doneW.Wait()
}

func (g *PeerGossiper) loop() {
	defer g.doneW.Done()
	ticker := time.NewTicker(g.cfg.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.quit:
			return
		case <-ticker.C:
			g.gossipOnce()
		}
	}
}

func (g *PeerGossiper) gossipOnce() {
	best := g.book.GetBestAddresses(g.cfg.AddressesPerGossip, nil)
	if len(best) == 0 {
		return
	}
	endpoints := make([]wire.PeerEndpoint, 0, len(best))
	for _, a := range best {
		endpoints = append(endpoints, wire.PeerEndpoint{Address: a.Endpoint.IP, Port: a.Endpoint.Port})
	}
	msg, err := wire.NewPeers(endpoints)
	if err != nil {
		return
	}
	for _, conn := range g.tp.GetActiveConnections() {
		if err := conn.Send(msg); err != nil {
			g.log.Debug("gossip send failed", "peer", conn.ID(), "err", err)
		}
	}
}

// ProcessReceivedAddresses handles an inbound Peers announcement from
// senderID: deduplicates against the sliding window and either inserts new
// endpoints (source "gossip:<sender_id>") or refreshes last_seen on known
// ones (§4.7 Gossiper).
func (g *PeerGossiper) ProcessReceivedAddresses(endpoints []wire.PeerEndpoint, senderID string) {
	// A single announcement can repeat the same endpoint (a misbehaving or
	// just-redundant sender); golang-set collapses the batch to its unique
	// members before any of them touch the cross-round LRU window below.
	batch := mapset.NewSet()
	for _, e := range endpoints {
		ep := peer.Endpoint{IP: e.Address, Port: e.Port}
		key := dedupKey(ep)
		if !batch.Add(key) {
			continue
		}
		if v, ok := g.seen.Get(key); ok {
			if seenAt, ok := v.(time.Time); ok && time.Since(seenAt) < g.cfg.DedupWindow {
				if _, known := g.book.Get(ep); known {
					g.book.RecordSuccess(ep)
				}
				continue
			}
		}
		g.seen.Add(key, time.Now())
		_ = g.book.Add(ep, "gossip:"+senderID)
	}
}

func dedupKey(ep peer.Endpoint) string {
	sum := sha256.Sum256([]byte(ep.String()))
	return hex.EncodeToString(sum[:])
}
