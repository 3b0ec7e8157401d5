package discovery

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/postchain/node/addrbook"
	"github.com/postchain/node/log"
	"github.com/postchain/node/wire"
)

// ExchangeConfig holds PeerExchange tunables (§4.7 Exchange defaults).
type ExchangeConfig struct {
	TokensPerRequester int
	RefillPerMinute    int
	MinRequestInterval time.Duration
}

// DefaultExchangeConfig returns the §4.7-documented defaults: 10 tokens,
// refill 1/minute, minimum 5-minute interval per requester.
func DefaultExchangeConfig() ExchangeConfig {
	return ExchangeConfig{TokensPerRequester: 10, RefillPerMinute: 1, MinRequestInterval: 5 * time.Minute}
}

// PeerExchange answers inbound GetPeers requests, rate-limited per
// requester via golang.org/x/time/rate (the teacher's dependency for
// leaky-bucket pacing of RPC/gossip subscriptions, generalized here to
// peer-exchange throttling).
type PeerExchange struct {
	cfg  ExchangeConfig
	book *addrbook.Book
	log  log.Logger

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastServed map[string]time.Time
}

// NewPeerExchange constructs a PeerExchange backed by book.
func NewPeerExchange(cfg ExchangeConfig, book *addrbook.Book) *PeerExchange {
	return &PeerExchange{
		cfg:        cfg,
		book:       book,
		log:        log.New("subsystem", "discovery.exchange"),
		limiters:   make(map[string]*rate.Limiter),
		lastServed: make(map[string]time.Time),
	}
}

func (x *PeerExchange) limiterFor(requester string) *rate.Limiter {
	x.mu.Lock()
	defer x.mu.Unlock()
	l, ok := x.limiters[requester]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(x.cfg.RefillPerMinute)/60.0), x.cfg.TokensPerRequester)
		x.limiters[requester] = l
	}
	return l
}

// HandlePeerRequest services one GetPeers request from requester, returning
// a Peers message built from the address book's best addresses. Returns an
// empty Peers message when the requester is rate-limited or has requested
// again before MinRequestInterval has elapsed (§4.7 Exchange).
func (x *PeerExchange) HandlePeerRequest(req *wire.GetPeersMessage, requester string) (*wire.PeersMessage, error) {
	x.mu.Lock()
	last, seen := x.lastServed[requester]
	tooSoon := seen && time.Since(last) < x.cfg.MinRequestInterval
	x.mu.Unlock()

	limiter := x.limiterFor(requester)
	if tooSoon || !limiter.Allow() {
		return wire.NewPeers(nil)
	}

	x.mu.Lock()
	x.lastServed[requester] = time.Now()
	x.mu.Unlock()

	maxCount := int(req.MaxCount)
	if maxCount > 1000 {
		maxCount = 1000
	}
	best := x.book.GetBestAddresses(maxCount, req.ExcludeAddresses)
	endpoints := make([]wire.PeerEndpoint, 0, len(best))
	for _, a := range best {
		endpoints = append(endpoints, wire.PeerEndpoint{Address: a.Endpoint.IP, Port: a.Endpoint.Port})
	}
	return wire.NewPeers(endpoints)
}
