package addrbook

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/postchain/node/log"
	"github.com/postchain/node/peer"
	"github.com/postchain/node/wireerr"
)

// Config holds AddressBook tunables with the §6-documented defaults.
type Config struct {
	MaxAddresses          int
	AllowPrivate          bool
	MaxAddressesPerSubnet int
	PersistencePath       string
	// EncryptionPassphrase, if set, derives an AES-256-GCM key via scrypt
	// to encrypt the persisted snapshot at rest (supplemental, SPEC_FULL.md).
	EncryptionPassphrase string
}

// DefaultConfig returns the §6-documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxAddresses:          10000,
		AllowPrivate:          false,
		MaxAddressesPerSubnet: 10,
	}
}

// Book is the concurrency-safe catalog described in §4.4.
type Book struct {
	cfg Config
	log log.Logger

	mu        sync.RWMutex
	addresses map[string]Address
	subnets   map[string]int // subnetKey -> count of member addresses

	watchStop chan struct{}
}

// New constructs an empty Book.
func New(cfg Config) *Book {
	return &Book{
		cfg:       cfg,
		log:       log.New("subsystem", "addrbook"),
		addresses: make(map[string]Address),
		subnets:   make(map[string]int),
	}
}

// Add inserts or refreshes an address, enforcing §3 invariants (a)/(b)/(c).
func (b *Book) Add(ep peer.Endpoint, source string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(ep, source)
}

func (b *Book) addLocked(ep peer.Endpoint, source string) error {
	if !b.cfg.AllowPrivate && !isRoutable(ep.IP) {
		return fmt.Errorf("%w: %s is not a routable address", wireerr.ErrPayloadOutOfRange, ep.IP)
	}
	key := ep.String()
	if existing, ok := b.addresses[key]; ok {
		existing.LastSeen = time.Now()
		b.addresses[key] = existing
		return nil
	}

	sk := subnetKey(ep.IP)
	if b.subnets[sk] >= b.cfg.MaxAddressesPerSubnet {
		return fmt.Errorf("%w: subnet %s already has %d addresses", wireerr.ErrPayloadOutOfRange, sk, b.cfg.MaxAddressesPerSubnet)
	}

	if len(b.addresses) >= b.cfg.MaxAddresses {
		b.evictOneLocked()
	}

	b.addresses[key] = newAddress(ep, source)
	b.subnets[sk]++
	return nil
}

// evictOneLocked drops the lowest-quality, then-oldest-last_seen entry, per
// §3 (c).
func (b *Book) evictOneLocked() {
	var worstKey string
	var worst Address
	first := true
	for k, a := range b.addresses {
		if first {
			worstKey, worst, first = k, a, false
			continue
		}
		if a.QualityScore() < worst.QualityScore() ||
			(a.QualityScore() == worst.QualityScore() && a.LastSeen.Before(worst.LastSeen)) {
			worstKey, worst = k, a
		}
	}
	if first {
		return
	}
	delete(b.addresses, worstKey)
	b.subnets[subnetKey(worst.Endpoint.IP)]--
}

// Remove deletes an address by endpoint, no-op if absent.
func (b *Book) Remove(ep peer.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := ep.String()
	if a, ok := b.addresses[key]; ok {
		delete(b.addresses, key)
		b.subnets[subnetKey(a.Endpoint.IP)]--
	}
}

// Get returns a copy of a catalog entry, or (Address{}, false) if absent.
func (b *Book) Get(ep peer.Endpoint) (Address, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.addresses[ep.String()]
	return a, ok
}

// RecordSuccess/RecordFailure update attempt bookkeeping on a dial outcome.
func (b *Book) RecordSuccess(ep peer.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := ep.String()
	if a, ok := b.addresses[key]; ok {
		now := time.Now()
		a.SuccessCount++
		a.LastAttempt = now
		a.LastSeen = now
		b.addresses[key] = a
	}
}

func (b *Book) RecordFailure(ep peer.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := ep.String()
	if a, ok := b.addresses[key]; ok {
		a.FailureCount++
		a.LastAttempt = time.Now()
		b.addresses[key] = a
	}
}

// GetBestAddresses returns up to n addresses ordered by quality DESC, then
// last_seen DESC, excluding any whose "ip:port" form appears in exclude.
func (b *Book) GetBestAddresses(n int, exclude []string) []Address {
	excludeSet := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		excludeSet[e] = struct{}{}
	}

	b.mu.RLock()
	candidates := make([]Address, 0, len(b.addresses))
	for k, a := range b.addresses {
		if _, skip := excludeSet[k]; skip {
			continue
		}
		candidates = append(candidates, a)
	}
	b.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		qi, qj := candidates[i].QualityScore(), candidates[j].QualityScore()
		if qi != qj {
			return qi > qj
		}
		return candidates[i].LastSeen.After(candidates[j].LastSeen)
	})
	if n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates
}

// RemoveStale drops every address whose last_seen is older than maxAge.
func (b *Book) RemoveStale(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for k, a := range b.addresses {
		if a.LastSeen.Before(cutoff) {
			delete(b.addresses, k)
			b.subnets[subnetKey(a.Endpoint.IP)]--
			removed++
		}
	}
	return removed
}

// RemovePoorQuality drops addresses with at least minAttempts total
// attempts whose quality score is below minQ.
func (b *Book) RemovePoorQuality(minQ float64, minAttempts int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for k, a := range b.addresses {
		attempts := int(a.SuccessCount + a.FailureCount)
		if attempts >= minAttempts && a.QualityScore() < minQ {
			delete(b.addresses, k)
			b.subnets[subnetKey(a.Endpoint.IP)]--
			removed++
		}
	}
	return removed
}

// Len returns the number of cataloged addresses.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.addresses)
}

// Snapshot returns every cataloged address, for the status API and
// persistence/backup.
func (b *Book) Snapshot() []Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

// snapshotLocked returns every address, for persistence/backup.
func (b *Book) snapshotLocked() []Address {
	out := make([]Address, 0, len(b.addresses))
	for _, a := range b.addresses {
		out = append(out, a)
	}
	return out
}
