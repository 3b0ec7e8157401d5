// Package relay implements message deduplication, rate and bandwidth
// limiting, priority queuing, and the relay worker that propagates
// blocks/transactions/proofs across the mesh (§4.8-§4.12). Grounded on
// hashkey-chain's per-peer knownTxs/knownBlocks seen-message sets,
// generalized to a protocol-agnostic relay over the wire package's Message
// interface.
package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/holiman/bloomfilter/v2"

	"github.com/postchain/node/wire"
)

// TrackerConfig holds MessageTracker tunables (§4.8, §6 defaults).
type TrackerConfig struct {
	MessageLifetime time.Duration
	MaxTracked      int
}

// DefaultTrackerConfig returns the §6-documented defaults: 5-minute
// lifetime, 100,000 tracked entries.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{MessageLifetime: 5 * time.Minute, MaxTracked: 100000}
}

// MessageTracker deduplicates messages by type||sha256(payload) (§4.8). A
// Bloom filter (holiman/bloomfilter/v2) sits in front of the exact map in
// HasSeen as a cheap negative pre-filter on the "definitely never seen"
// path, skipping the locked map lookup for new items.
type MessageTracker struct {
	cfg TrackerConfig

	mu          sync.Mutex
	entries     map[string]time.Time
	filter      *bloomfilter.Filter
	lastCleanup time.Time
}

// NewMessageTracker constructs an empty tracker.
func NewMessageTracker(cfg TrackerConfig) *MessageTracker {
	filter, _ := bloomfilter.New(uint64(cfg.MaxTracked)*10, 6)
	return &MessageTracker{
		cfg:         cfg,
		entries:     make(map[string]time.Time),
		filter:      filter,
		lastCleanup: time.Now(),
	}
}

func trackerKey(m wire.Message) string {
	sum := sha256.Sum256(m.Payload())
	return hex.EncodeToString([]byte{byte(m.Type())}) + hex.EncodeToString(sum[:])
}

// fixedHash64 adapts a precomputed 64-bit digest to the standard library's
// hash.Hash64 interface, which is what holiman/bloomfilter's Add/Contains
// expect. Only Sum64 is ever called on the values this package constructs.
type fixedHash64 uint64

func (h fixedHash64) Write(p []byte) (int, error) { return len(p), nil }
func (h fixedHash64) Sum(b []byte) []byte          { return b }
func (h fixedHash64) Reset()                       {}
func (h fixedHash64) Size() int                    { return 8 }
func (h fixedHash64) BlockSize() int                { return 8 }
func (h fixedHash64) Sum64() uint64                 { return uint64(h) }

func filterHash(key string) fixedHash64 {
	sum := sha256.Sum256([]byte(key))
	var h uint64
	for i := 0; i < 8; i++ {
		h = h<<8 | uint64(sum[i])
	}
	return fixedHash64(h)
}

// MarkAndCheckIfNew computes the tracking key for m and atomically
// try-inserts it with the current timestamp. Returns true ("new") if the
// key was absent, or present but stale past MessageLifetime; false
// otherwise (§4.8).
func (t *MessageTracker) MarkAndCheckIfNew(m wire.Message) bool {
	key := trackerKey(m)
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.entries[key]
	isNew := !ok || now.Sub(existing) > t.cfg.MessageLifetime
	if isNew {
		t.entries[key] = now
		if t.filter != nil {
			t.filter.Add(filterHash(key))
		}
	}
	t.maybeCleanupLocked(now)
	return isNew
}

// HasSeen is a non-mutating lookup subject to the same lifetime window.
func (t *MessageTracker) HasSeen(m wire.Message) bool {
	key := trackerKey(m)
	if t.filter != nil && !t.filter.Contains(filterHash(key)) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	existing, ok := t.entries[key]
	if !ok {
		return false
	}
	return time.Since(existing) <= t.cfg.MessageLifetime
}

func (t *MessageTracker) maybeCleanupLocked(now time.Time) {
	if len(t.entries) <= t.cfg.MaxTracked && now.Sub(t.lastCleanup) <= time.Minute {
		return
	}
	t.lastCleanup = now
	for k, ts := range t.entries {
		if now.Sub(ts) > t.cfg.MessageLifetime {
			delete(t.entries, k)
		}
	}
	if len(t.entries) <= t.cfg.MaxTracked {
		return
	}
	type kv struct {
		key string
		ts  time.Time
	}
	all := make([]kv, 0, len(t.entries))
	for k, ts := range t.entries {
		all = append(all, kv{k, ts})
	}
	for len(t.entries) > t.cfg.MaxTracked {
		oldestIdx := 0
		for i := 1; i < len(all); i++ {
			if all[i].ts.Before(all[oldestIdx].ts) {
				oldestIdx = i
			}
		}
		delete(t.entries, all[oldestIdx].key)
		all = append(all[:oldestIdx], all[oldestIdx+1:]...)
	}
}

// Len reports the number of tracked entries (test/debug use).
func (t *MessageTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
