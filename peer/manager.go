package peer

import (
	"sort"
	"sync"
	"time"
)

// Config holds PeerManager tunables, all with documented §6 defaults.
type Config struct {
	BlacklistThreshold int32
	MaxFailures        int32
}

// DefaultConfig returns the §6-documented PeerManager defaults.
func DefaultConfig() Config {
	return Config{BlacklistThreshold: -10, MaxFailures: 5}
}

// Manager is the concurrency-safe reputation ledger described in §4.3. Every
// method is safe for concurrent invocation and non-existent peer ids are
// handled as no-ops/null rather than errors.
type Manager struct {
	cfg Config

	mu    sync.RWMutex
	peers map[string]*Info
}

// NewManager constructs an empty Manager.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, peers: make(map[string]*Info)}
}

// Add registers a newly discovered/accepted peer. If id is already known,
// Add is a no-op and returns the existing entry.
func (m *Manager) Add(id string, ep Endpoint, protocolVersion int32) *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.peers[id]; ok {
		return existing.snapshot()
	}
	info := &Info{
		ID:              id,
		Endpoint:        ep,
		ProtocolVersion: protocolVersion,
		ReputationScore: 0,
		LastSeen:        time.Now(),
	}
	m.peers[id] = info
	return info.snapshot()
}

// Remove deletes a peer from the registry. No-op if unknown.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
}

// Get returns a defensive copy of a peer's info, or nil if unknown.
func (m *Manager) Get(id string) *Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.peers[id]
	if !ok {
		return nil
	}
	return info.snapshot()
}

// UpdateConnectionStatus flips a peer's is_connected flag. No-op if unknown.
func (m *Manager) UpdateConnectionStatus(id string, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.peers[id]; ok {
		info.IsConnected = connected
	}
}

// RecordSuccess applies the §4.3 success update: reputation += 1,
// failure_count reset, last_seen bumped. No-op if unknown.
func (m *Manager) RecordSuccess(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.peers[id]; ok {
		info.ReputationScore++
		info.FailureCount = 0
		info.LastSeen = time.Now()
	}
}

// RecordFailure applies the §4.3 failure update: failure_count += 1,
// reputation -= 2. No-op if unknown.
func (m *Manager) RecordFailure(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.peers[id]; ok {
		info.FailureCount++
		info.ReputationScore -= 2
	}
}

// ShouldBlacklist reports whether a peer crossed the blacklist threshold
// (Invariant 9). Unknown peers are never blacklisted.
func (m *Manager) ShouldBlacklist(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.peers[id]
	if !ok {
		return false
	}
	return m.shouldBlacklistLocked(info)
}

func (m *Manager) shouldBlacklistLocked(info *Info) bool {
	return info.ReputationScore <= m.cfg.BlacklistThreshold || info.FailureCount >= m.cfg.MaxFailures
}

// GetBestPeers returns up to n non-connected, non-blacklisted peers ordered
// by reputation DESC then last_seen ASC (§4.3).
func (m *Manager) GetBestPeers(n int) []*Info {
	m.mu.RLock()
	candidates := make([]*Info, 0, len(m.peers))
	for _, info := range m.peers {
		if info.IsConnected || m.shouldBlacklistLocked(info) {
			continue
		}
		candidates = append(candidates, info.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ReputationScore != candidates[j].ReputationScore {
			return candidates[i].ReputationScore > candidates[j].ReputationScore
		}
		return candidates[i].LastSeen.Before(candidates[j].LastSeen)
	})
	if n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates
}

// DecayInactive nudges the reputation of peers unseen for longer than
// maxIdle one point toward zero. Supplemental behavior (see SPEC_FULL.md):
// keeps a briefly-penalized peer from staying blacklisted forever purely
// because it went quiet rather than reconnecting.
func (m *Manager) DecayInactive(maxIdle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for _, info := range m.peers {
		if info.IsConnected || info.LastSeen.After(cutoff) {
			continue
		}
		switch {
		case info.ReputationScore > 0:
			info.ReputationScore--
		case info.ReputationScore < 0:
			info.ReputationScore++
		}
	}
}

// Len returns the number of known peers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// All returns a defensive snapshot of every known peer, used by the status
// API and debug tooling.
func (m *Manager) All() []*Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Info, 0, len(m.peers))
	for _, info := range m.peers {
		out = append(out, info.snapshot())
	}
	return out
}
