package relay

import (
	"sync"
	"time"
)

// BandwidthConfig holds BandwidthMonitor tunables (§4.10, §6 defaults).
type BandwidthConfig struct {
	MaxBytesPerSecondPerPeer int64
	MaxTotalBytesPerSecond   int64
}

// DefaultBandwidthConfig returns the §6-documented defaults: 1 MiB/s per
// peer, 10 MiB/s global.
func DefaultBandwidthConfig() BandwidthConfig {
	const mib = 1 << 20
	return BandwidthConfig{MaxBytesPerSecondPerPeer: 1 * mib, MaxTotalBytesPerSecond: 10 * mib}
}

// BandwidthMonitor tracks per-peer and global byte counters reset every
// whole wall-clock second (§4.10).
type BandwidthMonitor struct {
	cfg BandwidthConfig

	mu          sync.Mutex
	globalSec   int64
	globalBytes int64
	peerSec     map[string]int64
	peerBytes   map[string]int64
}

// NewBandwidthMonitor constructs an empty BandwidthMonitor.
func NewBandwidthMonitor(cfg BandwidthConfig) *BandwidthMonitor {
	return &BandwidthMonitor{
		cfg:       cfg,
		peerSec:   make(map[string]int64),
		peerBytes: make(map[string]int64),
	}
}

func (b *BandwidthMonitor) resetIfAdvancedLocked(peer string, nowSec int64) {
	if b.globalSec != nowSec {
		b.globalSec = nowSec
		b.globalBytes = 0
	}
	if b.peerSec[peer] != nowSec {
		b.peerSec[peer] = nowSec
		b.peerBytes[peer] = 0
	}
}

// CanSend reports whether sending n additional bytes to peer stays within
// both the per-peer and global per-second caps (§4.10).
func (b *BandwidthMonitor) CanSend(peer string, n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	nowSec := time.Now().Unix()
	b.resetIfAdvancedLocked(peer, nowSec)
	return b.globalBytes+n <= b.cfg.MaxTotalBytesPerSecond && b.peerBytes[peer]+n <= b.cfg.MaxBytesPerSecondPerPeer
}

// RecordSent increments both the per-peer and global counters.
func (b *BandwidthMonitor) RecordSent(peer string, n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	nowSec := time.Now().Unix()
	b.resetIfAdvancedLocked(peer, nowSec)
	b.globalBytes += n
	b.peerBytes[peer] += n
}
