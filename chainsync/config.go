// Package chainsync implements the multi-phase block synchronizer (§4.13):
// Discover, Headers, Blocks, Validating. Discover probes peers through an
// errgroup; block downloads run on a fixed pool of ParallelDownloads
// goroutines fed by a channel. Grounded on neo-go's header-first
// request/response sync handlers (fetch headers, then fetch bodies, then
// commit in order), generalized to the four explicit phases this protocol
// describes.
package chainsync

import "time"

// Config holds every BlockSynchronizer tunable (§6 SyncConfig defaults).
type Config struct {
	MaxPeers                   int
	ParallelDownloads          int
	MaxHeadersPerRequest       int32
	MaxRetries                 int
	DownloadTimeout            time.Duration
	IBDThresholdBlocks         int64
	ProgressUpdateInterval     time.Duration
	EnableBandwidthThrottling  bool
	MaxBandwidthBytesPerSecond int64
}

// DefaultConfig returns the §6-documented defaults.
func DefaultConfig() Config {
	const mib = 1 << 20
	return Config{
		MaxPeers:                   8,
		ParallelDownloads:          4,
		MaxHeadersPerRequest:       2000,
		MaxRetries:                 3,
		DownloadTimeout:            30 * time.Second,
		IBDThresholdBlocks:         1000,
		ProgressUpdateInterval:     time.Second,
		EnableBandwidthThrottling:  true,
		MaxBandwidthBytesPerSecond: 10 * mib,
	}
}
