package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanSendRespectsPerPeerCap(t *testing.T) {
	bm := NewBandwidthMonitor(BandwidthConfig{MaxBytesPerSecondPerPeer: 100, MaxTotalBytesPerSecond: 1000})
	require.True(t, bm.CanSend("p1", 100))
	bm.RecordSent("p1", 100)
	require.False(t, bm.CanSend("p1", 1))
}

func TestCanSendRespectsGlobalCap(t *testing.T) {
	bm := NewBandwidthMonitor(BandwidthConfig{MaxBytesPerSecondPerPeer: 1000, MaxTotalBytesPerSecond: 150})
	require.True(t, bm.CanSend("p1", 100))
	bm.RecordSent("p1", 100)
	require.True(t, bm.CanSend("p2", 50))
	bm.RecordSent("p2", 50)
	require.False(t, bm.CanSend("p1", 1))
}
