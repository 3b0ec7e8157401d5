package addrbook

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/postchain/node/peer"
)

func ep(ip string, port uint16) peer.Endpoint {
	return peer.Endpoint{IP: net.ParseIP(ip), Port: port}
}

func TestAddRejectsPrivateByDefault(t *testing.T) {
	b := New(DefaultConfig())
	err := b.Add(ep("10.0.0.5", 9000), "manual")
	require.Error(t, err)
	require.Equal(t, 0, b.Len())
}

func TestAddAllowsPrivateWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowPrivate = true
	b := New(cfg)
	require.NoError(t, b.Add(ep("10.0.0.5", 9000), "manual"))
	require.Equal(t, 1, b.Len())
}

func TestAddEnforcesSubnetCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowPrivate = true
	cfg.MaxAddressesPerSubnet = 2
	b := New(cfg)

	require.NoError(t, b.Add(ep("203.0.113.1", 9000), "manual"))
	require.NoError(t, b.Add(ep("203.0.113.2", 9000), "manual"))
	err := b.Add(ep("203.0.113.3", 9000), "manual")
	require.Error(t, err)
	require.Equal(t, 2, b.Len())
}

func TestEvictOnCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowPrivate = true
	cfg.MaxAddresses = 2
	cfg.MaxAddressesPerSubnet = 100
	b := New(cfg)

	require.NoError(t, b.Add(ep("203.0.113.1", 1), "manual"))
	require.NoError(t, b.Add(ep("203.0.113.2", 1), "manual"))
	b.RecordSuccess(ep("203.0.113.2", 1))

	require.NoError(t, b.Add(ep("203.0.113.3", 1), "manual"))
	require.Equal(t, 2, b.Len())
	_, stillThere := b.Get(ep("203.0.113.2", 1))
	require.True(t, stillThere)
}

func TestGetBestAddressesOrderingAndExclusion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowPrivate = true
	b := New(cfg)

	a, c := ep("203.0.113.1", 1), ep("203.0.113.3", 1)
	bEp := ep("203.0.113.2", 1)
	require.NoError(t, b.Add(a, "manual"))
	require.NoError(t, b.Add(bEp, "manual"))
	require.NoError(t, b.Add(c, "manual"))

	b.RecordSuccess(a)
	b.RecordFailure(bEp)

	best := b.GetBestAddresses(10, []string{c.String()})
	require.Len(t, best, 2)
	require.Equal(t, a.String(), best[0].key())
}

func TestRemoveStale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowPrivate = true
	b := New(cfg)
	require.NoError(t, b.Add(ep("203.0.113.1", 1), "manual"))

	removed := b.RemoveStale(-time.Second)
	require.Equal(t, 1, removed)
	require.Equal(t, 0, b.Len())
}

func TestQualityScoreDefault(t *testing.T) {
	a := newAddress(ep("203.0.113.1", 1), "manual")
	require.Equal(t, 0.5, a.QualityScore())
}
