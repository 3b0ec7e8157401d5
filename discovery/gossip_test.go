package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/postchain/node/addrbook"
	"github.com/postchain/node/peer"
	"github.com/postchain/node/wire"
)

func TestProcessReceivedAddressesInsertsNewEndpoints(t *testing.T) {
	cfg := addrbook.DefaultConfig()
	cfg.AllowPrivate = true
	book := addrbook.New(cfg)

	g := NewPeerGossiper(DefaultGossipConfig(), book, nil)
	endpoints := []wire.PeerEndpoint{
		{Address: net.ParseIP("203.0.113.1"), Port: 9000},
		{Address: net.ParseIP("203.0.113.2"), Port: 9000},
	}
	g.ProcessReceivedAddresses(endpoints, "sender-1")

	require.Equal(t, 2, book.Len())
	a, ok := book.Get(peer.Endpoint{IP: net.ParseIP("203.0.113.1"), Port: 9000})
	require.True(t, ok)
	require.Equal(t, "gossip:sender-1", a.Source)
}

func TestProcessReceivedAddressesDedupsWithinBatch(t *testing.T) {
	cfg := addrbook.DefaultConfig()
	cfg.AllowPrivate = true
	book := addrbook.New(cfg)

	g := NewPeerGossiper(DefaultGossipConfig(), book, nil)
	ep := wire.PeerEndpoint{Address: net.ParseIP("203.0.113.5"), Port: 9000}
	g.ProcessReceivedAddresses([]wire.PeerEndpoint{ep, ep, ep}, "sender-1")

	require.Equal(t, 1, book.Len())
}

func TestProcessReceivedAddressesWithinDedupWindowRecordsSuccess(t *testing.T) {
	cfg := addrbook.DefaultConfig()
	cfg.AllowPrivate = true
	book := addrbook.New(cfg)
	endpoint := peer.Endpoint{IP: net.ParseIP("203.0.113.9"), Port: 9000}
	require.NoError(t, book.Add(endpoint, "manual"))

	g := NewPeerGossiper(DefaultGossipConfig(), book, nil)
	wireEP := wire.PeerEndpoint{Address: endpoint.IP, Port: endpoint.Port}
	g.ProcessReceivedAddresses([]wire.PeerEndpoint{wireEP}, "sender-1")
	g.ProcessReceivedAddresses([]wire.PeerEndpoint{wireEP}, "sender-1")

	a, ok := book.Get(endpoint)
	require.True(t, ok)
	require.EqualValues(t, 1, a.SuccessCount)
}
