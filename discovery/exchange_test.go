package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/postchain/node/addrbook"
	"github.com/postchain/node/peer"
	"github.com/postchain/node/wire"
)

func TestHandlePeerRequestReturnsBestAddresses(t *testing.T) {
	cfg := addrbook.DefaultConfig()
	cfg.AllowPrivate = true
	book := addrbook.New(cfg)
	require.NoError(t, book.Add(peer.Endpoint{IP: net.ParseIP("203.0.113.1"), Port: 1}, "manual"))
	require.NoError(t, book.Add(peer.Endpoint{IP: net.ParseIP("203.0.113.2"), Port: 1}, "manual"))

	x := NewPeerExchange(DefaultExchangeConfig(), book)
	req, err := wire.NewGetPeers(10, nil)
	require.NoError(t, err)

	resp, err := x.HandlePeerRequest(req, "requester-1")
	require.NoError(t, err)
	require.Len(t, resp.Endpoints, 2)
}

func TestHandlePeerRequestTooSoonReturnsEmpty(t *testing.T) {
	cfg := addrbook.DefaultConfig()
	cfg.AllowPrivate = true
	book := addrbook.New(cfg)
	require.NoError(t, book.Add(peer.Endpoint{IP: net.ParseIP("203.0.113.1"), Port: 1}, "manual"))

	x := NewPeerExchange(DefaultExchangeConfig(), book)
	req, err := wire.NewGetPeers(10, nil)
	require.NoError(t, err)

	_, err = x.HandlePeerRequest(req, "requester-1")
	require.NoError(t, err)
	resp2, err := x.HandlePeerRequest(req, "requester-1")
	require.NoError(t, err)
	require.Len(t, resp2.Endpoints, 0)
}
