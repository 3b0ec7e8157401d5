package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/postchain/node/peer"
	"github.com/postchain/node/transport"
	"github.com/postchain/node/wire"
)

func TestRelayBroadcastsToOtherPeers(t *testing.T) {
	peers := peer.NewManager(peer.DefaultConfig())

	var serverConns = make(chan *transport.PeerConnection, 4)
	server := transport.New(transport.DefaultConfig(), peers, func(pc *transport.PeerConnection) {
		serverConns <- pc
	})
	require.NoError(t, server.Start(peer.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 0}))
	defer server.Stop()

	cfg := DefaultConfig()
	r := New(cfg, server, peers)
	defer r.Shutdown()

	// The relay broadcasts to connections registered on `server`'s own
	// active map, so dial a peer into server directly to exercise the
	// worker's send path.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outbound, err := server.Connect(ctx, peer.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: server.ListenPort()}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, outbound)

	var inbound *transport.PeerConnection
	select {
	case inbound = <-serverConns:
	case <-time.After(time.Second):
		t.Fatal("server never accepted loopback connection")
	}

	tx, err := wire.NewTransaction([]byte("payload"))
	require.NoError(t, err)
	r.Broadcast(tx, "someone-else")

	got, err := inbound.Receive()
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, wire.TypeTransaction, got.Type())

	_ = outbound
}

// TestRelayDuplicatesCounterOnlyCountsActualDuplicates guards §4.12's
// "drop (tracked)" semantics: a message rejected for being non-relayable
// is dropped but is not a duplicate, and must not inflate the duplicates
// counter the way an actually-seen-before message does.
func TestRelayDuplicatesCounterOnlyCountsActualDuplicates(t *testing.T) {
	peers := peer.NewManager(peer.DefaultConfig())
	tp := transport.New(transport.DefaultConfig(), peers, nil)
	require.NoError(t, tp.Start(peer.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 0}))
	defer tp.Stop()

	r := New(DefaultConfig(), tp, peers)
	defer r.Shutdown()

	hb := wire.NewHeartbeat() // not a relayable type
	require.False(t, r.Relay(hb, "peer-1"))
	relayed, duplicates, dropped := r.Counters()
	require.Equal(t, int64(0), relayed)
	require.Equal(t, int64(0), duplicates)
	require.Equal(t, int64(1), dropped)

	tx, err := wire.NewTransaction([]byte("payload"))
	require.NoError(t, err)
	require.True(t, r.Relay(tx, "peer-1"))
	require.False(t, r.Relay(tx, "peer-1")) // same message again: an actual duplicate

	relayed, duplicates, dropped = r.Counters()
	require.Equal(t, int64(0), relayed) // no connected peers, so nothing was sent

	require.Equal(t, int64(1), duplicates)
	require.Equal(t, int64(2), dropped)
}
