package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/postchain/node/peer"
	"github.com/postchain/node/wire"
)

func TestConnectAndAcceptRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 10

	var acceptedMu = make(chan *PeerConnection, 1)
	server := New(cfg, peer.NewManager(peer.DefaultConfig()), func(pc *PeerConnection) {
		select {
		case acceptedMu <- pc:
		default:
		}
	})
	require.NoError(t, server.Start(peer.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 0}))
	defer server.Stop()

	addr := server.ln.Addr().(*net.TCPAddr)

	client := New(cfg, peer.NewManager(peer.DefaultConfig()), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	clientConn, err := client.Connect(ctx, peer.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: uint16(addr.Port)}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, clientConn)

	var serverConn *PeerConnection
	select {
	case serverConn = <-acceptedMu:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted connection")
	}

	hs := wire.NewHeartbeat()
	require.NoError(t, clientConn.Send(hs))

	got, err := serverConn.Receive()
	require.NoError(t, err)
	require.Equal(t, wire.TypeHeartbeat, got.Type())
}

func TestMaxConnectionsCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1

	cm := New(cfg, nil, nil)
	cm.active["existing"] = &PeerConnection{closed: make(chan struct{})}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pc, err := cm.Connect(ctx, peer.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 1}, time.Second)
	require.NoError(t, err)
	require.Nil(t, pc)
}

func TestDisconnectRemovesFromRegistry(t *testing.T) {
	cfg := DefaultConfig()
	// Dial a separate listener: dialing cm's own listener would also
	// register the accepted inbound side in cm.
	server := New(cfg, nil, nil)
	require.NoError(t, server.Start(peer.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 0}))
	defer server.Stop()

	cm := New(cfg, peer.NewManager(peer.DefaultConfig()), nil)
	defer cm.Stop()

	addr := server.ln.Addr().(*net.TCPAddr)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pc, err := cm.Connect(ctx, peer.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: uint16(addr.Port)}, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, cm.Len())

	cm.Disconnect(pc.ID())
	require.Equal(t, 0, cm.Len())
}
