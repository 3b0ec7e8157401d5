package chainsync

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/postchain/node/chainstore"
	"github.com/postchain/node/peer"
	"github.com/postchain/node/transport"
	"github.com/postchain/node/wire"
	"github.com/postchain/node/wireerr"
)

// ---- fake chain model ------------------------------------------------------

func fakeHashFor(height int64) chainhash.Hash {
	var h chainhash.Hash
	binary.BigEndian.PutUint64(h[:8], uint64(height))
	return h
}

type fakeHeader struct {
	height int64
	hash   chainhash.Hash
}

func (h *fakeHeader) Serialize() ([]byte, error)             { return encodeFake(h.height, h.hash), nil }
func (h *fakeHeader) ComputeHash() (chainhash.Hash, error)    { return h.hash, nil }
func (h *fakeHeader) Height() int64                           { return h.height }

type fakeBlock struct {
	height int64
	hash   chainhash.Hash
}

func (b *fakeBlock) Serialize() ([]byte, error)          { return encodeFake(b.height, b.hash), nil }
func (b *fakeBlock) ComputeHash() (chainhash.Hash, error) { return b.hash, nil }
func (b *fakeBlock) Height() int64                        { return b.height }

func encodeFake(height int64, hash chainhash.Hash) []byte {
	buf := make([]byte, 8+len(hash))
	binary.BigEndian.PutUint64(buf[:8], uint64(height))
	copy(buf[8:], hash[:])
	return buf
}

func decodeFake(raw []byte) (int64, chainhash.Hash, bool) {
	if len(raw) < 8+chainhash.HashSize {
		return 0, chainhash.Hash{}, false
	}
	height := int64(binary.BigEndian.Uint64(raw[:8]))
	var hash chainhash.Hash
	copy(hash[:], raw[8:8+chainhash.HashSize])
	return height, hash, true
}

type fakeCodec struct{}

func (fakeCodec) DecodeHeader(raw []byte) (chainstore.Header, error) {
	height, hash, ok := decodeFake(raw)
	if !ok {
		return nil, errBadFakeBlob
	}
	return &fakeHeader{height: height, hash: hash}, nil
}

func (fakeCodec) DecodeBlock(raw []byte) (chainstore.Block, error) {
	height, hash, ok := decodeFake(raw)
	if !ok {
		return nil, errBadFakeBlob
	}
	return &fakeBlock{height: height, hash: hash}, nil
}

var errBadFakeBlob = &fakeErr{"malformed fake blob"}

type fakeErr struct{ s string }

func (e *fakeErr) Error() string { return e.s }

type alwaysValid struct{}

func (alwaysValid) ValidateBlock(ctx context.Context, block chainstore.Block) (chainstore.ValidationResult, error) {
	return chainstore.ValidationResult{Valid: true}, nil
}

// ---- in-memory storage ------------------------------------------------------

type memStorage struct {
	mu     sync.Mutex
	height int64
	best   chainhash.Hash
	blocks map[int64]chainstore.Block
	order  []int64
}

func newMemStorage() *memStorage {
	return &memStorage{blocks: make(map[int64]chainstore.Block)}
}

func (m *memStorage) Metadata() chainstore.Metadata { return m }
func (m *memStorage) Blocks() chainstore.Blocks      { return m }
func (m *memStorage) Transactions() chainstore.Transactions { return nil }
func (m *memStorage) Accounts() chainstore.Accounts  { return nil }
func (m *memStorage) NewBatch() chainstore.WriteBatch { return nil }
func (m *memStorage) Commit(ctx context.Context, b chainstore.WriteBatch) error { return nil }
func (m *memStorage) Compact(ctx context.Context) error                        { return nil }
func (m *memStorage) CheckIntegrity(ctx context.Context) error                 { return nil }

func (m *memStorage) GetChainHeight(ctx context.Context) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.height
	return &h, nil
}

func (m *memStorage) SetChainHeight(ctx context.Context, height int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height = height
	return nil
}

func (m *memStorage) GetBestBlockHash(ctx context.Context) (*chainhash.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.best
	return &h, nil
}

func (m *memStorage) SetBestBlockHash(ctx context.Context, hash chainhash.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.best = hash
	return nil
}

func (m *memStorage) StoreBlock(ctx context.Context, block chainstore.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[block.Height()] = block
	m.order = append(m.order, block.Height())
	return nil
}

func (m *memStorage) StoreHeader(ctx context.Context, header chainstore.Header) error { return nil }
func (m *memStorage) StoreBody(ctx context.Context, hash chainhash.Hash, body chainstore.Body) error {
	return nil
}
func (m *memStorage) GetHeaderByHash(ctx context.Context, hash chainhash.Hash) (chainstore.Header, error) {
	return nil, nil
}
func (m *memStorage) GetHeaderByHeight(ctx context.Context, height int64) (chainstore.Header, error) {
	return nil, nil
}
func (m *memStorage) GetBlockByHash(ctx context.Context, hash chainhash.Hash) (chainstore.Block, error) {
	return nil, nil
}
func (m *memStorage) GetBlockByHeight(ctx context.Context, height int64) (chainstore.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[height]
	if !ok {
		return nil, nil
	}
	return b, nil
}
func (m *memStorage) Exists(ctx context.Context, hash chainhash.Hash) (bool, error) { return false, nil }

// ---- fake remote peer --------------------------------------------------------

// serveFakePeer answers GetHeaders with heights [1, total] and GetBlock with
// the block matching the requested hash, until the connection closes.
func serveFakePeer(t *testing.T, conn *transport.PeerConnection, total int64) {
	t.Helper()
	go func() {
		for {
			msg, err := conn.Receive()
			if err != nil || msg == nil {
				return
			}
			switch m := msg.(type) {
			case *wire.GetHeadersMessage:
				var raws [][]byte
				for h := int64(1); h <= total; h++ {
					raws = append(raws, encodeFake(h, fakeHashFor(h)))
				}
				resp, err := wire.NewHeaders(raws)
				if err != nil {
					return
				}
				if err := conn.Send(resp); err != nil {
					return
				}
			case *wire.GetBlockMessage:
				height := int64(binary.BigEndian.Uint64(m.BlockHash[:8]))
				resp, err := wire.NewBlockMsg(encodeFake(height, fakeHashFor(height)))
				if err != nil {
					return
				}
				if err := conn.Send(resp); err != nil {
					return
				}
			}
		}
	}()
}

// dialLoopback starts a fake-remote ConnectionManager on its own listener
// and a separate client ConnectionManager (the one passed to the
// BlockSynchronizer under test) that dials it. Each connection object the
// client sees has exactly one peer on the other end, unlike dialing a
// manager into itself.
func dialLoopback(t *testing.T) (client *transport.ConnectionManager, clientPeers *peer.Manager, remote *transport.PeerConnection) {
	t.Helper()
	clientPeers = peer.NewManager(peer.DefaultConfig())
	remotePeers := peer.NewManager(peer.DefaultConfig())

	remoteConns := make(chan *transport.PeerConnection, 4)
	remoteTp := transport.New(transport.DefaultConfig(), remotePeers, func(pc *transport.PeerConnection) {
		remoteConns <- pc
	})
	require.NoError(t, remoteTp.Start(peer.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 0}))
	t.Cleanup(remoteTp.Stop)

	client = transport.New(transport.DefaultConfig(), clientPeers, nil)

	dialCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := client.Connect(dialCtx, peer.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: remoteTp.ListenPort()}, time.Second)
	require.NoError(t, err)

	select {
	case remote = <-remoteConns:
	case <-time.After(time.Second):
		t.Fatal("remote never accepted loopback connection")
	}
	return client, clientPeers, remote
}

// TestBlockSynchronizerReachesSyncedInOrder is the S6 "sync happy path"
// scenario: genesis (height 0), one peer advertising 5 headers producing
// heights 1..5, sync reaches Synced with blocks 1..5 stored in order and
// blocks_validated == 5.
func TestBlockSynchronizerReachesSyncedInOrder(t *testing.T) {
	client, clientPeers, remote := dialLoopback(t)
	serveFakePeer(t, remote, 5)

	store := newMemStorage()
	cfg := DefaultConfig()
	cfg.DownloadTimeout = 2 * time.Second
	cfg.ParallelDownloads = 2
	sync := New(cfg, client, clientPeers, store, fakeCodec{}, alwaysValid{})

	ctx, cancelRun := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelRun()
	require.NoError(t, sync.Start(ctx))

	progress := sync.Progress()
	require.Equal(t, StateSynced, progress.State)
	require.Equal(t, int64(5), progress.CurrentHeight)
	require.Equal(t, int64(5), progress.BlocksDownloaded)
	require.Equal(t, int64(5), progress.BlocksValidated)
	require.Greater(t, progress.BytesDownloaded, int64(0))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, []int64{1, 2, 3, 4, 5}, store.order)
	require.Equal(t, int64(5), store.height)
}

type toggleValidator struct {
	mu     sync.Mutex
	accept bool
}

func (v *toggleValidator) setAccept(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accept = b
}

func (v *toggleValidator) ValidateBlock(ctx context.Context, block chainstore.Block) (chainstore.ValidationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.accept {
		return chainstore.ValidationResult{Valid: true}, nil
	}
	return chainstore.ValidationResult{Valid: false, Reason: "rejected"}, nil
}

func TestBlockSynchronizerResumeSkipsHeadersWhenConsistent(t *testing.T) {
	client, clientPeers, remote := dialLoopback(t)

	var headersRequests int32
	go func() {
		for {
			msg, err := remote.Receive()
			if err != nil || msg == nil {
				return
			}
			switch m := msg.(type) {
			case *wire.GetHeadersMessage:
				atomic.AddInt32(&headersRequests, 1)
				var raws [][]byte
				for h := int64(1); h <= 3; h++ {
					raws = append(raws, encodeFake(h, fakeHashFor(h)))
				}
				resp, err := wire.NewHeaders(raws)
				if err != nil {
					return
				}
				if err := remote.Send(resp); err != nil {
					return
				}
			case *wire.GetBlockMessage:
				height := int64(binary.BigEndian.Uint64(m.BlockHash[:8]))
				resp, err := wire.NewBlockMsg(encodeFake(height, fakeHashFor(height)))
				if err != nil {
					return
				}
				if err := remote.Send(resp); err != nil {
					return
				}
			}
		}
	}()

	store := newMemStorage()
	cfg := DefaultConfig()
	cfg.DownloadTimeout = 2 * time.Second
	cfg.MaxRetries = 1
	cfg.ParallelDownloads = 1
	validator := &toggleValidator{}
	sync := New(cfg, client, clientPeers, store, fakeCodec{}, validator)

	err := sync.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailed, sync.Progress().State)
	firstRoundRequests := atomic.LoadInt32(&headersRequests)
	require.Greater(t, firstRoundRequests, int32(0))

	validator.setAccept(true)
	require.NoError(t, sync.Resume(context.Background()))
	require.Equal(t, StateSynced, sync.Progress().State)
	require.Equal(t, firstRoundRequests, atomic.LoadInt32(&headersRequests), "resume should not re-request headers")

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, []int64{1, 2, 3}, store.order)
}

func TestBlockSynchronizerFailsWithoutPeers(t *testing.T) {
	peers := peer.NewManager(peer.DefaultConfig())
	server := transport.New(transport.DefaultConfig(), peers, nil)
	require.NoError(t, server.Start(peer.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 0}))
	defer server.Stop()

	store := newMemStorage()
	sync := New(DefaultConfig(), server, peers, store, fakeCodec{}, alwaysValid{})

	err := sync.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailed, sync.Progress().State)
}

// serveFakePeerOnceThenStall answers exactly one GetHeaders request with a
// batch reporting `total` headers and then stops servicing the connection,
// so a second round-trip (issued by the headers phase) blocks until the
// caller's context is cancelled.
func serveFakePeerOnceThenStall(t *testing.T, conn *transport.PeerConnection, total int64) {
	t.Helper()
	go func() {
		msg, err := conn.Receive()
		if err != nil || msg == nil {
			return
		}
		if _, ok := msg.(*wire.GetHeadersMessage); !ok {
			return
		}
		var raws [][]byte
		for h := int64(1); h <= total; h++ {
			raws = append(raws, encodeFake(h, fakeHashFor(h)))
		}
		resp, err := wire.NewHeaders(raws)
		if err != nil {
			return
		}
		_ = conn.Send(resp)
	}()
}

func TestBlockSynchronizerStopCancelsRun(t *testing.T) {
	client, clientPeers, remote := dialLoopback(t)
	serveFakePeerOnceThenStall(t, remote, 10)

	store := newMemStorage()
	cfg := DefaultConfig()
	cfg.DownloadTimeout = 10 * time.Second
	sync := New(cfg, client, clientPeers, store, fakeCodec{}, alwaysValid{})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- sync.Start(context.Background())
	}()
	<-started
	time.Sleep(100 * time.Millisecond)
	sync.Stop()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start never returned after Stop")
	}

	require.ErrorIs(t, runErr, wireerr.ErrCancelled)
	require.Equal(t, StateCancelled, sync.Progress().State)
}
