package node

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"

	"github.com/postchain/node/chainstore"
	"github.com/postchain/node/peer"
)

type nopMetadata struct{}

func (nopMetadata) GetChainHeight(ctx context.Context) (*int64, error) { return nil, nil }
func (nopMetadata) SetChainHeight(ctx context.Context, height int64) error { return nil }
func (nopMetadata) GetBestBlockHash(ctx context.Context) (*chainhash.Hash, error) { return nil, nil }
func (nopMetadata) SetBestBlockHash(ctx context.Context, hash chainhash.Hash) error { return nil }

type nopBlocks struct{}

func (nopBlocks) StoreBlock(ctx context.Context, block chainstore.Block) error { return nil }
func (nopBlocks) StoreHeader(ctx context.Context, header chainstore.Header) error { return nil }
func (nopBlocks) StoreBody(ctx context.Context, hash chainhash.Hash, body chainstore.Body) error {
	return nil
}
func (nopBlocks) GetHeaderByHash(ctx context.Context, hash chainhash.Hash) (chainstore.Header, error) {
	return nil, nil
}
func (nopBlocks) GetHeaderByHeight(ctx context.Context, height int64) (chainstore.Header, error) {
	return nil, nil
}
func (nopBlocks) GetBlockByHash(ctx context.Context, hash chainhash.Hash) (chainstore.Block, error) {
	return nil, nil
}
func (nopBlocks) GetBlockByHeight(ctx context.Context, height int64) (chainstore.Block, error) {
	return nil, nil
}
func (nopBlocks) Exists(ctx context.Context, hash chainhash.Hash) (bool, error) { return false, nil }

type nopStorage struct {
	nopMetadata
	nopBlocks
}

func (s nopStorage) Metadata() chainstore.Metadata         { return s.nopMetadata }
func (s nopStorage) Blocks() chainstore.Blocks             { return s.nopBlocks }
func (s nopStorage) Transactions() chainstore.Transactions { return nil }
func (s nopStorage) Accounts() chainstore.Accounts         { return nil }
func (s nopStorage) NewBatch() chainstore.WriteBatch       { return nil }
func (s nopStorage) Commit(ctx context.Context, batch chainstore.WriteBatch) error { return nil }
func (s nopStorage) Compact(ctx context.Context) error       { return nil }
func (s nopStorage) CheckIntegrity(ctx context.Context) error { return nil }

type nopCodec struct{}

func (nopCodec) DecodeHeader(raw []byte) (chainstore.Header, error) { return nil, nil }
func (nopCodec) DecodeBlock(raw []byte) (chainstore.Block, error)   { return nil, nil }

type nopValidator struct{}

func (nopValidator) ValidateBlock(ctx context.Context, block chainstore.Block) (chainstore.ValidationResult, error) {
	return chainstore.ValidationResult{Valid: true}, nil
}

// TestDefaultConfigIsDeterministic guards against a subsystem's
// DefaultConfig accidentally depending on ambient state (time, map
// iteration order): two calls must compose into byte-identical configs.
// pretty.Compare renders a readable diff on failure instead of a %+v wall
// of text.
func TestDefaultConfigIsDeterministic(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	if diff := pretty.Compare(a, b); diff != "" {
		t.Fatalf("DefaultConfig is not deterministic:\n%s", diff)
	}
}

func TestNodeStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenEndpoint = peer.Endpoint{IP: []byte{127, 0, 0, 1}, Port: 0}
	cfg.API.ListenAddress = "127.0.0.1:0"

	n, err := New(cfg, nopStorage{}, nopCodec{}, nopValidator{}, nil)
	require.NoError(t, err)

	require.NoError(t, n.Start())
	require.NotNil(t, n.Relay())
	require.NotNil(t, n.Synchronizer())
	require.NotNil(t, n.AddressBook())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Stop(ctx))
}
