// Package chainstore declares the external contracts the networking core
// consumes but does not implement (§6 "Chain-store contract consumed by the
// core", §2 "External contracts"): chain metadata, block/header/body
// storage, transaction indexing, account state, a write-batch abstraction,
// and the async block validator. Concrete storage lives outside this
// module; chainsync and relay depend only on these interfaces, the way the
// teacher's core/blockchain.go and probedb.Database separate the chain
// logic from the underlying KV engine.
package chainstore

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Metadata exposes the chain's current tip.
type Metadata interface {
	GetChainHeight(ctx context.Context) (*int64, error)
	SetChainHeight(ctx context.Context, height int64) error
	GetBestBlockHash(ctx context.Context) (*chainhash.Hash, error)
	SetBestBlockHash(ctx context.Context, hash chainhash.Hash) error
}

// Header is the minimal shape chainsync needs of a block header: its
// height and its own hash (via Serializer's ComputeHash), without
// depending on the full block data model. It exposes no predecessor hash.
type Header interface {
	Serializer
	Height() int64
}

// Block is the full downloaded unit stored once validated.
type Block interface {
	Serializer
	Height() int64
}

// Body is a block's transaction/proof payload, stored separately from its
// header per the chain-store contract.
type Body interface {
	Serializer
}

// Serializer is implemented by every block/header/transaction/proof type
// consumed from the external data model (§6).
type Serializer interface {
	Serialize() ([]byte, error)
	ComputeHash() (chainhash.Hash, error)
}

// Blocks is the block/header/body storage surface.
type Blocks interface {
	StoreBlock(ctx context.Context, block Block) error
	StoreHeader(ctx context.Context, header Header) error
	StoreBody(ctx context.Context, hash chainhash.Hash, body Body) error
	GetHeaderByHash(ctx context.Context, hash chainhash.Hash) (Header, error)
	GetHeaderByHeight(ctx context.Context, height int64) (Header, error)
	GetBlockByHash(ctx context.Context, hash chainhash.Hash) (Block, error)
	GetBlockByHeight(ctx context.Context, height int64) (Block, error)
	Exists(ctx context.Context, hash chainhash.Hash) (bool, error)
}

// Transactions is the transaction index.
type Transactions interface {
	IndexTransaction(ctx context.Context, txHash, blockHash chainhash.Hash, height int64, txIndex int32) error
	GetTransactionLocation(ctx context.Context, txHash chainhash.Hash) (blockHash chainhash.Hash, height int64, txIndex int32, err error)
	GetTransaction(ctx context.Context, txHash chainhash.Hash) ([]byte, error)
}

// Accounts is the account state store; addresses are the spec's 33-byte
// compressed-key form, matching ProofSubmissionMessage's MinerID encoding.
type Accounts interface {
	StoreAccount(ctx context.Context, addr [33]byte, state []byte) error
	GetAccount(ctx context.Context, addr [33]byte) ([]byte, error)
	Exists(ctx context.Context, addr [33]byte) (bool, error)
	DeleteAccount(ctx context.Context, addr [33]byte) error
}

// WriteBatch buffers puts for atomic commit.
type WriteBatch interface {
	Put(key, value []byte)
}

// Storage is the top-level handle the core is handed; it composes the
// contract surfaces above plus batch/maintenance operations.
type Storage interface {
	Metadata() Metadata
	Blocks() Blocks
	Transactions() Transactions
	Accounts() Accounts
	NewBatch() WriteBatch
	Commit(ctx context.Context, batch WriteBatch) error
	Compact(ctx context.Context) error
	CheckIntegrity(ctx context.Context) error
}

// Codec turns raw bytes off the wire into the external data model's
// Header/Block types (§6 "header/deserialize(bytes)"), the counterpart to
// Serializer.Serialize.
type Codec interface {
	DecodeHeader(raw []byte) (Header, error)
	DecodeBlock(raw []byte) (Block, error)
}

// ValidationResult is the block validator's verdict.
type ValidationResult struct {
	Valid  bool
	Reason string
}

// Validator is the external, asynchronous block validator (§6).
type Validator interface {
	ValidateBlock(ctx context.Context, block Block) (ValidationResult, error)
}
