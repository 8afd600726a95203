// Package store defines the storage contract the core depends on
// (§6.2) and a concrete SQLite-backed implementation of it.
package store

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/opcustody/vaultindex/internal/headers"
)

// VaultAction mirrors the vault state-transition kinds, stored as
// text so ad-hoc queries against the database stay readable.
type VaultAction string

const (
	ActionOpen     VaultAction = "open"
	ActionDeposit  VaultAction = "deposit"
	ActionWithdraw VaultAction = "withdraw"
	ActionBorrow   VaultAction = "borrow"
	ActionRepay    VaultAction = "repay"
)

// DialectVersion records which OP_RETURN wire dialect produced a row.
type DialectVersion string

const (
	DialectLegacy  DialectVersion = "legacy"
	DialectCurrent DialectVersion = "current"
)

// VaultTxInput is everything the vault projector has derived from one
// blockchain transaction, prior to identity resolution and delta
// computation (§4.G steps 1-3).
type VaultTxInput struct {
	TxID             chainhash.Hash
	OutputIndex      int
	BlockPos         uint32
	Version          DialectVersion
	Action           VaultAction
	UnitBalance      uint32
	OraclePrice      uint32
	OracleTimestamp  uint32
	LiquidationPrice *uint32
	LiquidationHash  *[20]byte
	BlockHash        chainhash.Hash
	Height           uint32
	RawTx            []byte
	CustodyValue     uint64
	// FirstInputPrevTxID is the txid referenced by this transaction's
	// first input; used by the store to resolve the parent vault for
	// any action other than Open.
	FirstInputPrevTxID chainhash.Hash
}

// VaultTxRow is the persisted "vault transaction record" (§3),
// returned once store.StoreVaultTx has computed deltas and assigned
// vault identity.
type VaultTxRow struct {
	VaultTxInput
	VaultID     chainhash.Hash
	InMainChain bool
	UnitDelta   int32
	BTCDelta    int64
	PrevTxID    *chainhash.Hash
}

// VaultRow is the persisted, mutable "vault" materialised view (§3).
type VaultRow struct {
	OpenTxID         chainhash.Hash
	UnitBalance      uint32
	OraclePrice      uint32
	OracleTimestamp  uint32
	LiquidationPrice *uint32
	LiquidationHash  *[20]byte
	CustodyValue     uint64
	LastTxID         chainhash.Hash
}

// TimeRange bounds an oracle-timestamp query window. A nil Start
// means "since the epoch"; a nil End means "through the present".
type TimeRange struct {
	Start *uint32
	End   *uint32
}

// ActionBucket is one row of a bucketed action-volume aggregation.
type ActionBucket struct {
	BucketStart   uint32
	SumUnitVolume uint64
	SumBTCVolume  uint64
}

// VaultStore is the vault.* operation set from §6.2.
type VaultStore interface {
	// StoreVaultTx implements §4.G end-to-end inside one storage
	// transaction: identify the parent vault, create or update the
	// vault row, compute deltas against the prior state, and insert
	// the vault-transaction row.
	StoreVaultTx(ctx context.Context, in VaultTxInput) (VaultTxRow, error)
	FindVaultByTx(ctx context.Context, txID chainhash.Hash) (vaultID chainhash.Hash, found bool, err error)
	DropAll(ctx context.Context) error
	RangeHistoryAll(ctx context.Context, tr TimeRange) ([]VaultTxRow, error)
	RangeHistoryOne(ctx context.Context, vaultID chainhash.Hash, tr TimeRange) ([]VaultTxRow, error)
	AggregateByAction(ctx context.Context, action VaultAction, bucketSeconds uint32) ([]ActionBucket, error)
	OverallVolume(ctx context.Context) (sumBTCVolume uint64, sumUnitVolume uint64, err error)
}

// MetaStore is the meta.* operation set from §6.2, minus get/set-tip
// which headers.Store already covers.
type MetaStore interface {
	GetNetwork(ctx context.Context) (string, error)
	GetScannedHeight(ctx context.Context) (uint32, error)
	SetScannedHeight(ctx context.Context, height uint32) error
}

// Store is the full storage contract the core depends on: header
// persistence (reused from the headers package so the headers cache
// and the storage layer agree on one shape), chain/scan metadata, and
// vault state.
type Store interface {
	headers.Store
	MetaStore
	VaultStore

	// Init creates the schema if absent, and — only if metadata is
	// not yet present — stores the genesis header as the height-0
	// main-chain record and seeds metadata with
	// tip=genesis.Hash, scanned_height=startHeight, network=network.
	// A network mismatch against already-stored metadata is a fatal
	// startup error.
	Init(ctx context.Context, network string, genesis headers.StoredHeader, startHeight uint32) error
	Close() error
}
