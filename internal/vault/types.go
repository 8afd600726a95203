// Package vault implements the vault state projector (§4.G): it turns
// a decoded OP_RETURN record plus its enclosing transaction into
// storage writes and event-bus notifications.
package vault

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/opcustody/vaultindex/internal/store"
)

// TxRecord is the event-bus payload for a newly projected vault
// transaction (§4.G step 8, §4.I).
type TxRecord struct {
	store.VaultTxRow
}

// UnitTxRecord is the event-bus payload for a decoded token-edict
// transaction (§3 "Token-edict record").
type UnitTxRecord struct {
	TxID       chainhash.Hash
	RawBytes   []byte
	UnitAmount uint32
}
