package vault

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"

	"github.com/opcustody/vaultindex/internal/eventbus"
	"github.com/opcustody/vaultindex/internal/store"
	"github.com/opcustody/vaultindex/internal/vaultparser"
)

var log = logrus.WithField("component", "vault")

// custodyOutputIndex returns which output index carries the custody
// value for the given action (§4.G step 3). Outputs 0 and 1 on Open
// are protocol connectors/inscriptions; the first output on
// continuation transactions is the recreated custody UTXO. This
// attribution is explicitly a heuristic inherited from the source
// protocol, not a tagged field.
func custodyOutputIndex(action vaultparser.Action) int {
	if action == vaultparser.ActionOpen {
		return 2
	}
	return 0
}

func toStoreAction(a vaultparser.Action) store.VaultAction {
	switch a {
	case vaultparser.ActionOpen:
		return store.ActionOpen
	case vaultparser.ActionDeposit:
		return store.ActionDeposit
	case vaultparser.ActionWithdraw:
		return store.ActionWithdraw
	case vaultparser.ActionBorrow:
		return store.ActionBorrow
	default:
		return store.ActionRepay
	}
}

func toStoreDialect(d vaultparser.DialectVersion) store.DialectVersion {
	if d == vaultparser.DialectLegacy {
		return store.DialectLegacy
	}
	return store.DialectCurrent
}

// Projector drives §4.G against a concrete Store and publishes
// NewVaultTransaction events for every successfully projected row.
type Projector struct {
	store store.VaultStore
	bus   *eventbus.Bus
}

func NewProjector(s store.VaultStore, bus *eventbus.Bus) *Projector {
	return &Projector{store: s, bus: bus}
}

// Project implements §4.G end-to-end for one already-decoded vault
// transaction. raw is the tx's consensus-encoded bytes, recorded
// verbatim in the vault-transaction row.
func (p *Projector) Project(ctx context.Context, parsed *vaultparser.VaultTx, tx *wire.MsgTx, raw []byte, blockHash [32]byte, blockPos uint32, height uint32) (store.VaultTxRow, error) {
	idx := custodyOutputIndex(parsed.Action)
	if idx >= len(tx.TxOut) {
		return store.VaultTxRow{}, fmt.Errorf("vault: no custody output at index %d for action %s", idx, parsed.Action)
	}
	custodyValue := uint64(tx.TxOut[idx].Value)

	var firstInputPrev [32]byte
	if parsed.Action != vaultparser.ActionOpen {
		if len(tx.TxIn) == 0 {
			return store.VaultTxRow{}, fmt.Errorf("vault: transaction has no inputs, cannot identify parent vault")
		}
		firstInputPrev = tx.TxIn[0].PreviousOutPoint.Hash
	}

	txid := tx.TxHash()
	in := store.VaultTxInput{
		TxID:               txid,
		OutputIndex:        parsed.OutputIndex,
		BlockPos:           blockPos,
		Version:            toStoreDialect(parsed.Version),
		Action:             toStoreAction(parsed.Action),
		UnitBalance:        parsed.UnitBalance,
		OraclePrice:        parsed.OraclePrice,
		OracleTimestamp:    parsed.OracleTimestamp,
		LiquidationPrice:   parsed.LiquidationPrice,
		LiquidationHash:    parsed.LiquidationHash,
		BlockHash:          blockHash,
		Height:             height,
		RawTx:              raw,
		CustodyValue:       custodyValue,
		FirstInputPrevTxID: firstInputPrev,
	}

	row, err := p.store.StoreVaultTx(ctx, in)
	if err != nil {
		return store.VaultTxRow{}, err
	}

	if p.bus != nil {
		p.bus.Publish(eventbus.NewVaultTransaction(&TxRecord{VaultTxRow: row}))
	}
	log.WithFields(logrus.Fields{
		"vault_id": row.VaultID,
		"tx_id":    row.TxID,
		"action":   row.Action,
	}).Debug("projected vault transaction")
	return row, nil
}
