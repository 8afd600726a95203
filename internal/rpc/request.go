package rpc

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/opcustody/vaultindex/internal/store"
)

// request is the inbound pull-query envelope (§6.3). The field set
// covers all four operations; each handler reads only what it needs.
type request struct {
	Op            string  `json:"op"`
	VaultOpenTxID string  `json:"vault_open_tx_id,omitempty"`
	Action        string  `json:"action,omitempty"`
	Timespan      string  `json:"timespan,omitempty"`
	TStart        *uint32 `json:"t_start,omitempty"`
	TEnd          *uint32 `json:"t_end,omitempty"`
}

// response is the outbound envelope for both pull-query replies and
// the unsolicited NewVaultTransaction push (§6.3).
type response struct {
	Type        string            `json:"type"`
	Error       string            `json:"error,omitempty"`
	Rows        []vaultTxRowDTO   `json:"rows,omitempty"`
	Buckets     []actionBucketDTO `json:"buckets,omitempty"`
	SumBTC      uint64            `json:"sum_btc_volume,omitempty"`
	SumUnit     uint64            `json:"sum_unit_volume,omitempty"`
	Transaction *vaultTxRowDTO    `json:"transaction,omitempty"`
	UnitTx      *unitTxDTO        `json:"unit_transaction,omitempty"`
}

func errorResponse(msg string) response {
	return response{Type: "error", Error: msg}
}

func (req request) timeRange() store.TimeRange {
	return store.TimeRange{Start: req.TStart, End: req.TEnd}
}

// timespanSeconds maps the four recognised bucket granularities (§6.3)
// to a bucket width in seconds for vault.aggregate_by_action.
func timespanSeconds(timespan string) (uint32, error) {
	switch timespan {
	case "Hour":
		return uint32(time.Hour.Seconds()), nil
	case "Day":
		return uint32((24 * time.Hour).Seconds()), nil
	case "Week":
		return uint32((7 * 24 * time.Hour).Seconds()), nil
	case "Month":
		return uint32((30 * 24 * time.Hour).Seconds()), nil
	default:
		return 0, fmt.Errorf("unrecognised timespan %q", timespan)
	}
}

func parseAction(s string) (store.VaultAction, error) {
	switch store.VaultAction(s) {
	case store.ActionOpen, store.ActionDeposit, store.ActionWithdraw, store.ActionBorrow, store.ActionRepay:
		return store.VaultAction(s), nil
	default:
		return "", fmt.Errorf("unrecognised action %q", s)
	}
}

func parseTxID(s string) (chainhash.Hash, error) {
	return chainhash.NewHashFromStr(s)
}
