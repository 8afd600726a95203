package rpc

import (
	"context"
	"fmt"

	"github.com/opcustody/vaultindex/internal/store"
)

// dispatch implements the four pull-query operations of §6.3 against
// the read-only store handle. It never returns a Go error for a
// malformed request — those become an errorResponse so the caller can
// write a single {error: ...} frame without closing the connection.
func dispatch(ctx context.Context, st store.VaultStore, req request) response {
	switch req.Op {
	case "range_history_all":
		rows, err := st.RangeHistoryAll(ctx, req.timeRange())
		if err != nil {
			return errorResponse(err.Error())
		}
		return response{Type: "range_history_all", Rows: toVaultTxRowDTOs(rows)}

	case "vault_history":
		if req.VaultOpenTxID == "" {
			return errorResponse("vault_history requires vault_open_tx_id")
		}
		openTxID, err := parseTxID(req.VaultOpenTxID)
		if err != nil {
			return errorResponse(fmt.Sprintf("invalid vault_open_tx_id: %v", err))
		}
		vaultID, found, err := st.FindVaultByTx(ctx, openTxID)
		if err != nil {
			return errorResponse(err.Error())
		}
		if !found {
			return errorResponse("no such vault")
		}
		rows, err := st.RangeHistoryOne(ctx, vaultID, req.timeRange())
		if err != nil {
			return errorResponse(err.Error())
		}
		return response{Type: "vault_history", Rows: toVaultTxRowDTOs(rows)}

	case "action_history":
		action, err := parseAction(req.Action)
		if err != nil {
			return errorResponse(err.Error())
		}
		bucketSeconds, err := timespanSeconds(req.Timespan)
		if err != nil {
			return errorResponse(err.Error())
		}
		buckets, err := st.AggregateByAction(ctx, action, bucketSeconds)
		if err != nil {
			return errorResponse(err.Error())
		}
		return response{Type: "action_history", Buckets: toActionBucketDTOs(buckets)}

	case "overall_volume":
		sumBTC, sumUnit, err := st.OverallVolume(ctx)
		if err != nil {
			return errorResponse(err.Error())
		}
		return response{Type: "overall_volume", SumBTC: sumBTC, SumUnit: sumUnit}

	default:
		return errorResponse(fmt.Sprintf("unrecognised op %q", req.Op))
	}
}
