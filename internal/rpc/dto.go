package rpc

import (
	"github.com/opcustody/vaultindex/internal/store"
	"github.com/opcustody/vaultindex/internal/vault"
)

// These DTOs exist only to give hash fields a readable hex
// representation on the wire; the envelope shape itself carries no
// design weight (§1's Non-goals) and is free to evolve.

type vaultTxRowDTO struct {
	TxID             string  `json:"tx_id"`
	OutputIndex      int     `json:"output_index"`
	BlockHash        string  `json:"block_hash"`
	BlockPos         uint32  `json:"block_pos"`
	Height           uint32  `json:"height"`
	Version          string  `json:"version"`
	Action           string  `json:"action"`
	UnitBalance      uint32  `json:"unit_balance"`
	OraclePrice      uint32  `json:"oracle_price"`
	OracleTimestamp  uint32  `json:"oracle_timestamp"`
	LiquidationPrice *uint32 `json:"liquidation_price,omitempty"`
	VaultID          string  `json:"vault_id"`
	InMainChain      bool    `json:"in_main_chain"`
	UnitDelta        int32   `json:"unit_delta"`
	BTCDelta         int64   `json:"btc_delta"`
	PrevTxID         *string `json:"prev_tx_id,omitempty"`
}

func toVaultTxRowDTO(row store.VaultTxRow) vaultTxRowDTO {
	dto := vaultTxRowDTO{
		TxID:             row.TxID.String(),
		OutputIndex:      row.OutputIndex,
		BlockHash:        row.BlockHash.String(),
		BlockPos:         row.BlockPos,
		Height:           row.Height,
		Version:          string(row.Version),
		Action:           string(row.Action),
		UnitBalance:      row.UnitBalance,
		OraclePrice:      row.OraclePrice,
		OracleTimestamp:  row.OracleTimestamp,
		LiquidationPrice: row.LiquidationPrice,
		VaultID:          row.VaultID.String(),
		InMainChain:      row.InMainChain,
		UnitDelta:        row.UnitDelta,
		BTCDelta:         row.BTCDelta,
	}
	if row.PrevTxID != nil {
		s := row.PrevTxID.String()
		dto.PrevTxID = &s
	}
	return dto
}

func toVaultTxRowDTOs(rows []store.VaultTxRow) []vaultTxRowDTO {
	out := make([]vaultTxRowDTO, len(rows))
	for i, r := range rows {
		out[i] = toVaultTxRowDTO(r)
	}
	return out
}

type actionBucketDTO struct {
	BucketStart   uint32 `json:"bucket_start"`
	SumUnitVolume uint64 `json:"sum_unit_volume"`
	SumBTCVolume  uint64 `json:"sum_btc_volume"`
}

func toActionBucketDTOs(buckets []store.ActionBucket) []actionBucketDTO {
	out := make([]actionBucketDTO, len(buckets))
	for i, b := range buckets {
		out[i] = actionBucketDTO{BucketStart: b.BucketStart, SumUnitVolume: b.SumUnitVolume, SumBTCVolume: b.SumBTCVolume}
	}
	return out
}

type unitTxDTO struct {
	TxID       string `json:"tx_id"`
	UnitAmount uint32 `json:"unit_amount"`
}

func toUnitTxDTO(rec *vault.UnitTxRecord) unitTxDTO {
	return unitTxDTO{TxID: rec.TxID.String(), UnitAmount: rec.UnitAmount}
}
