package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// StoreVaultTx implements §4.G end-to-end inside one storage
// transaction, grounded on the original's
// DatabaseVault::store_vault_tx/find_parent_vault/create_vault/
// update_vault/insert_vault_tx_raw.
func (s *SQLite) StoreVaultTx(ctx context.Context, in VaultTxInput) (VaultTxRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return VaultTxRow{}, fmt.Errorf("store: beginning vault tx: %w", err)
	}
	defer tx.Rollback()

	vaultID, err := findParentVaultTx(ctx, tx, in)
	if err != nil {
		return VaultTxRow{}, err
	}

	existing, err := loadVaultRowTx(ctx, tx, vaultID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return VaultTxRow{}, err
	}
	isFreshOpen := errors.Is(err, sql.ErrNoRows)

	var prevBalance uint32
	var prevCustody uint64
	var prevTxID *chainhash.Hash

	if isFreshOpen {
		if in.Action != ActionOpen {
			return VaultTxRow{}, fmt.Errorf("store: vault %x has no prior state and action is not open", vaultID)
		}
		if err := insertVaultRowTx(ctx, tx, VaultRow{
			OpenTxID:         vaultID,
			UnitBalance:      in.UnitBalance,
			OraclePrice:      in.OraclePrice,
			OracleTimestamp:  in.OracleTimestamp,
			LiquidationPrice: in.LiquidationPrice,
			LiquidationHash:  in.LiquidationHash,
			CustodyValue:     in.CustodyValue,
			LastTxID:         in.TxID,
		}); err != nil {
			return VaultTxRow{}, err
		}
		// The opening transaction has no prior state to delta against:
		// baseline is zero, so its own balance/custody become the deltas.
		prevBalance = 0
		prevCustody = 0
	} else {
		prevBalance = existing.UnitBalance
		prevCustody = existing.CustodyValue
		prevTxID = &existing.LastTxID
		if err := updateVaultRowTx(ctx, tx, vaultID, in); err != nil {
			return VaultTxRow{}, err
		}
	}

	row := VaultTxRow{
		VaultTxInput: in,
		VaultID:      vaultID,
		InMainChain:  true,
		UnitDelta:    int32(in.UnitBalance) - int32(prevBalance),
		BTCDelta:     int64(in.CustodyValue) - int64(prevCustody),
		PrevTxID:     prevTxID,
	}

	if err := insertVaultTxRowTx(ctx, tx, row); err != nil {
		return VaultTxRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return VaultTxRow{}, fmt.Errorf("store: committing vault tx: %w", err)
	}
	return row, nil
}

// queryRower is the subset of *sql.DB and *sql.Tx that
// findVaultByTxTx needs, so it can run either standalone or nested
// inside StoreVaultTx's transaction.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findParentVaultTx(ctx context.Context, tx *sql.Tx, in VaultTxInput) (chainhash.Hash, error) {
	if in.Action == ActionOpen {
		return in.TxID, nil
	}
	vaultID, found, err := findVaultByTxTx(ctx, tx, in.FirstInputPrevTxID)
	if err != nil {
		return chainhash.Hash{}, err
	}
	if !found {
		return chainhash.Hash{}, fmt.Errorf("store: unknown vault tx: parent %x not indexed", in.FirstInputPrevTxID)
	}
	return vaultID, nil
}

func findVaultByTxTx(ctx context.Context, q queryRower, txid chainhash.Hash) (chainhash.Hash, bool, error) {
	var blob []byte
	err := q.QueryRowContext(ctx, `SELECT vault_txid FROM transactions WHERE txid = ? LIMIT 1`, txid[:]).Scan(&blob)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return chainhash.Hash{}, false, nil
	case err != nil:
		return chainhash.Hash{}, false, fmt.Errorf("store: finding vault by tx: %w", err)
	}
	var h chainhash.Hash
	copy(h[:], blob)
	return h, true, nil
}

func (s *SQLite) FindVaultByTx(ctx context.Context, txID chainhash.Hash) (chainhash.Hash, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findVaultByTxTx(ctx, s.db, txID)
}

func loadVaultRowTx(ctx context.Context, tx *sql.Tx, vaultID chainhash.Hash) (VaultRow, error) {
	var row VaultRow
	var liqPrice sql.NullInt64
	var liqHash []byte
	var lastTxID, openTxID []byte
	err := tx.QueryRowContext(ctx, `
		SELECT open_txid, balance, oracle_price, oracle_timestamp, liquidation_price, liquidation_hash, custody_value, last_txid
		FROM vaults WHERE open_txid = ?`, vaultID[:]).Scan(
		&openTxID, &row.UnitBalance, &row.OraclePrice, &row.OracleTimestamp, &liqPrice, &liqHash, &row.CustodyValue, &lastTxID)
	if err != nil {
		return VaultRow{}, err
	}
	copy(row.OpenTxID[:], openTxID)
	copy(row.LastTxID[:], lastTxID)
	if liqPrice.Valid {
		v := uint32(liqPrice.Int64)
		row.LiquidationPrice = &v
	}
	if len(liqHash) == 20 {
		var h [20]byte
		copy(h[:], liqHash)
		row.LiquidationHash = &h
	}
	return row, nil
}

func insertVaultRowTx(ctx context.Context, tx *sql.Tx, row VaultRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO vaults (open_txid, balance, oracle_price, oracle_timestamp, liquidation_price, liquidation_hash, custody_value, last_txid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.OpenTxID[:], row.UnitBalance, row.OraclePrice, row.OracleTimestamp,
		nullableUint32(row.LiquidationPrice), nullableBytes20(row.LiquidationHash), row.CustodyValue, row.LastTxID[:])
	if err != nil {
		return fmt.Errorf("store: inserting vault row: %w", err)
	}
	return nil
}

func updateVaultRowTx(ctx context.Context, tx *sql.Tx, vaultID chainhash.Hash, in VaultTxInput) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE vaults SET
			balance = ?, oracle_price = ?, oracle_timestamp = ?,
			liquidation_price = ?, liquidation_hash = ?, custody_value = ?, last_txid = ?
		WHERE open_txid = ?`,
		in.UnitBalance, in.OraclePrice, in.OracleTimestamp,
		nullableUint32(in.LiquidationPrice), nullableBytes20(in.LiquidationHash), in.CustodyValue, in.TxID[:],
		vaultID[:])
	if err != nil {
		return fmt.Errorf("store: updating vault row: %w", err)
	}
	return nil
}

func insertVaultTxRowTx(ctx context.Context, tx *sql.Tx, row VaultTxRow) error {
	var prevTxID []byte
	if row.PrevTxID != nil {
		prevTxID = row.PrevTxID[:]
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (
			txid, output, block_pos, vault_txid, version, action, balance,
			oracle_price, oracle_timestamp, liquidation_price, liquidation_hash,
			block_hash, height, in_longest, raw_tx, custody_value,
			units_volume, btc_volume, prev_txid
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.TxID[:], row.OutputIndex, row.BlockPos, row.VaultID[:], string(row.Version), string(row.Action), row.UnitBalance,
		row.OraclePrice, row.OracleTimestamp, nullableUint32(row.LiquidationPrice), nullableBytes20(row.LiquidationHash),
		row.BlockHash[:], row.Height, boolToInt(row.InMainChain), row.RawTx, row.CustodyValue,
		row.UnitDelta, row.BTCDelta, prevTxID)
	if err != nil {
		return fmt.Errorf("store: inserting vault-transaction row: %w", err)
	}
	return nil
}

func (s *SQLite) DropAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning drop-all: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
		return fmt.Errorf("store: dropping transactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vaults`); err != nil {
		return fmt.Errorf("store: dropping vaults: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) RangeHistoryAll(ctx context.Context, tr TimeRange) ([]VaultTxRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+vaultTxColumns+` FROM transactions
		WHERE oracle_timestamp >= ? AND oracle_timestamp < ?`,
		rangeStart(tr), rangeEnd(tr))
	if err != nil {
		return nil, fmt.Errorf("store: querying range history: %w", err)
	}
	defer rows.Close()
	return scanVaultTxRows(rows)
}

func (s *SQLite) RangeHistoryOne(ctx context.Context, vaultID chainhash.Hash, tr TimeRange) ([]VaultTxRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+vaultTxColumns+` FROM transactions
		WHERE vault_txid = ? AND oracle_timestamp >= ? AND oracle_timestamp < ?`,
		vaultID[:], rangeStart(tr), rangeEnd(tr))
	if err != nil {
		return nil, fmt.Errorf("store: querying vault history: %w", err)
	}
	defer rows.Close()
	return scanVaultTxRows(rows)
}

func (s *SQLite) AggregateByAction(ctx context.Context, action VaultAction, bucketSeconds uint32) ([]ActionBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT (oracle_timestamp / ?) * ? AS bucket, SUM(abs(units_volume)), SUM(abs(btc_volume))
		FROM transactions
		WHERE action = ?
		GROUP BY bucket
		ORDER BY bucket`,
		bucketSeconds, bucketSeconds, string(action))
	if err != nil {
		return nil, fmt.Errorf("store: aggregating by action: %w", err)
	}
	defer rows.Close()

	var out []ActionBucket
	for rows.Next() {
		var b ActionBucket
		if err := rows.Scan(&b.BucketStart, &b.SumUnitVolume, &b.SumBTCVolume); err != nil {
			return nil, fmt.Errorf("store: scanning action bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) OverallVolume(ctx context.Context) (uint64, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var btc, unit sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(abs(btc_volume)), SUM(abs(units_volume)) FROM transactions`).Scan(&btc, &unit)
	if err != nil {
		return 0, 0, fmt.Errorf("store: reading overall volume: %w", err)
	}
	return uint64(btc.Int64), uint64(unit.Int64), nil
}

const vaultTxColumns = `txid, output, block_pos, vault_txid, version, action, balance,
	oracle_price, oracle_timestamp, liquidation_price, liquidation_hash,
	block_hash, height, in_longest, raw_tx, custody_value, units_volume, btc_volume, prev_txid`

func scanVaultTxRows(rows *sql.Rows) ([]VaultTxRow, error) {
	var out []VaultTxRow
	for rows.Next() {
		var r VaultTxRow
		var txid, vaultTxid, blockHash []byte
		var liqPrice sql.NullInt64
		var liqHash []byte
		var prevTxid []byte
		var version, action string
		var inLongest int
		if err := rows.Scan(
			&txid, &r.OutputIndex, &r.BlockPos, &vaultTxid, &version, &action, &r.UnitBalance,
			&r.OraclePrice, &r.OracleTimestamp, &liqPrice, &liqHash,
			&blockHash, &r.Height, &inLongest, &r.RawTx, &r.CustodyValue, &r.UnitDelta, &r.BTCDelta, &prevTxid,
		); err != nil {
			return nil, fmt.Errorf("store: scanning vault-transaction row: %w", err)
		}
		copy(r.TxID[:], txid)
		copy(r.VaultID[:], vaultTxid)
		copy(r.BlockHash[:], blockHash)
		r.Version = DialectVersion(version)
		r.Action = VaultAction(action)
		r.InMainChain = inLongest != 0
		if liqPrice.Valid {
			v := uint32(liqPrice.Int64)
			r.LiquidationPrice = &v
		}
		if len(liqHash) == 20 {
			var h [20]byte
			copy(h[:], liqHash)
			r.LiquidationHash = &h
		}
		if len(prevTxid) == 32 {
			var h chainhash.Hash
			copy(h[:], prevTxid)
			r.PrevTxID = &h
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func rangeStart(tr TimeRange) uint32 {
	if tr.Start == nil {
		return 0
	}
	return *tr.Start
}

func rangeEnd(tr TimeRange) uint32 {
	if tr.End == nil {
		return ^uint32(0)
	}
	return *tr.End
}

func nullableUint32(v *uint32) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableBytes20(v *[20]byte) any {
	if v == nil {
		return nil
	}
	return v[:]
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
