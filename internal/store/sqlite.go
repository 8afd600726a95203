package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/opcustody/vaultindex/internal/headers"
)

var log = logrus.WithField("component", "store")

// ErrNetworkMismatch is a fatal startup error: the stored network tag
// disagrees with the configured one (§6.2, §7).
var ErrNetworkMismatch = errors.New("store: configured network does not match stored metadata")

// SQLite implements Store against database/sql using the pure-Go
// modernc.org/sqlite driver. Per §5, all storage access from the core
// is expected to pass through one connection behind a mutex; this type
// owns that mutex rather than relying on *sql.DB's own pool so that
// multi-statement operations (vault projection) are atomic with
// respect to the rest of the core.
type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path.
// Pass ":memory:" for an ephemeral in-process database.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Init creates the schema if absent and seeds genesis/metadata rows on
// a fresh database (§6.2).
func (s *SQLite) Init(ctx context.Context, network string, genesis headers.StoredHeader, startHeight uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: creating schema: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT network, tip_block_hash, scanned_height FROM metadata WHERE id = 0`)
	var storedNetwork string
	var tipBlob []byte
	var scannedHeight uint32
	err := row.Scan(&storedNetwork, &tipBlob, &scannedHeight)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		log.WithField("network", network).Info("seeding fresh metadata and genesis header")
		if err := s.upsertHeaderLocked(ctx, genesis); err != nil {
			return fmt.Errorf("store: seeding genesis header: %w", err)
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO metadata (id, network, tip_block_hash, scanned_height) VALUES (0, ?, ?, ?)`,
			network, genesis.Hash[:], startHeight)
		if err != nil {
			return fmt.Errorf("store: seeding metadata: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("store: reading metadata: %w", err)
	}

	if storedNetwork != network {
		return fmt.Errorf("%w: configured=%s stored=%s", ErrNetworkMismatch, network, storedNetwork)
	}
	return nil
}

// --- headers.Store ---

func (s *SQLite) LoadAllHeaders(ctx context.Context) ([]headers.StoredHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT block_hash, raw, height, in_longest FROM headers`)
	if err != nil {
		return nil, fmt.Errorf("store: loading headers: %w", err)
	}
	defer rows.Close()

	var out []headers.StoredHeader
	for rows.Next() {
		var hashBlob, rawBlob []byte
		var height uint32
		var inLongest int
		if err := rows.Scan(&hashBlob, &rawBlob, &height, &inLongest); err != nil {
			return nil, fmt.Errorf("store: scanning header row: %w", err)
		}
		hdr, hash, err := decodeHeader(rawBlob)
		if err != nil {
			return nil, err
		}
		out = append(out, headers.StoredHeader{
			Hash:        hash,
			Header:      hdr,
			Height:      height,
			InMainChain: inLongest != 0,
		})
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertHeaders(ctx context.Context, records []headers.StoredHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning header upsert: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if err := upsertHeaderTx(ctx, tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) upsertHeaderLocked(ctx context.Context, rec headers.StoredHeader) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertHeaderTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertHeaderTx(ctx context.Context, tx *sql.Tx, rec headers.StoredHeader) error {
	var raw bytes.Buffer
	if err := rec.Header.Serialize(&raw); err != nil {
		return fmt.Errorf("store: serialising header: %w", err)
	}
	inLongest := 0
	if rec.InMainChain {
		inLongest = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO headers (block_hash, height, prev_block_hash, raw, in_longest)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(block_hash) DO UPDATE SET in_longest = excluded.in_longest
	`, rec.Hash[:], rec.Height, rec.Header.PrevBlock[:], raw.Bytes(), inLongest)
	if err != nil {
		return fmt.Errorf("store: upserting header: %w", err)
	}
	return nil
}

func decodeHeader(raw []byte) (wire.BlockHeader, chainhash.Hash, error) {
	var hdr wire.BlockHeader
	if err := hdr.Deserialize(bytes.NewReader(raw)); err != nil {
		return wire.BlockHeader{}, chainhash.Hash{}, fmt.Errorf("store: deserialising header: %w", err)
	}
	return hdr, hdr.BlockHash(), nil
}

func (s *SQLite) GetTip(ctx context.Context) (chainhash.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT tip_block_hash FROM metadata WHERE id = 0`).Scan(&blob)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("store: reading tip: %w", err)
	}
	var h chainhash.Hash
	copy(h[:], blob)
	return h, nil
}

func (s *SQLite) SetTip(ctx context.Context, hash chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE metadata SET tip_block_hash = ? WHERE id = 0`, hash[:])
	if err != nil {
		return fmt.Errorf("store: writing tip: %w", err)
	}
	return nil
}

// --- MetaStore ---

func (s *SQLite) GetNetwork(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var network string
	err := s.db.QueryRowContext(ctx, `SELECT network FROM metadata WHERE id = 0`).Scan(&network)
	if err != nil {
		return "", fmt.Errorf("store: reading network: %w", err)
	}
	return network, nil
}

func (s *SQLite) GetScannedHeight(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var height uint32
	err := s.db.QueryRowContext(ctx, `SELECT scanned_height FROM metadata WHERE id = 0`).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("store: reading scanned height: %w", err)
	}
	return height, nil
}

func (s *SQLite) SetScannedHeight(ctx context.Context, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE metadata SET scanned_height = ? WHERE id = 0`, height)
	if err != nil {
		return fmt.Errorf("store: writing scanned height: %w", err)
	}
	return nil
}
