package store

// schema is the SQLite DDL, grounded on the original's headers/metadata
// tables plus the vaults/transactions tables the vault projector needs.
const schema = `
CREATE TABLE IF NOT EXISTS headers (
	block_hash      BLOB    NOT NULL PRIMARY KEY,
	height          INTEGER NOT NULL,
	prev_block_hash BLOB    NOT NULL,
	raw             BLOB    NOT NULL,
	in_longest      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_headers_prev_hash ON headers(prev_block_hash);
CREATE INDEX IF NOT EXISTS idx_headers_height ON headers(height);

CREATE TABLE IF NOT EXISTS metadata (
	id              INTEGER NOT NULL PRIMARY KEY CHECK (id = 0),
	network         TEXT    NOT NULL,
	tip_block_hash  BLOB    NOT NULL,
	scanned_height  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vaults (
	open_txid         BLOB    NOT NULL PRIMARY KEY,
	balance           INTEGER NOT NULL,
	oracle_price      INTEGER NOT NULL,
	oracle_timestamp  INTEGER NOT NULL,
	liquidation_price INTEGER,
	liquidation_hash  BLOB,
	custody_value     INTEGER NOT NULL,
	last_txid         BLOB    NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	txid              BLOB    NOT NULL PRIMARY KEY,
	output            INTEGER NOT NULL,
	block_pos         INTEGER NOT NULL,
	vault_txid        BLOB    NOT NULL,
	version           TEXT    NOT NULL,
	action            TEXT    NOT NULL,
	balance           INTEGER NOT NULL,
	oracle_price      INTEGER NOT NULL,
	oracle_timestamp  INTEGER NOT NULL,
	liquidation_price INTEGER,
	liquidation_hash  BLOB,
	block_hash        BLOB    NOT NULL,
	height            INTEGER NOT NULL,
	in_longest        INTEGER NOT NULL,
	raw_tx            BLOB    NOT NULL,
	custody_value     INTEGER NOT NULL,
	units_volume      INTEGER NOT NULL,
	btc_volume        INTEGER NOT NULL,
	prev_txid         BLOB
);
CREATE INDEX IF NOT EXISTS idx_transactions_vault_txid ON transactions(vault_txid);
CREATE INDEX IF NOT EXISTS idx_transactions_oracle_timestamp ON transactions(oracle_timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_action ON transactions(action);
`
