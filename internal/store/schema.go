package store

// schema implements the persistent store contract of  Columns
// are named exactly as the contract describes them; primary/foreign keys
// and the UNIQUE constraints are the serialization points the concurrency
// model relies on for snapshot/back-fill writes that never
// interleave on the same (asset, timestamp).
const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 30000;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS blockchains (
	name         TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	family       TEXT NOT NULL,
	explorer_url TEXT NOT NULL DEFAULT '',
	is_active    INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS wallets (
	id                     TEXT PRIMARY KEY,
	address                TEXT NOT NULL,
	blockchain             TEXT NOT NULL REFERENCES blockchains(name),
	wallet_name            TEXT NOT NULL DEFAULT '',
	notes                  TEXT NOT NULL DEFAULT '',
	creation_timestamp     INTEGER,
	first_transaction_hash TEXT NOT NULL DEFAULT '',
	block_number           INTEGER,
	is_estimated           INTEGER NOT NULL DEFAULT 0,
	UNIQUE(address, blockchain)
);

CREATE TABLE IF NOT EXISTS tokens (
	id                TEXT PRIMARY KEY,
	symbol            TEXT NOT NULL,
	name              TEXT NOT NULL,
	blockchain        TEXT NOT NULL REFERENCES blockchains(name),
	contract          TEXT NOT NULL DEFAULT '',
	decimals          INTEGER NOT NULL,
	external_price_id TEXT NOT NULL DEFAULT '',
	is_predefined     INTEGER NOT NULL DEFAULT 0,
	is_active         INTEGER NOT NULL DEFAULT 1,
	UNIQUE(symbol, blockchain, contract)
);

CREATE TABLE IF NOT EXISTS assets (
	id        TEXT PRIMARY KEY,
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	token_id  TEXT NOT NULL REFERENCES tokens(id),
	tag       TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	UNIQUE(wallet_id, token_id)
);

CREATE TABLE IF NOT EXISTS price_history (
	token_id  TEXT NOT NULL REFERENCES tokens(id),
	timestamp INTEGER NOT NULL,
	date      TEXT NOT NULL,
	price_usd REAL NOT NULL,
	source    TEXT NOT NULL DEFAULT '',
	UNIQUE(token_id, timestamp)
);

CREATE TABLE IF NOT EXISTS balance_history (
	asset_id  TEXT NOT NULL REFERENCES assets(id),
	timestamp INTEGER NOT NULL,
	date      TEXT NOT NULL,
	balance   REAL NOT NULL,
	UNIQUE(asset_id, timestamp)
);

CREATE TABLE IF NOT EXISTS asset_snapshots (
	asset_id  TEXT NOT NULL REFERENCES assets(id),
	timestamp INTEGER NOT NULL,
	date      TEXT NOT NULL,
	quantity  REAL NOT NULL,
	price_usd REAL NOT NULL,
	value_usd REAL NOT NULL,
	UNIQUE(asset_id, timestamp)
);

-- Simple key/value blob store used by the price engine to persist its
-- fetched external-id catalog across restarts.
CREATE TABLE IF NOT EXISTS kv_blobs (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assets_wallet ON assets(wallet_id);
CREATE INDEX IF NOT EXISTS idx_assets_token ON assets(token_id);
CREATE INDEX IF NOT EXISTS idx_price_history_token_ts ON price_history(token_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_balance_history_asset_ts ON balance_history(asset_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_snapshots_asset_ts ON asset_snapshots(asset_id, timestamp DESC);
`
