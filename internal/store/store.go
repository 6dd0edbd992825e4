// Package store implements the persistent store contract of  on
// top of SQLite: a single handle per process with WAL journal mode, NORMAL
// synchronous mode, and a 30s busy timeout, supporting concurrent
// readers and a single serialized writer.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/yourusername/portfoliod/internal/errs"
	"github.com/yourusername/portfoliod/internal/models"
)

// Store is the single persistent-store handle threaded explicitly into
// every component that needs it ( — no package-level singleton).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema migration. A migration failure is Fatal :
// no partial state is committed because the whole migration runs in one
// connection before any caller observes the Store.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.NewFatal("store.Open", "failed to open database", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY races that the busy_timeout would otherwise need to
	// paper over across separate connections in the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.NewFatal("store.Open", "schema migration failed", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for components (e.g. the price engine's
// coin-list cache) that need the generic kv_blobs table directly.
func (s *Store) DB() *sql.DB { return s.db }

// --- Blockchains ---

// UpsertBlockchain idempotently inserts or updates a Chain row. Called at
// startup for the static seeded catalog ( lifecycle); running it N
// times leaves the table equal to running it once.
func (s *Store) UpsertBlockchain(c models.Chain) error {
	_, err := s.db.Exec(`
		INSERT INTO blockchains(name, display_name, family, explorer_url, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name=excluded.display_name,
			family=excluded.family,
			explorer_url=excluded.explorer_url,
			is_active=excluded.is_active
	`, c.Name, c.DisplayName, string(c.Family), c.ExplorerURL, boolToInt(c.IsActive))
	if err != nil {
		return errs.NewFatal("store.UpsertBlockchain", "upsert failed", err)
	}
	return nil
}

func (s *Store) ListBlockchains() ([]models.Chain, error) {
	rows, err := s.db.Query(`SELECT name, display_name, family, explorer_url, is_active FROM blockchains`)
	if err != nil {
		return nil, errs.NewTransientNetwork("store.ListBlockchains", "query failed", err)
	}
	defer rows.Close()

	var out []models.Chain
	for rows.Next() {
		var c models.Chain
		var family string
		var active int
		if err := rows.Scan(&c.Name, &c.DisplayName, &family, &c.ExplorerURL, &active); err != nil {
			return nil, err
		}
		c.Family = models.ChainFamily(family)
		c.IsActive = active != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Tokens ---

// GetOrCreateToken reifies the source's exception-driven "UNIQUE constraint
// failed" fallback as an explicit insert-then-read-on-conflict:
// attempt the insert; on conflict, read back the existing row; any other
// error propagates.
func (s *Store) GetOrCreateToken(t models.Token) (id string, created bool, err error) {
	id = tokenID(t.Symbol, t.Chain, t.Contract)
	res, err := s.db.Exec(`
		INSERT INTO tokens(id, symbol, name, blockchain, contract, decimals, external_price_id, is_predefined, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, blockchain, contract) DO NOTHING
	`, id, t.Symbol, t.Name, t.Chain, t.Contract, t.Decimals, t.ExternalPriceID, boolToInt(t.IsPredefined), boolToInt(t.IsActive))
	if err != nil {
		return "", false, errs.NewFatal("store.GetOrCreateToken", "insert failed", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return id, true, nil
	}

	// Conflict: read back the existing row. If it was soft-deleted,
	// reactivate it ( custom-token add semantics).
	var existingID string
	var active int
	err = s.db.QueryRow(`SELECT id, is_active FROM tokens WHERE symbol=? AND blockchain=? AND contract=?`,
		t.Symbol, t.Chain, t.Contract).Scan(&existingID, &active)
	if err != nil {
		return "", false, errs.NewFatal("store.GetOrCreateToken", "read-after-conflict failed", err)
	}
	if active == 0 {
		if _, err := s.db.Exec(`UPDATE tokens SET is_active=1 WHERE id=?`, existingID); err != nil {
			return "", false, errs.NewFatal("store.GetOrCreateToken", "reactivate failed", err)
		}
		return existingID, false, nil
	}
	return existingID, false, nil
}

// FindToken looks up the exact (symbol, chain, contract) row, returning its
// store-internal id alongside the token (the id is what the history tables
// key on, via UpsertPriceHistoryPoint/LatestPriceHistoryPoint).
func (s *Store) FindToken(symbol, chain, contract string) (t models.Token, id string, found bool, err error) {
	row := s.db.QueryRow(`
		SELECT id, symbol, name, blockchain, contract, decimals, external_price_id, is_predefined, is_active
		FROM tokens WHERE symbol=? AND blockchain=? AND contract=? AND is_active=1
	`, symbol, chain, contract)

	var predefined, active int
	err = row.Scan(&id, &t.Symbol, &t.Name, &t.Chain, &t.Contract, &t.Decimals, &t.ExternalPriceID, &predefined, &active)
	if err == sql.ErrNoRows {
		return models.Token{}, "", false, nil
	}
	if err != nil {
		return models.Token{}, "", false, errs.NewFatal("store.FindToken", "query failed", err)
	}
	t.IsPredefined = predefined != 0
	t.IsActive = active != 0
	return t, id, true, nil
}

// FindTokenBySymbolChain looks up a token by symbol within a chain
// regardless of contract, preferring the native entry when more than one
// row shares a symbol (e.g. a wrapped and a native listing). Used by the
// price engine's external-id resolution step 4a.
func (s *Store) FindTokenBySymbolChain(symbol, chain string) (t models.Token, id string, found bool, err error) {
	row := s.db.QueryRow(`
		SELECT id, symbol, name, blockchain, contract, decimals, external_price_id, is_predefined, is_active
		FROM tokens WHERE symbol=? AND blockchain=? AND is_active=1
		ORDER BY contract = '' DESC LIMIT 1
	`, symbol, chain)

	var predefined, active int
	err = row.Scan(&id, &t.Symbol, &t.Name, &t.Chain, &t.Contract, &t.Decimals, &t.ExternalPriceID, &predefined, &active)
	if err == sql.ErrNoRows {
		return models.Token{}, "", false, nil
	}
	if err != nil {
		return models.Token{}, "", false, errs.NewFatal("store.FindTokenBySymbolChain", "query failed", err)
	}
	t.IsPredefined = predefined != 0
	t.IsActive = active != 0
	return t, id, true, nil
}

func (s *Store) FindTokensBySymbolPrefix(chain, prefix string, limit int) ([]models.Token, error) {
	rows, err := s.db.Query(`
		SELECT symbol, name, blockchain, contract, decimals, external_price_id, is_predefined, is_active
		FROM tokens
		WHERE blockchain = ? AND is_active = 1 AND (symbol LIKE ? || '%' OR name LIKE '%' || ? || '%')
		ORDER BY CASE WHEN symbol LIKE ? || '%' THEN 0 ELSE 1 END, symbol
		LIMIT ?
	`, chain, prefix, prefix, prefix, limit)
	if err != nil {
		return nil, errs.NewTransientNetwork("store.FindTokensBySymbolPrefix", "query failed", err)
	}
	defer rows.Close()
	return scanTokens(rows)
}

func scanTokens(rows *sql.Rows) ([]models.Token, error) {
	var out []models.Token
	for rows.Next() {
		var t models.Token
		var predefined, active int
		if err := rows.Scan(&t.Symbol, &t.Name, &t.Chain, &t.Contract, &t.Decimals, &t.ExternalPriceID, &predefined, &active); err != nil {
			return nil, err
		}
		t.IsPredefined = predefined != 0
		t.IsActive = active != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Wallets ---

// GetOrCreateWallet mirrors GetOrCreateToken's insert-then-read-on-conflict
// shape for the (address, blockchain) uniqueness constraint.
func (s *Store) GetOrCreateWallet(address, chain string) (id string, err error) {
	id = walletID(address, chain)
	_, err = s.db.Exec(`
		INSERT INTO wallets(id, address, blockchain, is_estimated)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(address, blockchain) DO NOTHING
	`, id, address, chain)
	if err != nil {
		return "", errs.NewFatal("store.GetOrCreateWallet", "insert failed", err)
	}
	return id, nil
}

func (s *Store) GetWallet(id string) (models.Wallet, error) {
	var w models.Wallet
	var ts sql.NullInt64
	var block sql.NullInt64
	var estimated int
	err := s.db.QueryRow(`
		SELECT address, blockchain, wallet_name, notes, creation_timestamp, first_transaction_hash, block_number, is_estimated
		FROM wallets WHERE id = ?
	`, id).Scan(&w.Address, &w.Chain, &w.Name, &w.Notes, &ts, &w.FirstTransactionHash, &block, &estimated)
	if err == sql.ErrNoRows {
		return models.Wallet{}, errs.NewNotFound("store.GetWallet", "wallet not found: "+id)
	}
	if err != nil {
		return models.Wallet{}, errs.NewFatal("store.GetWallet", "query failed", err)
	}
	if ts.Valid {
		t := time.Unix(ts.Int64, 0).UTC()
		w.CreationTimestamp = &t
	}
	if block.Valid {
		b := uint64(block.Int64)
		w.BlockNumber = &b
	}
	w.IsEstimated = estimated != 0
	return w, nil
}

// SetWalletCreationMetadata upserts a wallet's creation timestamp, the
// originating transaction hash and block number (when known), and
// whether the timestamp is a genuine lookup or an estimate.
func (s *Store) SetWalletCreationMetadata(id string, ts *time.Time, txHash string, block *uint64, estimated bool) error {
	var tsVal, blockVal interface{}
	if ts != nil {
		tsVal = ts.Unix()
	}
	if block != nil {
		blockVal = int64(*block)
	}
	_, err := s.db.Exec(`
		UPDATE wallets SET creation_timestamp=?, first_transaction_hash=?, block_number=?, is_estimated=?
		WHERE id=?
	`, tsVal, txHash, blockVal, boolToInt(estimated), id)
	if err != nil {
		return errs.NewFatal("store.SetWalletCreationMetadata", "update failed", err)
	}
	return nil
}

// --- Assets ---

// AddAsset reifies the insert-then-read-on-conflict pattern for
// (wallet, token) uniqueness. Returns created=false and the existing row's
// ID when the asset already exists and is active ( scenario 6).
func (s *Store) AddAsset(id, walletID, tokenID, tag string, now time.Time) (assetID string, status string, err error) {
	res, err := s.db.Exec(`
		INSERT INTO assets(id, wallet_id, token_id, tag, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(wallet_id, token_id) DO NOTHING
	`, id, walletID, tokenID, tag, now.Unix())
	if err != nil {
		return "", "", errs.NewFatal("store.AddAsset", "insert failed", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return id, "created", nil
	}

	var existingID string
	var active int
	err = s.db.QueryRow(`SELECT id, is_active FROM assets WHERE wallet_id=? AND token_id=?`, walletID, tokenID).
		Scan(&existingID, &active)
	if err != nil {
		return "", "", errs.NewFatal("store.AddAsset", "read-after-conflict failed", err)
	}
	if active != 0 {
		return existingID, "existing", nil
	}
	if _, err := s.db.Exec(`UPDATE assets SET is_active=1 WHERE id=?`, existingID); err != nil {
		return "", "", errs.NewFatal("store.AddAsset", "reactivate failed", err)
	}
	return existingID, "created-or-reactivated", nil
}

func (s *Store) SoftDeleteAsset(id string) error {
	_, err := s.db.Exec(`UPDATE assets SET is_active=0 WHERE id=?`, id)
	if err != nil {
		return errs.NewFatal("store.SoftDeleteAsset", "update failed", err)
	}
	return nil
}

func (s *Store) UpdateAsset(id, tag string) error {
	res, err := s.db.Exec(`UPDATE assets SET tag=? WHERE id=? AND is_active=1`, tag, id)
	if err != nil {
		return errs.NewFatal("store.UpdateAsset", "update failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NewNotFound("store.UpdateAsset", "active asset not found: "+id)
	}
	return nil
}

// AssetRow is a denormalized asset joined with its wallet/token/chain,
// matching what Asset Valuation needs per row.
type AssetRow struct {
	Asset   models.Asset
	Wallet  models.Wallet
	WalletID string
	Token   models.Token
	TokenID string
}

// ListActiveAssets returns active assets matching the given filters,
// ordered by creation time descending.
func (s *Store) ListActiveAssets(chain, address, tag string) ([]AssetRow, error) {
	q := `
		SELECT a.id, a.tag, a.created_at, a.wallet_id, a.token_id,
		       w.address, w.blockchain, w.wallet_name, w.notes, w.is_estimated,
		       t.symbol, t.name, t.contract, t.decimals, t.external_price_id, t.is_predefined
		FROM assets a
		JOIN wallets w ON w.id = a.wallet_id
		JOIN tokens t ON t.id = a.token_id
		WHERE a.is_active = 1
	`
	var args []interface{}
	if chain != "" {
		q += " AND w.blockchain = ?"
		args = append(args, chain)
	}
	if address != "" {
		q += " AND w.address = ?"
		args = append(args, address)
	}
	if tag != "" {
		q += " AND a.tag = ?"
		args = append(args, tag)
	}
	q += " ORDER BY a.created_at DESC"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errs.NewTransientNetwork("store.ListActiveAssets", "query failed", err)
	}
	defer rows.Close()

	var out []AssetRow
	for rows.Next() {
		var r AssetRow
		var createdAt int64
		var estimated, predefined int
		if err := rows.Scan(&r.Asset.ID, &r.Asset.Tag, &createdAt, &r.WalletID, &r.TokenID,
			&r.Wallet.Address, &r.Wallet.Chain, &r.Wallet.Name, &r.Wallet.Notes, &estimated,
			&r.Token.Symbol, &r.Token.Name, &r.Token.Contract, &r.Token.Decimals, &r.Token.ExternalPriceID, &predefined,
		); err != nil {
			return nil, err
		}
		r.Asset.Active = true
		r.Asset.CreatedAt = time.Unix(createdAt, 0).UTC()
		r.Wallet.IsEstimated = estimated != 0
		r.Token.IsPredefined = predefined != 0
		r.Token.IsActive = true
		r.Token.Chain = r.Wallet.Chain
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- History / snapshots ---

func (s *Store) UpsertPriceHistoryPoint(p models.PriceHistoryPoint) error {
	_, err := s.db.Exec(`
		INSERT INTO price_history(token_id, timestamp, date, price_usd, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token_id, timestamp) DO UPDATE SET price_usd=excluded.price_usd, source=excluded.source
	`, p.TokenKey, p.Timestamp, isoDate(p.Timestamp), toFloat(p.PriceUSD), p.Source)
	if err != nil {
		return errs.NewFatal("store.UpsertPriceHistoryPoint", "upsert failed", err)
	}
	return nil
}

func (s *Store) LatestPriceHistoryPoint(tokenID string) (models.PriceHistoryPoint, bool, error) {
	var p models.PriceHistoryPoint
	var price float64
	err := s.db.QueryRow(`
		SELECT token_id, timestamp, price_usd, source FROM price_history
		WHERE token_id=? ORDER BY timestamp DESC LIMIT 1
	`, tokenID).Scan(&p.TokenKey, &p.Timestamp, &price, &p.Source)
	if err == sql.ErrNoRows {
		return models.PriceHistoryPoint{}, false, nil
	}
	if err != nil {
		return models.PriceHistoryPoint{}, false, errs.NewFatal("store.LatestPriceHistoryPoint", "query failed", err)
	}
	p.PriceUSD = decimal.NewFromFloat(price)
	return p, true, nil
}

func (s *Store) UpsertBalanceHistoryPoint(p models.BalanceHistoryPoint) error {
	_, err := s.db.Exec(`
		INSERT INTO balance_history(asset_id, timestamp, date, balance)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(asset_id, timestamp) DO UPDATE SET balance=excluded.balance
	`, p.AssetID, p.Timestamp, isoDate(p.Timestamp), toFloat(p.Balance))
	if err != nil {
		return errs.NewFatal("store.UpsertBalanceHistoryPoint", "upsert failed", err)
	}
	return nil
}

func (s *Store) LatestBalanceHistoryPoint(assetID string) (models.BalanceHistoryPoint, bool, error) {
	var p models.BalanceHistoryPoint
	var bal float64
	err := s.db.QueryRow(`
		SELECT asset_id, timestamp, balance FROM balance_history
		WHERE asset_id=? ORDER BY timestamp DESC LIMIT 1
	`, assetID).Scan(&p.AssetID, &p.Timestamp, &bal)
	if err == sql.ErrNoRows {
		return models.BalanceHistoryPoint{}, false, nil
	}
	if err != nil {
		return models.BalanceHistoryPoint{}, false, errs.NewFatal("store.LatestBalanceHistoryPoint", "query failed", err)
	}
	p.Balance = decimal.NewFromFloat(bal)
	return p, true, nil
}

// UpsertAssetSnapshot is the serialization point the concurrency model
// relies on: the snapshot and back-fill jobs both call this, and
// the UNIQUE(asset_id, timestamp) + ON CONFLICT makes concurrent writers
// to the same point safe without an application-level lock.
func (s *Store) UpsertAssetSnapshot(snap models.AssetSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO asset_snapshots(asset_id, timestamp, date, quantity, price_usd, value_usd)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id, timestamp) DO UPDATE SET
			quantity=excluded.quantity, price_usd=excluded.price_usd, value_usd=excluded.value_usd
	`, snap.AssetID, snap.Timestamp, isoDate(snap.Timestamp), toFloat(snap.Quantity), toFloat(snap.PriceUSD), toFloat(snap.ValueUSD))
	if err != nil {
		return errs.NewFatal("store.UpsertAssetSnapshot", "upsert failed", err)
	}
	return nil
}

func (s *Store) HasAssetSnapshot(assetID string, timestamp int64) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM asset_snapshots WHERE asset_id=? AND timestamp=?`, assetID, timestamp).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.NewFatal("store.HasAssetSnapshot", "query failed", err)
	}
	return true, nil
}

func (s *Store) HasPriceHistoryPoint(tokenID string, timestamp int64) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM price_history WHERE token_id=? AND timestamp=?`, tokenID, timestamp).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return exists == 1, err
}

func (s *Store) HasBalanceHistoryPoint(assetID string, timestamp int64) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM balance_history WHERE asset_id=? AND timestamp=?`, assetID, timestamp).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return exists == 1, err
}

// ListAssetSnapshots returns snapshot rows within [start, end] for filters,
// used by the price/balance history query action.
func (s *Store) ListAssetSnapshots(assetID string, start, end int64, limit int) ([]models.AssetSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT asset_id, timestamp, quantity, price_usd, value_usd
		FROM asset_snapshots
		WHERE asset_id = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp DESC LIMIT ?
	`, assetID, start, end, limit)
	if err != nil {
		return nil, errs.NewTransientNetwork("store.ListAssetSnapshots", "query failed", err)
	}
	defer rows.Close()

	var out []models.AssetSnapshot
	for rows.Next() {
		var snap models.AssetSnapshot
		var qty, price, value float64
		if err := rows.Scan(&snap.AssetID, &snap.Timestamp, &qty, &price, &value); err != nil {
			return nil, err
		}
		snap.Quantity = decimal.NewFromFloat(qty)
		snap.PriceUSD = decimal.NewFromFloat(price)
		snap.ValueUSD = decimal.NewFromFloat(value)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// HistoryFilter narrows ListHistory's result to a chain, address and/or
// symbol. Empty fields are unfiltered.
type HistoryFilter struct {
	Chain   string
	Address string
	Symbol  string
}

// ListHistory joins asset_snapshots with assets/wallets/tokens so the
// operational history query can filter by chain/address/symbol without the
// caller needing an asset id up front; each snapshot already carries
// quantity, price_usd and value_usd, so one query serves both the price- and
// balance-history actions.
func (s *Store) ListHistory(f HistoryFilter, start, end int64, limit int) ([]models.AssetSnapshot, error) {
	query := `
		SELECT s.asset_id, s.timestamp, s.quantity, s.price_usd, s.value_usd
		FROM asset_snapshots s
		JOIN assets a ON a.id = s.asset_id
		JOIN wallets w ON w.id = a.wallet_id
		JOIN tokens t ON t.id = a.token_id
		WHERE s.timestamp BETWEEN ? AND ?
	`
	args := []interface{}{start, end}
	if f.Chain != "" {
		query += ` AND w.blockchain = ?`
		args = append(args, f.Chain)
	}
	if f.Address != "" {
		query += ` AND w.address = ?`
		args = append(args, f.Address)
	}
	if f.Symbol != "" {
		query += ` AND t.symbol = ?`
		args = append(args, f.Symbol)
	}
	query += ` ORDER BY s.timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.NewTransientNetwork("store.ListHistory", "query failed", err)
	}
	defer rows.Close()

	var out []models.AssetSnapshot
	for rows.Next() {
		var snap models.AssetSnapshot
		var qty, price, value float64
		if err := rows.Scan(&snap.AssetID, &snap.Timestamp, &qty, &price, &value); err != nil {
			return nil, err
		}
		snap.Quantity = decimal.NewFromFloat(qty)
		snap.PriceUSD = decimal.NewFromFloat(price)
		snap.ValueUSD = decimal.NewFromFloat(value)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PurgeHistoryOlderThan deletes history rows with timestamp < cutoff across
// all three history tables ( retention).
func (s *Store) PurgeHistoryOlderThan(cutoff int64) (deleted int64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, errs.NewFatal("store.PurgeHistoryOlderThan", "begin tx failed", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"price_history", "balance_history", "asset_snapshots"} {
		res, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE timestamp < ?`, table), cutoff)
		if err != nil {
			return 0, errs.NewFatal("store.PurgeHistoryOlderThan", "delete failed on "+table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, errs.NewFatal("store.PurgeHistoryOlderThan", "commit failed", err)
	}
	return total, nil
}

// ClearPersistedCatalog truncates nothing persistent (caches are
// in-memory) but clears the kv_blobs coin-list catalog persisted by the
// price engine, matching the "clear all caches" administrative action.
func (s *Store) ClearPersistedCatalog() error {
	_, err := s.db.Exec(`DELETE FROM kv_blobs`)
	if err != nil {
		return errs.NewFatal("store.ClearPersistedCatalog", "delete failed", err)
	}
	return nil
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func isoDate(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).UTC().Format(time.RFC3339)
}

func tokenID(symbol, chain, contract string) string {
	return "tok_" + chain + "_" + symbol + "_" + contract
}

func walletID(address, chain string) string {
	return "wal_" + chain + "_" + address
}
