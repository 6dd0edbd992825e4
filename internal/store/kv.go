package store

import (
	"database/sql"
	"time"

	"github.com/yourusername/portfoliod/internal/errs"
)

// PutBlob persists an opaque byte blob under key, upserting on conflict.
// Used by the price engine to survive-restart its fetched external-id
// catalog without inventing a bespoke table per cache.
func (s *Store) PutBlob(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv_blobs(key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return errs.NewFatal("store.PutBlob", "upsert failed", err)
	}
	return nil
}

func (s *Store) GetBlob(key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT value FROM kv_blobs WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.NewFatal("store.GetBlob", "query failed", err)
	}
	return v, true, nil
}
