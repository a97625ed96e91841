package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
)

// GetCacheEntry returns the entry for key, or ErrNotFound on a miss.
func (r *Repository) GetCacheEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	stmt, err := r.prepare(`SELECT key, endpoint, data, fetched_at, last_sync_at FROM cache_entries WHERE key = ?`)
	if err != nil {
		return nil, err
	}

	var e models.CacheEntry
	var data string
	err = stmt.QueryRowContext(ctx, key).Scan(&e.Key, &e.Endpoint, &data, &e.FetchedAt, &e.LastSyncAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Data = []byte(data)
	return &e, nil
}

// UpsertCacheEntry overwrites the entry for key.
func (r *Repository) UpsertCacheEntry(ctx context.Context, e *models.CacheEntry) error {
	stmt, err := r.prepare(`
	INSERT INTO cache_entries (key, endpoint, data, fetched_at, last_sync_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		endpoint = excluded.endpoint,
		data = excluded.data,
		fetched_at = excluded.fetched_at,
		last_sync_at = excluded.last_sync_at`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, e.Key, e.Endpoint, string(e.Data), e.FetchedAt, e.LastSyncAt)
	return err
}

// TouchCacheLastSync stamps only last_sync_at, leaving the cached data in
// place. Used after a failed background refresh so the stale entry is not
// re-refreshed on every read within the same window.
func (r *Repository) TouchCacheLastSync(ctx context.Context, key string, lastSyncAt int64) error {
	stmt, err := r.prepare(`UPDATE cache_entries SET last_sync_at = ? WHERE key = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, lastSyncAt, key)
	return err
}

// DeleteCacheEntry removes a single entry. Missing keys are a success.
func (r *Repository) DeleteCacheEntry(ctx context.Context, key string) error {
	stmt, err := r.prepare(`DELETE FROM cache_entries WHERE key = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, key)
	return err
}

// ClearCacheEntries removes every entry whose endpoint starts with prefix;
// an empty prefix clears the whole cache. Returns the number removed.
func (r *Repository) ClearCacheEntries(ctx context.Context, prefix string) (int, error) {
	var res sql.Result
	var err error
	if prefix == "" {
		res, err = r.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	} else {
		res, err = r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE endpoint LIKE ? || '%'`, prefix)
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
