package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Meta flags: small one-off markers like migration completion.

// GetMeta returns the meta value for key, or ErrNotFound.
func (r *Repository) GetMeta(ctx context.Context, key string) (string, error) {
	stmt, err := r.prepare(`SELECT value FROM meta WHERE key = ?`)
	if err != nil {
		return "", err
	}
	var value string
	err = stmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SetMeta stores a meta flag.
func (r *Repository) SetMeta(ctx context.Context, key, value string) error {
	stmt, err := r.prepare(`
	INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, key, value)
	return err
}

// Structured key-value records: the destination of the legacy flat-store
// migration and the routed backend of the migration adapter.

// GetKV returns the structured record for key, or ErrNotFound.
func (r *Repository) GetKV(ctx context.Context, key string) (string, error) {
	stmt, err := r.prepare(`SELECT value FROM kv_records WHERE key = ?`)
	if err != nil {
		return "", err
	}
	var value string
	err = stmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SetKV stores a structured key-value record.
func (r *Repository) SetKV(ctx context.Context, key, value string) error {
	stmt, err := r.prepare(`
	INSERT INTO kv_records (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, key, value, time.Now().Unix())
	return err
}

// DeleteKV removes a structured record. Missing keys are a success.
func (r *Repository) DeleteKV(ctx context.Context, key string) error {
	stmt, err := r.prepare(`DELETE FROM kv_records WHERE key = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, key)
	return err
}

// ListKVKeys returns every structured key with the given prefix.
func (r *Repository) ListKVKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key FROM kv_records WHERE key LIKE ? || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
