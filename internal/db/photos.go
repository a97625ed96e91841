package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
)

const photoColumns = `id, work_order_id, kind, primary_path, backup_path, size, synced, created_at`

// CreatePhoto records a photo asset's metadata.
func (r *Repository) CreatePhoto(ctx context.Context, p *models.PhotoAsset) error {
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	stmt, err := r.prepare(`
	INSERT INTO photo_assets (id, work_order_id, kind, primary_path, backup_path, size, synced, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, p.ID, p.WorkOrderID, p.Kind, p.PrimaryPath, p.BackupPath, p.Size, p.Synced, p.CreatedAt)
	return err
}

// GetPhoto retrieves a photo asset by id.
func (r *Repository) GetPhoto(ctx context.Context, id string) (*models.PhotoAsset, error) {
	stmt, err := r.prepare(`SELECT ` + photoColumns + ` FROM photo_assets WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	p, err := scanPhoto(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// MarkPhotoSynced flips the synced flag of a photo asset.
func (r *Repository) MarkPhotoSynced(ctx context.Context, id string) error {
	stmt, err := r.prepare(`UPDATE photo_assets SET synced = 1 WHERE id = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeletePhoto removes a photo asset's metadata. Deleting a missing photo
// is a success.
func (r *Repository) DeletePhoto(ctx context.Context, id string) error {
	stmt, err := r.prepare(`DELETE FROM photo_assets WHERE id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, id)
	return err
}

// ListUnsyncedPhotos returns unsynced photo assets, optionally scoped to
// one work order and one kind.
func (r *Repository) ListUnsyncedPhotos(ctx context.Context, workOrderID string, kind models.PhotoKind) ([]*models.PhotoAsset, error) {
	query := `SELECT ` + photoColumns + ` FROM photo_assets WHERE synced = 0`
	var args []interface{}
	if workOrderID != "" {
		query += ` AND work_order_id = ?`
		args = append(args, workOrderID)
	}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at, id`
	return r.queryPhotos(ctx, query, args...)
}

// ListSyncedPhotosBefore returns synced photo assets created before the
// horizon, for age-based cleanup.
func (r *Repository) ListSyncedPhotosBefore(ctx context.Context, before time.Time) ([]*models.PhotoAsset, error) {
	return r.queryPhotos(ctx,
		`SELECT `+photoColumns+` FROM photo_assets WHERE synced = 1 AND created_at < ? ORDER BY created_at, id`,
		before.Unix())
}

// ListAllPhotos returns the full photo catalog, for diagnostics.
func (r *Repository) ListAllPhotos(ctx context.Context) ([]*models.PhotoAsset, error) {
	return r.queryPhotos(ctx, `SELECT `+photoColumns+` FROM photo_assets ORDER BY created_at, id`)
}

func (r *Repository) queryPhotos(ctx context.Context, query string, args ...interface{}) ([]*models.PhotoAsset, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PhotoAsset
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPhoto(row rowScanner) (*models.PhotoAsset, error) {
	var p models.PhotoAsset
	err := row.Scan(&p.ID, &p.WorkOrderID, &p.Kind, &p.PrimaryPath, &p.BackupPath, &p.Size, &p.Synced, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
