package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

const actionColumns = `id, type, work_order_id, actor_id, payload, synced, attempts, last_error, created_at, updated_at`

// CreateAction inserts an action and registers its work-order partition in
// the same transaction, so the partition index can never miss a pending
// action after a crash.
func (r *Repository) CreateAction(ctx context.Context, a *models.OfflineAction) error {
	now := time.Now().UnixMilli()
	a.CreatedAt = now
	a.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO offline_actions (id, type, work_order_id, actor_id, payload, synced, attempts, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 0, 0, '', ?, ?)`,
		a.ID, a.Type, a.WorkOrderID, a.ActorID, string(a.Payload), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO action_partitions (work_order_id, created_at) VALUES (?, ?)
	ON CONFLICT(work_order_id) DO NOTHING`,
		a.WorkOrderID, now)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetAction retrieves an action by id.
func (r *Repository) GetAction(ctx context.Context, id string) (*models.OfflineAction, error) {
	stmt, err := r.prepare(`SELECT ` + actionColumns + ` FROM offline_actions WHERE id = ?`)
	if err != nil {
		return nil, err
	}

	a, err := scanAction(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListPendingActions returns actions with synced = false and attempts
// below the cap, in enqueue order per work order. An empty workOrderID
// lists across all partitions.
func (r *Repository) ListPendingActions(ctx context.Context, workOrderID string, maxAttempts int) ([]*models.OfflineAction, error) {
	query := `SELECT ` + actionColumns + ` FROM offline_actions
	WHERE synced = 0 AND attempts < ?`
	args := []interface{}{maxAttempts}

	if workOrderID != "" {
		query += ` AND work_order_id = ?`
		args = append(args, workOrderID)
	}
	// rowid ties break same-timestamp actions back into insertion order.
	query += ` ORDER BY work_order_id, created_at, rowid`

	return r.queryActions(ctx, query, args...)
}

// ListFailedActions returns unsynced actions at or above the attempt cap.
func (r *Repository) ListFailedActions(ctx context.Context, workOrderID string, maxAttempts int) ([]*models.OfflineAction, error) {
	query := `SELECT ` + actionColumns + ` FROM offline_actions
	WHERE synced = 0 AND attempts >= ?`
	args := []interface{}{maxAttempts}

	if workOrderID != "" {
		query += ` AND work_order_id = ?`
		args = append(args, workOrderID)
	}
	query += ` ORDER BY work_order_id, created_at, rowid`

	return r.queryActions(ctx, query, args...)
}

// MarkActionSynced flips the terminal synced flag. Idempotent: marking an
// already-synced action is a success.
func (r *Repository) MarkActionSynced(ctx context.Context, id string) error {
	return r.touchAction(ctx, `UPDATE offline_actions SET synced = 1, last_error = '', updated_at = ? WHERE id = ?`, id)
}

// IncrementActionAttempts records one failed sync attempt with its error
// message.
func (r *Repository) IncrementActionAttempts(ctx context.Context, id, errMsg string) error {
	stmt, err := r.prepare(`UPDATE offline_actions SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, errMsg, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ResetActionAttempts is the operator "retry" path for a failed action.
func (r *Repository) ResetActionAttempts(ctx context.Context, id string) error {
	return r.touchAction(ctx, `UPDATE offline_actions SET attempts = 0, last_error = '', updated_at = ? WHERE id = ?`, id)
}

// DeleteAction is the operator "discard" path for a failed action.
func (r *Repository) DeleteAction(ctx context.Context, id string) error {
	stmt, err := r.prepare(`DELETE FROM offline_actions WHERE id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, id)
	return err
}

// CleanupSyncedActions purges fully-synced actions created before the
// horizon and returns the number removed.
func (r *Repository) CleanupSyncedActions(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM offline_actions WHERE synced = 1 AND created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListPartitions returns every work-order id that has ever held actions.
// An empty result means zero pending work orders, never a signal to scan
// an id range.
func (r *Repository) ListPartitions(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT work_order_id FROM action_partitions ORDER BY created_at, work_order_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repository) touchAction(ctx context.Context, query, id string) error {
	stmt, err := r.prepare(query)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *Repository) queryActions(ctx context.Context, query string, args ...interface{}) ([]*models.OfflineAction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.OfflineAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*models.OfflineAction, error) {
	var a models.OfflineAction
	var payload string
	err := row.Scan(&a.ID, &a.Type, &a.WorkOrderID, &a.ActorID, &payload,
		&a.Synced, &a.Attempts, &a.LastError, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Payload = []byte(payload)
	return &a, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
