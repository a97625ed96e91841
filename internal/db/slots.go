package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
)

// GetSlotBinding returns the remote record currently bound to a container,
// or ErrNotFound when the slot has never been filled.
func (r *Repository) GetSlotBinding(ctx context.Context, workOrderID, containerID string) (*models.SlotBinding, error) {
	stmt, err := r.prepare(`
	SELECT work_order_id, container_id, remote_id, updated_at
	FROM slot_bindings WHERE work_order_id = ? AND container_id = ?`)
	if err != nil {
		return nil, err
	}

	var b models.SlotBinding
	err = stmt.QueryRowContext(ctx, workOrderID, containerID).
		Scan(&b.WorkOrderID, &b.ContainerID, &b.RemoteID, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpsertSlotBinding points a container at a new remote record id.
func (r *Repository) UpsertSlotBinding(ctx context.Context, workOrderID, containerID, remoteID string) error {
	stmt, err := r.prepare(`
	INSERT INTO slot_bindings (work_order_id, container_id, remote_id, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(work_order_id, container_id)
	DO UPDATE SET remote_id = excluded.remote_id, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, workOrderID, containerID, remoteID, time.Now().Unix())
	return err
}
