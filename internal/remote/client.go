// Package remote talks to the backend REST API. It defines the narrow
// client surface the sync engine depends on, so tests and offline builds
// can substitute a fake without touching the engine.
package remote

import (
	"context"
	"encoding/json"
	"io"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
)

// DataRecord is a technician data entry pushed to the backend. A record
// bound to an extra-photo container goes through the deactivate-then-insert
// protocol so the backend never holds two active records for one slot.
type DataRecord struct {
	WorkOrderID   string `json:"work_order_id"`
	ContainerID   string `json:"container_id,omitempty"`
	EntryID       string `json:"entry_id"`
	Value         string `json:"value,omitempty"`
	PhotoRemoteID string `json:"photo_remote_id,omitempty"`
	ActorID       string `json:"actor_id"`
	Active        bool   `json:"active"`
}

// FilledValue is a plain form value with no photo attached.
type FilledValue struct {
	WorkOrderID string `json:"work_order_id"`
	EntryID     string `json:"entry_id"`
	Value       string `json:"value"`
	ActorID     string `json:"actor_id"`
}

// Client is the backend surface the sync engine drains the queue against.
// Every method maps to one authoritative remote write or read.
type Client interface {
	// UpsertStepComment creates or replaces the comment on a service step.
	UpsertStepComment(ctx context.Context, workOrderID, stepID, actorID, comment string) error

	// InsertDataRecord creates an active data record and returns its
	// backend-assigned id.
	InsertDataRecord(ctx context.Context, rec *DataRecord) (string, error)

	// DeactivateDataRecord marks a previously inserted record inactive.
	DeactivateDataRecord(ctx context.Context, remoteID string) error

	// InsertFilledValue pushes a plain form value.
	InsertFilledValue(ctx context.Context, v *FilledValue) error

	// FinalizeAudit submits the closing audit payload for a work order.
	FinalizeAudit(ctx context.Context, workOrderID, actorID string, payload json.RawMessage) error

	// UpdateWorkOrderStatus transitions a work order's lifecycle status.
	UpdateWorkOrderStatus(ctx context.Context, workOrderID, status string) error

	// UploadPhoto streams photo bytes to remote storage and returns the
	// backend-assigned id.
	UploadPhoto(ctx context.Context, asset *models.PhotoAsset, content io.Reader) (string, error)

	// FetchCollection reads a collection endpoint with query parameters
	// and returns the raw JSON body.
	FetchCollection(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error)
}

// Prober answers whether the backend is reachable right now.
type Prober interface {
	Online(ctx context.Context) bool
}
