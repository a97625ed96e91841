// Package models provides data model definitions for the EVOS sync core.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType identifies the kind of user-originated change an
// OfflineAction carries.
type ActionType string

const (
	ActionCommentOnStep      ActionType = "comment-on-step"
	ActionDataEntryWithPhoto ActionType = "data-entry-with-photo"
	ActionSimpleDataEntry    ActionType = "simple-data-entry"
	ActionFinalAudit         ActionType = "final-audit-submission"
	ActionInitialPhoto       ActionType = "initial-photo"
	ActionFinalPhoto         ActionType = "final-photo"
	ActionStatusUpdate       ActionType = "status-update"
)

// MaxSyncAttempts is the automatic retry cap. Actions at the cap are
// excluded from automatic sync and require an explicit operator retry.
const MaxSyncAttempts = 3

// OfflineAction is a single durable record of a user-initiated change
// awaiting confirmation from the remote backend.
//
// The record is created synchronously on the user action and mutated only
// by the sync engine (attempts, synced, last_error). Synced is terminal
// once true.
type OfflineAction struct {
	ID          string          `db:"id" json:"id"`
	Type        ActionType      `db:"type" json:"type"`
	WorkOrderID string          `db:"work_order_id" json:"work_order_id"`
	ActorID     string          `db:"actor_id" json:"actor_id"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Synced      bool            `db:"synced" json:"synced"`
	Attempts    int             `db:"attempts" json:"attempts"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   int64           `db:"created_at" json:"created_at"`
	UpdatedAt   int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for OfflineAction.
func (OfflineAction) TableName() string {
	return "offline_actions"
}

// Exhausted reports whether the action has used up its automatic retries.
func (a *OfflineAction) Exhausted() bool {
	return !a.Synced && a.Attempts >= MaxSyncAttempts
}

// NewActionID builds an action id as {type}_{subjectID}_{unix-millis}.
// The timestamp suffix keeps ids naturally ordered by creation time.
func NewActionID(t ActionType, subjectID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", t, subjectID, at.UnixMilli())
}

// ActionPayload is the type-specific body of an OfflineAction. Fields not
// relevant to the action type are left empty and omitted from JSON.
type ActionPayload struct {
	StepID      string `json:"step_id,omitempty"`
	EntryID     string `json:"entry_id,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Value       string `json:"value,omitempty"`
	PhotoID     string `json:"photo_id,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
	Status      string `json:"status,omitempty"`
}

// DecodePayload unmarshals the action payload.
func (a *OfflineAction) DecodePayload() (*ActionPayload, error) {
	var p ActionPayload
	if len(a.Payload) == 0 {
		return &p, nil
	}
	if err := json.Unmarshal(a.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload of action %s: %w", a.ID, err)
	}
	return &p, nil
}
