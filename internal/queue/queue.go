// Package queue provides the durable action queue: an append-only log of
// pending user actions, partitioned per work order. Enqueue must succeed
// locally for the app to consider a user action saved; everything else in
// the sync pipeline builds on that guarantee.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/apperrors"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/db"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/logging"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
)

// Queue manages offline actions on top of the typed record store.
type Queue struct {
	repo        *db.Repository
	maxAttempts int
}

// New creates a Queue with the default attempt cap.
func New(repo *db.Repository) *Queue {
	return &Queue{repo: repo, maxAttempts: models.MaxSyncAttempts}
}

// MaxAttempts returns the automatic retry cap.
func (q *Queue) MaxAttempts() int {
	return q.maxAttempts
}

// Enqueue appends an action to its work-order partition. The write is
// durable before Enqueue returns. A failure here is a
// LocalPersistenceFailure: fatal, surfaced to the caller, never retried,
// because the queue itself is the durability guarantee.
func (q *Queue) Enqueue(ctx context.Context, action *models.OfflineAction) error {
	if action.ID == "" || action.WorkOrderID == "" {
		return apperrors.New(apperrors.CodeInvalid, "action id and work order id are required")
	}
	if action.Type == "" {
		return apperrors.New(apperrors.CodeInvalid, "action type is required")
	}

	if err := q.repo.CreateAction(ctx, action); err != nil {
		logging.Error("failed to persist action locally", err, logging.Fields{
			"action_id":     action.ID,
			"action_type":   action.Type,
			"work_order_id": action.WorkOrderID,
		})
		return apperrors.Wrap(apperrors.CodeLocalPersistence, "enqueue action", err)
	}

	logging.Debug("action enqueued", logging.Fields{
		"action_id":     action.ID,
		"action_type":   action.Type,
		"work_order_id": action.WorkOrderID,
	})
	return nil
}

// ListPending returns unsynced actions below the attempt cap, in enqueue
// order per work order. An empty workOrderID enumerates every partition;
// an empty partition index means zero pending.
func (q *Queue) ListPending(ctx context.Context, workOrderID string) ([]*models.OfflineAction, error) {
	actions, err := q.repo.ListPendingActions(ctx, workOrderID, q.maxAttempts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabase, "list pending actions", err)
	}
	return actions, nil
}

// ListFailed returns actions that exhausted their automatic retries. These
// are reported to the user with explicit retry/discard choices.
func (q *Queue) ListFailed(ctx context.Context, workOrderID string) ([]*models.OfflineAction, error) {
	actions, err := q.repo.ListFailedActions(ctx, workOrderID, q.maxAttempts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabase, "list failed actions", err)
	}
	return actions, nil
}

// Partitions returns every work-order id that has ever held actions.
func (q *Queue) Partitions(ctx context.Context) ([]string, error) {
	parts, err := q.repo.ListPartitions(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabase, "list partitions", err)
	}
	return parts, nil
}

// MarkSynced flips an action's terminal synced flag. Idempotent.
func (q *Queue) MarkSynced(ctx context.Context, actionID string) error {
	if err := q.repo.MarkActionSynced(ctx, actionID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperrors.Newf(apperrors.CodeNotFound, "action %s not found", actionID)
		}
		return apperrors.Wrap(apperrors.CodeDatabase, "mark action synced", err)
	}
	return nil
}

// IncrementAttempts records one failed sync attempt with its error text.
func (q *Queue) IncrementAttempts(ctx context.Context, actionID, errMsg string) error {
	if err := q.repo.IncrementActionAttempts(ctx, actionID, errMsg); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperrors.Newf(apperrors.CodeNotFound, "action %s not found", actionID)
		}
		return apperrors.Wrap(apperrors.CodeDatabase, "increment action attempts", err)
	}

	action, err := q.repo.GetAction(ctx, actionID)
	if err == nil && action.Exhausted() {
		logging.Warn("action exhausted automatic retries", logging.Fields{
			"action_id":     action.ID,
			"action_type":   action.Type,
			"work_order_id": action.WorkOrderID,
			"attempts":      action.Attempts,
		})
	}
	return nil
}

// Retry resets the attempt counter of a failed action so the next sync
// picks it up again. Operator-initiated only.
func (q *Queue) Retry(ctx context.Context, actionID string) error {
	action, err := q.repo.GetAction(ctx, actionID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperrors.Newf(apperrors.CodeNotFound, "action %s not found", actionID)
		}
		return apperrors.Wrap(apperrors.CodeDatabase, "load action", err)
	}
	if action.Synced {
		return apperrors.Newf(apperrors.CodeInvalid, "action %s is already synced", actionID)
	}

	if err := q.repo.ResetActionAttempts(ctx, actionID); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabase, "reset action attempts", err)
	}
	logging.Info("failed action reset for retry", logging.Fields{"action_id": actionID})
	return nil
}

// Discard removes a failed action. Operator-initiated only: automatic
// paths never drop an action.
func (q *Queue) Discard(ctx context.Context, actionID string) error {
	action, err := q.repo.GetAction(ctx, actionID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil // already gone
		}
		return apperrors.Wrap(apperrors.CodeDatabase, "load action", err)
	}
	if !action.Exhausted() {
		return apperrors.Newf(apperrors.CodeInvalid, "action %s has not exhausted retries", actionID)
	}

	if err := q.repo.DeleteAction(ctx, actionID); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabase, "discard action", err)
	}
	logging.Warn("failed action discarded by operator", logging.Fields{
		"action_id":     actionID,
		"work_order_id": action.WorkOrderID,
	})
	return nil
}

// CleanupSynced purges fully-synced actions older than the horizon and
// returns the number removed.
func (q *Queue) CleanupSynced(ctx context.Context, horizon time.Duration) (int, error) {
	n, err := q.repo.CleanupSyncedActions(ctx, time.Now().Add(-horizon))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabase, "cleanup synced actions", err)
	}
	if n > 0 {
		logging.Info("purged synced actions past retention", logging.Fields{"count": n})
	}
	return n, nil
}

// BuildAction assembles a new OfflineAction with a natural-order id.
func BuildAction(t models.ActionType, workOrderID, actorID, subjectID string, payload *models.ActionPayload) (*models.OfflineAction, error) {
	raw, err := payloadJSON(payload)
	if err != nil {
		return nil, err
	}
	return &models.OfflineAction{
		ID:          models.NewActionID(t, subjectID, time.Now()),
		Type:        t,
		WorkOrderID: workOrderID,
		ActorID:     actorID,
		Payload:     raw,
	}, nil
}

func payloadJSON(payload *models.ActionPayload) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}
