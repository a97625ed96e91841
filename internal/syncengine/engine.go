// Package syncengine drains the offline action queue against the backend.
// At most one sync pass runs at a time; overlapping triggers collapse into
// a no-op instead of queueing behind the running pass.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/apperrors"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/cache"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/db"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/logging"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/queue"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/remote"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/vault"
)

// Collections invalidated after a pass that pushed anything, so the next
// read refetches the authoritative state.
var invalidatedPrefixes = []string{
	"/rest/v1/work_orders",
	"/rest/v1/service_steps",
	"/rest/v1/data_records",
}

// Result summarizes one sync pass.
type Result struct {
	// SyncedCount is the number of actions confirmed by the backend.
	SyncedCount int
	// Errors holds one message per action that failed this pass. A
	// non-empty slice does not fail the pass; the actions stay queued.
	Errors []string
}

// Engine owns the sync pass. All collaborators are injected.
type Engine struct {
	repo   *db.Repository
	queue  *queue.Queue
	vault  *vault.Vault
	cache  *cache.Store
	client remote.Client
	prober remote.Prober

	mu    sync.Mutex
	abort atomic.Bool
}

// New wires an Engine from its collaborators.
func New(repo *db.Repository, q *queue.Queue, v *vault.Vault, c *cache.Store, client remote.Client, prober remote.Prober) *Engine {
	return &Engine{
		repo:   repo,
		queue:  q,
		vault:  v,
		cache:  c,
		client: client,
		prober: prober,
	}
}

// Stop abandons the pass currently in flight: its current action finishes
// and the remaining batch is left queued for the next run. With no pass
// running, Stop is a no-op.
func (e *Engine) Stop() {
	e.abort.Store(true)
}

// SyncAll drains pending actions in enqueue order per work order, then
// sweeps unsynced opening photos for the touched work orders plus any
// hinted ones. A pass already in flight makes this call a zero-count
// no-op. Connectivity loss mid-pass stops the pass without charging
// attempts to the remaining actions.
func (e *Engine) SyncAll(ctx context.Context, hints ...string) (*Result, error) {
	result := &Result{}
	if !e.mu.TryLock() {
		logging.Debug("sync already in progress, skipping", nil)
		return result, nil
	}
	defer e.mu.Unlock()
	// A stop only ever cancels the pass it interrupts.
	e.abort.Store(false)

	pending, err := e.queue.ListPending(ctx, "")
	if err != nil {
		return nil, err
	}

	touched := make(map[string]bool)
	for _, hint := range hints {
		touched[hint] = true
	}

	for _, action := range pending {
		if e.abort.Load() || ctx.Err() != nil {
			break
		}
		if !e.prober.Online(ctx) {
			logging.Info("backend unreachable, pausing sync pass", logging.Fields{
				"remaining": len(pending) - result.SyncedCount,
			})
			break
		}

		if err := e.syncAction(ctx, action); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", action.ID, err))
			if incErr := e.queue.IncrementAttempts(ctx, action.ID, err.Error()); incErr != nil {
				logging.Error("failed to record sync failure", incErr, logging.Fields{"action_id": action.ID})
			}
			continue
		}

		if err := e.queue.MarkSynced(ctx, action.ID); err != nil {
			// The remote write landed; losing the local flag means a
			// redundant (idempotent) push next pass, not data loss.
			logging.Error("failed to mark action synced", err, logging.Fields{"action_id": action.ID})
		}
		result.SyncedCount++
		touched[action.WorkOrderID] = true
	}

	e.sweepOpeningPhotos(ctx, touched, result)

	if result.SyncedCount > 0 {
		e.invalidateCollections(ctx)
	}

	logging.Info("sync pass finished", logging.Fields{
		"synced": result.SyncedCount,
		"failed": len(result.Errors),
	})
	return result, nil
}

// syncAction pushes one action to the backend. A nil return means the
// backend confirmed the write.
func (e *Engine) syncAction(ctx context.Context, action *models.OfflineAction) error {
	payload, err := action.DecodePayload()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalid, "decode action payload", err)
	}

	switch action.Type {
	case models.ActionCommentOnStep:
		return e.client.UpsertStepComment(ctx, action.WorkOrderID, payload.StepID, action.ActorID, payload.Comment)

	case models.ActionSimpleDataEntry:
		return e.client.InsertFilledValue(ctx, &remote.FilledValue{
			WorkOrderID: action.WorkOrderID,
			EntryID:     payload.EntryID,
			Value:       payload.Value,
			ActorID:     action.ActorID,
		})

	case models.ActionDataEntryWithPhoto:
		return e.syncDataEntryWithPhoto(ctx, action, payload)

	case models.ActionInitialPhoto, models.ActionFinalPhoto:
		_, err := e.uploadPhoto(ctx, payload.PhotoID)
		return err

	case models.ActionFinalAudit:
		return e.client.FinalizeAudit(ctx, action.WorkOrderID, action.ActorID, action.Payload)

	case models.ActionStatusUpdate:
		return e.client.UpdateWorkOrderStatus(ctx, action.WorkOrderID, payload.Status)

	default:
		return apperrors.Newf(apperrors.CodeInvalid, "unknown action type %q", action.Type)
	}
}

// syncDataEntryWithPhoto uploads the attached photo, then applies the
// slot protocol: when the entry targets an extra-photo container, the
// slot's previous record is deactivated before the new one is inserted,
// so re-submissions never leave two active records on one slot.
func (e *Engine) syncDataEntryWithPhoto(ctx context.Context, action *models.OfflineAction, payload *models.ActionPayload) error {
	var photoRemoteID string
	if payload.PhotoID != "" {
		remoteID, err := e.uploadPhoto(ctx, payload.PhotoID)
		if err != nil {
			return err
		}
		photoRemoteID = remoteID
	}

	if payload.ContainerID != "" {
		binding, err := e.repo.GetSlotBinding(ctx, action.WorkOrderID, payload.ContainerID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return apperrors.Wrap(apperrors.CodeDatabase, "load slot binding", err)
		}
		if binding != nil && binding.RemoteID != "" {
			if err := e.client.DeactivateDataRecord(ctx, binding.RemoteID); err != nil {
				return fmt.Errorf("deactivate previous slot record: %w", err)
			}
		}
	}

	remoteID, err := e.client.InsertDataRecord(ctx, &remote.DataRecord{
		WorkOrderID:   action.WorkOrderID,
		ContainerID:   payload.ContainerID,
		EntryID:       payload.EntryID,
		Value:         payload.Value,
		PhotoRemoteID: photoRemoteID,
		ActorID:       action.ActorID,
	})
	if err != nil {
		return err
	}

	if payload.ContainerID != "" {
		if err := e.repo.UpsertSlotBinding(ctx, action.WorkOrderID, payload.ContainerID, remoteID); err != nil {
			// The backend state is correct; the stale binding costs one
			// extra deactivate call on the next submission.
			logging.Error("failed to record slot binding", err, logging.Fields{
				"work_order_id": action.WorkOrderID,
				"container_id":  payload.ContainerID,
			})
		}
	}
	return nil
}

// uploadPhoto streams one vault asset to remote storage and marks it
// synced. Already-synced assets are skipped without a backend call.
func (e *Engine) uploadPhoto(ctx context.Context, photoID string) (string, error) {
	asset, err := e.repo.GetPhoto(ctx, photoID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", apperrors.Newf(apperrors.CodeCorruptAsset, "photo %s has no catalog entry", photoID)
		}
		return "", apperrors.Wrap(apperrors.CodeDatabase, "load photo metadata", err)
	}
	if asset.Synced {
		return asset.ID, nil
	}

	content, err := e.vault.Open(ctx, photoID)
	if err != nil {
		return "", err
	}
	defer content.Close()

	remoteID, err := e.client.UploadPhoto(ctx, asset, content)
	if err != nil {
		return "", err
	}
	if err := e.vault.MarkSynced(ctx, photoID); err != nil {
		logging.Error("failed to mark photo synced", err, logging.Fields{"photo_id": photoID})
	}
	return remoteID, nil
}

// sweepOpeningPhotos uploads unsynced opening-audit photos for every work
// order the pass touched. Opening photos are taken before any action is
// queued, so a killed process can leave them behind with no queue entry
// pointing at them.
func (e *Engine) sweepOpeningPhotos(ctx context.Context, workOrders map[string]bool, result *Result) {
	for workOrderID := range workOrders {
		if e.abort.Load() || ctx.Err() != nil {
			return
		}
		assets, err := e.vault.ListUnsynced(ctx, workOrderID, models.PhotoInitialAudit)
		if err != nil {
			logging.Error("opening photo sweep failed", err, logging.Fields{"work_order_id": workOrderID})
			continue
		}
		for _, asset := range assets {
			if !e.prober.Online(ctx) {
				return
			}
			if _, err := e.uploadPhoto(ctx, asset.ID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("photo %s: %v", asset.ID, err))
				continue
			}
			result.SyncedCount++
		}
	}
}

func (e *Engine) invalidateCollections(ctx context.Context) {
	for _, prefix := range invalidatedPrefixes {
		if _, err := e.cache.ClearAll(ctx, prefix); err != nil {
			logging.Warn("cache invalidation failed", logging.Fields{
				"prefix": prefix,
				"reason": err.Error(),
			})
		}
	}
}
