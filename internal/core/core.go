// Package core wires the durability engine together and exposes the
// surface the host application embeds: record an action locally, let the
// sync machinery push it when the backend is reachable.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/cache"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/config"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/connectivity"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/db"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/logging"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/migration"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/queue"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/remote"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/syncengine"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/vault"
)

// legacyFileName is the flat-file store written by earlier releases.
const legacyFileName = "storage.json"

// Core owns the wired engine. Construct it once per process with New and
// release it with Close.
type Core struct {
	cfg      *config.Config
	database *db.DB
	repo     *db.Repository
	queue    *queue.Queue
	vault    *vault.Vault
	cache    *cache.Store
	client   remote.Client
	engine   *syncengine.Engine
	monitor  *connectivity.Monitor
	kv       *migration.Adapter
}

// New opens the local store, applies schema migrations, imports the
// legacy flat file when present, and wires every component. The client
// and prober are injectable for tests; pass nil to use the HTTP backend
// from the configuration.
func New(ctx context.Context, cfg *config.Config, client remote.Client, prober remote.Prober) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		database.Close()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		database.Close()
		return nil, err
	}

	repo := db.NewRepository(database.DB)

	flat, err := migration.OpenFlatStore(filepath.Join(cfg.DataDir, legacyFileName))
	if err != nil {
		repo.Close()
		database.Close()
		return nil, err
	}
	if _, err := migration.NewImporter(repo, flat).Run(ctx); err != nil {
		repo.Close()
		database.Close()
		return nil, err
	}

	v, err := vault.New(repo, cfg.DataDir)
	if err != nil {
		repo.Close()
		database.Close()
		return nil, err
	}

	if client == nil {
		httpClient := remote.NewHTTPClient(cfg.RemoteBaseURL, cfg.RemoteAPIKey, cfg.RemoteTimeout)
		client = httpClient
		if prober == nil {
			prober = httpClient
		}
	}

	c := &Core{
		cfg:      cfg,
		database: database,
		repo:     repo,
		queue:    queue.New(repo),
		vault:    v,
		cache: cache.New(repo, cache.Config{
			TTL:          cfg.CacheTTL,
			SyncInterval: cfg.CacheSyncInterval,
		}),
		client: client,
		kv:     migration.NewAdapter(repo, flat),
	}
	c.engine = syncengine.New(repo, c.queue, v, c.cache, client, prober)
	c.monitor = connectivity.New(prober, func(ctx context.Context) {
		if _, err := c.engine.SyncAll(ctx); err != nil {
			logging.Error("background sync failed", err, nil)
		}
	}, cfg.ProbeInterval, cfg.SyncDebounce)

	return c, nil
}

// Start begins connectivity monitoring. Safe to skip in hosts that drive
// Sync explicitly.
func (c *Core) Start() {
	c.monitor.Start()
}

// Close winds down background work and releases the store.
func (c *Core) Close() error {
	c.monitor.Stop()
	c.engine.Stop()
	if err := c.repo.Close(); err != nil {
		logging.Warn("failed to close statement cache", logging.Fields{"reason": err.Error()})
	}
	return c.database.Close()
}

// CommentOnStep durably records a step comment for later sync.
func (c *Core) CommentOnStep(ctx context.Context, workOrderID, actorID, stepID, comment string) error {
	action, err := queue.BuildAction(models.ActionCommentOnStep, workOrderID, actorID, stepID,
		&models.ActionPayload{StepID: stepID, Comment: comment})
	if err != nil {
		return err
	}
	return c.queue.Enqueue(ctx, action)
}

// SubmitDataEntry durably records a plain form value.
func (c *Core) SubmitDataEntry(ctx context.Context, workOrderID, actorID, entryID, value string) error {
	action, err := queue.BuildAction(models.ActionSimpleDataEntry, workOrderID, actorID, entryID,
		&models.ActionPayload{EntryID: entryID, Value: value})
	if err != nil {
		return err
	}
	return c.queue.Enqueue(ctx, action)
}

// SubmitDataEntryWithPhoto stores the photo in the vault first, then
// queues the entry referencing it. The photo write failing fails the
// whole operation; a queued entry must never point at missing bytes.
func (c *Core) SubmitDataEntryWithPhoto(ctx context.Context, workOrderID, actorID, entryID, containerID, value string, photo io.Reader) error {
	asset, err := c.vault.SavePhoto(ctx, photo, workOrderID, models.PhotoDataRecord, "")
	if err != nil {
		return err
	}

	action, err := queue.BuildAction(models.ActionDataEntryWithPhoto, workOrderID, actorID, entryID,
		&models.ActionPayload{
			EntryID:     entryID,
			Value:       value,
			PhotoID:     asset.ID,
			ContainerID: containerID,
		})
	if err != nil {
		return err
	}
	if err := c.queue.Enqueue(ctx, action); err != nil {
		// Do not strand the photo without a queue entry pointing at it.
		if delErr := c.vault.DeletePhoto(ctx, asset.ID); delErr != nil {
			logging.Error("failed to remove orphaned photo", delErr, logging.Fields{"photo_id": asset.ID})
		}
		return err
	}
	return nil
}

// AttachAuditPhoto saves an opening or closing audit photo and queues its
// upload.
func (c *Core) AttachAuditPhoto(ctx context.Context, workOrderID, actorID string, kind models.PhotoKind, photo io.Reader) (*models.PhotoAsset, error) {
	actionType := models.ActionInitialPhoto
	if kind == models.PhotoFinalAudit {
		actionType = models.ActionFinalPhoto
	}

	asset, err := c.vault.SavePhoto(ctx, photo, workOrderID, kind, "")
	if err != nil {
		return nil, err
	}

	action, err := queue.BuildAction(actionType, workOrderID, actorID, asset.ID,
		&models.ActionPayload{PhotoID: asset.ID})
	if err != nil {
		return nil, err
	}
	if err := c.queue.Enqueue(ctx, action); err != nil {
		// A final-audit photo with no queue entry would sit unsynced
		// forever, out of reach of the sweep and of cleanup.
		if delErr := c.vault.DeletePhoto(ctx, asset.ID); delErr != nil {
			logging.Error("failed to remove orphaned photo", delErr, logging.Fields{"photo_id": asset.ID})
		}
		return nil, err
	}
	return asset, nil
}

// FinalizeAudit queues the closing audit submission.
func (c *Core) FinalizeAudit(ctx context.Context, workOrderID, actorID string, audit json.RawMessage) error {
	action := &models.OfflineAction{
		ID:          models.NewActionID(models.ActionFinalAudit, workOrderID, time.Now()),
		Type:        models.ActionFinalAudit,
		WorkOrderID: workOrderID,
		ActorID:     actorID,
		Payload:     audit,
	}
	return c.queue.Enqueue(ctx, action)
}

// UpdateStatus queues a work-order status transition.
func (c *Core) UpdateStatus(ctx context.Context, workOrderID, actorID, status string) error {
	action, err := queue.BuildAction(models.ActionStatusUpdate, workOrderID, actorID, workOrderID,
		&models.ActionPayload{Status: status})
	if err != nil {
		return err
	}
	return c.queue.Enqueue(ctx, action)
}

// FetchCollection reads a remote collection through the cache.
func (c *Core) FetchCollection(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, bool, error) {
	return c.cache.GetWithFallback(ctx, endpoint, params, func(ctx context.Context) (interface{}, error) {
		raw, err := c.client.FetchCollection(ctx, endpoint, params)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}, nil)
}

// Sync runs one sync pass now, bypassing the debounce.
func (c *Core) Sync(ctx context.Context, hints ...string) (*syncengine.Result, error) {
	return c.engine.SyncAll(ctx, hints...)
}

// NotifyConnectivity feeds a host-observed network change into the
// debounced sync scheduler.
func (c *Core) NotifyConnectivity(online bool) {
	c.monitor.Notify(online)
}

// Maintenance prunes synced actions and photos past their retention
// windows. Hosts run it opportunistically, e.g. on app start.
func (c *Core) Maintenance(ctx context.Context) error {
	actions, err := c.queue.CleanupSynced(ctx, time.Duration(c.cfg.ActionRetentionDays)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("prune actions: %w", err)
	}
	photos, err := c.vault.CleanupOldSynced(ctx, c.cfg.PhotoRetentionDays)
	if err != nil {
		return fmt.Errorf("prune photos: %w", err)
	}
	logging.Info("maintenance pass finished", logging.Fields{
		"actions_pruned": actions,
		"photos_pruned":  photos,
	})
	return nil
}

// Queue exposes the action queue for operator tooling (retry, discard,
// failure listings).
func (c *Core) Queue() *queue.Queue { return c.queue }

// Vault exposes photo storage for direct reads.
func (c *Core) Vault() *vault.Vault { return c.vault }

// KV exposes the transitional key-value surface.
func (c *Core) KV() *migration.Adapter { return c.kv }
