package migration

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/apperrors"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/db"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/logging"
)

// doneKey marks a completed import in the record store's meta table, so
// the import runs exactly once per device.
const doneKey = "legacy_migration_done"

// Importer copies every legacy flat-store entry into the record store's
// key-value table.
type Importer struct {
	repo *db.Repository
	flat *FlatStore
}

// NewImporter wires an Importer.
func NewImporter(repo *db.Repository, flat *FlatStore) *Importer {
	return &Importer{repo: repo, flat: flat}
}

// Run imports the legacy data once and returns the number of keys moved.
// A repeat call is a zero-count no-op. The legacy file is left in place
// for the Adapter's fallback reads; retiring it is a later, manual step.
func (m *Importer) Run(ctx context.Context) (int, error) {
	done, err := m.repo.GetMeta(ctx, doneKey)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return 0, apperrors.Wrap(apperrors.CodeMigration, "check migration marker", err)
	}
	if done == "1" {
		return 0, nil
	}

	imported := 0
	for _, key := range m.flat.Keys() {
		value, ok := m.flat.Get(key)
		if !ok {
			continue
		}
		if err := m.repo.SetKV(ctx, key, string(value)); err != nil {
			return imported, apperrors.Wrap(apperrors.CodeMigration, "import legacy key "+key, err)
		}
		imported++
	}

	if err := m.repo.SetMeta(ctx, doneKey, "1"); err != nil {
		return imported, apperrors.Wrap(apperrors.CodeMigration, "record migration marker", err)
	}

	logging.Info("legacy store imported", logging.Fields{"keys": imported})
	return imported, nil
}

// Adapter serves key-value reads during and after the transition. The
// record store is authoritative; the legacy file answers only when the
// record store itself fails, so a half-migrated device still reads its
// data.
type Adapter struct {
	repo *db.Repository
	flat *FlatStore
}

// NewAdapter wires an Adapter.
func NewAdapter(repo *db.Repository, flat *FlatStore) *Adapter {
	return &Adapter{repo: repo, flat: flat}
}

// Get reads a key, falling back to the legacy file on a store failure.
// A key absent from both is db.ErrNotFound.
func (a *Adapter) Get(ctx context.Context, key string) (json.RawMessage, error) {
	value, err := a.repo.GetKV(ctx, key)
	if err == nil {
		return json.RawMessage(value), nil
	}
	if errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	logging.Warn("record store read failed, serving legacy value", logging.Fields{
		"key":    key,
		"reason": err.Error(),
	})
	if fallback, ok := a.flat.Get(key); ok {
		return fallback, nil
	}
	return nil, db.ErrNotFound
}

// Set writes to the record store and degrades to the legacy file when
// that write fails, so user data is never dropped on the floor.
func (a *Adapter) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := a.repo.SetKV(ctx, key, string(value)); err != nil {
		logging.Warn("record store write failed, persisting to legacy file", logging.Fields{
			"key":    key,
			"reason": err.Error(),
		})
		return a.flat.Set(key, value)
	}
	return nil
}

// Delete removes a key from both stores.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.repo.DeleteKV(ctx, key); err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return a.flat.Delete(key)
}
