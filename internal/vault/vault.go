// Package vault provides redundant binary storage for work-order photos.
// Every asset is written to two independent on-device locations; a read
// succeeds as long as either copy survives, which is the
// corruption-tolerance contract the rest of the app relies on.
package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/apperrors"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/db"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/logging"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/uuid"
)

// Health thresholds: fraction of catalog entries whose primary file is
// verified missing on disk.
const (
	healthWarningRatio  = 0.01
	healthCriticalRatio = 0.10
)

// Vault stores photo bytes under dataDir/photos with a mirrored copy
// under dataDir/photos-backup, and their metadata in the record store.
type Vault struct {
	repo       *db.Repository
	primaryDir string
	backupDir  string
	thumbDir   string
}

// New creates a Vault rooted at dataDir.
func New(repo *db.Repository, dataDir string) (*Vault, error) {
	v := &Vault{
		repo:       repo,
		primaryDir: filepath.Join(dataDir, "photos"),
		backupDir:  filepath.Join(dataDir, "photos-backup"),
		thumbDir:   filepath.Join(dataDir, "photos-thumbs"),
	}
	for _, dir := range []string{v.primaryDir, v.backupDir, v.thumbDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vault directory: %w", err)
		}
	}
	return v, nil
}

// SavePhoto streams src into the primary and backup locations and records
// the asset's metadata. It fails only when the source is unreadable or the
// local store rejects the write. The returned asset carries the generated
// id when none was supplied.
func (v *Vault) SavePhoto(ctx context.Context, src io.Reader, workOrderID string, kind models.PhotoKind, id string) (*models.PhotoAsset, error) {
	if workOrderID == "" {
		return nil, apperrors.New(apperrors.CodeInvalid, "work order id is required")
	}
	if id == "" {
		id = uuid.New()
	}

	primaryPath := filepath.Join(v.primaryDir, id+".jpg")
	backupPath := filepath.Join(v.backupDir, id+".jpg")

	size, err := writeAtomic(primaryPath, src)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLocalPersistence, "write primary copy", err)
	}

	if err := copyFileAtomic(primaryPath, backupPath); err != nil {
		// One durable copy exists; degrade instead of failing the save.
		logging.Error("failed to write backup copy", err, logging.Fields{
			"photo_id":      id,
			"work_order_id": workOrderID,
		})
	}

	asset := &models.PhotoAsset{
		ID:          id,
		WorkOrderID: workOrderID,
		Kind:        kind,
		PrimaryPath: primaryPath,
		BackupPath:  backupPath,
		Size:        size,
	}
	if err := v.repo.CreatePhoto(ctx, asset); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLocalPersistence, "record photo metadata", err)
	}

	if err := v.writeThumbnail(id, primaryPath); err != nil {
		logging.Warn("thumbnail generation skipped", logging.Fields{
			"photo_id": id,
			"reason":   err.Error(),
		})
	}

	logging.Debug("photo saved", logging.Fields{
		"photo_id":      id,
		"work_order_id": workOrderID,
		"kind":          kind,
		"size":          size,
	})
	return asset, nil
}

// PhotoPath resolves the on-disk location of a photo, falling back to the
// backup copy when the primary is missing. Both copies missing is "not
// yet available": an empty path with no error, plus a corruption warning.
func (v *Vault) PhotoPath(ctx context.Context, id string) (string, error) {
	asset, err := v.repo.GetPhoto(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", nil
		}
		return "", apperrors.Wrap(apperrors.CodeDatabase, "load photo metadata", err)
	}

	if fileExists(asset.PrimaryPath) {
		return asset.PrimaryPath, nil
	}

	if fileExists(asset.BackupPath) {
		logging.Warn("primary photo copy missing, promoting backup", logging.Fields{
			"photo_id":      id,
			"work_order_id": asset.WorkOrderID,
			"primary_path":  asset.PrimaryPath,
		})
		return asset.BackupPath, nil
	}

	logging.Error("photo asset lost both copies", apperrors.New(apperrors.CodeCorruptAsset, "both copies missing"), logging.Fields{
		"photo_id":      id,
		"work_order_id": asset.WorkOrderID,
	})
	return "", nil
}

// PhotoBase64 returns the photo bytes base64-encoded, for callers that
// must embed the image in a JSON payload. Missing photos yield an empty
// string, mirroring PhotoPath.
func (v *Vault) PhotoBase64(ctx context.Context, id string) (string, error) {
	path, err := v.PhotoPath(ctx, id)
	if err != nil || path == "" {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeCorruptAsset, "read photo bytes", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Open returns a streaming reader over the photo bytes, preferring the
// primary copy. The caller closes the reader.
func (v *Vault) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	path, err := v.PhotoPath(ctx, id)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, apperrors.Newf(apperrors.CodeCorruptAsset, "photo %s is not available", id)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCorruptAsset, "open photo", err)
	}
	return f, nil
}

// MarkSynced flips the synced flag of a photo asset.
func (v *Vault) MarkSynced(ctx context.Context, id string) error {
	if err := v.repo.MarkPhotoSynced(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperrors.Newf(apperrors.CodeNotFound, "photo %s not found", id)
		}
		return apperrors.Wrap(apperrors.CodeDatabase, "mark photo synced", err)
	}
	return nil
}

// DeletePhoto removes both copies, the thumbnail and the metadata record.
// Idempotent: deleting a photo twice is a success.
func (v *Vault) DeletePhoto(ctx context.Context, id string) error {
	asset, err := v.repo.GetPhoto(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		return apperrors.Wrap(apperrors.CodeDatabase, "load photo metadata", err)
	}

	removeIfExists(asset.PrimaryPath)
	removeIfExists(asset.BackupPath)
	removeIfExists(v.thumbPath(id))

	if err := v.repo.DeletePhoto(ctx, id); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabase, "delete photo metadata", err)
	}
	return nil
}

// ListUnsynced returns unsynced assets, optionally scoped by work order
// and kind. Used by the sync engine's recovery sweep.
func (v *Vault) ListUnsynced(ctx context.Context, workOrderID string, kind models.PhotoKind) ([]*models.PhotoAsset, error) {
	assets, err := v.repo.ListUnsyncedPhotos(ctx, workOrderID, kind)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabase, "list unsynced photos", err)
	}
	return assets, nil
}

// CleanupOldSynced deletes synced assets older than daysOld and returns
// the number removed. Unsynced assets are never touched regardless of age.
func (v *Vault) CleanupOldSynced(ctx context.Context, daysOld int) (int, error) {
	horizon := time.Now().AddDate(0, 0, -daysOld)
	assets, err := v.repo.ListSyncedPhotosBefore(ctx, horizon)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabase, "list synced photos", err)
	}

	removed := 0
	for _, asset := range assets {
		if err := v.DeletePhoto(ctx, asset.ID); err != nil {
			logging.Error("failed to clean up photo", err, logging.Fields{"photo_id": asset.ID})
			continue
		}
		removed++
	}

	if removed > 0 {
		logging.Info("cleaned up synced photos past retention", logging.Fields{
			"count":    removed,
			"days_old": daysOld,
		})
	}
	return removed, nil
}

// Diagnostics reports catalog totals and a health classification derived
// from the fraction of entries whose primary file is missing on disk.
func (v *Vault) Diagnostics(ctx context.Context) (*models.VaultDiagnostics, error) {
	assets, err := v.repo.ListAllPhotos(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabase, "list photos", err)
	}

	d := &models.VaultDiagnostics{Total: len(assets), Health: models.VaultHealthGood}
	for _, asset := range assets {
		d.TotalSize += asset.Size
		if asset.Synced {
			d.SyncedCount++
		} else {
			d.Pending++
		}
		if !fileExists(asset.PrimaryPath) {
			d.MissingPrimary++
		}
	}

	if d.Total > 0 {
		ratio := float64(d.MissingPrimary) / float64(d.Total)
		switch {
		case ratio >= healthCriticalRatio:
			d.Health = models.VaultHealthCritical
		case ratio >= healthWarningRatio:
			d.Health = models.VaultHealthWarning
		}
	}
	return d, nil
}

// writeAtomic streams src into path via a temp file and rename, so a
// crash mid-write never leaves a truncated photo at the final path.
func writeAtomic(path string, src io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return 0, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, src)
	if err != nil {
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return size, nil
}

func copyFileAtomic(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = writeAtomic(dst, f)
	return err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func removeIfExists(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to remove file", logging.Fields{"path": path, "reason": err.Error()})
	}
}
