package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/db"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
)

func newTestVault(t *testing.T) (*Vault, *db.DB) {
	t.Helper()

	dataDir := t.TempDir()
	database, err := db.Open(dataDir)
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	repo := db.NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })

	v, err := New(repo, dataDir)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return v, database
}

// jpegBytes encodes a small solid-color JPEG for tests that need a
// decodable image.
func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode() failed: %v", err)
	}
	return buf.Bytes()
}

// TestSavePhotoAndRead verifies the save path and both read forms.
func TestSavePhotoAndRead(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()
	content := []byte("not really a jpeg but durable bytes")

	asset, err := v.SavePhoto(ctx, bytes.NewReader(content), "wo-1", models.PhotoInitialAudit, "")
	if err != nil {
		t.Fatalf("SavePhoto() failed: %v", err)
	}
	if asset.ID == "" {
		t.Fatal("asset id was not generated")
	}
	if asset.Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", asset.Size, len(content))
	}

	path, err := v.PhotoPath(ctx, asset.ID)
	if err != nil {
		t.Fatalf("PhotoPath() failed: %v", err)
	}
	if path != asset.PrimaryPath {
		t.Errorf("path = %s, want primary %s", path, asset.PrimaryPath)
	}

	encoded, err := v.PhotoBase64(ctx, asset.ID)
	if err != nil {
		t.Fatalf("PhotoBase64() failed: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("returned base64 does not decode: %v", err)
	}
	if !bytes.Equal(decoded, content) {
		t.Error("base64 round trip lost bytes")
	}

	// Both copies hold identical bytes.
	backup, err := os.ReadFile(asset.BackupPath)
	if err != nil {
		t.Fatalf("backup copy unreadable: %v", err)
	}
	if !bytes.Equal(backup, content) {
		t.Error("backup copy differs from source")
	}
}

// TestBackupPromotion verifies the redundancy contract: losing the
// primary file falls back to the backup path, not a failure.
func TestBackupPromotion(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	asset, err := v.SavePhoto(ctx, strings.NewReader("payload"), "wo-1", models.PhotoFinalAudit, "")
	if err != nil {
		t.Fatalf("SavePhoto() failed: %v", err)
	}

	if err := os.Remove(asset.PrimaryPath); err != nil {
		t.Fatalf("failed to remove primary: %v", err)
	}

	path, err := v.PhotoPath(ctx, asset.ID)
	if err != nil {
		t.Fatalf("PhotoPath() failed: %v", err)
	}
	if path != asset.BackupPath {
		t.Errorf("path = %s, want backup %s", path, asset.BackupPath)
	}
}

// TestBothCopiesMissing verifies a fully lost asset reads as "not yet
// available" rather than a hard failure.
func TestBothCopiesMissing(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	asset, err := v.SavePhoto(ctx, strings.NewReader("payload"), "wo-1", models.PhotoDataRecord, "")
	if err != nil {
		t.Fatalf("SavePhoto() failed: %v", err)
	}
	os.Remove(asset.PrimaryPath)
	os.Remove(asset.BackupPath)

	path, err := v.PhotoPath(ctx, asset.ID)
	if err != nil {
		t.Fatalf("PhotoPath() failed: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}

	encoded, err := v.PhotoBase64(ctx, asset.ID)
	if err != nil || encoded != "" {
		t.Errorf("PhotoBase64() = %q, %v, want empty, nil", encoded, err)
	}
}

// TestUnknownPhotoID verifies unknown ids read as not available.
func TestUnknownPhotoID(t *testing.T) {
	v, _ := newTestVault(t)

	path, err := v.PhotoPath(context.Background(), "no-such-photo")
	if err != nil {
		t.Fatalf("PhotoPath() failed: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
}

// TestDeletePhotoIdempotent verifies files and metadata go away and a
// second delete still succeeds.
func TestDeletePhotoIdempotent(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	asset, err := v.SavePhoto(ctx, strings.NewReader("payload"), "wo-1", models.PhotoAuditExtra, "")
	if err != nil {
		t.Fatalf("SavePhoto() failed: %v", err)
	}

	if err := v.DeletePhoto(ctx, asset.ID); err != nil {
		t.Fatalf("DeletePhoto() failed: %v", err)
	}
	if err := v.DeletePhoto(ctx, asset.ID); err != nil {
		t.Fatalf("second DeletePhoto() failed: %v", err)
	}

	if _, err := os.Stat(asset.PrimaryPath); !os.IsNotExist(err) {
		t.Error("primary file survived delete")
	}
	if _, err := os.Stat(asset.BackupPath); !os.IsNotExist(err) {
		t.Error("backup file survived delete")
	}
}

// TestCleanupOldSynced verifies only synced assets past the horizon are
// removed.
func TestCleanupOldSynced(t *testing.T) {
	v, database := newTestVault(t)
	ctx := context.Background()

	oldSynced, err := v.SavePhoto(ctx, strings.NewReader("old"), "wo-1", models.PhotoInitialAudit, "")
	if err != nil {
		t.Fatalf("SavePhoto() failed: %v", err)
	}
	if err := v.MarkSynced(ctx, oldSynced.ID); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	oldPending, err := v.SavePhoto(ctx, strings.NewReader("pending"), "wo-1", models.PhotoInitialAudit, "")
	if err != nil {
		t.Fatalf("SavePhoto() failed: %v", err)
	}

	// Backdate both past the retention horizon.
	backdated := time.Now().AddDate(0, 0, -40).Unix()
	for _, id := range []string{oldSynced.ID, oldPending.ID} {
		if _, err := database.Exec(`UPDATE photo_assets SET created_at = ? WHERE id = ?`, backdated, id); err != nil {
			t.Fatalf("failed to backdate photo: %v", err)
		}
	}

	removed, err := v.CleanupOldSynced(ctx, 30)
	if err != nil {
		t.Fatalf("CleanupOldSynced() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	// The unsynced asset must survive regardless of age.
	path, err := v.PhotoPath(ctx, oldPending.ID)
	if err != nil || path == "" {
		t.Errorf("unsynced photo was cleaned up: path=%q err=%v", path, err)
	}
}

// TestDiagnosticsHealth verifies the health classification thresholds.
func TestDiagnosticsHealth(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	var assets []*models.PhotoAsset
	for i := 0; i < 20; i++ {
		asset, err := v.SavePhoto(ctx, strings.NewReader(fmt.Sprintf("photo-%d", i)), "wo-1", models.PhotoDataRecord, "")
		if err != nil {
			t.Fatalf("SavePhoto() failed: %v", err)
		}
		assets = append(assets, asset)
	}

	d, err := v.Diagnostics(ctx)
	if err != nil {
		t.Fatalf("Diagnostics() failed: %v", err)
	}
	if d.Health != models.VaultHealthGood || d.Total != 20 || d.Pending != 20 {
		t.Errorf("diagnostics = %+v, want 20 healthy pending assets", d)
	}

	// One missing primary of twenty: 5%, warning band.
	os.Remove(assets[0].PrimaryPath)
	d, err = v.Diagnostics(ctx)
	if err != nil {
		t.Fatalf("Diagnostics() failed: %v", err)
	}
	if d.Health != models.VaultHealthWarning || d.MissingPrimary != 1 {
		t.Errorf("diagnostics = %+v, want warning with 1 missing", d)
	}

	// Three missing of twenty: 15%, critical band.
	os.Remove(assets[1].PrimaryPath)
	os.Remove(assets[2].PrimaryPath)
	d, err = v.Diagnostics(ctx)
	if err != nil {
		t.Fatalf("Diagnostics() failed: %v", err)
	}
	if d.Health != models.VaultHealthCritical || d.MissingPrimary != 3 {
		t.Errorf("diagnostics = %+v, want critical with 3 missing", d)
	}
}

// TestThumbnailGeneration verifies a decodable image yields a thumbnail
// and an undecodable one degrades without failing the save.
func TestThumbnailGeneration(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	withImage, err := v.SavePhoto(ctx, bytes.NewReader(jpegBytes(t)), "wo-1", models.PhotoInitialAudit, "")
	if err != nil {
		t.Fatalf("SavePhoto() failed: %v", err)
	}
	if v.ThumbnailPath(withImage.ID) == "" {
		t.Error("no thumbnail for a decodable image")
	}

	withGarbage, err := v.SavePhoto(ctx, strings.NewReader("not an image"), "wo-1", models.PhotoInitialAudit, "")
	if err != nil {
		t.Fatalf("SavePhoto(garbage) failed: %v", err)
	}
	if v.ThumbnailPath(withGarbage.ID) != "" {
		t.Error("thumbnail produced from undecodable bytes")
	}
}
