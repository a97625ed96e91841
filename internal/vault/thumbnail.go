package vault

import (
	"fmt"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// thumbnail bounds in pixels. Thumbnails feed the work-order card grid,
// which renders at most a 320px tile.
const thumbMaxSize = 320

// writeThumbnail decodes the saved photo and stores a bounded thumbnail
// next to the catalog. Failure is non-fatal: the vault serves the full
// image when no thumbnail exists.
func (v *Vault) writeThumbnail(id, srcPath string) error {
	img, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fit(img, thumbMaxSize, thumbMaxSize, imaging.Lanczos)
	if err := imaging.Save(thumb, v.thumbPath(id), imaging.JPEGQuality(80)); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}

// ThumbnailPath returns the thumbnail location for a photo, or the empty
// string when no thumbnail was generated.
func (v *Vault) ThumbnailPath(id string) string {
	path := v.thumbPath(id)
	if !fileExists(path) {
		return ""
	}
	return path
}

func (v *Vault) thumbPath(id string) string {
	return filepath.Join(v.thumbDir, id+".jpg")
}
