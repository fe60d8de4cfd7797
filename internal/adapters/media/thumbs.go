package media

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// Thumbnails are JPEG, long side capped at 384px. Older deployments wrote
// WebP thumbs; those stay readable through the sidecar thumb paths.
const (
	thumbMaxSide = 384
	thumbQuality = 80
)

// writeThumb renders the thumbnail for an image into dir/thumb/<id>.jpg
// and returns the written path. Thumbnailing is best effort: on any
// failure the artifact is kept without one.
func (s *Store) writeThumb(dir, id string, data []byte) string {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("failed to decode image for thumbnail", "id", id, "error", err)
		return ""
	}

	thumbDir := filepath.Join(dir, "thumb")
	if err := os.MkdirAll(thumbDir, 0o755); err != nil {
		s.logger.Warn("failed to create thumb dir", "dir", thumbDir, "error", err)
		return ""
	}

	thumb := imaging.Fit(img, thumbMaxSide, thumbMaxSide, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbQuality)); err != nil {
		s.logger.Warn("failed to encode thumbnail", "id", id, "error", err)
		return ""
	}

	path := filepath.Join(thumbDir, id+".jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		s.logger.Warn("failed to write thumbnail", "path", path, "error", err)
		return ""
	}
	return path
}
