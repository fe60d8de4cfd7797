package media

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	// Uploads may arrive as WebP; register the decoder.
	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrDecodeFailed    = errors.New("failed to decode image")
)

var allowedUploadExts = []string{".png", ".jpg", ".jpeg", ".webp"}

// AllowedUploadName reports whether the filename carries an accepted
// image extension.
func AllowedUploadName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range allowedUploadExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// NormalizeUpload converts an uploaded image to PNG. Payloads already
// named .png pass through byte for byte; everything else is decoded and
// re-encoded.
func NormalizeUpload(name string, data []byte) ([]byte, error) {
	if !AllowedUploadName(name) {
		return nil, ErrUnsupportedType
	}
	if strings.HasSuffix(strings.ToLower(name), ".png") {
		return data, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return buf.Bytes(), nil
}
