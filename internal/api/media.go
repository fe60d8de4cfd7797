package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lccanvas/canvasd/internal/adapters/media"
	"github.com/lccanvas/canvasd/internal/core/domain"
)

// listingItem is the wire shape of one entry in a user media listing.
func listingItem(it domain.MediaItem) map[string]any {
	return map[string]any{
		"id":         it.ID,
		"url":        it.URL,
		"created_at": it.ModTime.UTC().Format(time.RFC3339),
		"meta":       it.Meta,
		"thumb_url":  nullable(it.ThumbURL),
	}
}

// listMedia serves one page of the caller's active artifacts for a kind.
func (s *Server) listMedia(w http.ResponseWriter, r *http.Request, kind domain.MediaKind) {
	owner := ownerID(r)
	items, err := s.store.List(owner, kind, false)
	if err != nil {
		s.logger.Error("failed to list media", "owner_id", owner, "kind", kind, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to list images")
		return
	}

	size := clampInt(qInt(r, "size", 24), 1, 100)
	pageItems, page, size, total, totalPages := paginate(items, qInt(r, "page", 1), size)

	out := make([]map[string]any, 0, len(pageItems))
	for _, it := range pageItems {
		out = append(out, listingItem(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       out,
		"page":        page,
		"size":        size,
		"total":       total,
		"total_pages": totalPages,
	})
}

// setMediaStatus flips one artifact's lifecycle state, answering with the
// kind-specific not-found message.
func (s *Server) setMediaStatus(w http.ResponseWriter, owner string, kind domain.MediaKind, id, status, notFound string) {
	if err := s.store.UpdateStatus(owner, kind, id, status); err != nil {
		if errors.Is(err, domain.ErrMediaNotFound) {
			writeDetail(w, http.StatusNotFound, notFound)
			return
		}
		s.logger.Error("failed to update media status", "owner_id", owner, "kind", kind, "id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to update status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GET /api/v1/images
func (s *Server) handleImagesList(w http.ResponseWriter, r *http.Request) {
	s.listMedia(w, r, domain.MediaKindGenerated)
}

// POST /api/v1/images/{imageID}/delete
func (s *Server) handleImageDelete(w http.ResponseWriter, r *http.Request) {
	s.setMediaStatus(w, ownerID(r), domain.MediaKindGenerated,
		chi.URLParam(r, "imageID"), domain.MediaStatusTrash, "Image not found")
}

// GET /api/v1/controls
func (s *Server) handleControlsList(w http.ResponseWriter, r *http.Request) {
	s.listMedia(w, r, domain.MediaKindControl)
}

// POST /api/v1/controls/upload
func (s *Server) handleControlUpload(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, domain.MediaKindControl, s.cfg.ControlsMaxUploadBytes, "File too large")
}

// POST /api/v1/controls/{imageID}/delete
func (s *Server) handleControlDelete(w http.ResponseWriter, r *http.Request) {
	s.setMediaStatus(w, ownerID(r), domain.MediaKindControl,
		chi.URLParam(r, "imageID"), domain.MediaStatusTrash, "Control not found")
}

// POST /api/v1/controls/{imageID}/restore
func (s *Server) handleControlRestore(w http.ResponseWriter, r *http.Request) {
	s.setMediaStatus(w, ownerID(r), domain.MediaKindControl,
		chi.URLParam(r, "imageID"), domain.MediaStatusActive, "Control not found")
}

// GET /api/v1/inputs
func (s *Server) handleInputsList(w http.ResponseWriter, r *http.Request) {
	s.listMedia(w, r, domain.MediaKindInput)
}

// POST /api/v1/inputs/upload
func (s *Server) handleInputUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.InputsMaxUploadBytes
	tooLarge := fmt.Sprintf("입력 이미지가 너무 큽니다. 최대 %d bytes 까지 허용됩니다.", maxBytes)
	s.handleUpload(w, r, domain.MediaKindInput, maxBytes, tooLarge)
}

// POST /api/v1/inputs/{imageID}/delete
func (s *Server) handleInputDelete(w http.ResponseWriter, r *http.Request) {
	s.setMediaStatus(w, ownerID(r), domain.MediaKindInput,
		chi.URLParam(r, "imageID"), domain.MediaStatusTrash, "Input not found")
}

// POST /api/v1/inputs/{imageID}/restore
func (s *Server) handleInputRestore(w http.ResponseWriter, r *http.Request) {
	s.setMediaStatus(w, ownerID(r), domain.MediaKindInput,
		chi.URLParam(r, "imageID"), domain.MediaStatusActive, "Input not found")
}

// handleUpload stores one multipart reference image. Non-PNG payloads
// are re-encoded; the byte cap applies before and after conversion.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, kind domain.MediaKind, maxBytes int64, tooLarge string) {
	owner := ownerID(r)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !media.AllowedUploadName(name) {
		writeDetail(w, http.StatusBadRequest, "Unsupported file type")
		return
	}

	data, overflow, err := readCapped(file, maxBytes)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	if overflow {
		writeDetail(w, http.StatusRequestEntityTooLarge, tooLarge)
		return
	}

	png, err := media.NormalizeUpload(name, data)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedType) {
			writeDetail(w, http.StatusBadRequest, "Unsupported file type")
			return
		}
		writeDetail(w, http.StatusBadRequest, "Failed to decode image")
		return
	}
	if int64(len(png)) > maxBytes {
		writeDetail(w, http.StatusRequestEntityTooLarge, tooLarge)
		return
	}

	saved, err := s.store.SaveUpload(owner, kind, png, name)
	if err != nil {
		s.logger.Error("failed to save upload", "owner_id", owner, "kind", kind, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to save image")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":  true,
		"id":  saved.ID,
		"url": saved.URL,
	})
}

// readCapped reads at most max bytes, reporting whether the source held
// more.
func readCapped(r io.Reader, max int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > max {
		return nil, true, nil
	}
	return data, false, nil
}

// handleInputCopy clones an owned generated or control image into the
// inputs library so it can seed an edit workflow.
// POST /api/v1/inputs/copy
func (s *Server) handleInputCopy(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)

	var req struct {
		Source string `json:"source"`
		ID     string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	source := strings.ToLower(strings.TrimSpace(req.Source))
	imageID := strings.TrimSpace(req.ID)
	if source != "generated" && source != "controls" {
		writeDetail(w, http.StatusBadRequest, "Unsupported source")
		return
	}
	if imageID == "" {
		writeDetail(w, http.StatusBadRequest, "Missing id")
		return
	}

	var pngPath string
	if source == "generated" {
		if _, ok := s.store.LocateMeta(owner, domain.MediaKindGenerated, imageID); !ok {
			writeDetail(w, http.StatusNotFound, "Source image not found")
			return
		}
		path, ok := s.store.LocatePNG(owner, domain.MediaKindGenerated, imageID)
		if !ok {
			writeDetail(w, http.StatusNotFound, "Source PNG not found")
			return
		}
		pngPath = path
	} else {
		path, ok := s.store.LocatePNG(owner, domain.MediaKindControl, imageID)
		if !ok {
			writeDetail(w, http.StatusNotFound, "Source PNG not found")
			return
		}
		pngPath = path
	}

	if info, err := os.Stat(pngPath); err == nil && info.Size() > s.cfg.InputsMaxUploadBytes {
		writeDetail(w, http.StatusRequestEntityTooLarge, "원본 이미지가 입력 크기 제한을 초과합니다.")
		return
	}

	data, err := os.ReadFile(pngPath)
	if err != nil {
		s.logger.Error("failed to read copy source", "owner_id", owner, "path", pngPath, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to read source image")
		return
	}

	saved, err := s.store.SaveUpload(owner, domain.MediaKindInput, data, filepath.Base(pngPath))
	if err != nil {
		s.logger.Error("failed to save input copy", "owner_id", owner, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to save input image")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":  true,
		"id":  saved.ID,
		"url": saved.URL,
	})
}
