package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lccanvas/canvasd/internal/adapters/media"
	"github.com/lccanvas/canvasd/internal/core/domain"
)

// handleAdminUsers lists known user ids, filtered by an optional
// case-insensitive substring.
// GET /api/v1/admin/users
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users := s.store.Users()
	if q := strings.ToLower(r.URL.Query().Get("q")); q != "" {
		filtered := make([]string, 0, len(users))
		for _, u := range users {
			if strings.Contains(strings.ToLower(u), q) {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}

	size := clampInt(qInt(r, "size", 50), 1, 200)
	pageUsers, page, size, total, totalPages := paginate(users, qInt(r, "page", 1), size)
	writeJSON(w, http.StatusOK, map[string]any{
		"users":       pageUsers,
		"page":        page,
		"size":        size,
		"total":       total,
		"total_pages": totalPages,
	})
}

// handleAdminJobs returns recent job rows from the store, falling back
// to the in-memory scheduler when no rows were persisted yet.
// GET /api/v1/admin/jobs
func (s *Server) handleAdminJobs(w http.ResponseWriter, r *http.Request) {
	limit := qInt(r, "limit", 100)
	if limit <= 0 {
		limit = 100
	}

	records, err := s.jobs.FetchRecent(r.Context(), limit)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(records) == 0 {
		for _, job := range s.scheduler.List(limit) {
			rec := domain.JobRecord{Job: job}
			if imagePath, ok := job.Result["image_path"].(string); ok && imagePath != "" {
				rec.ArtifactAvailable = s.store.ArtifactExists(imagePath)
			}
			records = append(records, rec)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": records})
}

// handleAdminJobMetrics reports live duration averages for the ETA panel.
// GET /api/v1/admin/jobs/metrics
func (s *Server) handleAdminJobMetrics(w http.ResponseWriter, r *http.Request) {
	limit := qInt(r, "limit", 100)
	if limit <= 0 {
		limit = 100
	}
	writeJSON(w, http.StatusOK, s.scheduler.RecentAverages(limit))
}

// handleAdminJobsSweep re-checks artifact availability on recent rows.
// POST /api/v1/admin/jobs/sweep
func (s *Server) handleAdminJobsSweep(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(qInt(r, "limit", 200), 1, 5000)
	updated, err := s.jobs.Sweep(r.Context(), limit)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

// parseListDate accepts RFC3339 or a bare yyyy-mm-dd day.
func parseListDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func adminListingItem(it domain.MediaItem) map[string]any {
	return map[string]any{
		"id":         it.ID,
		"url":        it.URL,
		"thumb_url":  nullable(it.ThumbURL),
		"status":     it.Status,
		"created_at": it.ModTime.UTC().Format(time.RFC3339),
	}
}

// filterInclude narrows a trash-inclusive listing. "trash" keeps every
// non-active item so limbo states stay visible to admins.
func filterInclude(items []domain.MediaItem, include string) []domain.MediaItem {
	switch include {
	case "active":
		filtered := make([]domain.MediaItem, 0, len(items))
		for _, it := range items {
			if it.Status == domain.MediaStatusActive {
				filtered = append(filtered, it)
			}
		}
		return filtered
	case "trash":
		filtered := make([]domain.MediaItem, 0, len(items))
		for _, it := range items {
			if it.Status != domain.MediaStatusActive {
				filtered = append(filtered, it)
			}
		}
		return filtered
	default:
		return items
	}
}

// adminListMedia serves one page of any user's media, trash included.
// Unparsable date bounds are ignored rather than rejected.
func (s *Server) adminListMedia(w http.ResponseWriter, r *http.Request, kind domain.MediaKind, withDates bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "Missing user_id")
		return
	}

	items, err := s.store.List(userID, kind, true)
	if err != nil {
		s.logger.Error("failed to list media", "user_id", userID, "kind", kind, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to list media")
		return
	}
	items = filterInclude(items, r.URL.Query().Get("include"))

	if withDates {
		if from, ok := parseListDate(r.URL.Query().Get("from_date")); ok {
			kept := items[:0]
			for _, it := range items {
				if !it.ModTime.Before(from) {
					kept = append(kept, it)
				}
			}
			items = kept
		}
		if to, ok := parseListDate(r.URL.Query().Get("to_date")); ok {
			kept := items[:0]
			for _, it := range items {
				if !it.ModTime.After(to) {
					kept = append(kept, it)
				}
			}
			items = kept
		}
	}

	size := clampInt(qInt(r, "size", 24), 1, 100)
	pageItems, page, size, total, totalPages := paginate(items, qInt(r, "page", 1), size)
	out := make([]map[string]any, 0, len(pageItems))
	for _, it := range pageItems {
		out = append(out, adminListingItem(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       out,
		"page":        page,
		"size":        size,
		"total":       total,
		"total_pages": totalPages,
	})
}

// handleAdminImages lists a user's generated images.
// GET /api/v1/admin/images
func (s *Server) handleAdminImages(w http.ResponseWriter, r *http.Request) {
	s.adminListMedia(w, r, domain.MediaKindGenerated, true)
}

// handleAdminControls lists a user's control uploads.
// GET /api/v1/admin/controls
func (s *Server) handleAdminControls(w http.ResponseWriter, r *http.Request) {
	s.adminListMedia(w, r, domain.MediaKindControl, false)
}

// handleAdminInputs lists a user's edit inputs.
// GET /api/v1/admin/inputs
func (s *Server) handleAdminInputs(w http.ResponseWriter, r *http.Request) {
	s.adminListMedia(w, r, domain.MediaKindInput, false)
}

// adminSetStatus flips one artifact's lifecycle state on behalf of the
// user named in the body.
func (s *Server) adminSetStatus(w http.ResponseWriter, r *http.Request, kind domain.MediaKind, status, notFound string) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeDetail(w, http.StatusBadRequest, "Missing user_id")
		return
	}
	s.setMediaStatus(w, req.UserID, kind, chi.URLParam(r, "imageID"), status, notFound)
}

// POST /api/v1/admin/images/{imageID}/delete
func (s *Server) handleAdminImageDelete(w http.ResponseWriter, r *http.Request) {
	s.adminSetStatus(w, r, domain.MediaKindGenerated, domain.MediaStatusTrash, "Image not found")
}

// POST /api/v1/admin/images/{imageID}/restore
func (s *Server) handleAdminImageRestore(w http.ResponseWriter, r *http.Request) {
	s.adminSetStatus(w, r, domain.MediaKindGenerated, domain.MediaStatusActive, "Image not found")
}

// POST /api/v1/admin/controls/{imageID}/delete
func (s *Server) handleAdminControlDelete(w http.ResponseWriter, r *http.Request) {
	s.adminSetStatus(w, r, domain.MediaKindControl, domain.MediaStatusTrash, "Control not found")
}

// POST /api/v1/admin/controls/{imageID}/restore
func (s *Server) handleAdminControlRestore(w http.ResponseWriter, r *http.Request) {
	s.adminSetStatus(w, r, domain.MediaKindControl, domain.MediaStatusActive, "Control not found")
}

// POST /api/v1/admin/inputs/{imageID}/delete
func (s *Server) handleAdminInputDelete(w http.ResponseWriter, r *http.Request) {
	s.adminSetStatus(w, r, domain.MediaKindInput, domain.MediaStatusTrash, "Input not found")
}

// POST /api/v1/admin/inputs/{imageID}/restore
func (s *Server) handleAdminInputRestore(w http.ResponseWriter, r *http.Request) {
	s.adminSetStatus(w, r, domain.MediaKindInput, domain.MediaStatusActive, "Input not found")
}

func (s *Server) adminPurge(w http.ResponseWriter, r *http.Request, purge func(string) int) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeDetail(w, http.StatusBadRequest, "Missing user_id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": purge(req.UserID)})
}

// handleAdminPurgeTrash permanently removes a user's trashed artifacts.
// POST /api/v1/admin/purge-trash
func (s *Server) handleAdminPurgeTrash(w http.ResponseWriter, r *http.Request) {
	s.adminPurge(w, r, s.store.PurgeTrashed)
}

// handleAdminPurgeControls permanently removes a user's trashed controls.
// POST /api/v1/admin/purge-controls
func (s *Server) handleAdminPurgeControls(w http.ResponseWriter, r *http.Request) {
	s.adminPurge(w, r, s.store.PurgeTrashedControls)
}

// handleAdminFeed lists posts in any state. display_* URLs point at the
// trash mirror for soft-deleted posts so thumbnails keep rendering.
// GET /api/v1/admin/feed
func (s *Server) handleAdminFeed(w http.ResponseWriter, r *http.Request) {
	include := r.URL.Query().Get("include")
	if include == "" {
		include = "all"
	}

	data, err := s.posts.ListPosts(r.Context(), include, qInt(r, "page", 1), qInt(r, "size", 48), "newest")
	if err != nil {
		s.logger.Error("failed to list admin feed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to list feed")
		return
	}

	items := make([]map[string]any, 0, len(data.Items))
	for _, post := range data.Items {
		displayImage := post.ImageURL
		displayThumb := post.ThumbURL
		displayInputImage := post.InputImageURL
		displayInputThumb := post.InputThumbURL
		if post.Status == domain.MediaStatusTrash {
			displayImage = media.FeedTrashURL(displayImage)
			displayThumb = media.FeedTrashURL(displayThumb)
			displayInputImage = media.FeedTrashURL(displayInputImage)
			displayInputThumb = media.FeedTrashURL(displayInputThumb)
		}
		items = append(items, map[string]any{
			"post_id":                 post.PostID,
			"owner_id":                post.OwnerID,
			"author_name":             nullable(post.AuthorName),
			"prompt":                  post.Prompt,
			"workflow_id":             nullable(post.WorkflowID),
			"seed":                    post.Seed,
			"aspect_ratio":            nullable(post.AspectRatio),
			"image_url":               post.ImageURL,
			"thumb_url":               nullable(post.ThumbURL),
			"input_image_url":         nullable(post.InputImageURL),
			"input_thumb_url":         nullable(post.InputThumbURL),
			"source_image_id":         nullable(post.SourceImageID),
			"input_source_image_id":   nullable(post.InputSourceImageID),
			"published_at":            post.PublishedAt,
			"status":                  post.Status,
			"display_image_url":       nullable(displayImage),
			"display_thumb_url":       nullable(displayThumb),
			"display_input_image_url": nullable(displayInputImage),
			"display_input_thumb_url": nullable(displayInputThumb),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"page":        data.Page,
		"size":        data.Size,
		"total":       data.Total,
		"total_pages": data.TotalPages,
	})
}

// adminFeedPost loads a post for a state transition, enforcing the
// expected current status.
func (s *Server) adminFeedPost(w http.ResponseWriter, r *http.Request, wantStatus, wrongState string) *domain.Post {
	postID := chi.URLParam(r, "postID")
	post, err := s.posts.GetPost(r.Context(), postID)
	if err != nil {
		s.logger.Error("failed to get post", "post_id", postID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to read post")
		return nil
	}
	if post == nil {
		writeDetail(w, http.StatusNotFound, "Post not found")
		return nil
	}
	if post.Status != wantStatus {
		writeDetail(w, http.StatusBadRequest, wrongState)
		return nil
	}
	return post
}

// handleAdminFeedDelete soft-deletes any post regardless of owner.
// POST /api/v1/admin/feed/{postID}/delete
func (s *Server) handleAdminFeedDelete(w http.ResponseWriter, r *http.Request) {
	post := s.adminFeedPost(w, r, domain.MediaStatusActive, "Post is not active")
	if post == nil {
		return
	}
	if err := s.store.MoveFeedAssetsToTrash(*post); err != nil {
		s.logger.Error("failed to trash feed assets", "post_id", post.PostID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to delete")
		return
	}
	if _, err := s.posts.UpdateStatus(r.Context(), post.PostID, domain.MediaStatusTrash); err != nil {
		s.logger.Error("failed to mark post trashed", "post_id", post.PostID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to delete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleAdminFeedRestore brings a trashed post back to the board.
// POST /api/v1/admin/feed/{postID}/restore
func (s *Server) handleAdminFeedRestore(w http.ResponseWriter, r *http.Request) {
	post := s.adminFeedPost(w, r, domain.MediaStatusTrash, "Post is not in trash")
	if post == nil {
		return
	}
	if err := s.store.RestoreFeedAssetsFromTrash(*post); err != nil {
		s.logger.Error("failed to restore feed assets", "post_id", post.PostID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to restore")
		return
	}
	if _, err := s.posts.UpdateStatus(r.Context(), post.PostID, domain.MediaStatusActive); err != nil {
		s.logger.Error("failed to mark post active", "post_id", post.PostID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to restore")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleAdminFeedPurge permanently deletes a trashed post, its assets,
// and its social rows.
// POST /api/v1/admin/feed/{postID}/purge
func (s *Server) handleAdminFeedPurge(w http.ResponseWriter, r *http.Request) {
	post := s.adminFeedPost(w, r, domain.MediaStatusTrash, "Post is not in trash")
	if post == nil {
		return
	}
	s.store.PurgeFeedAssetsFromTrash(*post)
	if _, err := s.posts.DeletePostAndLikes(r.Context(), post.PostID); err != nil {
		s.logger.Error("failed to purge post rows", "post_id", post.PostID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to purge")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
