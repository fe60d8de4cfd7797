package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lccanvas/canvasd/internal/core/domain"
)

// maskOwner turns the owner id into a short anonymous display handle.
func maskOwner(ownerID string) string {
	s := strings.TrimPrefix(ownerID, anonPrefix)
	tail := s
	if len(s) >= 4 {
		tail = s[len(s)-4:]
	}
	if tail == "" {
		tail = "user"
	}
	return "익명-" + tail
}

// sanitizeAuthorName collapses whitespace and bounds display names to 20
// characters. Empty input stays empty so the masked owner fallback kicks
// in.
func sanitizeAuthorName(name string) string {
	n := strings.Join(strings.Fields(name), " ")
	if n == "" {
		return ""
	}
	runes := []rune(n)
	if len(runes) > 20 {
		runes = runes[:20]
	}
	return string(runes)
}

// reactionJSON keeps my_reaction on the wire even when null, which is
// how the client learns a reaction was cleared.
func reactionJSON(info domain.ReactionInfo) map[string]any {
	return map[string]any{
		"reactions":   info.Reactions,
		"my_reaction": nullable(info.MyReaction),
	}
}

func emptyReactions() domain.ReactionInfo {
	info := domain.ReactionInfo{Reactions: map[string]int{}}
	for _, t := range domain.ReactionTypes {
		info.Reactions[t] = 0
	}
	return info
}

// handleFeedPublish copies one of the caller's generated images onto the
// public board, bundling the edit input it was produced from when one is
// linked.
// POST /api/v1/feed/publish
func (s *Server) handleFeedPublish(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)

	var req struct {
		ImageID    string `json:"image_id"`
		AuthorName string `json:"author_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	imageID := strings.TrimSpace(req.ImageID)
	if imageID == "" {
		writeDetail(w, http.StatusBadRequest, "Missing image_id")
		return
	}

	meta, err := s.store.ReadMeta(owner, domain.MediaKindGenerated, imageID)
	if err != nil {
		if errors.Is(err, domain.ErrMediaNotFound) {
			writeDetail(w, http.StatusNotFound, "Source image not found")
			return
		}
		writeDetail(w, http.StatusInternalServerError, "Failed to read source meta")
		return
	}
	if meta.Status != "" && meta.Status != domain.MediaStatusActive {
		writeDetail(w, http.StatusBadRequest, "Source image is not active")
		return
	}
	if meta.Kind == "control" || meta.Kind == "input" {
		writeDetail(w, http.StatusBadRequest, "Unsupported source kind")
		return
	}

	srcPNG, ok := s.store.LocatePNG(owner, domain.MediaKindGenerated, imageID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Source PNG not found")
		return
	}

	inputPNG := ""
	inputSourceID := ""
	if meta.InputImageID != "" {
		if path, found := s.store.LocatePNG(owner, domain.MediaKindInput, meta.InputImageID); found {
			inputPNG = path
			inputSourceID = meta.InputImageID
		}
	}

	post := domain.Post{
		OwnerID:            owner,
		AuthorName:         sanitizeAuthorName(req.AuthorName),
		Prompt:             meta.Prompt,
		WorkflowID:         meta.WorkflowID,
		Seed:               meta.Seed,
		AspectRatio:        meta.AspectRatio,
		SourceImageID:      imageID,
		InputSourceImageID: inputSourceID,
	}
	if err := s.store.PublishFeedAssets(&post, srcPNG, inputPNG); err != nil {
		s.logger.Error("failed to publish feed assets", "owner_id", owner, "image_id", imageID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to publish")
		return
	}
	if err := s.posts.CreatePost(r.Context(), post); err != nil {
		s.logger.Error("failed to persist feed post", "post_id", post.PostID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to persist feed post")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"post_id":         post.PostID,
		"image_url":       post.ImageURL,
		"thumb_url":       nullable(post.ThumbURL),
		"input_image_url": nullable(post.InputImageURL),
		"input_thumb_url": nullable(post.InputThumbURL),
	})
}

// handleFeedList serves one page of active posts with the caller's view
// of likes and reactions folded in.
// GET /api/v1/feed
func (s *Server) handleFeedList(w http.ResponseWriter, r *http.Request) {
	viewer := ownerID(r)

	sortKey := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("sort")))
	if sortKey == "" {
		sortKey = "newest"
	}
	if sortKey != "newest" && sortKey != "oldest" && sortKey != "most_reactions" {
		writeDetail(w, http.StatusBadRequest, "invalid_sort")
		return
	}

	data, err := s.posts.ListPosts(r.Context(), "active", qInt(r, "page", 1), qInt(r, "size", 24), sortKey)
	if err != nil {
		s.logger.Error("failed to list feed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to list feed")
		return
	}

	items := make([]map[string]any, 0, len(data.Items))
	for _, post := range data.Items {
		likeCount, likedByMe, err := s.posts.LikeInfo(r.Context(), post.PostID, viewer)
		if err != nil {
			s.logger.Warn("failed to read like info", "post_id", post.PostID, "error", err)
		}
		react, err := s.posts.ReactionInfo(r.Context(), post.PostID, viewer)
		if err != nil {
			s.logger.Warn("failed to read reaction info", "post_id", post.PostID, "error", err)
			react = emptyReactions()
		}
		authorDisplay := post.AuthorName
		if authorDisplay == "" {
			authorDisplay = maskOwner(post.OwnerID)
		}
		items = append(items, map[string]any{
			"post_id":         post.PostID,
			"image_url":       post.ImageURL,
			"thumb_url":       nullable(post.ThumbURL),
			"input_thumb_url": nullable(post.InputThumbURL),
			"author_name":     nullable(post.AuthorName),
			"author_display":  authorDisplay,
			"workflow_id":     nullable(post.WorkflowID),
			"published_at":    post.PublishedAt,
			"like_count":      likeCount,
			"liked_by_me":     likedByMe,
			"reactions":       react.Reactions,
			"my_reaction":     nullable(react.MyReaction),
			"has_input":       post.InputImageURL != "",
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

// activePost loads a post and hides non-active ones behind 404.
func (s *Server) activePost(w http.ResponseWriter, r *http.Request, postID string) *domain.Post {
	post, err := s.posts.GetPost(r.Context(), postID)
	if err != nil {
		s.logger.Error("failed to get post", "post_id", postID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to read post")
		return nil
	}
	if post == nil || post.Status != domain.MediaStatusActive {
		writeDetail(w, http.StatusNotFound, "Post not found")
		return nil
	}
	return post
}

// handleFeedDetail returns the full public view of one post.
// GET /api/v1/feed/{postID}
func (s *Server) handleFeedDetail(w http.ResponseWriter, r *http.Request) {
	viewer := ownerID(r)
	postID := chi.URLParam(r, "postID")

	post := s.activePost(w, r, postID)
	if post == nil {
		return
	}

	likeCount, likedByMe, err := s.posts.LikeInfo(r.Context(), postID, viewer)
	if err != nil {
		s.logger.Warn("failed to read like info", "post_id", postID, "error", err)
	}
	react, err := s.posts.ReactionInfo(r.Context(), postID, viewer)
	if err != nil {
		s.logger.Warn("failed to read reaction info", "post_id", postID, "error", err)
		react = emptyReactions()
	}

	canDelete := post.OwnerID == viewer || s.isAdminRequest(r)
	authorDisplay := post.AuthorName
	if authorDisplay == "" {
		authorDisplay = maskOwner(post.OwnerID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"post_id":         post.PostID,
		"image_url":       post.ImageURL,
		"thumb_url":       nullable(post.ThumbURL),
		"input_image_url": nullable(post.InputImageURL),
		"input_thumb_url": nullable(post.InputThumbURL),
		"author_name":     nullable(post.AuthorName),
		"author_display":  authorDisplay,
		"owner_id":        post.OwnerID,
		"workflow_id":     nullable(post.WorkflowID),
		"seed":            post.Seed,
		"aspect_ratio":    nullable(post.AspectRatio),
		"prompt":          post.Prompt,
		"published_at":    post.PublishedAt,
		"like_count":      likeCount,
		"liked_by_me":     likedByMe,
		"reactions":       react.Reactions,
		"my_reaction":     nullable(react.MyReaction),
		"can_delete":      canDelete,
	})
}

// handleFeedLike toggles the caller's legacy like on a post.
// POST /api/v1/feed/{postID}/like
func (s *Server) handleFeedLike(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	if s.activePost(w, r, postID) == nil {
		return
	}

	liked, likeCount, err := s.posts.LikeToggle(r.Context(), postID, ownerID(r))
	if err != nil {
		s.logger.Error("failed to toggle like", "post_id", postID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to toggle like")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"liked":      liked,
		"like_count": likeCount,
	})
}

// handleFeedReaction sets, switches, or clears the caller's reaction.
// POST /api/v1/feed/{postID}/reaction
func (s *Server) handleFeedReaction(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")

	var req struct {
		Reaction string `json:"reaction"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if s.activePost(w, r, postID) == nil {
		return
	}

	info, err := s.posts.ReactionSet(r.Context(), postID, ownerID(r), req.Reaction)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidReaction) {
			writeDetail(w, http.StatusBadRequest, "invalid_reaction")
			return
		}
		s.logger.Error("failed to set reaction", "post_id", postID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to set reaction")
		return
	}
	writeJSON(w, http.StatusOK, reactionJSON(info))
}

// handleFeedDelete soft-deletes a post. Owners delete their own; admins
// delete anything.
// POST /api/v1/feed/{postID}/delete
func (s *Server) handleFeedDelete(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")

	post, err := s.posts.GetPost(r.Context(), postID)
	if err != nil {
		s.logger.Error("failed to get post", "post_id", postID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to read post")
		return
	}
	if post == nil {
		writeDetail(w, http.StatusNotFound, "Post not found")
		return
	}
	if post.Status != domain.MediaStatusActive {
		writeDetail(w, http.StatusBadRequest, "Post is not active")
		return
	}
	if post.OwnerID != ownerID(r) && !s.isAdminRequest(r) {
		writeDetail(w, http.StatusForbidden, "Forbidden")
		return
	}

	if err := s.store.MoveFeedAssetsToTrash(*post); err != nil {
		s.logger.Error("failed to trash feed assets", "post_id", postID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to delete")
		return
	}
	if _, err := s.posts.UpdateStatus(r.Context(), postID, domain.MediaStatusTrash); err != nil {
		s.logger.Error("failed to mark post trashed", "post_id", postID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to delete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
