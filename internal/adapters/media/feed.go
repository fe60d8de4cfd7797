package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lccanvas/canvasd/internal/core/domain"
)

// Feed assets live outside the per-user trees so they survive the source
// image being trashed:
//
//	feed/YYYY/MM/DD/<post_id>.png (+ thumb/<post_id>.jpg, <post_id>.json)
//	feed/trash/YYYY/MM/DD/...    mirror used by soft delete
//
// The database row always keeps the active URLs; trash paths are derived.

func (s *Store) feedRoot() string { return filepath.Join(s.root, "feed") }

// PublishFeedAssets copies a generated result, and optionally the edit
// input it came from, into the public feed tree. It assigns the post id,
// publish time and asset URLs on the post and writes a JSON sidecar
// mirroring the row next to the image.
func (s *Store) PublishFeedAssets(post *domain.Post, srcPNG, inputPNG string) error {
	now := time.Now().UTC()
	post.PostID = newImageID()
	post.PublishedAt = float64(now.UnixNano()) / float64(time.Second)
	post.Status = domain.MediaStatusActive

	destDir := datedDir(s.feedRoot(), now)
	imgPath, thumbPath, err := s.copyPNGToFeed(srcPNG, destDir, post.PostID)
	if err != nil {
		return err
	}
	post.ImageURL = s.WebPath(imgPath)
	if thumbPath != "" {
		post.ThumbURL = s.WebPath(thumbPath)
	}

	if inputPNG != "" {
		if _, err := os.Stat(inputPNG); err == nil {
			inPath, inThumb, err := s.copyPNGToFeed(inputPNG, destDir, post.PostID+"_input")
			if err != nil {
				return err
			}
			post.InputImageURL = s.WebPath(inPath)
			if inThumb != "" {
				post.InputThumbURL = s.WebPath(inThumb)
			}
		}
	}

	metaPath := filepath.Join(destDir, post.PostID+".json")
	if err := writeJSONAtomic(metaPath, post); err != nil {
		return fmt.Errorf("failed to write feed sidecar: %w", err)
	}
	return nil
}

func (s *Store) copyPNGToFeed(srcPNG, destDir, baseName string) (string, string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create feed dir: %w", err)
	}
	data, err := os.ReadFile(srcPNG)
	if err != nil {
		return "", "", fmt.Errorf("failed to read source image: %w", err)
	}
	destPNG := filepath.Join(destDir, baseName+".png")
	if err := os.WriteFile(destPNG, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to copy image to feed: %w", err)
	}
	thumbPath := s.writeThumb(destDir, baseName, data)
	return destPNG, thumbPath, nil
}

// feedTrashPath maps an active feed file onto its trash mirror. Returns
// false for paths outside the feed tree.
func (s *Store) feedTrashPath(activeFS string) (string, bool) {
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		absRoot = s.root
	}
	absActive, err := filepath.Abs(activeFS)
	if err != nil {
		absActive = activeFS
	}
	rel, err := filepath.Rel(absRoot, absActive)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, "feed/") {
		return "", false
	}
	under := strings.TrimPrefix(rel, "feed/")
	return filepath.Join(s.root, "feed", "trash", filepath.FromSlash(under)), true
}

// postAssetPaths resolves the post's asset URLs, image sidecar included,
// onto filesystem paths relative to the active tree.
func (s *Store) postAssetPaths(post domain.Post) []string {
	var paths []string
	for _, url := range []string{post.ImageURL, post.ThumbURL, post.InputImageURL, post.InputThumbURL} {
		if url == "" {
			continue
		}
		if fsPath, ok := s.FSPathFromWeb(url); ok {
			paths = append(paths, fsPath)
		}
	}
	if fsPath, ok := s.FSPathFromWeb(post.ImageURL); ok {
		paths = append(paths, strings.TrimSuffix(fsPath, filepath.Ext(fsPath))+".json")
	}
	return paths
}

// MoveFeedAssetsToTrash relocates a post's files into the trash mirror.
// Files already gone are skipped so a retried delete stays safe.
func (s *Store) MoveFeedAssetsToTrash(post domain.Post) error {
	for _, active := range s.postAssetPaths(post) {
		if _, err := os.Stat(active); err != nil {
			continue
		}
		trash, ok := s.feedTrashPath(active)
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(trash), 0o755); err != nil {
			return fmt.Errorf("failed to create feed trash dir: %w", err)
		}
		if err := os.Rename(active, trash); err != nil {
			return fmt.Errorf("failed to move feed asset to trash: %w", err)
		}
	}
	return nil
}

// RestoreFeedAssetsFromTrash moves a post's files back onto their active
// paths.
func (s *Store) RestoreFeedAssetsFromTrash(post domain.Post) error {
	for _, active := range s.postAssetPaths(post) {
		trash, ok := s.feedTrashPath(active)
		if !ok {
			continue
		}
		if _, err := os.Stat(trash); err != nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(active), 0o755); err != nil {
			return fmt.Errorf("failed to create feed dir: %w", err)
		}
		if err := os.Rename(trash, active); err != nil {
			return fmt.Errorf("failed to restore feed asset: %w", err)
		}
	}
	return nil
}

// PurgeFeedAssetsFromTrash permanently deletes a post's trashed files.
func (s *Store) PurgeFeedAssetsFromTrash(post domain.Post) {
	for _, active := range s.postAssetPaths(post) {
		trash, ok := s.feedTrashPath(active)
		if !ok {
			continue
		}
		if err := os.Remove(trash); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to purge feed asset", "path", trash, "error", err)
		}
	}
}

// FeedTrashURL rewrites an active feed URL onto its trash mirror so admin
// views can preview soft-deleted posts.
func FeedTrashURL(url string) string {
	const active, trash = "/outputs/feed/", "/outputs/feed/trash/"
	if strings.HasPrefix(url, active) && !strings.HasPrefix(url, trash) {
		return trash + strings.TrimPrefix(url, active)
	}
	return url
}
