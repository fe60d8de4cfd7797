// Package media persists user artifacts as PNG files with JSON sidecars
// under the output directory. The filesystem is the source of truth: there
// is no database row per image, only the sidecar next to each file.
//
// Layout per user:
//
//	users/<owner>/YYYY/MM/DD/<id>.png          generated results
//	users/<owner>/YYYY/MM/DD/<id>.json         sidecar metadata
//	users/<owner>/YYYY/MM/DD/thumb/<id>.jpg    thumbnail
//	users/<owner>/controls/YYYY/MM/DD/...      uploaded control images
//	users/<owner>/inputs/YYYY/MM/DD/...        uploaded edit inputs
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lccanvas/canvasd/internal/core/domain"
)

// Store reads and writes user media below a single output root.
type Store struct {
	logger *slog.Logger
	root   string
}

func NewStore(logger *slog.Logger, outputDir string) *Store {
	if outputDir == "" {
		outputDir = "./outputs"
	}
	return &Store{logger: logger, root: outputDir}
}

// Root returns the output directory the store works under.
func (s *Store) Root() string { return s.root }

func (s *Store) userDir(owner string) string {
	return filepath.Join(s.root, "users", owner)
}

// kindDir is the subtree a media kind lives in. Generated images sit
// directly under the user directory; uploads get their own subtree.
func (s *Store) kindDir(owner string, kind domain.MediaKind) string {
	switch kind {
	case domain.MediaKindControl:
		return filepath.Join(s.userDir(owner), "controls")
	case domain.MediaKindInput:
		return filepath.Join(s.userDir(owner), "inputs")
	default:
		return s.userDir(owner)
	}
}

func datedDir(base string, t time.Time) string {
	return filepath.Join(base, t.Format("2006"), t.Format("01"), t.Format("02"))
}

func newImageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WebPath maps a filesystem path under the output root onto its public
// /outputs/ URL.
func (s *Store) WebPath(fsPath string) string {
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		absRoot = s.root
	}
	absTarget, err := filepath.Abs(fsPath)
	if err != nil {
		absTarget = fsPath
	}
	rel, err := filepath.Rel(absRoot, absTarget)
	if err != nil {
		rel = fsPath
	}
	return "/outputs/" + filepath.ToSlash(rel)
}

// FSPathFromWeb is the inverse of WebPath. It accepts both "/outputs/..."
// and "outputs/..." forms and rejects anything else.
func (s *Store) FSPathFromWeb(url string) (string, bool) {
	var rel string
	switch {
	case strings.HasPrefix(url, "/outputs/"):
		rel = strings.TrimPrefix(url, "/outputs/")
	case strings.HasPrefix(url, "outputs/"):
		rel = strings.TrimPrefix(url, "outputs/")
	default:
		return "", false
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), true
}

// ArtifactExists reports whether the file behind a /outputs/ URL is still
// on disk. Used to flag stale job results.
func (s *Store) ArtifactExists(url string) bool {
	fsPath, ok := s.FSPathFromWeb(url)
	if !ok {
		return false
	}
	_, err := os.Stat(fsPath)
	return err == nil
}

// SaveGenerated stores a finished generation result along with a sidecar
// describing the request that produced it.
func (s *Store) SaveGenerated(owner string, data []byte, req domain.GenerateRequest, originalFilename string) (*domain.SavedArtifact, error) {
	now := time.Now().UTC()
	meta := domain.ArtifactMeta{
		Owner:            owner,
		WorkflowID:       req.WorkflowID,
		AspectRatio:      req.AspectRatio,
		Seed:             req.Seed,
		Prompt:           req.UserPrompt,
		OriginalFilename: originalFilename,
		InputImageID:     req.InputImageID,
	}
	return s.save(s.userDir(owner), now, data, meta)
}

// SaveUpload stores a user-uploaded control or input image.
func (s *Store) SaveUpload(owner string, kind domain.MediaKind, data []byte, originalFilename string) (*domain.SavedArtifact, error) {
	if kind != domain.MediaKindControl && kind != domain.MediaKindInput {
		return nil, fmt.Errorf("unsupported upload kind %q", kind)
	}
	now := time.Now().UTC()
	meta := domain.ArtifactMeta{
		Owner:            owner,
		Kind:             string(kind),
		OriginalFilename: originalFilename,
	}
	return s.save(s.kindDir(owner, kind), now, data, meta)
}

func (s *Store) save(base string, now time.Time, data []byte, meta domain.ArtifactMeta) (*domain.SavedArtifact, error) {
	dir := datedDir(base, now)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}

	id := newImageID()
	imagePath := filepath.Join(dir, id+".png")
	if err := os.WriteFile(imagePath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write image: %w", err)
	}

	thumbPath := s.writeThumb(dir, id, data)

	sum := sha256.Sum256(data)
	meta.ID = id
	meta.Mime = "image/png"
	meta.Bytes = int64(len(data))
	meta.SHA256 = hex.EncodeToString(sum[:])
	meta.CreatedAt = now.Format(time.RFC3339Nano)
	meta.Status = domain.MediaStatusActive
	meta.Tags = []string{}
	if thumbPath != "" {
		meta.Thumb = s.WebPath(thumbPath)
	}

	metaPath := filepath.Join(dir, id+".json")
	if err := writeJSONAtomic(metaPath, meta); err != nil {
		return nil, fmt.Errorf("failed to write sidecar: %w", err)
	}

	return &domain.SavedArtifact{
		ID:       id,
		Path:     imagePath,
		MetaPath: metaPath,
		URL:      s.WebPath(imagePath),
		ThumbURL: meta.Thumb,
		Meta:     meta,
	}, nil
}

// writeJSONAtomic writes via a temp file in the same directory and renames
// it into place so readers never observe a half-written sidecar.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// List walks a user's subtree for the given kind and returns items newest
// first. Sidecars are read best-effort: a corrupt or missing sidecar never
// hides the image, it just yields an item without metadata.
func (s *Store) List(owner string, kind domain.MediaKind, includeTrash bool) ([]domain.MediaItem, error) {
	base := s.kindDir(owner, kind)
	if _, err := os.Stat(base); err != nil {
		return []domain.MediaItem{}, nil
	}

	var items []domain.MediaItem
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			// The generated listing must not descend into upload subtrees.
			if kind == domain.MediaKindGenerated && (d.Name() == "controls" || d.Name() == "inputs") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".png") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		id := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		dir := filepath.Dir(path)

		meta := readSidecar(filepath.Join(dir, id+".json"))
		if kind == domain.MediaKindGenerated && meta != nil &&
			(meta.Kind == string(domain.MediaKindControl) || meta.Kind == string(domain.MediaKindInput)) {
			return nil
		}

		status := ""
		if meta != nil {
			status = meta.Status
		}
		if !includeTrash && status != "" && status != domain.MediaStatusActive {
			return nil
		}
		if status == "" {
			status = domain.MediaStatusActive
		}

		thumbURL := ""
		if meta != nil {
			thumbURL = meta.Thumb
		} else {
			// No sidecar: probe for a thumbnail on the implied path.
			for _, ext := range []string{".webp", ".jpg"} {
				candidate := filepath.Join(dir, "thumb", id+ext)
				if _, err := os.Stat(candidate); err == nil {
					thumbURL = s.WebPath(candidate)
					break
				}
			}
		}

		items = append(items, domain.MediaItem{
			ID:       id,
			URL:      s.WebPath(path),
			ThumbURL: thumbURL,
			Meta:     meta,
			Status:   status,
			ModTime:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk media dir: %w", err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ModTime.After(items[j].ModTime)
	})
	if items == nil {
		items = []domain.MediaItem{}
	}
	return items, nil
}

func readSidecar(path string) *domain.ArtifactMeta {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var meta domain.ArtifactMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil
	}
	return &meta
}

// LocatePNG finds the stored PNG for an id anywhere in the kind subtree.
func (s *Store) LocatePNG(owner string, kind domain.MediaKind, id string) (string, bool) {
	return s.locate(owner, kind, id+".png")
}

// LocateMeta finds the sidecar for an id anywhere in the kind subtree.
func (s *Store) LocateMeta(owner string, kind domain.MediaKind, id string) (string, bool) {
	return s.locate(owner, kind, id+".json")
}

func (s *Store) locate(owner string, kind domain.MediaKind, filename string) (string, bool) {
	base := s.kindDir(owner, kind)
	if _, err := os.Stat(base); err != nil {
		return "", false
	}
	var found string
	filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if kind == domain.MediaKindGenerated && (d.Name() == "controls" || d.Name() == "inputs") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == filename {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found, found != ""
}

// ReadMeta loads the sidecar for an artifact.
func (s *Store) ReadMeta(owner string, kind domain.MediaKind, id string) (*domain.ArtifactMeta, error) {
	metaPath, ok := s.LocateMeta(owner, kind, id)
	if !ok {
		return nil, domain.ErrMediaNotFound
	}
	meta := readSidecar(metaPath)
	if meta == nil {
		return nil, fmt.Errorf("failed to read sidecar for %s: %w", id, domain.ErrMediaNotFound)
	}
	return meta, nil
}

// UpdateStatus flips an artifact between active and trash by rewriting its
// sidecar. Unknown keys in the sidecar survive the rewrite.
func (s *Store) UpdateStatus(owner string, kind domain.MediaKind, id, status string) error {
	metaPath, ok := s.LocateMeta(owner, kind, id)
	if !ok {
		return domain.ErrMediaNotFound
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("failed to read sidecar: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse sidecar: %w", err)
	}
	raw["status"] = status
	if err := writeJSONAtomic(metaPath, raw); err != nil {
		return fmt.Errorf("failed to rewrite sidecar: %w", err)
	}
	s.logger.Info("media status updated", "owner", owner, "kind", kind, "id", id, "status", status)
	return nil
}

// PurgeTrashed permanently removes every trashed artifact in the user's
// whole tree, uploads included. Returns the number of images deleted.
func (s *Store) PurgeTrashed(owner string) int {
	return s.purgeBelow(s.userDir(owner))
}

// PurgeTrashedControls removes trashed artifacts from the controls subtree
// only.
func (s *Store) PurgeTrashedControls(owner string) int {
	return s.purgeBelow(filepath.Join(s.userDir(owner), "controls"))
}

func (s *Store) purgeBelow(base string) int {
	if _, err := os.Stat(base); err != nil {
		return 0
	}
	deleted := 0
	filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
		if st, _ := raw["status"].(string); st == domain.MediaStatusActive {
			return nil
		}
		dir := filepath.Dir(path)
		id := strings.TrimSuffix(d.Name(), ".json")
		for _, target := range []string{
			filepath.Join(dir, id+".png"),
			filepath.Join(dir, "thumb", id+".webp"),
			filepath.Join(dir, "thumb", id+".jpg"),
			path,
		} {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to purge file", "path", target, "error", err)
			}
		}
		deleted++
		return nil
	})
	return deleted
}

// Users lists every user id that has a media directory, sorted.
func (s *Store) Users() []string {
	entries, err := os.ReadDir(filepath.Join(s.root, "users"))
	if err != nil {
		return []string{}
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids
}
