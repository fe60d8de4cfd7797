package domain

import (
	"errors"
	"time"
)

type MediaKind string

const (
	MediaKindGenerated MediaKind = "generated"
	MediaKindControl   MediaKind = "control"
	MediaKindInput     MediaKind = "input"
)

const (
	MediaStatusActive = "active"
	MediaStatusTrash  = "trash"
)

// ArtifactMeta is the JSON sidecar written next to every stored PNG.
// Sidecars are the source of truth for ownership and lifecycle; the PNG
// itself is never rewritten after the initial store.
type ArtifactMeta struct {
	ID               string   `json:"id"`
	Owner            string   `json:"owner"`
	Kind             string   `json:"kind,omitempty"`
	WorkflowID       string   `json:"workflow_id,omitempty"`
	AspectRatio      string   `json:"aspect_ratio,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
	Prompt           string   `json:"prompt,omitempty"`
	OriginalFilename string   `json:"original_filename,omitempty"`
	Mime             string   `json:"mime"`
	Bytes            int64    `json:"bytes"`
	SHA256           string   `json:"sha256"`
	CreatedAt        string   `json:"created_at"`
	Status           string   `json:"status"`
	Thumb            string   `json:"thumb,omitempty"`
	Tags             []string `json:"tags"`
	// InputImageID links a generated result back to the edit input it
	// was produced from, so feed publishing can bundle both.
	InputImageID string `json:"input_image_id,omitempty"`
}

// SavedArtifact describes a freshly written artifact.
type SavedArtifact struct {
	ID       string
	Path     string
	MetaPath string
	URL      string
	ThumbURL string
	Meta     ArtifactMeta
}

// MediaItem is one entry in a user-facing media listing.
type MediaItem struct {
	ID       string
	URL      string
	ThumbURL string
	Meta     *ArtifactMeta
	Status   string
	ModTime  time.Time
}

var ErrMediaNotFound = errors.New("media not found")
