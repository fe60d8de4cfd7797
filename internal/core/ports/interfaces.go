package ports

import (
	"context"

	"github.com/lccanvas/canvasd/internal/core/domain"
)

// JobStore persists job rows so history survives restarts. Implemented
// by the SQLite adapter.
type JobStore interface {
	// Upsert writes the full job row, replacing any previous state.
	// The artifact_available flag is recomputed on every write.
	Upsert(ctx context.Context, job domain.Job) error

	// FetchRecent returns up to limit rows ordered newest first.
	FetchRecent(ctx context.Context, limit int) ([]domain.JobRecord, error)

	// Sweep recomputes artifact_available for the newest limit rows
	// and returns how many were updated.
	Sweep(ctx context.Context, limit int) (int, error)
}

// PostStore persists feed posts and their social counters.
type PostStore interface {
	CreatePost(ctx context.Context, post domain.Post) error
	GetPost(ctx context.Context, postID string) (*domain.Post, error)
	UpdateStatus(ctx context.Context, postID, status string) (bool, error)
	DeletePostAndLikes(ctx context.Context, postID string) (bool, error)
	ListPosts(ctx context.Context, include string, page, size int, sort string) (domain.PostPage, error)

	LikeToggle(ctx context.Context, postID, likerID string) (liked bool, likeCount int, err error)
	LikeInfo(ctx context.Context, postID, likerID string) (likeCount int, likedByMe bool, err error)
	ReactionSet(ctx context.Context, postID, reactorID, reaction string) (domain.ReactionInfo, error)
	ReactionInfo(ctx context.Context, postID, reactorID string) (domain.ReactionInfo, error)
}

// Notifier fans a payload out to one user's live connections.
// Implementations must be safe to call from the worker goroutine.
type Notifier interface {
	SendToUser(userID string, v any)
}

// MediaLibrary is the slice of the media store the worker needs:
// resolving locally stored reference images and persisting results.
type MediaLibrary interface {
	// LocatePNG finds the stored PNG for id within one media kind.
	LocatePNG(owner string, kind domain.MediaKind, id string) (string, bool)

	// SaveGenerated persists one result image with its sidecar and
	// returns the artifact descriptor.
	SaveGenerated(owner string, data []byte, req domain.GenerateRequest, originalFilename string) (*domain.SavedArtifact, error)
}

// UpstreamSession is one ComfyUI client bound to a single job. Sessions
// are not safe for concurrent use; the pipeline creates one per job.
//
// Submission and upload fail soft: they log and return empty values, and
// the pipeline turns the empties into typed errors. Only the stream
// reports errors directly, because a timeout there must be told apart
// from a completed-but-empty run.
type UpstreamSession interface {
	// QueuePrompt merges overrides into the graph and submits it.
	// Returns the upstream prompt id, or "" on any failure.
	QueuePrompt(ctx context.Context, graph, overrides map[string]any) string

	// ReceiveImages follows the progress stream until the prompt
	// finishes, then fetches the selected artifacts from history,
	// best candidate first.
	ReceiveImages(ctx context.Context, promptID string, onProgress func(float64)) ([]ImageOutput, error)

	// UploadInputImage stores reference bytes in the upstream input
	// folder. Returns the server-side filename, or "" on failure.
	UploadInputImage(ctx context.Context, filename string, data []byte, mime string) string

	// Interrupt asks the upstream to abort the running prompt.
	Interrupt(ctx context.Context) bool
}

// ImageOutput is one artifact fetched from upstream history.
type ImageOutput struct {
	Filename string
	Data     []byte
}

// SessionFactory creates a fresh upstream session for one job.
type SessionFactory func() UpstreamSession

// Translator turns free-form text into prompt tags via an external
// language model.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}
