package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lccanvas/canvasd/internal/core/domain"
	"github.com/lccanvas/canvasd/internal/core/ports"
	"github.com/lccanvas/canvasd/internal/workflows"
)

// User-visible pipeline failures. These travel through the error event
// verbatim, so they stay short and actionable.
var (
	ErrNoPromptID   = errors.New("Failed to get prompt_id.")
	ErrNoImages     = errors.New("Failed to receive generated images.")
	ErrControlImage = errors.New("ControlNet image not prepared. Please re-select the control image and try again.")
)

// inputImageNotReady is raised when an image-to-image workflow has no
// resolvable input image.
const inputImageNotReady = "입력 이미지가 준비되지 않았습니다."

const (
	uploadAttempts   = 3
	uploadRetryWait  = 150 * time.Millisecond
	uploadSettleWait = 100 * time.Millisecond

	inputVisibilityTimeout = 1500 * time.Millisecond
	inputVisibilityPoll    = 50 * time.Millisecond
)

// inputSearchOrder is where reference images are looked up by id: the
// dedicated inputs store first, then the user's own results, then
// control sketches.
var inputSearchOrder = []domain.MediaKind{
	domain.MediaKindInput,
	domain.MediaKindGenerated,
	domain.MediaKindControl,
}

// Pipeline turns one generate job into a fully-specified upstream call:
// it resolves reference images, composes node overrides, runs the
// session, and persists the first returned artifact.
type Pipeline struct {
	logger    *slog.Logger
	registry  *workflows.Registry
	media     ports.MediaLibrary
	sessions  ports.SessionFactory
	scheduler *Scheduler

	// comfyInputDir is the upstream's input folder when the peer shares
	// our filesystem; "" disables visibility waits and cleanup sweeps.
	comfyInputDir string
}

func NewPipeline(logger *slog.Logger, registry *workflows.Registry, media ports.MediaLibrary,
	sessions ports.SessionFactory, scheduler *Scheduler, comfyInputDir string) *Pipeline {
	return &Pipeline{
		logger:        logger,
		registry:      registry,
		media:         media,
		sessions:      sessions,
		scheduler:     scheduler,
		comfyInputDir: comfyInputDir,
	}
}

// Process executes one generate job. Registered with the scheduler as
// the "generate" processor.
func (p *Pipeline) Process(ctx context.Context, job domain.Job, progress func(float64)) (map[string]any, error) {
	req := job.Payload

	cfg, err := p.registry.Get(req.WorkflowID)
	if err != nil {
		return nil, err
	}
	graph, err := p.registry.LoadGraph(req.WorkflowID)
	if err != nil {
		return nil, err
	}

	session := p.sessions()
	p.scheduler.SetCancelHandle(func() bool { return session.Interrupt(context.Background()) })

	var uploaded []string
	defer func() { p.cleanupUploads(job.ID, uploaded) }()

	seed := workflows.RandomSeed()
	if req.Seed != nil {
		seed = *req.Seed
	}

	control, multi := p.resolveControls(ctx, session, job, cfg, &uploaded)

	overrides := workflows.BuildOverrides(cfg, req, seed, control)
	workflows.ApplyMultiControls(overrides, cfg, multi)

	if cfg.ImageInput != nil {
		filename, err := p.resolveInputImage(ctx, session, job, &uploaded)
		if err != nil {
			return nil, err
		}
		workflows.ApplyImageInput(overrides, cfg, filename)
	}

	if req.ControlEnabled && !controlImageWired(cfg, overrides, control, multi) {
		p.logger.Info("control gate failed", "job_id", job.ID, "owner_id", job.OwnerID,
			"control_image_id", req.ControlImageID)
		return nil, ErrControlImage
	}

	promptID := session.QueuePrompt(ctx, graph, overrides)
	if promptID == "" {
		return nil, ErrNoPromptID
	}
	p.logger.Info("prompt queued upstream", "job_id", job.ID, "owner_id", job.OwnerID,
		"workflow_id", req.WorkflowID, "prompt_id", promptID)

	images, err := session.ReceiveImages(ctx, promptID, progress)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	saved, err := p.media.SaveGenerated(job.OwnerID, images[0].Data, req, images[0].Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to save generated image: %w", err)
	}
	p.logger.Info("artifact saved", "job_id", job.ID, "owner_id", job.OwnerID,
		"image_id", saved.ID, "image_path", saved.URL)

	return map[string]any{"image_path": saved.URL}, nil
}

// resolveControls uploads the referenced control images and returns the
// single-control state plus any slot-addressed selections. All failures
// degrade: a missing or unuploadable image leaves its slot unwired and
// the gate decides later.
func (p *Pipeline) resolveControls(ctx context.Context, session ports.UpstreamSession, job domain.Job,
	cfg *domain.WorkflowConfig, uploaded *[]string) (*workflows.SingleControl, []workflows.MultiControl) {
	req := job.Payload
	if !req.ControlEnabled {
		return &workflows.SingleControl{Strength: 0}, nil
	}

	provided := make([]domain.ControlSelection, 0, len(req.Controls))
	for _, c := range req.Controls {
		if c.Slot != "" && c.ImageID != "" {
			provided = append(provided, c)
		}
	}

	if len(cfg.ControlSlots) > 0 && len(provided) > 0 {
		var multi []workflows.MultiControl
		for _, sel := range provided {
			if _, ok := cfg.ControlSlots[sel.Slot]; !ok {
				continue
			}
			data, ok := p.readOwnedPNG(job.OwnerID, domain.MediaKindControl, sel.ImageID)
			if !ok {
				continue
			}
			stored := p.uploadReference(ctx, session, fmt.Sprintf("%s_%s.png", sel.ImageID, job.ID), data)
			if stored == "" {
				p.logger.Info("control upload failed", "job_id", job.ID, "owner_id", job.OwnerID, "slot", sel.Slot)
				continue
			}
			*uploaded = append(*uploaded, stored)
			multi = append(multi, workflows.MultiControl{Selection: sel, ImageFilename: stored})
		}
		return nil, multi
	}

	control := &workflows.SingleControl{Strength: 0}
	if req.ControlImageID != "" {
		if data, ok := p.readOwnedPNG(job.OwnerID, domain.MediaKindControl, req.ControlImageID); ok {
			stored := p.uploadReference(ctx, session, fmt.Sprintf("%s_%s.png", req.ControlImageID, job.ID), data)
			if stored == "" {
				p.logger.Info("control upload failed", "job_id", job.ID, "owner_id", job.OwnerID,
					"control_image_id", req.ControlImageID)
			} else {
				*uploaded = append(*uploaded, stored)
				control = &workflows.SingleControl{Strength: 1, ImageFilename: stored}
			}
		}
	}
	return control, nil
}

// resolveInputImage produces the upstream-resident filename for an
// image-to-image workflow, uploading the local source when needed.
func (p *Pipeline) resolveInputImage(ctx context.Context, session ports.UpstreamSession, job domain.Job,
	uploaded *[]string) (string, error) {
	req := job.Payload

	// A caller-supplied filename is trusted to already live upstream.
	if req.InputImageFilename != "" {
		return req.InputImageFilename, nil
	}

	if req.InputImageID != "" {
		for _, kind := range inputSearchOrder {
			data, ok := p.readOwnedPNG(job.OwnerID, kind, req.InputImageID)
			if !ok {
				continue
			}
			stored := p.uploadReference(ctx, session, fmt.Sprintf("%s_%s.png", req.InputImageID, job.ID), data)
			if stored == "" {
				break
			}
			*uploaded = append(*uploaded, stored)
			return stored, nil
		}
	}

	p.logger.Info("input image unresolved", "job_id", job.ID, "owner_id", job.OwnerID,
		"input_image_id", req.InputImageID)
	return "", fmt.Errorf("%w: %s", domain.ErrBadState, inputImageNotReady)
}

func (p *Pipeline) readOwnedPNG(owner string, kind domain.MediaKind, id string) ([]byte, bool) {
	path, ok := p.media.LocatePNG(owner, kind, id)
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		p.logger.Warn("failed to read stored image", "owner_id", owner, "image_id", id, "error", err)
		return nil, false
	}
	return data, true
}

// uploadReference pushes reference bytes upstream with short retries,
// then waits for the file to become visible in the shared input dir.
func (p *Pipeline) uploadReference(ctx context.Context, session ports.UpstreamSession, filename string, data []byte) string {
	var stored string
	for attempt := 0; attempt < uploadAttempts; attempt++ {
		if stored = session.UploadInputImage(ctx, filename, data, "image/png"); stored != "" {
			break
		}
		time.Sleep(uploadRetryWait)
	}
	if stored == "" {
		return ""
	}
	p.waitForInputVisibility(stored)
	time.Sleep(uploadSettleWait)
	return stored
}

// waitForInputVisibility polls the shared input directory until the
// uploaded file appears. Best-effort; the upstream may be remote.
func (p *Pipeline) waitForInputVisibility(filename string) {
	if p.comfyInputDir == "" || filename == "" {
		return
	}
	target := filepath.Join(p.comfyInputDir, filename)
	deadline := time.Now().Add(inputVisibilityTimeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(target); err == nil {
			return
		}
		time.Sleep(inputVisibilityPoll)
	}
}

// cleanupUploads removes this job's reference files from the shared
// input directory, then sweeps by job id to catch server-side renames.
// Removal retries briefly; transient handles can hold files open.
func (p *Pipeline) cleanupUploads(jobID domain.JobID, uploaded []string) {
	if p.comfyInputDir == "" {
		return
	}
	for _, name := range uploaded {
		if name == "" {
			continue
		}
		p.removeWithRetry(filepath.Join(p.comfyInputDir, name))
	}
	matches, err := filepath.Glob(filepath.Join(p.comfyInputDir, "*_"+string(jobID)+"*"))
	if err != nil {
		return
	}
	for _, path := range matches {
		p.removeWithRetry(path)
	}
}

func (p *Pipeline) removeWithRetry(path string) {
	for attempt := 0; attempt < uploadAttempts; attempt++ {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return
		}
		time.Sleep(uploadRetryWait)
	}
	p.logger.Warn("failed to remove uploaded input", "path", path)
}

// controlImageWired reports whether any control image actually made it
// into the overrides. Submitting without one silently ignores the
// user's control intent, so the pipeline refuses instead.
func controlImageWired(cfg *domain.WorkflowConfig, overrides map[string]any,
	control *workflows.SingleControl, multi []workflows.MultiControl) bool {
	if control != nil && control.ImageFilename != "" {
		return true
	}
	if len(multi) > 0 {
		return true
	}
	if cfg.ControlNet == nil || cfg.ControlNet.ImageNode == "" {
		return false
	}
	node, _ := overrides[cfg.ControlNet.ImageNode].(map[string]any)
	inputs, _ := node["inputs"].(map[string]any)
	image, _ := inputs["image"].(string)
	return image != ""
}
