package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/lccanvas/canvasd/internal/core/domain"
	"github.com/lccanvas/canvasd/internal/core/ports"
)

// CancelledMessage is shown to the user instead of whatever error the
// pipeline surfaced while being interrupted.
const CancelledMessage = "생성이 취소되었습니다."

// dispatchIdleWait bounds how long the worker sleeps when every queue is
// empty or blocked.
const dispatchIdleWait = 50 * time.Millisecond

// Processor executes one job. The job value is a snapshot; the returned
// map is merged into the job's result before the complete event fires.
type Processor func(ctx context.Context, job domain.Job, progress func(float64)) (map[string]any, error)

// SchedulerConfig defines admission limits and progress-log gating.
type SchedulerConfig struct {
	MaxPerUserQueue      int
	MaxPerUserConcurrent int
	JobTimeout           time.Duration // 0 disables the watchdog

	ProgressLogStepPercent int           // log only at multiples; 0 disables the gate
	ProgressLogMinInterval time.Duration // at most one progress log per interval
}

// Scheduler admits jobs into per-user FIFO queues and dispatches them
// round-robin, one execution at a time. All registry state is guarded by
// one mutex; events and store snapshots are emitted outside it.
type Scheduler struct {
	logger   *slog.Logger
	cfg      SchedulerConfig
	notifier ports.Notifier
	store    ports.JobStore

	// slot is the single-flight execution permit.
	slot *semaphore.Weighted

	mu            sync.Mutex
	jobs          map[domain.JobID]*domain.Job
	queues        map[string][]domain.JobID
	rotation      []string
	runningByUser map[string]int
	activeJobID   domain.JobID
	cancelHandle  func() bool
	cancelReqs    map[domain.JobID]struct{}
	processors    map[string]Processor
}

// NewScheduler wires the scheduler against its notifier and snapshot
// store. Either may be nil, which disables that side effect.
func NewScheduler(logger *slog.Logger, cfg SchedulerConfig, notifier ports.Notifier, store ports.JobStore) *Scheduler {
	if cfg.MaxPerUserQueue <= 0 {
		cfg.MaxPerUserQueue = 5
	}
	if cfg.MaxPerUserConcurrent <= 0 {
		cfg.MaxPerUserConcurrent = 1
	}
	return &Scheduler{
		logger:        logger,
		cfg:           cfg,
		notifier:      notifier,
		store:         store,
		slot:          semaphore.NewWeighted(1),
		jobs:          make(map[domain.JobID]*domain.Job),
		queues:        make(map[string][]domain.JobID),
		runningByUser: make(map[string]int),
		cancelReqs:    make(map[domain.JobID]struct{}),
		processors:    make(map[string]Processor),
	}
}

// RegisterProcessor binds a job type to its execution function.
func (s *Scheduler) RegisterProcessor(jobType string, proc Processor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processors[jobType] = proc
}

// Enqueue admits a job for owner, returning its snapshot and queue
// position. Returns ErrQueueFull when the owner's queue is at capacity.
func (s *Scheduler) Enqueue(ownerID, jobType string, payload domain.GenerateRequest) (domain.Job, int, error) {
	job := domain.Job{
		ID:        domain.JobID(newJobID()),
		OwnerID:   ownerID,
		Type:      jobType,
		Status:    domain.JobStatusQueued,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	q := s.queues[ownerID]
	if len(q) >= s.cfg.MaxPerUserQueue {
		s.mu.Unlock()
		return domain.Job{}, 0, domain.ErrQueueFull
	}
	s.jobs[job.ID] = &job
	s.queues[ownerID] = append(q, job.ID)
	if len(q) == 0 && !s.inRotation(ownerID) {
		s.rotation = append(s.rotation, ownerID)
	}
	position := len(s.queues[ownerID]) - 1
	snap := job
	s.mu.Unlock()

	s.persist(snap)
	pos := position
	s.emit(snap.OwnerID, domain.StatusEvent{JobID: snap.ID, Status: domain.JobStatusQueued, Position: &pos})
	s.logger.Info("job queued", "job_id", snap.ID, "owner_id", ownerID, "type", jobType, "position", pos)
	return snap, position, nil
}

// Get returns a snapshot of the job.
func (s *Scheduler) Get(jobID domain.JobID) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, false
	}
	return *job, true
}

// Position reports how many jobs precede jobID in its owner's queue.
// Running or finished jobs report 0.
func (s *Scheduler) Position(jobID domain.JobID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return 0, false
	}
	for i, id := range s.queues[job.OwnerID] {
		if id == jobID {
			return i, true
		}
	}
	return 0, true
}

// List returns up to limit job snapshots, newest first.
func (s *Scheduler) List(limit int) []domain.Job {
	s.mu.Lock()
	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// ActiveFor returns owner's currently running job, if any.
func (s *Scheduler) ActiveFor(ownerID string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeJobID == "" {
		return domain.Job{}, false
	}
	job, ok := s.jobs[s.activeJobID]
	if !ok || job.OwnerID != ownerID || job.Status != domain.JobStatusRunning {
		return domain.Job{}, false
	}
	return *job, true
}

// Cancel stops a queued job immediately, or requests cancellation of a
// running one. Returns false when the job is unknown or already done.
func (s *Scheduler) Cancel(jobID domain.JobID) bool {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	switch job.Status {
	case domain.JobStatusQueued:
		s.removeQueued(job.OwnerID, jobID)
		job.Status = domain.JobStatusCancelled
		now := time.Now()
		job.EndedAt = &now
		snap := *job
		s.mu.Unlock()

		s.persist(snap)
		s.emit(snap.OwnerID, domain.StatusEvent{JobID: jobID, Status: domain.JobStatusCancelled})
		s.logger.Info("queued job cancelled", "job_id", jobID, "owner_id", snap.OwnerID)
		return true

	case domain.JobStatusRunning:
		s.cancelReqs[jobID] = struct{}{}
		handle := s.cancelHandle
		owner := job.OwnerID
		s.mu.Unlock()

		// The processor owns the terminal transition; we only deliver
		// the signal.
		if handle != nil {
			handle()
		}
		s.logger.Info("cancel requested for running job", "job_id", jobID, "owner_id", owner)
		return true

	default:
		s.mu.Unlock()
		return false
	}
}

// SetCancelHandle registers the active job's upstream interrupt. The
// pipeline calls this once its session exists.
func (s *Scheduler) SetCancelHandle(handle func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelHandle = handle
}

// CancelRequested reports whether a cancel was requested for jobID.
func (s *Scheduler) CancelRequested(jobID domain.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancelReqs[jobID]
	return ok
}

// RecentAverages aggregates durations over the in-memory registry.
func (s *Scheduler) RecentAverages(limit int) domain.JobMetrics {
	return domain.RecentAverages(s.List(0), limit)
}

// QueueDepth reports how many jobs are waiting across all queues.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// ActiveCount reports whether a job is executing (0 or 1).
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeJobID == "" {
		return 0
	}
	return 1
}

// Run is the worker loop. It dispatches one job at a time until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("job worker started",
		"max_per_user_queue", s.cfg.MaxPerUserQueue,
		"max_per_user_concurrent", s.cfg.MaxPerUserConcurrent,
		"job_timeout", s.cfg.JobTimeout)
	for {
		job := s.nextJob()
		if job == nil {
			select {
			case <-ctx.Done():
				s.logger.Info("job worker stopped")
				return nil
			case <-time.After(dispatchIdleWait):
			}
			continue
		}
		if err := s.slot.Acquire(ctx, 1); err != nil {
			s.logger.Info("job worker stopped")
			return nil
		}
		s.execute(ctx, job)
		s.slot.Release(1)
	}
}

// nextJob pops the head job of the first eligible owner in the rotation.
// The picked owner moves to the back so other owners get the next slot;
// owners stay in the rotation even with an empty queue to preserve their
// position for future jobs.
func (s *Scheduler) nextJob() *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.rotation)
	for i := 0; i < n; i++ {
		owner := s.rotation[0]
		s.rotation = append(s.rotation[1:], owner)
		q := s.queues[owner]
		if len(q) == 0 || s.runningByUser[owner] >= s.cfg.MaxPerUserConcurrent {
			continue
		}
		jobID := q[0]
		s.queues[owner] = q[1:]
		s.runningByUser[owner]++
		return s.jobs[jobID]
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, job *domain.Job) {
	defer func() {
		s.mu.Lock()
		s.activeJobID = ""
		s.cancelHandle = nil
		delete(s.cancelReqs, job.ID)
		if s.runningByUser[job.OwnerID] > 0 {
			s.runningByUser[job.OwnerID]--
		}
		status := job.Status
		s.mu.Unlock()
		s.logger.Info("job ended", "job_id", job.ID, "owner_id", job.OwnerID, "status", status)
	}()

	s.mu.Lock()
	proc, ok := s.processors[job.Type]
	if !ok {
		s.mu.Unlock()
		s.markError(job, fmt.Errorf("no processor for job type %q", job.Type))
		return
	}
	job.Status = domain.JobStatusRunning
	started := time.Now()
	job.StartedAt = &started
	s.activeJobID = job.ID
	s.cancelHandle = nil
	snap := *job
	s.mu.Unlock()

	s.persist(snap)
	zero := 0.0
	s.emit(snap.OwnerID, domain.StatusEvent{JobID: job.ID, Status: domain.JobStatusRunning, Progress: &zero})
	s.logger.Info("job started", "job_id", job.ID, "owner_id", job.OwnerID, "type", job.Type)

	var watchdog *time.Timer
	if s.cfg.JobTimeout > 0 {
		watchdog = time.AfterFunc(s.cfg.JobTimeout, func() { s.timeoutJob(job.ID) })
		defer watchdog.Stop()
	}

	result, err := proc(ctx, snap, s.progressFunc(job))
	if err != nil {
		s.markError(job, err)
		return
	}

	s.mu.Lock()
	if job.Status != domain.JobStatusCancelled {
		job.Status = domain.JobStatusComplete
		job.Progress = 100
		ended := time.Now()
		job.EndedAt = &ended
		if len(result) > 0 {
			if job.Result == nil {
				job.Result = make(map[string]any, len(result))
			}
			for k, v := range result {
				job.Result[k] = v
			}
		}
	}
	done := *job
	s.mu.Unlock()

	s.persist(done)
	imagePath, _ := done.Result["image_path"].(string)
	s.emit(done.OwnerID, domain.StatusEvent{JobID: done.ID, Status: done.Status, ImagePath: imagePath})
	s.logger.Info("job complete", "job_id", done.ID, "owner_id", done.OwnerID)
}

// timeoutJob fires from the watchdog timer: it flags the cancel request
// and delivers the interrupt, then leaves the terminal transition to the
// normal error flow.
func (s *Scheduler) timeoutJob(jobID domain.JobID) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok || s.activeJobID != jobID || job.Status != domain.JobStatusRunning {
		s.mu.Unlock()
		return
	}
	s.cancelReqs[jobID] = struct{}{}
	handle := s.cancelHandle
	owner := job.OwnerID
	s.mu.Unlock()

	s.logger.Warn("job timed out", "job_id", jobID, "owner_id", owner, "timeout", s.cfg.JobTimeout)
	if handle != nil {
		handle()
	}
	s.emit(owner, domain.StatusEvent{JobID: jobID, Status: domain.StatusCancelling})
}

func (s *Scheduler) markError(job *domain.Job, err error) {
	s.mu.Lock()
	_, cancelled := s.cancelReqs[job.ID]
	msg := err.Error()
	if cancelled {
		job.Status = domain.JobStatusCancelled
		msg = CancelledMessage
	} else {
		job.Status = domain.JobStatusError
	}
	job.Error = msg
	ended := time.Now()
	job.EndedAt = &ended
	snap := *job
	s.mu.Unlock()

	s.persist(snap)
	s.emit(snap.OwnerID, domain.StatusEvent{JobID: snap.ID, Status: snap.Status, Error: msg})
	s.logger.Info("job failed", "job_id", snap.ID, "owner_id", snap.OwnerID, "status", snap.Status, "error", msg)
}

// progressFunc builds the per-job progress callback. Every call updates
// the registry and notifies the owner; logging is gated to step-percent
// crossings and rate-limited to the configured interval.
func (s *Scheduler) progressFunc(job *domain.Job) func(float64) {
	lastLoggedStep := -1
	var limiter *rate.Limiter
	if s.cfg.ProgressLogMinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.cfg.ProgressLogMinInterval), 1)
	}
	return func(p float64) {
		s.mu.Lock()
		job.Progress = math.Max(0, math.Min(100, p))
		snap := *job
		s.mu.Unlock()

		s.emit(snap.OwnerID, domain.StatusEvent{JobID: snap.ID, Status: domain.JobStatusRunning, Progress: &snap.Progress})

		shouldLog := true
		if step := s.cfg.ProgressLogStepPercent; step > 0 {
			rounded := int(math.Round(snap.Progress))
			if rounded%step != 0 && rounded != 100 {
				shouldLog = false
			}
			if shouldLog && rounded == lastLoggedStep {
				shouldLog = false
			}
			if shouldLog {
				lastLoggedStep = rounded
			}
		}
		if shouldLog && limiter != nil && !limiter.Allow() {
			shouldLog = false
		}
		if shouldLog {
			s.logger.Info("job progress", "job_id", snap.ID, "owner_id", snap.OwnerID,
				"progress", math.Round(snap.Progress*100)/100)
		}
	}
}

func (s *Scheduler) emit(ownerID string, ev domain.StatusEvent) {
	if s.notifier != nil {
		s.notifier.SendToUser(ownerID, ev)
	}
}

// persist snapshots the job row, best-effort. Persistence failures never
// affect the job lifecycle.
func (s *Scheduler) persist(job domain.Job) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Upsert(ctx, job); err != nil {
		s.logger.Warn("failed to persist job snapshot", "job_id", job.ID, "error", err)
	}
}

func (s *Scheduler) inRotation(ownerID string) bool {
	for _, o := range s.rotation {
		if o == ownerID {
			return true
		}
	}
	return false
}

func (s *Scheduler) removeQueued(ownerID string, jobID domain.JobID) {
	q := s.queues[ownerID]
	for i, id := range q {
		if id == jobID {
			s.queues[ownerID] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
