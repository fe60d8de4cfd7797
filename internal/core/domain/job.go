package domain

import (
	"errors"
	"sort"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusComplete  JobStatus = "complete"
	JobStatusError     JobStatus = "error"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusError || s == JobStatusCancelled
}

// Job is one image-generation request owned by an anonymous user.
type Job struct {
	ID        JobID           `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Type      string          `json:"type"`
	Status    JobStatus       `json:"status"`
	Progress  float64         `json:"progress"`
	Payload   GenerateRequest `json:"payload"`
	Result    map[string]any  `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

const JobTypeGenerate = "generate"

// JobRecord is the durable snapshot of a job. The payload is not
// persisted; rows exist for history and reconciliation, not replay.
type JobRecord struct {
	Job
	ArtifactAvailable bool `json:"artifact_available"`
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotCancellable = errors.New("job not cancellable")
	ErrQueueFull         = errors.New("queue full")
)

// JobMetrics aggregates completed-job durations for client ETA hints.
// It exposes no ids or paths, so it is safe to serve unauthenticated.
type JobMetrics struct {
	OverallAvgSec     *float64           `json:"overall_avg_sec"`
	PerWorkflowAvgSec map[string]float64 `json:"per_workflow_avg_sec"`
	Count             int                `json:"count"`
}

// RecentAverages computes mean durations over the most recently ended
// completed jobs, overall and per workflow id. Rows carrying no workflow
// id (store snapshots drop the payload) only count toward the overall
// mean.
func RecentAverages(jobs []Job, limit int) JobMetrics {
	completed := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Status == JobStatusComplete && j.StartedAt != nil && j.EndedAt != nil {
			completed = append(completed, j)
		}
	}
	sort.Slice(completed, func(i, k int) bool {
		return completed[i].EndedAt.After(*completed[k].EndedAt)
	})
	if limit > 0 && len(completed) > limit {
		completed = completed[:limit]
	}

	metrics := JobMetrics{PerWorkflowAvgSec: map[string]float64{}}
	if len(completed) == 0 {
		return metrics
	}

	var total float64
	perWorkflow := map[string][]float64{}
	for _, j := range completed {
		d := j.EndedAt.Sub(*j.StartedAt).Seconds()
		if d < 0 {
			d = 0
		}
		total += d
		if wf := j.Payload.WorkflowID; wf != "" {
			perWorkflow[wf] = append(perWorkflow[wf], d)
		}
	}
	overall := total / float64(len(completed))
	metrics.OverallAvgSec = &overall
	metrics.Count = len(completed)
	for wf, ds := range perWorkflow {
		var sum float64
		for _, d := range ds {
			sum += d
		}
		metrics.PerWorkflowAvgSec[wf] = sum / float64(len(ds))
	}
	return metrics
}
