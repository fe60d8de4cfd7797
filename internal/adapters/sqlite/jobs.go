package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lccanvas/canvasd/internal/core/domain"
	"github.com/lccanvas/canvasd/internal/core/ports"
)

// JobStore implements ports.JobStore. The artifact_available flag is
// recomputed on every write by stat-ing the file behind
// result.image_path, so rows never claim artifacts that were purged.
type JobStore struct {
	db            *DB
	artifactCheck func(webPath string) bool
}

// NewJobStore wires the store with the artifact existence check,
// normally media.Store.ArtifactExists.
func NewJobStore(db *DB, artifactCheck func(string) bool) *JobStore {
	if artifactCheck == nil {
		artifactCheck = func(string) bool { return false }
	}
	return &JobStore{db: db, artifactCheck: artifactCheck}
}

var _ ports.JobStore = (*JobStore)(nil)

func (s *JobStore) Upsert(ctx context.Context, job domain.Job) error {
	return s.db.withSchemaRetry(ctx, func() error {
		return s.upsert(ctx, job)
	})
}

func (s *JobStore) upsert(ctx context.Context, job domain.Job) error {
	resultJSON := "{}"
	if job.Result != nil {
		if data, err := json.Marshal(job.Result); err == nil {
			resultJSON = string(data)
		}
	}

	available := 0
	if imagePath, ok := job.Result["image_path"].(string); ok && imagePath != "" {
		if s.artifactCheck(imagePath) {
			available = 1
		}
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO jobs (id, owner_id, type, status, progress, created_at, started_at, ended_at, error, result_json, artifact_available)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, json(?), ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id=excluded.owner_id,
			type=excluded.type,
			status=excluded.status,
			progress=excluded.progress,
			created_at=excluded.created_at,
			started_at=excluded.started_at,
			ended_at=excluded.ended_at,
			error=excluded.error,
			result_json=excluded.result_json,
			artifact_available=excluded.artifact_available`,
		string(job.ID),
		job.OwnerID,
		job.Type,
		string(job.Status),
		job.Progress,
		timeToSec(job.CreatedAt),
		ptrTimeToSec(job.StartedAt),
		ptrTimeToSec(job.EndedAt),
		nullStr(job.Error),
		resultJSON,
		available,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

func (s *JobStore) FetchRecent(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	var records []domain.JobRecord
	err := s.db.withSchemaRetry(ctx, func() error {
		var err error
		records, err = s.fetchRecent(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *JobStore) fetchRecent(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, owner_id, type, status, progress, created_at, started_at, ended_at, error, result_json, COALESCE(artifact_available, 0)
		FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	records := []domain.JobRecord{}
	for rows.Next() {
		var rec domain.JobRecord
		var status string
		var createdAt, startedAt, endedAt sql.NullFloat64
		var errMsg, resultJSON sql.NullString
		var available int
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Type, &status, &rec.Progress,
			&createdAt, &startedAt, &endedAt, &errMsg, &resultJSON, &available); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		rec.Status = domain.JobStatus(status)
		rec.Error = errMsg.String
		if createdAt.Valid {
			rec.CreatedAt = secToTime(createdAt.Float64)
		}
		if startedAt.Valid {
			t := secToTime(startedAt.Float64)
			rec.StartedAt = &t
		}
		if endedAt.Valid {
			t := secToTime(endedAt.Float64)
			rec.EndedAt = &t
		}
		rec.Result = map[string]any{}
		if resultJSON.Valid && resultJSON.String != "" {
			if err := json.Unmarshal([]byte(resultJSON.String), &rec.Result); err != nil {
				rec.Result = map[string]any{}
			}
		}
		rec.ArtifactAvailable = available != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Sweep re-stats the artifacts behind the newest rows and rewrites their
// availability flags. Returns how many rows were checked.
func (s *JobStore) Sweep(ctx context.Context, limit int) (int, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 5000 {
		limit = 5000
	}
	records, err := s.FetchRecent(ctx, limit)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, rec := range records {
		available := 0
		if imagePath, ok := rec.Result["image_path"].(string); ok && imagePath != "" {
			if s.artifactCheck(imagePath) {
				available = 1
			}
		}
		if _, err := s.db.conn.ExecContext(ctx,
			`UPDATE jobs SET artifact_available = ? WHERE id = ?`, available, string(rec.ID)); err != nil {
			s.db.logger.Warn("failed to sweep job row", "job_id", rec.ID, "error", err)
			continue
		}
		updated++
	}
	return updated, nil
}

func timeToSec(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func ptrTimeToSec(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeToSec(*t)
}

func secToTime(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second))).UTC()
}
