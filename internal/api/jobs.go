package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lccanvas/canvasd/internal/adapters/llm"
	"github.com/lccanvas/canvasd/internal/core/domain"
)

// handleGenerate enqueues one generation job for the caller.
// POST /api/v1/generate
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	job, position, err := s.scheduler.Enqueue(ownerID(r), domain.JobTypeGenerate, req)
	if err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			writeDetail(w, http.StatusTooManyRequests, "queue_full")
			return
		}
		s.logger.Error("failed to enqueue job", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"position": position,
	})
}

// handleJobStatus returns one job's current snapshot.
// GET /api/v1/jobs/{jobID}
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(chi.URLParam(r, "jobID"))
	job, ok := s.scheduler.Get(jobID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Job not found")
		return
	}

	var position any
	if pos, queued := s.scheduler.Position(jobID); queued {
		position = pos
	}
	var result any
	if job.Result != nil {
		result = job.Result
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       job.ID,
		"status":   job.Status,
		"progress": job.Progress,
		"position": position,
		"result":   result,
		"error":    nullable(job.Error),
	})
}

// handleJobCancel cancels one job by id, queued or running.
// POST /api/v1/jobs/{jobID}/cancel
func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(chi.URLParam(r, "jobID"))
	if _, ok := s.scheduler.Get(jobID); !ok {
		writeDetail(w, http.StatusNotFound, "Job not found")
		return
	}
	if !s.scheduler.Cancel(jobID) {
		writeDetail(w, http.StatusBadRequest, "Job is not cancellable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleCancelActive cancels whatever job of the caller's is currently
// executing.
// POST /api/v1/cancel
func (s *Server) handleCancelActive(w http.ResponseWriter, r *http.Request) {
	job, ok := s.scheduler.ActiveFor(ownerID(r))
	if !ok {
		writeDetail(w, http.StatusBadRequest, "No active job")
		return
	}
	s.scheduler.Cancel(job.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "취소 요청이 접수되었습니다.",
		"job_id":  job.ID,
	})
}

// handleJobMetrics serves aggregate duration stats for front-end ETA
// hints. Persisted rows win over the in-memory registry; neither path
// exposes ids or file paths.
// GET /api/v1/jobs/metrics
func (s *Server) handleJobMetrics(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(qInt(r, "limit", 50), 1, 500)

	if s.jobs != nil {
		if rows, err := s.jobs.FetchRecent(r.Context(), limit); err == nil && len(rows) > 0 {
			jobs := make([]domain.Job, len(rows))
			for i, row := range rows {
				jobs[i] = row.Job
			}
			writeJSON(w, http.StatusOK, domain.RecentAverages(jobs, limit))
			return
		}
	}

	writeJSON(w, http.StatusOK, s.scheduler.RecentAverages(limit))
}

// handleWorkflows returns the catalogue the front-end renders pickers
// from. Hidden entries stay out unless include_hidden=1.
// GET /api/v1/workflows
func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	includeHidden := r.URL.Query().Get("include_hidden") == "1"

	items := make([]map[string]any, 0)
	for _, cfg := range s.registry.All(includeHidden) {
		name := cfg.DisplayName
		if name == "" {
			name = titleFromID(cfg.ID)
		}
		description := cfg.Description
		if description == "" {
			description = "워크플로우 설명이 없습니다."
		}
		ui := cfg.UI
		if ui == nil {
			ui = map[string]any{}
		}
		sizes := cfg.Sizes
		if sizes == nil {
			sizes = map[string]domain.Size{}
		}

		item := map[string]any{
			"id":                 cfg.ID,
			"name":               name,
			"description":        description,
			"node_count":         s.registry.NodeCount(cfg.ID),
			"style_prompt":       cfg.StylePrompt,
			"negative_prompt":    cfg.NegativePrompt,
			"recommended_prompt": cfg.RecommendedPrompt,
			"ui":                 ui,
			"sizes":              sizes,
			"image_input":        cfg.ImageInput,
			"control_slots":      cfg.ControlSlots,
			"lora_slots":         cfg.Loras,
			"lora_hint":          cfg.LoraHint,
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"workflows": items})
}

// titleFromID turns snake_case workflow ids into a display name.
func titleFromID(id string) string {
	words := strings.Split(id, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// handleTranslatePrompt converts free-form text into prompt tags via the
// external language model. Key and quota failures map to actionable
// messages instead of echoing the provider response.
// POST /api/v1/translate-prompt
func (s *Server) handleTranslatePrompt(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.FormValue("text"))
	if text == "" {
		writeDetail(w, http.StatusBadRequest, "Missing text")
		return
	}
	if s.translator == nil {
		writeDetail(w, http.StatusServiceUnavailable, "번역 기능이 설정되지 않았습니다.")
		return
	}

	translated, err := s.translator.Translate(r.Context(), text)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrNotConfigured):
			writeDetail(w, http.StatusServiceUnavailable, "번역 기능이 설정되지 않았습니다.")
		case errors.Is(err, llm.ErrInvalidKey):
			writeDetail(w, http.StatusUnauthorized, "번역 API 키가 유효하지 않습니다.")
		case errors.Is(err, llm.ErrQuotaExceeded):
			writeDetail(w, http.StatusTooManyRequests, "번역 요청 한도를 초과했습니다. 잠시 후 다시 시도해주세요.")
		default:
			s.logger.Error("failed to translate prompt", "error", err)
			writeDetail(w, http.StatusBadGateway, "번역 요청에 실패했습니다.")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"translated_text": translated})
}
