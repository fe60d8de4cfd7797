package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// handleSession guarantees the caller an anonymous identity and echoes
// it back, so the front-end can open the status socket with the same id.
// GET /api/v1/session
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	anonID := ""
	if c, err := r.Cookie(anonCookieName); err == nil && strings.HasPrefix(c.Value, anonPrefix) {
		anonID = c.Value
	}
	if anonID == "" {
		anonID = anonPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
		http.SetCookie(w, &http.Cookie{
			Name:     anonCookieName,
			Value:    anonID,
			Path:     "/",
			MaxAge:   anonCookieMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   s.cfg.CookieSecure,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"anon_id": anonID})
}

// handleBetaStatus tells the front-end whether to show the gate screen.
// GET /api/v1/beta/status
func (s *Server) handleBetaStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": s.cfg.BetaEnabled(),
		"authed":  s.betaAuthed(r),
	})
}

// handleBetaLogin trades the shared password for the gate cookie.
// POST /api/v1/beta/login
func (s *Server) handleBetaLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !s.cfg.CheckBetaPassword(req.Password) {
		writeDetail(w, http.StatusUnauthorized, "비밀번호가 올바르지 않습니다.")
		return
	}
	if s.cfg.BetaEnabled() {
		http.SetCookie(w, &http.Cookie{
			Name:     s.cfg.BetaCookieName,
			Value:    s.cfg.BetaToken(),
			Path:     "/",
			MaxAge:   betaCookieMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   s.cfg.CookieSecure,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type healthComponent struct {
	OK     bool    `json:"ok"`
	Reason *string `json:"reason"`
}

func reasonPtr(msg string) *string { return &msg }

// handleHealthz probes every dependency. The llm component is advisory:
// translation being down never fails the endpoint.
// GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	comfy := healthComponent{OK: true}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.upstream.Ping(ctx); err != nil {
		comfy = healthComponent{Reason: reasonPtr(err.Error())}
	}

	db := healthComponent{OK: true}
	if err := s.db.Healthz(r.Context()); err != nil {
		db = healthComponent{Reason: reasonPtr(err.Error())}
	}

	disk := s.diskComponent()

	llm := healthComponent{OK: s.cfg.TranslateAPIKey != ""}
	if !llm.OK {
		llm.Reason = reasonPtr("GOOGLE_AI_STUDIO_API_KEY not set")
	}

	ok := comfy.OK && db.OK && disk.OK
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ok": ok,
		"components": map[string]healthComponent{
			"comfyui": comfy,
			"db":      db,
			"disk":    disk,
			"llm":     llm,
		},
	})
}

// diskComponent compares free space under the media root against the
// configured floor.
func (s *Server) diskComponent() healthComponent {
	var st unix.Statfs_t
	if err := unix.Statfs(s.store.Root(), &st); err != nil {
		return healthComponent{Reason: reasonPtr(err.Error())}
	}
	freeMB := int64(st.Bavail) * int64(st.Bsize) / (1024 * 1024)
	if freeMB < s.cfg.HealthzDiskMinFreeMB {
		return healthComponent{Reason: reasonPtr(
			fmt.Sprintf("free %dMB < min %dMB", freeMB, s.cfg.HealthzDiskMinFreeMB))}
	}
	return healthComponent{OK: true}
}

// handleOutputs serves stored artifacts off the media root. Directory
// paths 404 instead of listing; the trash gate has already screened
// feed trash paths by the time requests land here.
// GET /outputs/*
func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/") {
		writeDetail(w, http.StatusNotFound, "Not found")
		return
	}
	http.StripPrefix("/outputs", http.FileServer(http.Dir(s.store.Root()))).ServeHTTP(w, r)
}

// handleStatic serves the front-end asset directory. Same rules as the
// outputs mount: no directory listings.
// GET /static/*
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/") {
		writeDetail(w, http.StatusNotFound, "Not found")
		return
	}
	http.StripPrefix("/static", http.FileServer(http.Dir(s.cfg.StaticDir))).ServeHTTP(w, r)
}
