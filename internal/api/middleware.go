package api

import (
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/lccanvas/canvasd/internal/metrics"
)

const (
	anonCookieName   = "anon_id"
	anonPrefix       = "anon-"
	anonGuest        = "anon-guest"
	anonCookieMaxAge = 60 * 60 * 24 * 180

	betaCookieMaxAge = 60 * 60 * 24 * 30

	requestIDHeader = "X-Request-ID"
)

// ownerID resolves the caller's anonymous identity. Cookies that do not
// carry the expected prefix are ignored, so every handler works against
// the shared guest namespace rather than failing.
func ownerID(r *http.Request) string {
	if c, err := r.Cookie(anonCookieName); err == nil {
		if strings.HasPrefix(c.Value, anonPrefix) {
			return c.Value
		}
	}
	return anonGuest
}

// requestLog assigns a request id, echoes it on every response, and logs
// one line per request. Static and scrape traffic keeps the id header
// but is not logged.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		if strings.HasPrefix(r.URL.Path, "/outputs/") ||
			strings.HasPrefix(r.URL.Path, "/static/") ||
			r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), elapsed)
		s.logger.Info("http request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", elapsed.Milliseconds(),
			"owner_id", ownerID(r),
		)
	})
}

// betaGate blocks everything behind the shared beta password when one is
// configured. Health and scrape endpoints, the gate's own endpoints, the
// static mounts, and the WebSocket route (which closes with its own
// code) stay reachable; valid admin credentials also pass. The feed
// trash mirror under /outputs is still covered by trashGate.
func (s *Server) betaGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.BetaEnabled() || s.betaAuthed(r) || betaExemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if s.isAdminRequest(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeDetail(w, http.StatusUnauthorized, "beta_auth_required")
	})
}

func betaExemptPath(path string) bool {
	switch path {
	case "/healthz", "/metrics", "/ws/status",
		"/api/v1/beta/status", "/api/v1/beta/login":
		return true
	}
	return strings.HasPrefix(path, "/outputs/") ||
		strings.HasPrefix(path, "/static/")
}

func (s *Server) betaAuthed(r *http.Request) bool {
	if !s.cfg.BetaEnabled() {
		return true
	}
	c, err := r.Cookie(s.cfg.BetaCookieName)
	if err != nil {
		return false
	}
	return s.cfg.CheckBetaCookie(c.Value)
}

// trashGate hides the feed trash mirror from everyone but admins. It
// answers 404, not 403, so the trash tree's existence is not advertised.
// The file server cleans the path after StripPrefix, so the gate has to
// judge the cleaned form too or "//feed/trash" slips through.
func (s *Server) trashGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleaned := path.Clean(r.URL.Path)
		if cleaned == "/outputs/feed/trash" || strings.HasPrefix(cleaned, "/outputs/feed/trash/") {
			if !s.isAdminRequest(r) {
				writeDetail(w, http.StatusNotFound, "Not found")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin guards the admin route group with HTTP Basic auth.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdminRequest(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			writeDetail(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isAdminRequest(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return s.cfg.CheckAdminBasic(user, pass)
}

// qInt parses an integer query parameter, falling back on absent or
// malformed values.
func qInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// clampInt bounds v to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// paginate slices one page out of items and reports paging metadata in
// the order page, size, total, total_pages.
func paginate[T any](items []T, page, size int) ([]T, int, int, int, int) {
	if page < 1 {
		page = 1
	}
	total := len(items)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	totalPages := (total + size - 1) / size
	return items[start:end], page, size, total, totalPages
}
