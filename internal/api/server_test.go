package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lccanvas/canvasd/internal/adapters/media"
	"github.com/lccanvas/canvasd/internal/adapters/sqlite"
	"github.com/lccanvas/canvasd/internal/config"
	"github.com/lccanvas/canvasd/internal/core/services"
	"github.com/lccanvas/canvasd/internal/workflows"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                   8000,
		OutputDir:              t.TempDir(),
		StaticDir:              t.TempDir(),
		WorkflowsDir:           t.TempDir(),
		MaxPerUserQueue:        2,
		MaxPerUserConcurrent:   1,
		JobTimeout:             time.Minute,
		ControlsMaxUploadBytes: 1 << 20,
		InputsMaxUploadBytes:   1 << 20,
		HealthzDiskMinFreeMB:   1,
		BetaCookieName:         "beta_auth",
		AdminUser:              "admin",
		AdminPassword:          "hunter2",
		TranslateAPIKey:        "test-key",
		TranslateModel:         "gemini-2.0-flash",
	}
}

type fakeUpstream struct{ err error }

func (f *fakeUpstream) Ping(context.Context) error { return f.err }

type fakeTranslator struct {
	reply string
	err   error
}

func (f *fakeTranslator) Translate(context.Context, string) (string, error) {
	return f.reply, f.err
}

// testEnv wires a Server against real stores under temp directories, so
// tests exercise the same stack the binary runs.
type testEnv struct {
	handler    http.Handler
	server     *Server
	cfg        *config.Config
	db         *sqlite.DB
	store      *media.Store
	posts      *sqlite.PostStore
	jobs       *sqlite.JobStore
	hub        *services.Hub
	upstream   *fakeUpstream
	translator *fakeTranslator
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	logger := testLogger()
	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}

	db, err := sqlite.New(logger, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })

	store := media.NewStore(logger, cfg.OutputDir)
	jobs := sqlite.NewJobStore(db, store.ArtifactExists)
	posts := sqlite.NewPostStore(db)
	hub := services.NewHub(logger)
	scheduler := services.NewScheduler(logger, services.SchedulerConfig{
		MaxPerUserQueue:      cfg.MaxPerUserQueue,
		MaxPerUserConcurrent: cfg.MaxPerUserConcurrent,
		JobTimeout:           cfg.JobTimeout,
	}, hub, jobs)
	registry := workflows.NewRegistry(logger, cfg.WorkflowsDir)
	upstream := &fakeUpstream{}
	translator := &fakeTranslator{reply: "1girl, solo"}

	server := NewServer(logger, cfg, scheduler, hub, store, posts, jobs, registry, translator, upstream, db)
	return &testEnv{
		handler:    server.Handler(),
		server:     server,
		cfg:        cfg,
		db:         db,
		store:      store,
		posts:      posts,
		jobs:       jobs,
		hub:        hub,
		upstream:   upstream,
		translator: translator,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) asAdmin(req *http.Request) *http.Request {
	req.SetBasicAuth(e.cfg.AdminUser, e.cfg.AdminPassword)
	return req
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func anonCookie(id string) *http.Cookie {
	return &http.Cookie{Name: anonCookieName, Value: id}
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestServer_RequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	// 1. Minted when the client sends none
	w := env.do(jsonRequest(t, "GET", "/api/v1/beta/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// 2. Echoed when provided
	req := jsonRequest(t, "GET", "/api/v1/beta/status", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = env.do(req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	// 3. Static traffic keeps the header even though it is not logged
	w = env.do(jsonRequest(t, "GET", "/outputs/users/nobody/missing.png", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_AdminBasicAuth(t *testing.T) {
	env := newTestEnv(t)

	// 1. No credentials
	w := env.do(jsonRequest(t, "GET", "/api/v1/admin/users", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Basic realm="admin"`, w.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "Unauthorized", decodeBody(t, w)["detail"])

	// 2. Wrong password
	req := jsonRequest(t, "GET", "/api/v1/admin/users", nil)
	req.SetBasicAuth(env.cfg.AdminUser, "wrong")
	w = env.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 3. Valid credentials
	w = env.do(env.asAdmin(jsonRequest(t, "GET", "/api/v1/admin/users", nil)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_AdminDisabledRejectsEveryone(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.AdminUser = ""
		cfg.AdminPassword = ""
	})

	req := jsonRequest(t, "GET", "/api/v1/admin/users", nil)
	req.SetBasicAuth("admin", "hunter2")
	w := env.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_BetaGate(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.BetaPassword = "letmein"
	})

	// 1. App routes are blocked for fresh visitors
	w := env.do(jsonRequest(t, "GET", "/api/v1/feed", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "beta_auth_required", decodeBody(t, w)["detail"])

	// 2. Health, scrape and the gate's own endpoints stay reachable
	for _, path := range []string{"/healthz", "/metrics", "/api/v1/beta/status"} {
		w = env.do(jsonRequest(t, "GET", path, nil))
		assert.NotEqual(t, http.StatusUnauthorized, w.Code, path)
	}

	// 3. Static mounts stay open so the login page can load its assets
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.StaticDir, "app.js"), []byte("// ui"), 0o644))
	w = env.do(jsonRequest(t, "GET", "/static/app.js", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	outDir := filepath.Join(env.store.Root(), "users", "anon-beta")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "pic.png"), testPNG(t, 4, 4), 0o644))
	w = env.do(jsonRequest(t, "GET", "/outputs/users/anon-beta/pic.png", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// The trash mirror is still hidden behind the open mount
	w = env.do(jsonRequest(t, "GET", "/outputs/feed/trash/2025/01/01/x.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 4. Admin credentials bypass the gate
	w = env.do(env.asAdmin(jsonRequest(t, "GET", "/api/v1/feed", nil)))
	assert.Equal(t, http.StatusOK, w.Code)

	// 5. Logging in unlocks everything else
	w = env.do(jsonRequest(t, "POST", "/api/v1/beta/login", map[string]string{"password": "letmein"}))
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "beta_auth", cookies[0].Name)

	req := jsonRequest(t, "GET", "/api/v1/feed", nil)
	req.AddCookie(cookies[0])
	w = env.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_TrashGateHidesFeedTrash(t *testing.T) {
	env := newTestEnv(t)

	trashDir := filepath.Join(env.store.Root(), "feed", "trash", "2025", "01", "02")
	require.NoError(t, os.MkdirAll(trashDir, 0o755))
	data := testPNG(t, 8, 8)
	require.NoError(t, os.WriteFile(filepath.Join(trashDir, "p1.png"), data, 0o644))

	// 1. Anonymous callers get a flat 404, not a 403
	w := env.do(jsonRequest(t, "GET", "/outputs/feed/trash/2025/01/02/p1.png", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not found", decodeBody(t, w)["detail"])

	// 2. Admins can preview the trashed file
	w = env.do(env.asAdmin(jsonRequest(t, "GET", "/outputs/feed/trash/2025/01/02/p1.png", nil)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
}

func TestServer_TrashGateCoversUnnormalizedPaths(t *testing.T) {
	env := newTestEnv(t)

	trashDir := filepath.Join(env.store.Root(), "feed", "trash", "2025", "08", "25")
	require.NoError(t, os.MkdirAll(trashDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(trashDir, "p1.png"), testPNG(t, 8, 8), 0o644))

	// The file server cleans these into the trash path after the prefix
	// strip, so every spelling must hit the gate.
	paths := []string{
		"/outputs//feed/trash/2025/08/25/p1.png",
		"/outputs/feed//trash/2025/08/25/p1.png",
		"/outputs/feed/./trash/2025/08/25/p1.png",
		"/outputs/users/../feed/trash/2025/08/25/p1.png",
		"/outputs/feed/trash",
		"/outputs/feed/trash/",
	}
	for _, p := range paths {
		w := env.do(jsonRequest(t, "GET", p, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, p)
	}

	// Admins still reach the file through the same spellings.
	w := env.do(env.asAdmin(jsonRequest(t, "GET", "/outputs//feed/trash/2025/08/25/p1.png", nil)))
	assert.Equal(t, http.StatusOK, w.Code)
}
