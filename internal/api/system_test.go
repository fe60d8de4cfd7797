package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lccanvas/canvasd/internal/config"
	"github.com/lccanvas/canvasd/internal/core/domain"
)

func TestSession_AssignsAnonIdentity(t *testing.T) {
	env := newTestEnv(t)

	// 1. First visit mints an id and sets the cookie
	w := env.do(jsonRequest(t, "GET", "/api/v1/session", nil))
	require.Equal(t, http.StatusOK, w.Code)
	anonID, _ := decodeBody(t, w)["anon_id"].(string)
	assert.True(t, strings.HasPrefix(anonID, "anon-"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "anon_id", c.Name)
	assert.Equal(t, anonID, c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, 60*60*24*180, c.MaxAge)

	// 2. Returning visitors keep their id, no new cookie
	req := jsonRequest(t, "GET", "/api/v1/session", nil)
	req.AddCookie(c)
	w = env.do(req)
	assert.Equal(t, anonID, decodeBody(t, w)["anon_id"])
	assert.Empty(t, w.Result().Cookies())

	// 3. A cookie without the expected prefix is replaced
	req = jsonRequest(t, "GET", "/api/v1/session", nil)
	req.AddCookie(&http.Cookie{Name: "anon_id", Value: "bogus"})
	w = env.do(req)
	fresh, _ := decodeBody(t, w)["anon_id"].(string)
	assert.True(t, strings.HasPrefix(fresh, "anon-"))
	assert.NotEqual(t, anonID, fresh)
}

func TestBetaStatus(t *testing.T) {
	// 1. Gate disabled: everyone counts as authed
	env := newTestEnv(t)
	resp := decodeBody(t, env.do(jsonRequest(t, "GET", "/api/v1/beta/status", nil)))
	assert.Equal(t, false, resp["enabled"])
	assert.Equal(t, true, resp["authed"])

	// 2. Gate enabled: fresh visitors are not
	env = newTestEnv(t, func(cfg *config.Config) { cfg.BetaPassword = "letmein" })
	resp = decodeBody(t, env.do(jsonRequest(t, "GET", "/api/v1/beta/status", nil)))
	assert.Equal(t, true, resp["enabled"])
	assert.Equal(t, false, resp["authed"])

	// 3. The gate cookie flips authed
	req := jsonRequest(t, "GET", "/api/v1/beta/status", nil)
	req.AddCookie(&http.Cookie{Name: "beta_auth", Value: env.cfg.BetaToken()})
	resp = decodeBody(t, env.do(req))
	assert.Equal(t, true, resp["authed"])
}

func TestBetaLogin(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.BetaPassword = "letmein" })

	// 1. Wrong password
	w := env.do(jsonRequest(t, "POST", "/api/v1/beta/login", map[string]string{"password": "nope"}))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "비밀번호가 올바르지 않습니다.", decodeBody(t, w)["detail"])

	// 2. Garbage body
	w = env.do(httptest.NewRequest("POST", "/api/v1/beta/login", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 3. Correct password sets the derived token, never the password
	w = env.do(jsonRequest(t, "POST", "/api/v1/beta/login", map[string]string{"password": "letmein"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["ok"])
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, env.cfg.BetaToken(), cookies[0].Value)
	assert.NotContains(t, cookies[0].Value, "letmein")
	assert.True(t, cookies[0].HttpOnly)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	// 1. Everything up
	w := env.do(jsonRequest(t, "GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, true, resp["ok"])
	components := resp["components"].(map[string]any)
	for _, name := range []string{"comfyui", "db", "disk", "llm"} {
		comp := components[name].(map[string]any)
		assert.Equal(t, true, comp["ok"], name)
		reason, present := comp["reason"]
		require.True(t, present, name)
		assert.Nil(t, reason, name)
	}

	// 2. A dead upstream flips the endpoint to 503
	env.upstream.err = errors.New("connect refused")
	w = env.do(jsonRequest(t, "GET", "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp = decodeBody(t, w)
	assert.Equal(t, false, resp["ok"])
	comfy := resp["components"].(map[string]any)["comfyui"].(map[string]any)
	assert.Equal(t, false, comfy["ok"])
	assert.Equal(t, "connect refused", comfy["reason"])
}

func TestHealthz_TranslatorIsAdvisory(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.TranslateAPIKey = "" })

	w := env.do(jsonRequest(t, "GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, true, resp["ok"])
	llm := resp["components"].(map[string]any)["llm"].(map[string]any)
	assert.Equal(t, false, llm["ok"])
	assert.Equal(t, "GOOGLE_AI_STUDIO_API_KEY not set", llm["reason"])
}

func TestHealthz_DiskFloor(t *testing.T) {
	// No filesystem has an exabyte free.
	env := newTestEnv(t, func(cfg *config.Config) { cfg.HealthzDiskMinFreeMB = 1 << 40 })

	w := env.do(jsonRequest(t, "GET", "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	disk := decodeBody(t, w)["components"].(map[string]any)["disk"].(map[string]any)
	assert.Equal(t, false, disk["ok"])
	assert.Contains(t, disk["reason"], "free ")
}

func TestHealthz_DatabaseDown(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Close())

	w := env.do(jsonRequest(t, "GET", "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	db := decodeBody(t, w)["components"].(map[string]any)["db"].(map[string]any)
	assert.Equal(t, false, db["ok"])
	assert.NotNil(t, db["reason"])
}

func TestOutputs_ServesStoredArtifacts(t *testing.T) {
	env := newTestEnv(t)
	data := testPNG(t, 16, 16)
	saved, err := env.store.SaveUpload("anon-o1", domain.MediaKindControl, data, "guide.png")
	require.NoError(t, err)

	// 1. The stored PNG is reachable at its URL
	w := env.do(jsonRequest(t, "GET", saved.URL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())

	// 2. Directories are not listable
	w = env.do(jsonRequest(t, "GET", "/outputs/users/", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not found", decodeBody(t, w)["detail"])

	// 3. Unknown files 404
	w = env.do(jsonRequest(t, "GET", "/outputs/users/anon-o1/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 4. A thumb sits next to the original
	thumbReq := jsonRequest(t, "GET", saved.ThumbURL, nil)
	assert.Equal(t, http.StatusOK, env.do(thumbReq).Code)
}

func TestStatic_ServesAssets(t *testing.T) {
	env := newTestEnv(t)
	css := []byte("body{margin:0}")
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.StaticDir, "app.css"), css, 0o644))

	// 1. Assets resolve under /static
	w := env.do(jsonRequest(t, "GET", "/static/app.css", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, css, w.Body.Bytes())

	// 2. Directories are not listable
	require.NoError(t, os.MkdirAll(filepath.Join(env.cfg.StaticDir, "css"), 0o755))
	w = env.do(jsonRequest(t, "GET", "/static/css/", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not found", decodeBody(t, w)["detail"])

	// 3. Unknown files 404
	w = env.do(jsonRequest(t, "GET", "/static/missing.js", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
