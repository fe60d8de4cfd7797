package config

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != 8000 {
		t.Fatalf("expected default port 8000, got %d", cfg.Port)
	}
	if cfg.MaxPerUserQueue != 5 {
		t.Fatalf("expected queue depth 5, got %d", cfg.MaxPerUserQueue)
	}
	if cfg.JobTimeout != 180*time.Second {
		t.Fatalf("expected 180s job timeout, got %s", cfg.JobTimeout)
	}
	if cfg.BetaCookieName != "beta_auth" {
		t.Fatalf("expected beta_auth cookie name, got %s", cfg.BetaCookieName)
	}
	if cfg.ControlsMaxUploadBytes != 10*1024*1024 {
		t.Fatalf("expected 10MiB upload cap, got %d", cfg.ControlsMaxUploadBytes)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("JOB_TIMEOUT_SECONDS", "15")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_FORMAT", "text")

	cfg := Load()

	if cfg.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", cfg.Port)
	}
	if cfg.JobTimeout != 15*time.Second {
		t.Fatalf("expected 15s timeout, got %s", cfg.JobTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("expected text format, got %s", cfg.LogFormat)
	}
}

func TestLoad_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("MAX_PER_USER_QUEUE", "")

	cfg := Load()

	if cfg.Port != 8000 {
		t.Fatalf("expected fallback port 8000, got %d", cfg.Port)
	}
	if cfg.MaxPerUserQueue != 5 {
		t.Fatalf("expected fallback queue 5, got %d", cfg.MaxPerUserQueue)
	}
}

func TestBetaGate(t *testing.T) {
	cfg := &Config{BetaPassword: "hunter2", BetaCookieName: "beta_auth"}

	if !cfg.BetaEnabled() {
		t.Fatal("gate should be enabled with a password set")
	}

	h := sha256.Sum256([]byte("beta_gate:v1:hunter2"))
	want := hex.EncodeToString(h[:])
	if cfg.BetaToken() != want {
		t.Fatalf("token mismatch: got %s want %s", cfg.BetaToken(), want)
	}

	if !cfg.CheckBetaCookie(want) {
		t.Fatal("derived token should pass the cookie check")
	}
	if cfg.CheckBetaCookie("bogus") {
		t.Fatal("bogus cookie should fail")
	}
	if !cfg.CheckBetaPassword("hunter2") {
		t.Fatal("correct password should pass")
	}
	if cfg.CheckBetaPassword("wrong") {
		t.Fatal("wrong password should fail")
	}
}

func TestBetaGate_DisabledWhenUnset(t *testing.T) {
	cfg := &Config{}

	if cfg.BetaEnabled() {
		t.Fatal("gate should be disabled without a password")
	}
	if !cfg.CheckBetaCookie("") {
		t.Fatal("disabled gate should pass every cookie check")
	}
	if !cfg.CheckBetaPassword("anything") {
		t.Fatal("disabled gate should pass every password check")
	}
}

func TestAdminBasic(t *testing.T) {
	cfg := &Config{AdminUser: "admin", AdminPassword: "secret"}

	if !cfg.CheckAdminBasic("admin", "secret") {
		t.Fatal("valid credentials should pass")
	}
	if cfg.CheckAdminBasic("admin", "nope") {
		t.Fatal("wrong password should fail")
	}
	if cfg.CheckAdminBasic("root", "secret") {
		t.Fatal("wrong user should fail")
	}

	unset := &Config{}
	if unset.CheckAdminBasic("", "") {
		t.Fatal("unset credentials must never authenticate")
	}
}
