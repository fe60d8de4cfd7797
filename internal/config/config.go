package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every runtime knob. All values come from the
// environment (optionally seeded from a .env file by main) so a single
// binary serves dev and prod unchanged.
type Config struct {
	Port               int
	CORSAllowedOrigins []string
	CookieSecure       bool

	// Upstream ComfyUI
	ComfyServerAddress string
	ComfyInputDir      string
	HTTPConnectTimeout time.Duration
	HTTPReadTimeout    time.Duration
	WSConnectTimeout   time.Duration
	WSIdleTimeout      time.Duration

	// Storage
	OutputDir    string
	StaticDir    string
	JobDBPath    string
	WorkflowsDir string

	// Scheduler
	MaxPerUserQueue      int
	MaxPerUserConcurrent int
	JobTimeout           time.Duration

	// Progress log gating
	ProgressLogStepPercent int
	ProgressLogMinInterval time.Duration

	// Upload caps
	ControlsMaxUploadBytes int64
	InputsMaxUploadBytes   int64

	// Health
	HealthzDiskMinFreeMB int64

	// Access control
	BetaPassword   string
	BetaCookieName string
	AdminUser      string
	AdminPassword  string

	// Translation provider
	TranslateAPIKey string
	TranslateModel  string

	// Logging
	LogLevel       string
	LogFormat      string
	LogToFile      bool
	LogFilePath    string
	LogMaxBytes    int64
	LogBackupCount int
}

// Load reads the environment and applies defaults. It never fails:
// malformed numeric values fall back to their defaults.
func Load() *Config {
	return &Config{
		Port:               envInt("PORT", 8000),
		CORSAllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CookieSecure:       envBool("COOKIE_SECURE", false),

		ComfyServerAddress: envStr("COMFY_SERVER_ADDRESS", "127.0.0.1:8188"),
		ComfyInputDir:      envStr("COMFY_INPUT_DIR", ""),
		HTTPConnectTimeout: envSeconds("COMFY_HTTP_CONNECT_TIMEOUT", 3),
		HTTPReadTimeout:    envSeconds("COMFY_HTTP_READ_TIMEOUT", 10),
		WSConnectTimeout:   envSeconds("COMFY_WS_CONNECT_TIMEOUT", 5),
		WSIdleTimeout:      envSeconds("COMFY_WS_IDLE_TIMEOUT", 120),

		OutputDir:    envStr("OUTPUT_DIR", "./outputs"),
		StaticDir:    envStr("STATIC_DIR", "./static"),
		JobDBPath:    envStr("JOB_DB_PATH", "db/app_data.db"),
		WorkflowsDir: envStr("WORKFLOWS_DIR", "./workflows"),

		MaxPerUserQueue:      envInt("MAX_PER_USER_QUEUE", 5),
		MaxPerUserConcurrent: envInt("MAX_PER_USER_CONCURRENT", 1),
		JobTimeout:           envSeconds("JOB_TIMEOUT_SECONDS", 180),

		ProgressLogStepPercent: envInt("PROGRESS_LOG_STEP_PERCENT", 10),
		ProgressLogMinInterval: time.Duration(envInt("PROGRESS_LOG_MIN_INTERVAL_MS", 500)) * time.Millisecond,

		ControlsMaxUploadBytes: envInt64("CONTROLS_MAX_UPLOAD_BYTES", 10*1024*1024),
		InputsMaxUploadBytes:   envInt64("INPUTS_MAX_UPLOAD_BYTES", 10*1024*1024),

		HealthzDiskMinFreeMB: envInt64("HEALTHZ_DISK_MIN_FREE_MB", 512),

		BetaPassword:   os.Getenv("BETA_PASSWORD"),
		BetaCookieName: envStr("BETA_COOKIE_NAME", "beta_auth"),
		AdminUser:      os.Getenv("ADMIN_USER"),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),

		TranslateAPIKey: envFirst("GOOGLE_AI_STUDIO_API_KEY", "GEMINI_API_KEY"),
		TranslateModel:  envStr("TRANSLATE_MODEL", "gemini-2.0-flash"),

		LogLevel:       envStr("LOG_LEVEL", "INFO"),
		LogFormat:      envStr("LOG_FORMAT", "json"),
		LogToFile:      envBool("LOG_TO_FILE", false),
		LogFilePath:    envStr("LOG_FILE_PATH", "logs/app.log"),
		LogMaxBytes:    envInt64("LOG_MAX_BYTES", 1048576),
		LogBackupCount: envInt("LOG_BACKUP_COUNT", 3),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFirst(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
