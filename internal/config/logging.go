package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the process-wide slog.Logger from the logging knobs.
// Output goes to stdout, optionally teed into a size-rotated file.
func NewLogger(cfg *Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogToFile {
		if dir := filepath.Dir(cfg.LogFilePath); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		rotated := &lumberjack.Logger{
			Filename:   cfg.LogFilePath,
			MaxSize:    int(cfg.LogMaxBytes / (1024 * 1024)),
			MaxBackups: cfg.LogBackupCount,
		}
		if rotated.MaxSize < 1 {
			rotated.MaxSize = 1
		}
		out = io.MultiWriter(os.Stdout, rotated)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
