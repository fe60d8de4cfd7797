package comfy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lccanvas/canvasd/internal/core/ports"
)

// Factory creates one session per job against a fixed peer and doubles
// as the reachability probe for health checks.
type Factory struct {
	logger *slog.Logger
	cfg    Config
	probe  *http.Client
}

func NewFactory(logger *slog.Logger, cfg Config) *Factory {
	return &Factory{
		logger: logger,
		cfg:    cfg,
		probe:  &http.Client{Timeout: cfg.HTTPReadTimeout},
	}
}

// NewSession satisfies ports.SessionFactory as a method value.
func (f *Factory) NewSession() ports.UpstreamSession {
	return NewClient(f.logger, f.cfg)
}

// Ping reports whether the peer answers HTTP at all. Any response below
// 500 counts: an auth wall still proves the process is up.
func (f *Factory) Ping(ctx context.Context) error {
	httpBase, _ := normalizeAddress(f.cfg.ServerAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpBase+"/", nil)
	if err != nil {
		return err
	}
	resp, err := f.probe.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
	}
	return nil
}
