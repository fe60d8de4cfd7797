package workflows

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lccanvas/canvasd/internal/core/domain"
)

// Registry resolves workflow configs and their node graphs. Configs are
// compiled in; graphs live as JSON files under dir so operators can swap
// them without a rebuild.
type Registry struct {
	logger *slog.Logger
	dir    string
}

func NewRegistry(logger *slog.Logger, dir string) *Registry {
	if dir == "" {
		dir = "./workflows"
	}
	return &Registry{logger: logger, dir: dir}
}

// Get returns the config for id.
func (r *Registry) Get(id string) (*domain.WorkflowConfig, error) {
	cfg, ok := configs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, id)
	}
	return cfg, nil
}

// All returns every config in catalogue order. Hidden workflows are
// excluded unless includeHidden is set.
func (r *Registry) All(includeHidden bool) []*domain.WorkflowConfig {
	out := make([]*domain.WorkflowConfig, 0, len(order))
	for _, id := range order {
		cfg := configs[id]
		if cfg.Hidden && !includeHidden {
			continue
		}
		out = append(out, cfg)
	}
	return out
}

// LoadGraph parses the workflow's node graph from disk. The graph is
// the raw ComfyUI prompt format: node id → {class_type, inputs, …}.
func (r *Registry) LoadGraph(id string) (map[string]any, error) {
	if _, ok := configs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, id)
	}
	path := filepath.Join(r.dir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow graph %s: %w", path, err)
	}
	var graph map[string]any
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("failed to parse workflow graph %s: %w", path, err)
	}
	return graph, nil
}

// NodeCount returns the number of nodes in the workflow's graph, or 0
// when the graph file is missing or unreadable. The catalogue stays
// serviceable either way.
func (r *Registry) NodeCount(id string) int {
	graph, err := r.LoadGraph(id)
	if err != nil {
		r.logger.Warn("workflow graph unavailable", "workflow_id", id, "error", err)
		return 0
	}
	return len(graph)
}
