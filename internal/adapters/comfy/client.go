// Package comfy is the client for a single ComfyUI peer. Each Client is
// one session: it carries a stable client id, and progress for prompts
// queued under that id arrives on the matching websocket stream.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Config carries the peer address and protocol timeouts.
type Config struct {
	ServerAddress      string
	HTTPConnectTimeout time.Duration
	HTTPReadTimeout    time.Duration
	WSConnectTimeout   time.Duration
	WSIdleTimeout      time.Duration
}

// Client talks to one ComfyUI server. Not safe for concurrent use; the
// pipeline creates one per job.
type Client struct {
	logger   *slog.Logger
	httpBase string
	wsBase   string
	clientID string
	http     *http.Client
	dialer   *websocket.Dialer
	idle     time.Duration

	// graph submitted by QueuePrompt, kept for artifact scoring.
	graph map[string]any
}

func NewClient(logger *slog.Logger, cfg Config) *Client {
	httpBase, wsBase := normalizeAddress(cfg.ServerAddress)
	return &Client{
		logger:   logger,
		httpBase: httpBase,
		wsBase:   wsBase,
		clientID: uuid.NewString(),
		http: &http.Client{
			Timeout: cfg.HTTPReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.HTTPConnectTimeout}).DialContext,
			},
		},
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.WSConnectTimeout},
		idle:   cfg.WSIdleTimeout,
	}
}

// normalizeAddress accepts "host:port" or a full http/https URL and
// derives the matching websocket base.
func normalizeAddress(addr string) (httpBase, wsBase string) {
	a := strings.TrimRight(strings.TrimSpace(addr), "/")
	switch {
	case strings.HasPrefix(a, "https://"):
		host := strings.TrimPrefix(a, "https://")
		return "https://" + host, "wss://" + host
	case strings.HasPrefix(a, "http://"):
		host := strings.TrimPrefix(a, "http://")
		return "http://" + host, "ws://" + host
	default:
		return "http://" + a, "ws://" + a
	}
}

// QueuePrompt merges the overrides into the graph and submits it under
// this session's client id. The graph is modified in place; callers pass
// a freshly loaded copy. Returns the prompt id, or "" after logging any
// failure.
func (c *Client) QueuePrompt(ctx context.Context, graph, overrides map[string]any) string {
	for nodeID, raw := range overrides {
		override, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		node, ok := graph[nodeID].(map[string]any)
		if !ok {
			c.logger.Warn("override targets unknown node", "node_id", nodeID)
			continue
		}
		// Merge inside "inputs" so existing wires survive; top-level
		// keys outside inputs replace wholesale.
		nodeInputs, okN := node["inputs"].(map[string]any)
		overrideInputs, okO := override["inputs"].(map[string]any)
		if okN && okO {
			for k, v := range overrideInputs {
				nodeInputs[k] = v
			}
			continue
		}
		for k, v := range override {
			node[k] = v
		}
	}
	c.graph = graph

	body, err := json.Marshal(map[string]any{"prompt": graph, "client_id": c.clientID})
	if err != nil {
		c.logger.Error("failed to encode prompt", "error", err)
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpBase+"/prompt", bytes.NewReader(body))
	if err != nil {
		c.logger.Error("failed to build prompt request", "error", err)
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("failed to submit prompt", "url", c.httpBase+"/prompt", "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Error("prompt rejected", "status", resp.StatusCode, "body", string(detail))
		return ""
	}

	var parsed struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Error("failed to decode prompt response", "error", err)
		return ""
	}
	return parsed.PromptID
}

// UploadInputImage stores reference bytes in the server's input folder
// via multipart upload. Returns the name the server filed it under, or
// "" after logging any failure.
func (c *Client) UploadInputImage(ctx context.Context, filename string, data []byte, mimeType string) string {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		c.logger.Error("failed to build upload form", "error", err)
		return ""
	}
	if _, err := part.Write(data); err != nil {
		c.logger.Error("failed to write upload body", "error", err)
		return ""
	}
	_ = writer.WriteField("overwrite", "true")
	if err := writer.Close(); err != nil {
		c.logger.Error("failed to finish upload form", "error", err)
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpBase+"/upload/image", &body)
	if err != nil {
		c.logger.Error("failed to build upload request", "error", err)
		return ""
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("failed to upload image", "filename", filename, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("upload rejected", "filename", filename, "status", resp.StatusCode)
		return ""
	}

	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// Some builds reply with an empty body; the requested name holds.
		return filename
	}
	for _, key := range []string{"name", "filename", "file"} {
		if s, ok := parsed[key].(string); ok && s != "" {
			return s
		}
	}
	if names, ok := parsed["names"].([]any); ok && len(names) > 0 {
		if s, ok := names[0].(string); ok && s != "" {
			return s
		}
	}
	return filename
}

// Interrupt asks the server to abort whatever this client id is running.
// Safe to call repeatedly.
func (c *Client) Interrupt(ctx context.Context) bool {
	body, _ := json.Marshal(map[string]string{"client_id": c.clientID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpBase+"/interrupt", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("failed to send interrupt", "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("interrupt rejected", "status", resp.StatusCode)
		return false
	}
	return true
}

// historyEntry is the per-prompt slice of /history.
type historyEntry struct {
	Outputs map[string]nodeOutput `json:"outputs"`
}

type nodeOutput struct {
	Images []imageRef `json:"images"`
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

func (c *Client) getHistory(ctx context.Context, promptID string) (historyEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpBase+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return historyEntry{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return historyEntry{}, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return historyEntry{}, fmt.Errorf("history returned status %d", resp.StatusCode)
	}

	var parsed map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return historyEntry{}, fmt.Errorf("failed to decode history: %w", err)
	}
	return parsed[promptID], nil
}

func (c *Client) getImage(ctx context.Context, ref imageRef) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	query.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpBase+"/view?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("view returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
