package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lccanvas/canvasd/internal/core/ports"
)

// Typed provider failures. The HTTP layer maps these onto status codes
// and user-facing messages.
var (
	ErrNotConfigured = errors.New("translation provider not configured")
	ErrInvalidKey    = errors.New("translation provider rejected the api key")
	ErrQuotaExceeded = errors.New("translation provider quota exceeded")
)

// translateInstruction steers the model toward bare tags; anything else
// is stripped by the response cleanup.
const translateInstruction = "You are an expert in creating high-quality, detailed image generation prompts " +
	"using Danbooru tags. Your task is to convert the user's natural language " +
	"description into a comma-separated list of Danbooru tags. Only include " +
	"relevant tags and do not add any extra explanations or sentences."

// GeminiTranslator converts free-form prompt text into Danbooru tags via
// the Google AI Studio generateContent API.
type GeminiTranslator struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

var _ ports.Translator = (*GeminiTranslator)(nil)

func NewGeminiTranslator(apiKey, model string) *GeminiTranslator {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiTranslator{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		apiKey:  apiKey,
		model:   model,
	}
}

// Translate sends text to the model and returns the cleaned tag line.
func (t *GeminiTranslator) Translate(ctx context.Context, text string) (string, error) {
	if t.apiKey == "" {
		return "", ErrNotConfigured
	}

	payload := map[string]any{
		"system_instruction": map[string]any{
			"parts": []map[string]string{{"text": translateInstruction}},
		},
		"contents": []map[string]any{
			{
				"role": "user",
				"parts": []map[string]string{
					{"text": fmt.Sprintf("Please convert the following sentence into Danbooru tags:\n'%s'", text)},
				},
			},
		},
		"generationConfig": map[string]any{
			"temperature":     0.2,
			"maxOutputTokens": 512,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", t.baseURL, t.model, t.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call translation API: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", ErrInvalidKey
	case http.StatusTooManyRequests:
		return "", ErrQuotaExceeded
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translation API returned status %d: %s", resp.StatusCode, string(snippet))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	var raw strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		raw.WriteString(part.Text)
	}
	return cleanTagLine(raw.String()), nil
}

// cleanTagLine reduces model output to one line of tags: surrounding
// whitespace and the occasional "Danbooru tags:" preamble go away.
func cleanTagLine(s string) string {
	out := strings.TrimSpace(s)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	out = strings.ReplaceAll(out, "Danbooru tags:", "")
	return strings.TrimSpace(out)
}
