package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidateResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"parts": []map[string]string{{"text": text}},
				},
			},
		},
	}
}

func newTestTranslator(t *testing.T, handler http.HandlerFunc) *GeminiTranslator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr := NewGeminiTranslator("test-key", "")
	tr.baseURL = srv.URL
	return tr
}

func TestGeminiTranslator_Translate(t *testing.T) {
	var captured map[string]any
	tr := newTestTranslator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(candidateResponse("1girl, solo, yellow coat"))
	})

	got, err := tr.Translate(context.Background(), "노란 코트를 입은 소녀")
	require.NoError(t, err)
	assert.Equal(t, "1girl, solo, yellow coat", got)

	// The request carries the tag instruction and the user text.
	body, _ := json.Marshal(captured)
	assert.Contains(t, string(body), "Danbooru tags")
	assert.Contains(t, string(body), "노란 코트를 입은 소녀")
}

func TestGeminiTranslator_CleansOutput(t *testing.T) {
	tr := newTestTranslator(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(candidateResponse("Danbooru tags: 1girl, hanbok\nHere is a breakdown of each tag..."))
	})

	got, err := tr.Translate(context.Background(), "한복 소녀")
	require.NoError(t, err)
	assert.Equal(t, "1girl, hanbok", got)
}

func TestGeminiTranslator_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrInvalidKey},
		{"forbidden", http.StatusForbidden, ErrInvalidKey},
		{"quota", http.StatusTooManyRequests, ErrQuotaExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTranslator(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := tr.Translate(context.Background(), "text")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGeminiTranslator_ServerError(t *testing.T) {
	tr := newTestTranslator(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})
	_, err := tr.Translate(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestGeminiTranslator_NoKey(t *testing.T) {
	tr := NewGeminiTranslator("", "")
	_, err := tr.Translate(context.Background(), "text")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGeminiTranslator_EmptyCandidates(t *testing.T) {
	tr := newTestTranslator(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	})
	_, err := tr.Translate(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}
