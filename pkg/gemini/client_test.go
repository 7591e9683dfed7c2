package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *sdkClient {
	return &sdkClient{
		apiKey:  "test-key",
		baseURL: srv.URL,
		http:    srv.Client(),
	}
}

func TestGenerateGroundedEnablesSearchTool(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"parts": [{"text": "Curcuma longa "}, {"text": "rhizome."}]},
				"groundingMetadata": {
					"groundingChunks": [
						{"web": {"uri": "https://examine.com/turmeric", "title": "Turmeric"}},
						{"web": {"uri": "https://pubmed.ncbi.nlm.nih.gov/12345/", "title": "Curcumin trial"}}
					]
				}
			}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	temp := float32(0.2)
	resp, err := c.GenerateGrounded(context.Background(), GenerateRequest{
		Model:       "gemini-1.5-pro",
		System:      "You verify supplement ingredients.",
		Prompt:      "What is the source material of turmeric?",
		Temperature: &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-1.5-pro:generateContent", gotPath)

	tools, ok := gotBody["tools"].([]any)
	require.True(t, ok, "request must carry a tools block")
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Contains(t, tool, "google_search_retrieval")

	sys, ok := gotBody["system_instruction"].(map[string]any)
	require.True(t, ok)
	parts := sys["parts"].([]any)
	assert.Equal(t, "You verify supplement ingredients.", parts[0].(map[string]any)["text"])

	assert.Equal(t, "Curcuma longa rhizome.", resp.Text)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "https://examine.com/turmeric", resp.Sources[0].URI)
	assert.Equal(t, "Turmeric", resp.Sources[0].Title)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/12345/", resp.Sources[1].URI)
}

func TestGenerateGroundedFallsBackToCitationSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"parts": [{"text": "500 mg daily."}]},
				"citationMetadata": {
					"citationSources": [{"uri": "https://www.efsa.europa.eu/dose"}]
				}
			}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	resp, err := c.GenerateGrounded(context.Background(), GenerateRequest{Prompt: "dose?"})
	require.NoError(t, err)

	assert.Equal(t, "500 mg daily.", resp.Text)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "https://www.efsa.europa.eu/dose", resp.Sources[0].URI)
}

func TestGenerateGroundedDefaultsModel(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.GenerateGrounded(context.Background(), GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(gotPath, "/models/"+defaultModel+":"), "path was %s", gotPath)
}

func TestGenerateGroundedErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.GenerateGrounded(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
