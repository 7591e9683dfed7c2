// Package gemini wraps Google generative models for plain text
// generation and for search-grounded generation. Plain generation goes
// through the official SDK; grounded generation calls the Generative
// Language REST API directly because the SDK does not expose the
// Google Search retrieval tool.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
)

const (
	defaultModel   = "gemini-1.5-flash"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Client defines the Gemini operations used by the gateway and the
// grounded supplemental-search pass.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	GenerateGrounded(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Close() error
}

// GenerateRequest is a single-turn generation request.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature *float32
	MaxTokens   *int32
}

// GenerateResponse carries the generated text plus any source URLs the
// model attached as provenance metadata.
type GenerateResponse struct {
	Text    string
	Sources []Source
}

// Source is one provenance back-reference.
type Source struct {
	URI   string
	Title string
}

// Option configures the client.
type Option func(*sdkClient)

// WithBaseURL overrides the REST endpoint used for grounded generation.
func WithBaseURL(u string) Option {
	return func(c *sdkClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the http.Client used for grounded generation.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *sdkClient) {
		c.http = hc
	}
}

// sdkClient implements Client. The SDK handle serves Generate; grounded
// requests go over REST with the same API key.
type sdkClient struct {
	client  *genai.Client
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (Client, error) {
	sdk, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	c := &sdkClient{
		client:  sdk,
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *sdkClient) Close() error {
	return c.client.Close()
}

func (c *sdkClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	name := req.Model
	if name == "" {
		name = defaultModel
	}

	model := c.client.GenerativeModel(name)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.Temperature != nil {
		model.SetTemperature(*req.Temperature)
	}
	if req.MaxTokens != nil {
		model.SetMaxOutputTokens(*req.MaxTokens)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: generate content")
	}

	return fromSDKResponse(resp), nil
}

// GenerateGrounded enables the Google Search retrieval tool so the model
// answers from live search results and reports source URLs.
func (c *sdkClient) GenerateGrounded(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	name := req.Model
	if name == "" {
		name = defaultModel
	}

	payload := restRequest{
		Contents: []restContent{
			{Role: "user", Parts: []restPart{{Text: req.Prompt}}},
		},
		Tools: []restTool{
			{GoogleSearchRetrieval: &struct{}{}},
		},
	}
	if req.System != "" {
		payload.SystemInstruction = &restContent{
			Parts: []restPart{{Text: req.System}},
		}
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		payload.GenerationConfig = &restGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: marshal grounded request")
	}

	endpoint := c.baseURL + "/models/" + name + ":generateContent?key=" + c.apiKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create grounded request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: grounded request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: read grounded response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("gemini: grounded request status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var result restResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "gemini: unmarshal grounded response")
	}

	return fromRESTResponse(&result), nil
}

func fromSDKResponse(resp *genai.GenerateContentResponse) *GenerateResponse {
	out := &GenerateResponse{}
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					out.Text += string(text)
				}
			}
		}
		if cand.CitationMetadata != nil {
			for _, src := range cand.CitationMetadata.CitationSources {
				if src.URI != nil && *src.URI != "" {
					out.Sources = append(out.Sources, Source{URI: *src.URI})
				}
			}
		}
	}
	return out
}

type restRequest struct {
	Contents          []restContent         `json:"contents"`
	SystemInstruction *restContent          `json:"system_instruction,omitempty"`
	Tools             []restTool            `json:"tools,omitempty"`
	GenerationConfig  *restGenerationConfig `json:"generationConfig,omitempty"`
}

type restContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []restPart `json:"parts"`
}

type restPart struct {
	Text string `json:"text,omitempty"`
}

type restTool struct {
	GoogleSearchRetrieval *struct{} `json:"google_search_retrieval,omitempty"`
}

type restGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens *int32   `json:"maxOutputTokens,omitempty"`
}

type restResponse struct {
	Candidates []restCandidate `json:"candidates"`
}

type restCandidate struct {
	Content           *restContent           `json:"content"`
	GroundingMetadata *restGroundingMetadata `json:"groundingMetadata"`
	CitationMetadata  *restCitationMetadata  `json:"citationMetadata"`
}

type restGroundingMetadata struct {
	GroundingChunks []restGroundingChunk `json:"groundingChunks"`
}

type restGroundingChunk struct {
	Web *restWebSource `json:"web"`
}

type restWebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type restCitationMetadata struct {
	CitationSources []restCitationSource `json:"citationSources"`
}

type restCitationSource struct {
	URI string `json:"uri"`
}

func fromRESTResponse(resp *restResponse) *GenerateResponse {
	out := &GenerateResponse{}
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				out.Text += part.Text
			}
		}
		if cand.GroundingMetadata != nil {
			for _, chunk := range cand.GroundingMetadata.GroundingChunks {
				if chunk.Web != nil && chunk.Web.URI != "" {
					out.Sources = append(out.Sources, Source{URI: chunk.Web.URI, Title: chunk.Web.Title})
				}
			}
		}
		if len(out.Sources) == 0 && cand.CitationMetadata != nil {
			for _, src := range cand.CitationMetadata.CitationSources {
				if src.URI != "" {
					out.Sources = append(out.Sources, Source{URI: src.URI})
				}
			}
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
