package gateway

import (
	"context"

	"github.com/dlsd-labs/evidence-cli/pkg/anthropic"
	"github.com/dlsd-labs/evidence-cli/pkg/gemini"
	"github.com/dlsd-labs/evidence-cli/pkg/openai"
)

// AnthropicProvider adapts the Anthropic client to the gateway contract.
type AnthropicProvider struct {
	Client   anthropic.Client
	Primary  string
	Fallback string
}

func (p *AnthropicProvider) ID() string            { return "anthropic" }
func (p *AnthropicProvider) PrimaryModel() string  { return p.Primary }
func (p *AnthropicProvider) FallbackModel() string { return p.Fallback }

func (p *AnthropicProvider) Generate(ctx context.Context, modelID string, req Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	resp, err := p.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       modelID,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// OpenAIProvider adapts the OpenAI client to the gateway contract.
type OpenAIProvider struct {
	Client   openai.Client
	Primary  string
	Fallback string
}

func (p *OpenAIProvider) ID() string            { return "openai" }
func (p *OpenAIProvider) PrimaryModel() string  { return p.Primary }
func (p *OpenAIProvider) FallbackModel() string { return p.Fallback }

func (p *OpenAIProvider) Generate(ctx context.Context, modelID string, req Request) (string, error) {
	messages := []openai.Message{}
	if req.System != "" {
		messages = append(messages, openai.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, openai.Message{Role: "user", Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = &req.MaxTokens
	}

	resp, err := p.Client.ChatCompletion(ctx, chatReq)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// GeminiProvider adapts the Gemini client to the gateway contract.
type GeminiProvider struct {
	Client   gemini.Client
	Primary  string
	Fallback string
}

func (p *GeminiProvider) ID() string            { return "gemini" }
func (p *GeminiProvider) PrimaryModel() string  { return p.Primary }
func (p *GeminiProvider) FallbackModel() string { return p.Fallback }

func (p *GeminiProvider) Generate(ctx context.Context, modelID string, req Request) (string, error) {
	genReq := gemini.GenerateRequest{
		Model:  modelID,
		System: req.System,
		Prompt: req.Prompt,
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		genReq.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := int32(req.MaxTokens)
		genReq.MaxTokens = &mt
	}

	resp, err := p.Client.Generate(ctx, genReq)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
