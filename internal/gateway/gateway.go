// Package gateway multiplexes generative-text providers behind one
// "prompt in, text out" contract. Providers are tried in a fixed
// priority order, primary model before fallback model, and every
// per-attempt failure is converted into "try next" — the gateway never
// returns an error, only ok=false when the whole chain is exhausted.
package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dlsd-labs/evidence-cli/internal/model"
)

// Request is one generation request.
type Request struct {
	Prompt      string
	System      string
	Provider    string // restrict to a single provider when non-empty
	Temperature *float64
	MaxTokens   int
}

// Response is a successful generation.
type Response struct {
	Text     string
	Provider string
	Model    string
}

// Provider is one configured generative-text backend slot.
type Provider interface {
	ID() string
	PrimaryModel() string
	FallbackModel() string
	Generate(ctx context.Context, modelID string, req Request) (string, error)
}

// Gateway holds the priority-ordered provider list. Availability is
// established once, at construction or by Probe, and read-only after.
type Gateway struct {
	providers   []Provider
	unavailable map[string]bool
}

// New creates a Gateway over the given providers in priority order.
func New(providers ...Provider) *Gateway {
	return &Gateway{
		providers:   providers,
		unavailable: make(map[string]bool),
	}
}

// Probe issues a minimal generation against every provider concurrently
// and marks the ones that fail as unavailable. Intended to run once at
// startup; it is not safe to call concurrently with Generate.
func (g *Gateway) Probe(ctx context.Context, timeout time.Duration) {
	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)

	for _, p := range g.providers {
		eg.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			_, err := p.Generate(probeCtx, p.PrimaryModel(), Request{Prompt: "ping", MaxTokens: 8})
			if err != nil {
				zap.L().Warn("provider probe failed",
					zap.String("provider", p.ID()),
					zap.Error(err),
				)
				mu.Lock()
				g.unavailable[p.ID()] = true
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
}

// Descriptors reports the configured provider slots and their
// availability.
func (g *Gateway) Descriptors() []model.ProviderDescriptor {
	out := make([]model.ProviderDescriptor, 0, len(g.providers))
	for _, p := range g.providers {
		out = append(out, model.ProviderDescriptor{
			ProviderID:    p.ID(),
			PrimaryModel:  p.PrimaryModel(),
			FallbackModel: p.FallbackModel(),
			Available:     !g.unavailable[p.ID()],
		})
	}
	return out
}

// Generate walks the provider chain and returns the first non-empty
// text. ok is false when every provider+model attempt failed.
func (g *Gateway) Generate(ctx context.Context, req Request) (Response, bool) {
	for _, p := range g.providers {
		if req.Provider != "" && p.ID() != req.Provider {
			continue
		}
		if g.unavailable[p.ID()] {
			continue
		}

		if resp, ok := g.tryProvider(ctx, p, req); ok {
			return resp, true
		}
	}
	return Response{}, false
}

func (g *Gateway) tryProvider(ctx context.Context, p Provider, req Request) (Response, bool) {
	models := []string{p.PrimaryModel()}
	if fb := p.FallbackModel(); fb != "" && fb != p.PrimaryModel() {
		models = append(models, fb)
	}

	for _, m := range models {
		text, err := p.Generate(ctx, m, req)
		if err != nil {
			zap.L().Debug("generation attempt failed",
				zap.String("provider", p.ID()),
				zap.String("model", m),
				zap.Error(err),
			)
			continue
		}
		if strings.TrimSpace(text) == "" {
			zap.L().Debug("generation returned empty text",
				zap.String("provider", p.ID()),
				zap.String("model", m),
			)
			continue
		}
		return Response{Text: text, Provider: p.ID(), Model: m}, true
	}
	return Response{}, false
}
