package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dlsd-labs/evidence-cli/internal/config"
	"github.com/dlsd-labs/evidence-cli/internal/extract"
	"github.com/dlsd-labs/evidence-cli/internal/gateway"
	"github.com/dlsd-labs/evidence-cli/internal/judge"
	"github.com/dlsd-labs/evidence-cli/internal/normalize"
	"github.com/dlsd-labs/evidence-cli/internal/pipeline"
	"github.com/dlsd-labs/evidence-cli/internal/policy"
	"github.com/dlsd-labs/evidence-cli/internal/resilience"
	"github.com/dlsd-labs/evidence-cli/internal/scrape"
	"github.com/dlsd-labs/evidence-cli/internal/search"
	"github.com/dlsd-labs/evidence-cli/internal/store"
	anthropicpkg "github.com/dlsd-labs/evidence-cli/pkg/anthropic"
	"github.com/dlsd-labs/evidence-cli/pkg/gemini"
	"github.com/dlsd-labs/evidence-cli/pkg/openai"
	"github.com/dlsd-labs/evidence-cli/pkg/pubmed"
)

// pipelineEnv bundles everything a command needs to research ingredients.
type pipelineEnv struct {
	Pipeline *pipeline.Pipeline
	Gateway  *gateway.Gateway
	Store    store.Store

	closers []func()
}

func (e *pipelineEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "evidence.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline wires the full stage chain from configuration.
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	env := &pipelineEnv{}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	env.Store = st
	env.closers = append(env.closers, func() { st.Close() }) //nolint:errcheck

	if purged, err := st.DeleteExpiredPages(ctx); err != nil {
		zap.L().Warn("purge expired page cache", zap.Error(err))
	} else if purged > 0 {
		zap.L().Info("purged expired page cache", zap.Int("pages", purged))
	}

	lists, err := config.LoadTiers(cfg.Policy)
	if err != nil {
		env.Close()
		return nil, err
	}
	classifier := policy.New(lists)

	var geminiClient gemini.Client
	var providers []gateway.Provider
	for _, id := range cfg.Pipeline.Providers {
		switch id {
		case "anthropic":
			if cfg.Anthropic.Key == "" {
				continue
			}
			providers = append(providers, &gateway.AnthropicProvider{
				Client:   anthropicpkg.NewClient(cfg.Anthropic.Key),
				Primary:  cfg.Anthropic.PrimaryModel,
				Fallback: cfg.Anthropic.FallbackModel,
			})
		case "openai":
			if cfg.OpenAI.Key == "" {
				continue
			}
			providers = append(providers, &gateway.OpenAIProvider{
				Client:   openai.NewClient(cfg.OpenAI.Key, openai.WithBaseURL(cfg.OpenAI.BaseURL)),
				Primary:  cfg.OpenAI.PrimaryModel,
				Fallback: cfg.OpenAI.FallbackModel,
			})
		case "gemini":
			if cfg.Gemini.Key == "" {
				continue
			}
			gc, err := gemini.NewClient(ctx, cfg.Gemini.Key)
			if err != nil {
				env.Close()
				return nil, eris.Wrap(err, "init gemini client")
			}
			geminiClient = gc
			env.closers = append(env.closers, func() { gc.Close() }) //nolint:errcheck
			providers = append(providers, &gateway.GeminiProvider{
				Client:   gc,
				Primary:  cfg.Gemini.PrimaryModel,
				Fallback: cfg.Gemini.FallbackModel,
			})
		default:
			zap.L().Warn("unknown provider in priority list", zap.String("provider", id))
		}
	}
	if len(providers) == 0 {
		env.Close()
		return nil, eris.New("no generative-text providers configured; set at least one API key")
	}
	env.Gateway = gateway.New(providers...)

	var pubmedOpts []pubmed.Option
	if cfg.PubMed.BaseURL != "" {
		pubmedOpts = append(pubmedOpts, pubmed.WithBaseURL(cfg.PubMed.BaseURL))
	}
	if cfg.PubMed.APIKey != "" {
		pubmedOpts = append(pubmedOpts, pubmed.WithAPIKey(cfg.PubMed.APIKey))
	}
	pubmedClient := pubmed.NewClient(pubmedOpts...)

	retryCfg := resilience.DefaultRetryConfig()
	if cfg.Scrape.RetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.Scrape.RetryAttempts
	}
	fetcher := scrape.NewCachedFetcher(
		scrape.NewFetcher(
			time.Duration(cfg.Scrape.TimeoutSecs)*time.Second,
			scrape.WithMaxChars(cfg.Scrape.MaxChars),
			scrape.WithRetry(retryCfg),
		),
		st,
		time.Duration(cfg.Scrape.CacheTTLHours)*time.Hour,
	)

	engineOpts := []extract.Option{extract.WithThreshold(cfg.Pipeline.EscalationThreshold)}
	if geminiClient != nil {
		engineOpts = append(engineOpts, extract.WithGrounded(geminiClient, cfg.Gemini.GroundedModel))
	}
	engine := extract.New(env.Gateway, pubmedClient, fetcher, classifier, engineOpts...)

	env.Pipeline = pipeline.New(
		normalize.New(env.Gateway),
		search.New(pubmedClient),
		judge.New(classifier, env.Gateway),
		engine,
		pipeline.WithStore(st),
		pipeline.WithAIJudge(cfg.Pipeline.AIJudge),
	)

	return env, nil
}

func probeTimeout() time.Duration {
	secs := cfg.Pipeline.ProbeTimeoutSecs
	if secs <= 0 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}
