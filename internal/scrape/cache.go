package scrape

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PageCache stores fetched page text keyed by URL.
type PageCache interface {
	GetCachedPage(ctx context.Context, pageURL string) (string, bool, error)
	SetCachedPage(ctx context.Context, pageURL, text string, ttl time.Duration) error
}

// CachedFetcher serves page text from a cache before hitting the
// network. Cache failures fall through to a live fetch.
type CachedFetcher struct {
	fetcher *Fetcher
	cache   PageCache
	ttl     time.Duration
}

// NewCachedFetcher wraps a fetcher with a page cache.
func NewCachedFetcher(f *Fetcher, cache PageCache, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{fetcher: f, cache: cache, ttl: ttl}
}

// FetchText returns cached text when fresh, otherwise fetches and
// stores the result.
func (c *CachedFetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	if text, ok, err := c.cache.GetCachedPage(ctx, rawURL); err != nil {
		zap.L().Warn("scrape: cache lookup failed", zap.String("url", rawURL), zap.Error(err))
	} else if ok {
		return text, nil
	}

	text, err := c.fetcher.FetchText(ctx, rawURL)
	if err != nil {
		return "", err
	}

	if err := c.cache.SetCachedPage(ctx, rawURL, text, c.ttl); err != nil {
		zap.L().Warn("scrape: cache store failed", zap.String("url", rawURL), zap.Error(err))
	}
	return text, nil
}
