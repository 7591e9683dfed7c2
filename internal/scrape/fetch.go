// Package scrape downloads pages and reduces them to plain text for the
// extraction passes.
package scrape

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/dlsd-labs/evidence-cli/internal/resilience"
)

const (
	defaultMaxChars  = 3000
	defaultUserAgent = "evidence-cli/1.0 (supplement research)"
)

// Fetcher downloads a URL and extracts readable text.
type Fetcher struct {
	http     *http.Client
	maxChars int
	retry    resilience.RetryConfig
}

// Option configures the fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fetcher) {
		f.http = hc
	}
}

// WithMaxChars caps the extracted text length.
func WithMaxChars(n int) Option {
	return func(f *Fetcher) {
		f.maxChars = n
	}
}

// WithRetry overrides the default retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(f *Fetcher) {
		f.retry = cfg
	}
}

// NewFetcher creates a Fetcher with a bounded request timeout.
func NewFetcher(timeout time.Duration, opts ...Option) *Fetcher {
	f := &Fetcher{
		http:     &http.Client{Timeout: timeout},
		maxChars: defaultMaxChars,
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FetchText downloads a page and returns its visible text with scripts,
// styles, and navigation stripped and whitespace collapsed. Transient
// failures (timeouts, 429s, 5xx) are retried with backoff.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	var text string
	err := resilience.Do(ctx, f.retry, func(ctx context.Context) error {
		var fetchErr error
		text, fetchErr = f.fetchOnce(ctx, rawURL)
		return fetchErr
	})
	return text, err
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "scrape: create request")
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "scrape: fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("scrape: unexpected status %d for %s", resp.StatusCode, rawURL)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return "", statusErr
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "scrape: parse html")
	}

	doc.Find("script, style, nav, header, footer, noscript").Remove()
	text := collapseWhitespace(doc.Find("body").Text())
	if len(text) > f.maxChars {
		text = text[:f.maxChars]
	}
	return text, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
