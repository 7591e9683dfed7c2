// Package pubmed wraps the NCBI E-utilities endpoints used for
// literature retrieval: esearch to resolve a query to PMIDs and efetch
// to pull article metadata and abstracts.
package pubmed

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// Client defines the PubMed operations used by the searcher and the
// literature extraction pass.
type Client interface {
	Search(ctx context.Context, query string, maxResults int) ([]Article, error)
	SearchAll(ctx context.Context, queries []string, maxPerQuery int) ([]Article, error)
}

// Article is one PubMed record with its abstract, when available.
type Article struct {
	PMID     string `json:"pmid"`
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Journal  string `json:"journal"`
	Year     int    `json:"year"`
	DOI      string `json:"doi"`
}

// URL returns the canonical PubMed article URL.
func (a Article) URL() string {
	return "https://pubmed.ncbi.nlm.nih.gov/" + a.PMID + "/"
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default E-utilities base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithAPIKey sets an NCBI API key, which raises the allowed request rate.
func WithAPIKey(key string) Option {
	return func(c *httpClient) {
		c.apiKey = key
		c.limiter = rate.NewLimiter(rate.Limit(8), 1)
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a PubMed E-utilities client. Without an API key NCBI
// allows 3 requests per second; the limiter enforces that.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(3), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search resolves a query to PMIDs and fetches the matching articles.
func (c *httpClient) Search(ctx context.Context, query string, maxResults int) ([]Article, error) {
	if maxResults <= 0 {
		maxResults = 3
	}

	pmids, err := c.esearch(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(pmids) == 0 {
		return nil, nil
	}

	return c.efetch(ctx, pmids)
}

// SearchAll runs multiple queries and merges their results, deduplicated
// by PMID in first-seen order.
func (c *httpClient) SearchAll(ctx context.Context, queries []string, maxPerQuery int) ([]Article, error) {
	seen := make(map[string]bool)
	var out []Article
	var lastErr error

	for _, q := range queries {
		articles, err := c.Search(ctx, q, maxPerQuery)
		if err != nil {
			lastErr = err
			continue
		}
		for _, a := range articles {
			if seen[a.PMID] {
				continue
			}
			seen[a.PMID] = true
			out = append(out, a)
		}
	}

	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

type esearchResponse struct {
	XMLName xml.Name `xml:"eSearchResult"`
	IDs     []string `xml:"IdList>Id"`
}

func (c *httpClient) esearch(ctx context.Context, query string, maxResults int) ([]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmax", strconv.Itoa(maxResults))
	params.Set("sort", "relevance")

	body, err := c.get(ctx, "/esearch.fcgi", params)
	if err != nil {
		return nil, eris.Wrap(err, "pubmed: esearch")
	}

	var result esearchResponse
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "pubmed: unmarshal esearch response")
	}
	return result.IDs, nil
}

type efetchResponse struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []efetchArticle `xml:"PubmedArticle"`
}

type efetchArticle struct {
	PMID    string `xml:"MedlineCitation>PMID"`
	Title   string `xml:"MedlineCitation>Article>ArticleTitle"`
	Journal string `xml:"MedlineCitation>Article>Journal>Title"`
	Year    string `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>Year"`

	AbstractParts []string        `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	ArticleIDs    []efetchIDEntry `xml:"PubmedData>ArticleIdList>ArticleId"`
}

type efetchIDEntry struct {
	Type  string `xml:"IdType,attr"`
	Value string `xml:",chardata"`
}

func (c *httpClient) efetch(ctx context.Context, pmids []string) ([]Article, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("rettype", "abstract")
	params.Set("retmode", "xml")

	body, err := c.get(ctx, "/efetch.fcgi", params)
	if err != nil {
		return nil, eris.Wrap(err, "pubmed: efetch")
	}

	var result efetchResponse
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "pubmed: unmarshal efetch response")
	}

	out := make([]Article, 0, len(result.Articles))
	for _, a := range result.Articles {
		article := Article{
			PMID:     a.PMID,
			Title:    a.Title,
			Journal:  a.Journal,
			Abstract: strings.TrimSpace(strings.Join(a.AbstractParts, " ")),
		}
		if y, err := strconv.Atoi(a.Year); err == nil {
			article.Year = y
		}
		for _, id := range a.ArticleIDs {
			if id.Type == "doi" {
				article.DOI = strings.TrimSpace(id.Value)
			}
		}
		out = append(out, article)
	}
	return out, nil
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "pubmed: rate limiter")
	}

	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "pubmed: create request")
	}

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "pubmed: request failed")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("pubmed: unexpected status %d: %s", statusCode, truncate(string(body), 200))
	}
	return body, nil
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503). Returns the response body and
// status code on success, or the last error after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "pubmed: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("pubmed: status %d", resp.StatusCode)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func retryableStatusCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
