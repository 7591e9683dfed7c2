// Package search expands a canonical entity into deterministic retrieval
// queries and collects candidate sources: live PubMed results plus
// templated URLs for journals, regulators, and encyclopedias.
package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/dlsd-labs/evidence-cli/internal/model"
	"github.com/dlsd-labs/evidence-cli/pkg/pubmed"
)

const (
	maxCandidates = 20
	maxTerms      = 14
	minTerms      = 8
	maxPerQuery   = 3
)

// Result is the searcher's output for one entity.
type Result struct {
	SearchTerms []string                `json:"search_terms"`
	Candidates  []model.CandidateSource `json:"candidates"`
}

// Searcher builds queries and collects candidates.
type Searcher struct {
	pubmed pubmed.Client
}

// New creates a Searcher backed by the given literature client.
func New(pm pubmed.Client) *Searcher {
	return &Searcher{pubmed: pm}
}

// Search generates 8–14 query terms and up to 20 deduplicated candidate
// sources. It never fails: a total retrieval outage degrades to a
// minimal term list with no candidates.
func (s *Searcher) Search(ctx context.Context, entity model.CanonicalEntity, synonyms []string) Result {
	names := collectNames(entity, synonyms)
	if len(names) == 0 {
		return fallbackResult(entity.RawName)
	}

	terms := buildSearchTerms(names, entity.Class)

	var candidates []model.CandidateSource
	candidates = append(candidates, s.searchPubMed(ctx, names)...)
	candidates = append(candidates, journalCandidates(names)...)
	candidates = append(candidates, regulatoryCandidates(names)...)
	candidates = append(candidates, wikipediaCandidates(names)...)

	candidates = dedupByURL(candidates)
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	zap.L().Info("search complete",
		zap.String("ingredient", entity.RawName),
		zap.Int("terms", len(terms)),
		zap.Int("candidates", len(candidates)))

	return Result{SearchTerms: terms, Candidates: candidates}
}

// collectNames merges the entity name, up to two synonyms, and the
// scientific name, skipping blanks and unknowns.
func collectNames(entity model.CanonicalEntity, synonyms []string) []string {
	var names []string
	add := func(n string) {
		n = strings.TrimSpace(n)
		if n == "" || strings.EqualFold(n, "Невідомо") {
			return
		}
		for _, existing := range names {
			if strings.EqualFold(existing, n) {
				return
			}
		}
		names = append(names, n)
	}

	add(entity.RawName)
	for i, syn := range synonyms {
		if i >= 2 {
			break
		}
		add(syn)
	}
	add(entity.ScientificName)
	return names
}

// orFragment quotes every name and joins them into one OR expression.
func orFragment(names []string) string {
	if len(names) == 1 {
		return fmt.Sprintf("%q", names[0])
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return "(" + strings.Join(quoted, " OR ") + ")"
}

func buildSearchTerms(names []string, class model.EntityClass) []string {
	or := orFragment(names)

	terms := []string{
		or + " AND supplement",
		or + " AND dosage",
		or + " AND effects",
		or + ` AND "active compounds"`,
	}

	switch class {
	case model.ClassVitamin:
		terms = append(terms, or+" AND RDA", or+" AND deficiency")
	case model.ClassPlant:
		terms = append(terms, or+" AND extract", or+" AND phytochemistry")
	}

	terms = append(terms,
		"site:efsa.europa.eu "+or,
		"site:fda.gov "+or,
		"site:ods.od.nih.gov "+or,
		"site:en.wikipedia.org "+or,
		"site:uk.wikipedia.org "+or,
		"site:ru.wikipedia.org "+or,
	)

	padding := []string{
		or + " AND safety",
		or + " AND research",
		or + " AND clinical",
		or + " AND benefits",
	}
	for _, p := range padding {
		if len(terms) >= minTerms {
			break
		}
		terms = append(terms, p)
	}

	if len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}
	return terms
}

func (s *Searcher) searchPubMed(ctx context.Context, names []string) []model.CandidateSource {
	or := orFragment(names)
	queries := []string{
		or + "[Title/Abstract] AND (supplement OR nutrition OR dietary)",
		or + "[Title] AND dosage",
		or + " AND (active compound OR bioactive)",
		or + " AND (clinical OR study OR effect)",
		or + " AND (biological source OR derived from OR extracted from)",
	}

	articles, err := s.pubmed.SearchAll(ctx, queries, maxPerQuery)
	if err != nil {
		zap.L().Warn("pubmed search failed", zap.Error(err))
		return nil
	}

	out := make([]model.CandidateSource, 0, len(articles))
	for _, a := range articles {
		out = append(out, model.CandidateSource{
			Title:     truncate(a.Title, 100),
			URL:       a.URL(),
			Domain:    "pubmed.ncbi.nlm.nih.gov",
			Year:      a.Year,
			DOI:       a.DOI,
			PMID:      a.PMID,
			Rationale: "NCBI search result",
			RawText:   a.Abstract,
		})
	}
	return out
}

func journalCandidates(names []string) []model.CandidateSource {
	journals := []struct{ domain, name string }{
		{"nature.com", "Nature"},
		{"science.org", "Science"},
		{"sciencedirect.com", "ScienceDirect"},
	}

	var out []model.CandidateSource
	for _, name := range headNames(names, 2) {
		for _, j := range journals {
			out = append(out, model.CandidateSource{
				Title:     name + " research - " + j.name,
				URL:       fmt.Sprintf("https://www.%s/search?q=%s", j.domain, url.QueryEscape(name)),
				Domain:    j.domain,
				Rationale: j.name + " search for " + name,
			})
		}
	}
	return out
}

func regulatoryCandidates(names []string) []model.CandidateSource {
	regulators := []struct{ domain, org string }{
		{"efsa.europa.eu", "EFSA"},
		{"fda.gov", "FDA"},
		{"ods.od.nih.gov", "NIH ODS"},
	}

	var out []model.CandidateSource
	for _, name := range headNames(names, 1) {
		for _, r := range regulators {
			out = append(out, model.CandidateSource{
				Title:     name + " - " + r.org + " information",
				URL:       fmt.Sprintf("https://www.%s/search?q=%s", r.domain, url.QueryEscape(name)),
				Domain:    r.domain,
				Rationale: r.org + " regulatory information for " + name,
			})
		}
	}
	return out
}

func wikipediaCandidates(names []string) []model.CandidateSource {
	wikis := []struct{ domain, source string }{
		{"en.wikipedia.org", "Wikipedia EN"},
		{"uk.wikipedia.org", "Wikipedia UA"},
		{"ru.wikipedia.org", "Wikipedia RU"},
	}

	var out []model.CandidateSource
	for _, name := range headNames(names, 2) {
		article := url.PathEscape(strings.ReplaceAll(name, " ", "_"))
		for _, w := range wikis {
			out = append(out, model.CandidateSource{
				Title:     name + " - " + w.source,
				URL:       fmt.Sprintf("https://%s/wiki/%s", w.domain, article),
				Domain:    w.domain,
				Rationale: w.source + " article for " + name,
			})
		}
	}
	return out
}

func dedupByURL(candidates []model.CandidateSource) []model.CandidateSource {
	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if c.URL == "" || seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		out = append(out, c)
	}
	return out
}

func fallbackResult(name string) Result {
	return Result{
		SearchTerms: []string{
			fmt.Sprintf("%q supplement", name),
			fmt.Sprintf("site:pubmed.ncbi.nlm.nih.gov %q", name),
			fmt.Sprintf("site:efsa.europa.eu %q", name),
		},
	}
}

func headNames(names []string, n int) []string {
	if len(names) > n {
		return names[:n]
	}
	return names
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
