package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlsd-labs/evidence-cli/internal/model"
	"github.com/dlsd-labs/evidence-cli/pkg/pubmed"
)

// stubPubMed returns canned articles, or an error.
type stubPubMed struct {
	articles []pubmed.Article
	err      error
	queries  []string
}

func (s *stubPubMed) Search(_ context.Context, query string, _ int) ([]pubmed.Article, error) {
	s.queries = append(s.queries, query)
	return s.articles, s.err
}

func (s *stubPubMed) SearchAll(_ context.Context, queries []string, _ int) ([]pubmed.Article, error) {
	s.queries = append(s.queries, queries...)
	return s.articles, s.err
}

func plantEntity() model.CanonicalEntity {
	return model.CanonicalEntity{
		RawName:        "Turmeric",
		Class:          model.ClassPlant,
		ScientificName: "Curcuma longa",
	}
}

func TestSearchTermBounds(t *testing.T) {
	s := New(&stubPubMed{})

	tests := []struct {
		name   string
		entity model.CanonicalEntity
	}{
		{"plant", plantEntity()},
		{"vitamin", model.CanonicalEntity{RawName: "Vitamin C", Class: model.ClassVitamin}},
		{"other", model.CanonicalEntity{RawName: "AHCC", Class: model.ClassOther}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := s.Search(context.Background(), tt.entity, nil)
			assert.GreaterOrEqual(t, len(r.SearchTerms), 8)
			assert.LessOrEqual(t, len(r.SearchTerms), 14)
		})
	}
}

func TestSearchClassSpecificTerms(t *testing.T) {
	s := New(&stubPubMed{})

	r := s.Search(context.Background(), plantEntity(), nil)
	joined := strings.Join(r.SearchTerms, "\n")
	assert.Contains(t, joined, "phytochemistry")
	assert.NotContains(t, joined, "RDA")

	r = s.Search(context.Background(), model.CanonicalEntity{RawName: "Vitamin C", Class: model.ClassVitamin}, nil)
	joined = strings.Join(r.SearchTerms, "\n")
	assert.Contains(t, joined, "RDA")
	assert.Contains(t, joined, "deficiency")
}

func TestSearchUsesAllNames(t *testing.T) {
	pm := &stubPubMed{}
	s := New(pm)

	r := s.Search(context.Background(), plantEntity(), []string{"Curcuma", "Indian saffron", "third ignored"})

	// OR fragment carries the name, first two synonyms, and the
	// scientific name.
	first := r.SearchTerms[0]
	assert.Contains(t, first, `"Turmeric"`)
	assert.Contains(t, first, `"Curcuma"`)
	assert.Contains(t, first, `"Indian saffron"`)
	assert.Contains(t, first, `"Curcuma longa"`)
	assert.NotContains(t, first, "third ignored")

	require.NotEmpty(t, pm.queries)
	assert.Contains(t, pm.queries[0], "[Title/Abstract]")
}

func TestSearchCandidates(t *testing.T) {
	pm := &stubPubMed{articles: []pubmed.Article{
		{PMID: "111", Title: "Curcumin trial", Abstract: "500 mg daily", DOI: "10.1/abc", Year: 2020},
		{PMID: "222", Title: "Another trial"},
	}}
	s := New(pm)

	r := s.Search(context.Background(), plantEntity(), nil)
	require.NotEmpty(t, r.Candidates)
	assert.LessOrEqual(t, len(r.Candidates), 20)

	first := r.Candidates[0]
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/111/", first.URL)
	assert.Equal(t, "10.1/abc", first.DOI)
	assert.Equal(t, "500 mg daily", first.RawText)

	// Templated candidates cover journals, regulators, and encyclopedias.
	domains := make(map[string]bool)
	for _, c := range r.Candidates {
		domains[c.Domain] = true
	}
	assert.True(t, domains["nature.com"])
	assert.True(t, domains["efsa.europa.eu"])
	assert.True(t, domains["en.wikipedia.org"])

	// No URL appears twice.
	seen := make(map[string]bool)
	for _, c := range r.Candidates {
		assert.False(t, seen[c.URL], c.URL)
		seen[c.URL] = true
	}
}

func TestSearchSurvivesPubMedOutage(t *testing.T) {
	s := New(&stubPubMed{err: errors.New("network down")})

	r := s.Search(context.Background(), plantEntity(), nil)
	assert.GreaterOrEqual(t, len(r.SearchTerms), 8)
	// Templated candidates still come back without live retrieval.
	assert.NotEmpty(t, r.Candidates)
}

func TestSearchFallbackOnEmptyName(t *testing.T) {
	s := New(&stubPubMed{})
	r := s.Search(context.Background(), model.CanonicalEntity{RawName: "  "}, nil)
	assert.Len(t, r.SearchTerms, 3)
	assert.Empty(t, r.Candidates)
}
