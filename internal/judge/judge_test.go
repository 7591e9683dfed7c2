package judge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlsd-labs/evidence-cli/internal/gateway"
	"github.com/dlsd-labs/evidence-cli/internal/model"
	"github.com/dlsd-labs/evidence-cli/internal/policy"
)

func newRuleJudge() *Judge {
	return New(policy.NewDefault(), nil)
}

func TestJudgeAcceptRejectSort(t *testing.T) {
	j := newRuleJudge()

	result := j.Judge([]model.CandidateSource{
		{Title: "nature paper", URL: "https://www.nature.com/articles/xyz"},
		{Title: "pubmed article", URL: "https://pubmed.ncbi.nlm.nih.gov/111/"},
		{Title: "blog post", URL: "https://medium.com/@x/post"},
		{Title: "no url"},
		{Title: "mystery site", URL: "https://totally-unknown-site.net/a"},
	})

	require.Len(t, result.Accepted, 2)
	// Sorted by tier ascending: pubmed (1) before nature (2).
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/111/", result.Accepted[0].URL)
	assert.Equal(t, 1, result.Accepted[0].Tier)
	assert.Equal(t, 2, result.Accepted[1].Tier)

	require.Len(t, result.Rejected, 3)
	reasons := make(map[string]string)
	for _, r := range result.Rejected {
		reasons[r.URL] = r.Reason
	}
	assert.Equal(t, "missing URL", reasons[""])
	assert.Contains(t, reasons["https://totally-unknown-site.net/a"], "unknown")
}

func TestJudgeDedupByDOI(t *testing.T) {
	j := newRuleJudge()

	result := j.Judge([]model.CandidateSource{
		{Title: "first", URL: "https://www.nature.com/doi/10.1038/abc", DOI: "10.1038/abc"},
		{Title: "mirror", URL: "https://www.sciencedirect.com/science/article/x", DOI: "10.1038/abc"},
	})

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "first", result.Accepted[0].Title)
	// A dropped duplicate is not a rejection.
	assert.Empty(t, result.Rejected)
}

func TestJudgeDedupByPMIDThenURL(t *testing.T) {
	j := newRuleJudge()

	result := j.Judge([]model.CandidateSource{
		{URL: "https://pubmed.ncbi.nlm.nih.gov/42/"},
		{URL: "https://www.ncbi.nlm.nih.gov/pubmed/42"},
		{URL: "https://en.wikipedia.org/wiki/Curcumin"},
		{URL: "https://en.wikipedia.org/wiki/Curcumin"},
	})

	// PMID 42 collapses the two pubmed URLs; identical wikipedia URLs
	// collapse by URL key.
	require.Len(t, result.Accepted, 2)
	assert.Equal(t, "pmid:42", result.Accepted[0].DedupKey)
	assert.Equal(t, "url:https://en.wikipedia.org/wiki/Curcumin", result.Accepted[1].DedupKey)
}

func TestJudgeFillsIdentifiersFromURL(t *testing.T) {
	j := newRuleJudge()

	result := j.Judge([]model.CandidateSource{
		{URL: "https://doi.org/10.1000/xyz"},
		{URL: "https://pubmed.ncbi.nlm.nih.gov/987/"},
	})

	require.Len(t, result.Accepted, 2)
	byURL := make(map[string]model.ClassifiedSource)
	for _, a := range result.Accepted {
		byURL[a.URL] = a
	}
	assert.Equal(t, "10.1000/xyz", byURL["https://doi.org/10.1000/xyz"].DOI)
	assert.Equal(t, "987", byURL["https://pubmed.ncbi.nlm.nih.gov/987/"].PMID)
}

// aiStub returns a fixed gateway response.
type aiStub struct {
	text string
}

func (s *aiStub) Generate(_ context.Context, _ gateway.Request) (gateway.Response, bool) {
	if s.text == "" {
		return gateway.Response{}, false
	}
	return gateway.Response{Text: s.text, Provider: "stub"}, true
}

func TestJudgeAIValidVerdict(t *testing.T) {
	j := New(policy.NewDefault(), &aiStub{text: `{
		"accepted": [{"url": "https://pubmed.ncbi.nlm.nih.gov/55/", "tier": 1}],
		"rejected": [{"url": "https://medium.com/x", "reason": "blog"}]
	}`})

	result := j.JudgeAI(context.Background(), []model.CandidateSource{
		{URL: "https://pubmed.ncbi.nlm.nih.gov/55/"},
		{URL: "https://medium.com/x"},
	})

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, 1, result.Accepted[0].Tier)
	assert.Equal(t, "55", result.Accepted[0].PMID)
	require.Len(t, result.Rejected, 1)
}

func TestJudgeAIFallsBackToRules(t *testing.T) {
	tests := []struct {
		name string
		stub *aiStub
	}{
		{"gateway failure", &aiStub{}},
		{"not json", &aiStub{text: "cannot judge these"}},
		{"invalid tier", &aiStub{text: `{"accepted": [{"url": "https://x.com", "tier": 9}], "rejected": []}`}},
	}

	candidates := []model.CandidateSource{
		{URL: "https://pubmed.ncbi.nlm.nih.gov/77/"},
		{URL: "https://medium.com/post"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := New(policy.NewDefault(), tt.stub)
			result := j.JudgeAI(context.Background(), candidates)
			// Rule path output: pubmed accepted, medium rejected.
			require.Len(t, result.Accepted, 1)
			assert.Equal(t, 1, result.Accepted[0].Tier)
			require.Len(t, result.Rejected, 1)
		})
	}
}
