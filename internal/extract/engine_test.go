package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlsd-labs/evidence-cli/internal/gateway"
	"github.com/dlsd-labs/evidence-cli/internal/model"
	"github.com/dlsd-labs/evidence-cli/internal/policy"
	"github.com/dlsd-labs/evidence-cli/pkg/gemini"
	"github.com/dlsd-labs/evidence-cli/pkg/pubmed"
)

type stubGW struct {
	text    string
	prompts []string
}

func (s *stubGW) Generate(_ context.Context, req gateway.Request) (gateway.Response, bool) {
	s.prompts = append(s.prompts, req.Prompt)
	if s.text == "" {
		return gateway.Response{}, false
	}
	return gateway.Response{Text: s.text, Provider: "stub"}, true
}

type stubPubMed struct {
	articles []pubmed.Article
	err      error
}

func (s *stubPubMed) Search(_ context.Context, _ string, _ int) ([]pubmed.Article, error) {
	return s.articles, s.err
}

func (s *stubPubMed) SearchAll(_ context.Context, _ []string, _ int) ([]pubmed.Article, error) {
	return s.articles, s.err
}

type stubFetcher struct {
	pages map[string]string
}

func (s *stubFetcher) FetchText(_ context.Context, rawURL string) (string, error) {
	text, ok := s.pages[rawURL]
	if !ok {
		return "", errors.New("fetch failed")
	}
	return text, nil
}

type stubGrounded struct {
	resp  *gemini.GenerateResponse
	err   error
	calls int
}

func (s *stubGrounded) GenerateGrounded(_ context.Context, _ gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func fieldJSON(filled int) string {
	// Builds a valid extraction response with the given number of
	// non-empty fields, filling in published column order.
	parts := []string{`""`, `""`, `[]`, `""`, `[]`}
	values := []string{
		`"АХЦЦ (AHCC)"`,
		`"shiitake mycelium"`,
		`["alpha-glucans"]`,
		`"3 grams daily"`,
		`[{"quote": "3 grams daily", "url": "https://pubmed.ncbi.nlm.nih.gov/31234567/"}]`,
	}
	for i := 0; i < filled && i < len(values); i++ {
		parts[i] = values[i]
	}
	return `{"localized_name": ` + parts[0] +
		`, "source_material": ` + parts[1] +
		`, "active_compounds": ` + parts[2] +
		`, "daily_dose": ` + parts[3] +
		`, "citations": ` + parts[4] + `}`
}

func tier1Sources() []model.ClassifiedSource {
	return []model.ClassifiedSource{{
		CandidateSource: model.CandidateSource{
			Title:   "AHCC trial",
			URL:     "https://pubmed.ncbi.nlm.nih.gov/31234567/",
			RawText: "Participants received 3 grams daily of AHCC; alpha-glucans were the active fraction.",
		},
		Tier: 1,
	}}
}

func newEngine(gw *stubGW, pm pubmed.Client, f PageFetcher, opts ...Option) *Engine {
	return New(gw, pm, f, policy.NewDefault(), opts...)
}

func TestExtractEscalatesBelowThreshold(t *testing.T) {
	gw := &stubGW{text: fieldJSON(1)} // one field filled → 20%
	grounded := &stubGrounded{err: errors.New("unreachable")}

	e := newEngine(gw, &stubPubMed{}, &stubFetcher{}, WithGrounded(grounded, "gemini-1.5-pro"))
	e.Extract(context.Background(), model.CanonicalEntity{RawName: "AHCC"}, tier1Sources(), nil, nil)

	// 20% < 30% → both grounded phases attempted.
	assert.Equal(t, 2, grounded.calls)
}

func TestExtractSkipsGroundedAtThreshold(t *testing.T) {
	gw := &stubGW{text: fieldJSON(2)} // two fields filled → 40%
	grounded := &stubGrounded{err: errors.New("should not be called")}

	e := newEngine(gw, &stubPubMed{}, &stubFetcher{}, WithGrounded(grounded, "gemini-1.5-pro"))
	e.Extract(context.Background(), model.CanonicalEntity{RawName: "AHCC"}, tier1Sources(), nil, nil)

	assert.Zero(t, grounded.calls)
}

func TestExtractFromTierOneLiterature(t *testing.T) {
	gw := &stubGW{text: fieldJSON(5)}
	e := newEngine(gw, &stubPubMed{}, &stubFetcher{})

	record := e.Extract(context.Background(), model.CanonicalEntity{RawName: "AHCC"}, tier1Sources(), nil, nil)

	assert.Equal(t, "АХЦЦ (AHCC)", record.LocalizedName)
	assert.Equal(t, "3 grams daily", record.DailyDose)
	assert.Equal(t, []string{"alpha-glucans"}, record.ActiveCompounds)
	require.Len(t, record.Citations, 1)
	assert.Equal(t, 1, record.Citations[0].Tier)

	// The accepted abstract was offered to the extraction prompt.
	joined := strings.Join(gw.prompts, "\n")
	assert.Contains(t, joined, "alpha-glucans were the active fraction")
}

func TestExtractAllSourcesFail(t *testing.T) {
	gw := &stubGW{} // gateway always fails
	e := newEngine(gw, &stubPubMed{err: errors.New("down")}, &stubFetcher{})

	record := e.Extract(context.Background(), model.CanonicalEntity{RawName: "AHCC"}, nil, nil, nil)
	assert.True(t, record.Empty())
}

func TestExtractFromLinksRelevanceGate(t *testing.T) {
	long := strings.Repeat("AHCC is a mushroom extract. ", 20)
	fetcher := &stubFetcher{pages: map[string]string{
		"https://example.edu/ahcc":     long,
		"https://example.edu/short":    "AHCC", // too short
		"https://example.edu/offtopic": strings.Repeat("vitamin C content of oranges. ", 20),
	}}
	gw := &stubGW{text: fieldJSON(5)}
	e := newEngine(gw, &stubPubMed{}, fetcher)

	links := []string{"https://example.edu/short", "https://example.edu/offtopic", "https://example.edu/ahcc"}
	record, ok := e.extractFromLinks(context.Background(), "AHCC", links)
	require.True(t, ok)
	assert.NotEmpty(t, record.LocalizedName)

	// Only the relevant page made it into a prompt.
	require.Len(t, gw.prompts, 1)
	assert.Contains(t, gw.prompts[0], "mushroom extract")
}

func TestExtractGroundedFiltersUntrustedProvenance(t *testing.T) {
	grounded := &stubGrounded{resp: &gemini.GenerateResponse{
		Text:    "AHCC comes from shiitake mycelium. Typical dose is 3 grams daily.",
		Sources: []gemini.Source{{URI: "https://random-supplement-shop.biz/ahcc"}},
	}}
	gw := &stubGW{text: fieldJSON(5)}
	e := newEngine(gw, &stubPubMed{}, &stubFetcher{}, WithGrounded(grounded, ""))

	_, ok := e.extractGrounded(context.Background(), "AHCC", nil, []string{"dosage"})
	// No trusted provenance → result discarded wholesale.
	assert.False(t, ok)
	assert.Equal(t, 2, grounded.calls)
	assert.Empty(t, gw.prompts)
}

func TestExtractGroundedKeepsTrustedProvenance(t *testing.T) {
	grounded := &stubGrounded{resp: &gemini.GenerateResponse{
		Text: "AHCC comes from shiitake mycelium. Typical dose is 3 grams daily.",
		Sources: []gemini.Source{
			{URI: "https://random-supplement-shop.biz/ahcc"},
			{URI: "https://ods.od.nih.gov/factsheets/AHCC/"},
		},
	}}
	gw := &stubGW{text: fieldJSON(4)} // citations empty → synthesized from provenance
	e := newEngine(gw, &stubPubMed{}, &stubFetcher{}, WithGrounded(grounded, ""))

	record, ok := e.extractGrounded(context.Background(), "AHCC", nil, []string{"dosage"})
	require.True(t, ok)
	assert.Equal(t, 1, grounded.calls)
	require.Len(t, record.Citations, 1)
	assert.Equal(t, "https://ods.od.nih.gov/factsheets/AHCC/", record.Citations[0].URL)
	assert.Equal(t, 1, record.Citations[0].Tier)
}

func TestParseExtraction(t *testing.T) {
	e := newEngine(&stubGW{}, &stubPubMed{}, &stubFetcher{})

	t.Run("missing key rejected", func(t *testing.T) {
		_, ok := e.parseExtraction(`{"localized_name": "x", "source_material": "y", "active_compounds": [], "daily_dose": "z"}`, "")
		assert.False(t, ok)
	})

	t.Run("not json rejected", func(t *testing.T) {
		_, ok := e.parseExtraction("I could not find anything.", "")
		assert.False(t, ok)
	})

	t.Run("citation url falls back to source", func(t *testing.T) {
		record, ok := e.parseExtraction(
			`{"localized_name": "", "source_material": "", "active_compounds": [], "daily_dose": "",
			  "citations": [{"quote": "a quote", "url": ""}]}`,
			"https://pubmed.ncbi.nlm.nih.gov/9/")
		require.True(t, ok)
		require.Len(t, record.Citations, 1)
		assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/9/", record.Citations[0].URL)
		assert.Equal(t, 1, record.Citations[0].Tier)
	})

	t.Run("long quote truncated", func(t *testing.T) {
		quote := strings.Repeat("q", 150)
		record, ok := e.parseExtraction(
			`{"localized_name": "", "source_material": "", "active_compounds": [], "daily_dose": "",
			  "citations": [{"quote": "`+quote+`", "url": "https://en.wikipedia.org/wiki/AHCC"}]}`, "")
		require.True(t, ok)
		assert.Len(t, record.Citations[0].Quote, 100)
	})
}

func TestMissingFields(t *testing.T) {
	assert.Equal(t,
		[]string{"name", "source_material", "compounds", "dosage", "citations"},
		missingFields(model.FieldRecord{}))

	r := model.FieldRecord{DailyDose: "1 g", ActiveCompounds: []string{"x"}}
	assert.Equal(t, []string{"name", "source_material", "citations"}, missingFields(r))
}
