package normalize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dlsd-labs/evidence-cli/internal/gateway"
	"github.com/dlsd-labs/evidence-cli/internal/model"
)

// stubGateway returns a fixed response, or ok=false when text is empty.
type stubGateway struct {
	text     string
	requests []gateway.Request
}

func (s *stubGateway) Generate(_ context.Context, req gateway.Request) (gateway.Response, bool) {
	s.requests = append(s.requests, req)
	if s.text == "" {
		return gateway.Response{}, false
	}
	return gateway.Response{Text: s.text, Provider: "stub", Model: "stub-1"}, true
}

func TestNormalizeAIPath(t *testing.T) {
	gw := &stubGateway{text: `Here is the classification:
{"ingredient": "Ginkgo Biloba", "class": "plant",
 "taxon": {"uk": "Гінкго білоба (Ginkgo Biloba)", "lat": "Ginkgo biloba", "rank": "species"},
 "source_material": {"kingdom": "Рослини", "part_or_origin": "leaf"}}`}

	n := New(gw)
	e := n.Normalize(context.Background(), "Ginkgo Biloba", []string{"maidenhair tree"}, "Рослини")

	assert.Equal(t, "Ginkgo Biloba", e.RawName)
	assert.Equal(t, model.ClassPlant, e.Class)
	assert.Equal(t, "Гінкго білоба (Ginkgo Biloba)", e.LocalizedName)
	assert.Equal(t, "Ginkgo biloba", e.ScientificName)
	assert.Equal(t, model.RankSpecies, e.Rank)
	assert.Equal(t, "leaf", e.PartOrOrigin)

	// Synonyms and hint are part of the prompt context.
	assert.Contains(t, gw.requests[0].Prompt, "maidenhair tree")
	assert.Contains(t, gw.requests[0].Prompt, "Рослини")
}

func TestNormalizeFallsBackOnGatewayFailure(t *testing.T) {
	n := New(&stubGateway{})
	e := n.Normalize(context.Background(), "Vitamin D3", nil, "")

	assert.Equal(t, model.ClassVitamin, e.Class)
	assert.Equal(t, "Vitamin D3", e.RawName)
	assert.NotEmpty(t, e.LocalizedName)
}

func TestNormalizeFallsBackOnBadJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "I cannot classify this ingredient."},
		{"missing class", `{"ingredient": "x", "taxon": {"uk": "х"}, "source_material": {}}`},
		{"invalid class", `{"ingredient": "x", "class": "meta", "taxon": {"uk": "х"}, "source_material": {}}`},
		{"empty uk name", `{"ingredient": "x", "class": "other", "taxon": {"uk": " "}, "source_material": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New(&stubGateway{text: tt.text})
			e := n.Normalize(context.Background(), "Zinc picolinate", nil, "")
			// Fallback rules classify zinc as a mineral.
			assert.Equal(t, model.ClassMineral, e.Class)
		})
	}
}

func TestFallbackRules(t *testing.T) {
	tests := []struct {
		name    string
		class   model.EntityClass
		kingdom string
	}{
		{"Folic Acid", model.ClassVitamin, "Інше"},
		{"Magnesium citrate", model.ClassMineral, "Інше"},
		{"Lactobacillus rhamnosus", model.ClassProbiotic, "Бактерії"},
		{"Green tea extract", model.ClassPlant, "Рослини"},
		{"Something Unrecognizable", model.ClassOther, "Невідомо"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Fallback(tt.name, "")
			assert.Equal(t, tt.class, e.Class)
			assert.Equal(t, tt.kingdom, e.SourceKingdom)
			assert.Equal(t, model.RankOther, e.Rank)
		})
	}
}

func TestFallbackKnownTranslations(t *testing.T) {
	e := Fallback("AHCC", "Гриби")
	assert.Equal(t, "АХЦЦ (AHCC)", e.LocalizedName)
	assert.Equal(t, "Гриби", e.SourceKingdom)
}
