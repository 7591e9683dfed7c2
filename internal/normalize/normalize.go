// Package normalize resolves a raw ingredient name into a canonical
// taxonomy record. The AI path asks the gateway for a strict JSON
// classification; a deterministic keyword fallback guarantees a
// well-formed result even when every provider fails.
package normalize

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dlsd-labs/evidence-cli/internal/gateway"
	"github.com/dlsd-labs/evidence-cli/internal/model"
)

const systemPrompt = `You are a supplement ingredient translator and classifier.

TASK: Translate the ingredient name and return ONLY valid JSON.

CRITICAL FORMAT FOR "taxon.uk": "Українська назва (English original)"

{
  "ingredient": "normalized ingredient name",
  "class": "plant|animal|vitamin|mineral|enzyme|probiotic|other",
  "taxon": {
    "uk": "Українська назва (English original)",
    "lat": "Scientific name if available",
    "rank": "species|genus|other"
  },
  "source_material": {
    "kingdom": "Рослини|Тварини|Гриби|Бактерії|Інше",
    "part_or_origin": "root|leaf|whole|extract|synthetic"
  }
}

EXAMPLES:
AHCC -> {"ingredient": "AHCC", "class": "other", "taxon": {"uk": "АХЦЦ (AHCC)", "lat": "Lentinula edodes extract", "rank": "other"}, "source_material": {"kingdom": "Гриби", "part_or_origin": "extract"}}
Vitamin C -> {"ingredient": "Vitamin C", "class": "vitamin", "taxon": {"uk": "Вітамін С (Vitamin C)", "lat": "Ascorbic acid", "rank": "other"}, "source_material": {"kingdom": "Інше", "part_or_origin": "synthetic"}}
Ginkgo Biloba -> {"ingredient": "Ginkgo Biloba", "class": "plant", "taxon": {"uk": "Гінкго білоба (Ginkgo Biloba)", "lat": "Ginkgo biloba", "rank": "species"}, "source_material": {"kingdom": "Рослини", "part_or_origin": "leaf"}}

RULES:
- "taxon.uk" MUST be "Українська (English)" format
- Return ONLY the JSON object, no other text
- Use EXACT field names: "ingredient", "class", "taxon", "source_material"
- All required fields must be present`

// TextGenerator is the slice of the gateway the normalizer needs.
type TextGenerator interface {
	Generate(ctx context.Context, req gateway.Request) (gateway.Response, bool)
}

// Normalizer resolves raw names into canonical entities.
type Normalizer struct {
	gw TextGenerator
}

// New creates a Normalizer backed by the given gateway.
func New(gw TextGenerator) *Normalizer {
	return &Normalizer{gw: gw}
}

type aiResult struct {
	Ingredient string `json:"ingredient"`
	Class      string `json:"class"`
	Taxon      struct {
		UK   string `json:"uk"`
		Lat  string `json:"lat"`
		Rank string `json:"rank"`
	} `json:"taxon"`
	SourceMaterial struct {
		Kingdom      string `json:"kingdom"`
		PartOrOrigin string `json:"part_or_origin"`
	} `json:"source_material"`
}

var validClasses = map[string]model.EntityClass{
	"plant":     model.ClassPlant,
	"animal":    model.ClassAnimal,
	"vitamin":   model.ClassVitamin,
	"mineral":   model.ClassMineral,
	"enzyme":    model.ClassEnzyme,
	"probiotic": model.ClassProbiotic,
	"other":     model.ClassOther,
}

// Normalize resolves a name plus optional synonyms and kingdom hint into
// a CanonicalEntity. It never fails: on any AI or validation failure it
// degrades to the rule-based classifier.
func (n *Normalizer) Normalize(ctx context.Context, name string, synonyms []string, kingdomHint string) model.CanonicalEntity {
	allNames := append([]string{name}, synonyms...)
	hint := kingdomHint
	if hint == "" {
		hint = "unknown"
	}

	prompt := fmt.Sprintf(`Ingredient: %s
All names: %s
Kingdom hint: %s

Classify this ingredient and return ONLY the JSON object.`,
		name, strings.Join(allNames, ", "), hint)

	temp := 0.1
	resp, ok := n.gw.Generate(ctx, gateway.Request{
		Prompt:      prompt,
		System:      systemPrompt,
		Temperature: &temp,
		MaxTokens:   800,
	})
	if !ok {
		zap.L().Warn("normalizer: all providers failed, using rule fallback",
			zap.String("ingredient", name))
		return Fallback(name, kingdomHint)
	}

	var result aiResult
	if !gateway.DecodeJSON(resp.Text, &result) || !valid(result) {
		zap.L().Warn("normalizer: invalid AI response, using rule fallback",
			zap.String("ingredient", name),
			zap.String("provider", resp.Provider))
		return Fallback(name, kingdomHint)
	}

	entity := model.CanonicalEntity{
		RawName:        name,
		Class:          validClasses[strings.ToLower(result.Class)],
		LocalizedName:  result.Taxon.UK,
		ScientificName: result.Taxon.Lat,
		Rank:           parseRank(result.Taxon.Rank),
		SourceKingdom:  result.SourceMaterial.Kingdom,
		PartOrOrigin:   result.SourceMaterial.PartOrOrigin,
	}
	zap.L().Info("normalized ingredient",
		zap.String("ingredient", name),
		zap.String("class", string(entity.Class)),
		zap.String("localized", entity.LocalizedName),
		zap.String("provider", resp.Provider))
	return entity
}

func valid(r aiResult) bool {
	if strings.TrimSpace(r.Ingredient) == "" || strings.TrimSpace(r.Taxon.UK) == "" {
		return false
	}
	_, ok := validClasses[strings.ToLower(r.Class)]
	return ok
}

func parseRank(s string) model.TaxonRank {
	switch strings.ToLower(s) {
	case "species":
		return model.RankSpecies
	case "genus":
		return model.RankGenus
	default:
		return model.RankOther
	}
}

// knownTranslations covers common abbreviated ingredients whose
// localized form the keyword rules cannot derive.
var knownTranslations = map[string]string{
	"ahcc":  "АХЦЦ (AHCC)",
	"coq10": "Коензим Q10 (CoQ10)",
	"atp":   "АТФ (ATP)",
	"epa":   "ЕПК (EPA)",
	"dha":   "ДГК (DHA)",
	"msm":   "МСМ (MSM)",
}

// Fallback is the deterministic, rule-based classifier used when the AI
// path produces nothing usable.
func Fallback(name, kingdomHint string) model.CanonicalEntity {
	lower := strings.ToLower(name)

	class := model.ClassOther
	kingdom := "Невідомо"
	switch {
	case containsAny(lower, "vitamin", "acid", "folate", "cobalamin"):
		class = model.ClassVitamin
		kingdom = "Інше"
	case containsAny(lower, "zinc", "iron", "calcium", "magnesium", "selenium", "potassium"):
		class = model.ClassMineral
		kingdom = "Інше"
	case containsAny(lower, "lactobacillus", "bifidobacterium", "probiotic"):
		class = model.ClassProbiotic
		kingdom = "Бактерії"
	case containsAny(lower, "extract", "leaf", "root", "herb", "berry"):
		class = model.ClassPlant
		kingdom = "Рослини"
	}
	if kingdomHint != "" {
		kingdom = kingdomHint
	}

	localized := knownTranslations[lower]
	if localized == "" {
		localized = name
	}

	return model.CanonicalEntity{
		RawName:       name,
		Class:         class,
		LocalizedName: localized,
		Rank:          model.RankOther,
		SourceKingdom: kingdom,
		PartOrOrigin:  "невідомо",
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
