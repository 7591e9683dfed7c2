package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dlsd-labs/evidence-cli/internal/model"
	"github.com/dlsd-labs/evidence-cli/pkg/gemini"
)

var groundedSiteOperators = []string{
	"site:pubmed.ncbi.nlm.nih.gov", "site:ncbi.nlm.nih.gov", "site:nih.gov",
	"site:efsa.europa.eu", "site:fda.gov", "site:en.wikipedia.org",
	"site:nature.com", "site:science.org", "site:sciencedirect.com",
	"site:examine.com",
}

// extractGrounded is the supplemental pass: a search-grounded generation
// scoped to the missing fields, first restricted to trusted site
// operators, then unrestricted. Results whose provenance contains no
// known tier-1/2 domain are discarded wholesale.
func (e *Engine) extractGrounded(ctx context.Context, ingredient string, synonyms []string, missing []string) (model.FieldRecord, bool) {
	if e.grounded == nil {
		return model.FieldRecord{}, false
	}

	terms := []string{ingredient}
	for i, s := range synonyms {
		if i >= 2 {
			break
		}
		terms = append(terms, s)
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	nameQuery := strings.Join(quoted, " OR ")

	missingInfo := describeMissing(missing)

	// Phase 1: restricted to trusted sites.
	restricted := fmt.Sprintf(`Search for scientific data about dietary supplement: %s

SEARCH QUERY: (%s) AND (%s)

Find these missing data points:
%s
Focus on peer-reviewed sources, clinical studies, and official health agencies.
Return structured information with exact citations and URLs.`,
		ingredient, strings.Join(groundedSiteOperators, " OR "), nameQuery, missingInfo)

	if record, ok := e.groundedPhase(ctx, ingredient, restricted); ok {
		return record, true
	}

	// Phase 2: unrestricted query for the same gaps.
	general := fmt.Sprintf(`Search for scientific data about dietary supplement: %s

SEARCH TERMS: %s

Find these missing data points:
%s
Include any reliable sources with scientific backing.`,
		ingredient, nameQuery, missingInfo)

	return e.groundedPhase(ctx, ingredient, general)
}

func (e *Engine) groundedPhase(ctx context.Context, ingredient, prompt string) (model.FieldRecord, bool) {
	resp, err := e.grounded.GenerateGrounded(ctx, gemini.GenerateRequest{
		Model:  e.groundedModel,
		Prompt: prompt,
	})
	if err != nil {
		zap.L().Warn("grounded search failed", zap.String("ingredient", ingredient), zap.Error(err))
		return model.FieldRecord{}, false
	}
	if strings.TrimSpace(resp.Text) == "" {
		return model.FieldRecord{}, false
	}

	// Keep only provenance from known tier-1/2 domains; a result with
	// no trusted provenance is dropped entirely, not merged.
	var trusted []gemini.Source
	for _, src := range resp.Sources {
		if e.classifier.Priority(src.URI) <= 2 {
			trusted = append(trusted, src)
		}
	}
	if len(trusted) == 0 {
		zap.L().Debug("grounded result had no trusted provenance",
			zap.String("ingredient", ingredient),
			zap.Int("sources", len(resp.Sources)))
		return model.FieldRecord{}, false
	}

	doc := model.Document{URL: trusted[0].URI, Text: resp.Text}
	record, ok := e.extractFromDocuments(ctx, ingredient, []model.Document{doc})
	if !ok {
		return model.FieldRecord{}, false
	}

	// Citations may only reference the trusted provenance set.
	allowed := make(map[string]bool, len(trusted))
	for _, src := range trusted {
		allowed[src.URI] = true
	}
	var citations []model.Citation
	for _, c := range record.Citations {
		if allowed[c.URL] {
			citations = append(citations, c)
		}
	}
	if len(citations) == 0 {
		for _, src := range trusted {
			citation := model.Citation{URL: src.URI, Quote: truncate(resp.Text, 100)}
			if tier := e.classifier.Priority(src.URI); tier <= 4 {
				citation.Tier = tier
			}
			citations = append(citations, citation)
			if len(citations) >= maxCitations {
				break
			}
		}
	}
	record.Citations = citations
	return record, true
}

func describeMissing(missing []string) string {
	var b strings.Builder
	for _, m := range missing {
		switch m {
		case "name":
			b.WriteString("- Localized display name of the ingredient\n")
		case "source_material":
			b.WriteString("- Biological source/organism (what plant, animal, bacteria it comes from)\n")
		case "compounds":
			b.WriteString("- Active compounds/chemicals with concentrations\n")
		case "dosage":
			b.WriteString("- Daily dosage recommendations from clinical studies\n")
		case "citations":
			b.WriteString("- Citable quotes from trusted sources with URLs\n")
		}
	}
	return b.String()
}
