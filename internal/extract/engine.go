// Package extract runs the tiered extraction passes and merges their
// partial 5-field records into one accumulated result. Pass order goes
// from the most trusted material to the broadest: pre-supplied links,
// tier-1 literature, direct regulatory sites, tier-2 academic sites, a
// grounded supplemental search gated on completion, and a final
// gap-fill pass for fields still empty.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/dlsd-labs/evidence-cli/internal/gateway"
	"github.com/dlsd-labs/evidence-cli/internal/model"
	"github.com/dlsd-labs/evidence-cli/internal/policy"
	"github.com/dlsd-labs/evidence-cli/pkg/gemini"
	"github.com/dlsd-labs/evidence-cli/pkg/pubmed"
)

const (
	defaultThreshold = 30.0
	maxDocsPerCall   = 2
	minDocText       = 50
	minRelevantText  = 200
	maxPromptContent = 2000
)

// TextGenerator is the slice of the gateway the engine needs.
type TextGenerator interface {
	Generate(ctx context.Context, req gateway.Request) (gateway.Response, bool)
}

// PageFetcher downloads a URL as plain text.
type PageFetcher interface {
	FetchText(ctx context.Context, rawURL string) (string, error)
}

// GroundedSearcher runs a search-grounded generation. Optional; without
// one the supplemental pass is skipped.
type GroundedSearcher interface {
	GenerateGrounded(ctx context.Context, req gemini.GenerateRequest) (*gemini.GenerateResponse, error)
}

// Engine accumulates a FieldRecord across extraction passes.
type Engine struct {
	gw         TextGenerator
	pubmed     pubmed.Client
	fetcher    PageFetcher
	classifier *policy.Classifier

	grounded      GroundedSearcher
	groundedModel string
	threshold     float64
}

// Option configures the engine.
type Option func(*Engine)

// WithGrounded enables the supplemental grounded-search pass.
func WithGrounded(g GroundedSearcher, model string) Option {
	return func(e *Engine) {
		e.grounded = g
		e.groundedModel = model
	}
}

// WithThreshold overrides the escalation threshold percentage.
func WithThreshold(pct float64) Option {
	return func(e *Engine) {
		e.threshold = pct
	}
}

// New creates an extraction engine.
func New(gw TextGenerator, pm pubmed.Client, fetcher PageFetcher, classifier *policy.Classifier, opts ...Option) *Engine {
	e := &Engine{
		gw:         gw,
		pubmed:     pm,
		fetcher:    fetcher,
		classifier: classifier,
		threshold:  defaultThreshold,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract runs all passes for one entity and returns the merged record.
// Every pass failure degrades to "found nothing"; the returned record is
// always well-formed, possibly empty.
func (e *Engine) Extract(ctx context.Context, entity model.CanonicalEntity, accepted []model.ClassifiedSource, synonyms, existingLinks []string) model.FieldRecord {
	ingredient := entity.RawName
	record := model.FieldRecord{}

	names := []string{ingredient}
	for i, s := range synonyms {
		if i >= 2 {
			break
		}
		names = append(names, s)
	}

	// Pass 1: pre-supplied links.
	if len(existingLinks) > 0 {
		if next, ok := e.extractFromLinks(ctx, ingredient, existingLinks); ok {
			record = Merge(record, next)
			logPass("existing links", record)
		}
	}

	// Pass 2: tier-1 literature.
	if next, ok := e.extractFromLiterature(ctx, ingredient, names, accepted); ok {
		record = Merge(record, next)
		logPass("pubmed literature", record)
	}

	// Pass 3: direct tier-1 regulatory sites.
	if next, ok := e.extractFromSites(ctx, ingredient, []string{"efsa.europa.eu", "fda.gov", "ods.od.nih.gov"}); ok {
		record = Merge(record, next)
		logPass("direct regulatory", record)
	}

	// Pass 4: tier-2 academic sites.
	if next, ok := e.extractFromSites(ctx, ingredient, []string{"nature.com", "sciencedirect.com"}); ok {
		record = Merge(record, next)
		logPass("academic sites", record)
	}

	// Pass 5: grounded supplemental search, only when results are sparse.
	completion := record.Completion()
	if completion.Percentage < e.threshold {
		if next, ok := e.extractGrounded(ctx, ingredient, synonyms, missingFields(record)); ok {
			record = Merge(record, next)
			logPass("grounded search", record)
		}
	} else {
		zap.L().Debug("skipping grounded search",
			zap.String("ingredient", ingredient),
			zap.Float64("completion", completion.Percentage))
	}

	// Pass 6: gap-fill for fields still empty.
	if missing := missingFields(record); len(missing) > 0 {
		if next, ok := e.fillGaps(ctx, ingredient, missing); ok {
			record = Merge(record, next)
			logPass("gap fill", record)
		}
	}

	final := record.Completion()
	zap.L().Info("extraction complete",
		zap.String("ingredient", ingredient),
		zap.Float64("completion", final.Percentage),
		zap.Int("filled", final.FilledFields))
	return record
}

func logPass(name string, record model.FieldRecord) {
	zap.L().Debug("merged pass result",
		zap.String("pass", name),
		zap.Float64("completion", record.Completion().Percentage))
}

// missingFields names the still-empty fields, in published column order.
func missingFields(r model.FieldRecord) []string {
	var missing []string
	if strings.TrimSpace(r.LocalizedName) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(r.SourceMaterial) == "" {
		missing = append(missing, "source_material")
	}
	if len(r.ActiveCompounds) == 0 {
		missing = append(missing, "compounds")
	}
	if strings.TrimSpace(r.DailyDose) == "" {
		missing = append(missing, "dosage")
	}
	if len(r.Citations) == 0 {
		missing = append(missing, "citations")
	}
	return missing
}

func (e *Engine) extractFromLinks(ctx context.Context, ingredient string, links []string) (model.FieldRecord, bool) {
	var docs []model.Document
	for _, link := range links {
		text, err := e.fetcher.FetchText(ctx, link)
		if err != nil {
			zap.L().Debug("existing link fetch failed", zap.String("url", link), zap.Error(err))
			continue
		}
		if !relevant(text, ingredient) {
			continue
		}
		docs = append(docs, model.Document{URL: link, Text: text})
	}
	if len(docs) == 0 {
		return model.FieldRecord{}, false
	}
	return e.extractFromDocuments(ctx, ingredient, docs)
}

func (e *Engine) extractFromLiterature(ctx context.Context, ingredient string, names []string, accepted []model.ClassifiedSource) (model.FieldRecord, bool) {
	var docs []model.Document

	// Abstracts already attached to accepted tier-1 sources come free.
	for _, src := range accepted {
		if src.Tier == 1 && strings.TrimSpace(src.RawText) != "" {
			docs = append(docs, model.Document{
				Title: src.Title,
				URL:   src.URL,
				Text:  src.RawText,
				Tier:  1,
			})
		}
	}

	var queries []string
	seen := make(map[string]bool)
	for i, name := range names {
		if i >= 2 || len(name) <= 2 {
			continue
		}
		for _, q := range []string{
			fmt.Sprintf("%q[Title/Abstract] AND (supplement OR nutrition OR dietary)", name),
			fmt.Sprintf("%q AND (active compound OR bioactive OR phytochemical)", name),
		} {
			if !seen[q] {
				seen[q] = true
				queries = append(queries, q)
			}
		}
	}
	if len(queries) > 4 {
		queries = queries[:4]
	}

	articles, err := e.pubmed.SearchAll(ctx, queries, 2)
	if err != nil {
		zap.L().Warn("literature search failed", zap.Error(err))
	}
	for _, a := range articles {
		if strings.TrimSpace(a.Abstract) == "" {
			continue
		}
		docs = append(docs, model.Document{
			Title: a.Title,
			URL:   a.URL(),
			Text:  a.Abstract,
			Tier:  1,
		})
	}

	if len(docs) == 0 {
		return model.FieldRecord{}, false
	}
	if len(docs) > 3 {
		docs = docs[:3]
	}
	return e.extractFromDocuments(ctx, ingredient, docs)
}

// extractFromSites probes the search pages of fixed domains. These
// pages rarely render useful static content, so this pass often finds
// nothing; relevant hits still flow through the normal extraction call.
func (e *Engine) extractFromSites(ctx context.Context, ingredient string, domains []string) (model.FieldRecord, bool) {
	var docs []model.Document
	for _, domain := range domains {
		u := fmt.Sprintf("https://www.%s/search?q=%s", domain, url.QueryEscape(ingredient))
		text, err := e.fetcher.FetchText(ctx, u)
		if err != nil || !relevant(text, ingredient) {
			continue
		}
		docs = append(docs, model.Document{URL: u, Text: text})
		if len(docs) >= maxDocsPerCall {
			break
		}
	}
	if len(docs) == 0 {
		return model.FieldRecord{}, false
	}
	return e.extractFromDocuments(ctx, ingredient, docs)
}

func (e *Engine) fillGaps(ctx context.Context, ingredient string, missing []string) (model.FieldRecord, bool) {
	var docs []model.Document
	has := func(field string) bool {
		for _, m := range missing {
			if m == field {
				return true
			}
		}
		return false
	}

	if has("name") || has("source_material") {
		article := strings.ReplaceAll(ingredient, " ", "_")
		for _, u := range []string{
			"https://en.wikipedia.org/wiki/" + url.PathEscape(article),
			"https://uk.wikipedia.org/wiki/" + url.PathEscape(article),
		} {
			text, err := e.fetcher.FetchText(ctx, u)
			if err != nil || !relevant(text, ingredient) {
				continue
			}
			docs = append(docs, model.Document{URL: u, Text: text, Tier: 1})
			break
		}
	}

	if has("compounds") || has("dosage") {
		queries := []string{
			fmt.Sprintf("%q AND (chemical composition OR active compounds)", ingredient),
			fmt.Sprintf("%q AND (dosage OR dose OR recommended amount)", ingredient),
		}
		for _, q := range queries {
			articles, err := e.pubmed.Search(ctx, q, 2)
			if err != nil {
				zap.L().Debug("gap-fill query failed", zap.String("query", q), zap.Error(err))
				continue
			}
			for _, a := range articles {
				if strings.TrimSpace(a.Abstract) == "" {
					continue
				}
				docs = append(docs, model.Document{Title: a.Title, URL: a.URL(), Text: a.Abstract, Tier: 1})
				break
			}
		}
	}

	if len(docs) == 0 {
		return model.FieldRecord{}, false
	}
	if len(docs) > maxDocsPerCall {
		docs = docs[:maxDocsPerCall]
	}
	return e.extractFromDocuments(ctx, ingredient, docs)
}

// extractionResult mirrors the JSON contract of one extraction call.
type extractionResult struct {
	LocalizedName   string   `json:"localized_name"`
	SourceMaterial  string   `json:"source_material"`
	ActiveCompounds []string `json:"active_compounds"`
	DailyDose       string   `json:"daily_dose"`
	Citations       []struct {
		Quote string `json:"quote"`
		URL   string `json:"url"`
	} `json:"citations"`
}

// extractFromDocuments sends up to two documents to the gateway; the
// first document yielding valid JSON wins.
func (e *Engine) extractFromDocuments(ctx context.Context, ingredient string, docs []model.Document) (model.FieldRecord, bool) {
	for i, doc := range docs {
		if i >= maxDocsPerCall {
			break
		}

		fullText := doc.Text
		if doc.Title != "" {
			fullText = doc.Title + "\n\n" + doc.Text
		}
		if len(fullText) < minDocText {
			continue
		}
		if len(fullText) > maxPromptContent {
			fullText = fullText[:maxPromptContent]
		}

		temp := 0.2
		resp, ok := e.gw.Generate(ctx, gateway.Request{
			Prompt:      extractionPrompt(ingredient, fullText, doc.URL),
			Temperature: &temp,
			MaxTokens:   1200,
		})
		if !ok {
			continue
		}

		record, valid := e.parseExtraction(resp.Text, doc.URL)
		if valid {
			return record, true
		}
	}
	return model.FieldRecord{}, false
}

// parseExtraction validates the fixed 5-key contract. A response that
// parses but misses keys is treated the same as a provider failure.
func (e *Engine) parseExtraction(text, sourceURL string) (model.FieldRecord, bool) {
	raw, ok := gateway.ExtractJSON(text)
	if !ok {
		return model.FieldRecord{}, false
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return model.FieldRecord{}, false
	}
	for _, required := range []string{"localized_name", "source_material", "active_compounds", "daily_dose", "citations"} {
		if _, present := keys[required]; !present {
			return model.FieldRecord{}, false
		}
	}

	var result extractionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return model.FieldRecord{}, false
	}

	record := model.FieldRecord{
		LocalizedName:   strings.TrimSpace(result.LocalizedName),
		SourceMaterial:  strings.TrimSpace(result.SourceMaterial),
		ActiveCompounds: result.ActiveCompounds,
		DailyDose:       strings.TrimSpace(result.DailyDose),
	}
	for _, c := range result.Citations {
		citURL := c.URL
		if citURL == "" {
			citURL = sourceURL
		}
		if citURL == "" {
			continue
		}
		citation := model.Citation{URL: citURL, Quote: truncate(c.Quote, 100)}
		if tier := e.classifier.Priority(citURL); tier <= 4 {
			citation.Tier = tier
		}
		record.Citations = append(record.Citations, citation)
	}
	return record, true
}

func extractionPrompt(ingredient, content, sourceURL string) string {
	return fmt.Sprintf(`Extract data about the ingredient "%s" from the text below as JSON.

IMPORTANT: Return ONLY valid JSON, no other text.

Response format:
{
  "localized_name": "Українська назва (English name)",
  "source_material": "part of the plant/organism",
  "active_compounds": ["compound1", "compound2"],
  "daily_dose": "dosage with units",
  "citations": [
    {"quote": "exact quote from the text", "url": "source URL"}
  ]
}

Rules:
1. localized_name - ALWAYS translate into Ukrainian in "Українська (English)" format:
   - "AHCC" -> "АХЦЦ (AHCC)"
   - "Vitamin C" -> "Вітамін С (Vitamin C)"
   - "CoQ10" -> "Коензим Q10 (CoQ10)"
   - NEVER write "[name not found]"
2. source_material - the specific part of the organism (leaf, root, fruit)
3. active_compounds - only confirmed active substances
4. daily_dose - specific numbers with units (mg, g, IU)
5. citations - exact phrases from the text (at most 100 characters), url must be a real link

SOURCE: %s

Text to analyze:
%s

JSON response:`, ingredient, sourceURL, content)
}

func relevant(text, ingredient string) bool {
	if len(text) < minRelevantText {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(ingredient))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
