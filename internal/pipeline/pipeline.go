// Package pipeline orchestrates the research stages for one ingredient:
// normalize, search, judge, extract, publish.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dlsd-labs/evidence-cli/internal/judge"
	"github.com/dlsd-labs/evidence-cli/internal/model"
	"github.com/dlsd-labs/evidence-cli/internal/search"
	"github.com/dlsd-labs/evidence-cli/internal/store"
)

// Normalizer canonicalizes a raw ingredient name.
type Normalizer interface {
	Normalize(ctx context.Context, name string, synonyms []string, kingdomHint string) model.CanonicalEntity
}

// Searcher gathers candidate sources for an entity.
type Searcher interface {
	Search(ctx context.Context, entity model.CanonicalEntity, synonyms []string) search.Result
}

// SourceJudge classifies and filters candidate sources.
type SourceJudge interface {
	Judge(candidates []model.CandidateSource) judge.Result
	JudgeAI(ctx context.Context, candidates []model.CandidateSource) judge.Result
}

// Extractor builds the 5-field record from accepted sources.
type Extractor interface {
	Extract(ctx context.Context, entity model.CanonicalEntity, accepted []model.ClassifiedSource, synonyms, existingLinks []string) model.FieldRecord
}

// Pipeline runs the full research flow. Stage failures degrade the
// result instead of aborting the run.
type Pipeline struct {
	normalizer Normalizer
	searcher   Searcher
	judge      SourceJudge
	extractor  Extractor
	store      store.Store
	aiJudge    bool
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithStore enables run persistence.
func WithStore(st store.Store) Option {
	return func(p *Pipeline) { p.store = st }
}

// WithAIJudge routes source judging through the AI-assisted path.
func WithAIJudge(enabled bool) Option {
	return func(p *Pipeline) { p.aiJudge = enabled }
}

// New creates a pipeline from its stage implementations.
func New(n Normalizer, s Searcher, j SourceJudge, e Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		normalizer: n,
		searcher:   s,
		judge:      j,
		extractor:  e,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process researches one ingredient and returns its result. The result
// is always non-nil; a row that cannot be processed at all carries an
// Error and an empty record.
func (p *Pipeline) Process(ctx context.Context, ingredient model.IngredientRow) *model.RunResult {
	log := zap.L().With(zap.String("ingredient", ingredient.Name), zap.Int("row", ingredient.Row))

	result := &model.RunResult{}

	trackStage := func(name string, fn func() (attempted, succeeded int)) {
		start := time.Now()
		attempted, succeeded := fn()
		duration := time.Since(start).Milliseconds()
		result.Stages = append(result.Stages, model.StageStats{
			Name:       name,
			Attempted:  attempted,
			Succeeded:  succeeded,
			DurationMS: duration,
		})
		log.Info("pipeline: stage complete",
			zap.String("stage", name),
			zap.Int("attempted", attempted),
			zap.Int("succeeded", succeeded),
			zap.Int64("duration_ms", duration),
		)
	}

	name := strings.TrimSpace(ingredient.Name)
	if name == "" {
		result.Error = "ingredient name is blank"
		result.Record = PublishRecord("", model.FieldRecord{})
		return result
	}

	log.Info("pipeline: starting research")

	var entity model.CanonicalEntity
	trackStage("normalize", func() (int, int) {
		entity = p.normalizer.Normalize(ctx, name, ingredient.Synonyms, ingredient.KingdomHint)
		return 1, 1
	})

	var searchResult search.Result
	trackStage("search", func() (int, int) {
		searchResult = p.searcher.Search(ctx, entity, ingredient.Synonyms)
		return len(searchResult.SearchTerms), len(searchResult.Candidates)
	})

	var judged judge.Result
	trackStage("judge", func() (int, int) {
		if p.aiJudge {
			judged = p.judge.JudgeAI(ctx, searchResult.Candidates)
		} else {
			judged = p.judge.Judge(searchResult.Candidates)
		}
		return len(searchResult.Candidates), len(judged.Accepted)
	})

	var record model.FieldRecord
	trackStage("extract", func() (int, int) {
		record = p.extractor.Extract(ctx, entity, judged.Accepted, ingredient.Synonyms, ingredient.ExistingLinks)
		return model.RecordFieldCount, record.FilledFields()
	})

	result.Record = PublishRecord(name, record)
	result.Completion = record.Completion().Percentage

	log.Info("pipeline: research complete",
		zap.Float64("completion", result.Completion),
		zap.String("evidence_level", result.Record.EvidenceLevel),
	)
	return result
}

// ProcessRun wraps Process with run persistence when a store is
// configured. Store failures are logged, never fatal to the run.
func (p *Pipeline) ProcessRun(ctx context.Context, ingredient model.IngredientRow) (*model.Run, *model.RunResult) {
	if p.store == nil {
		return nil, p.Process(ctx, ingredient)
	}

	log := zap.L().With(zap.String("ingredient", ingredient.Name))

	run, err := p.store.CreateRun(ctx, ingredient)
	if err != nil {
		log.Warn("pipeline: failed to create run record", zap.Error(err))
		return nil, p.Process(ctx, ingredient)
	}

	result := p.CompleteRun(ctx, run.ID, ingredient)
	run.Result = result
	return run, result
}

// CompleteRun processes an ingredient against an already created run
// record, persisting the status transition and the final result.
func (p *Pipeline) CompleteRun(ctx context.Context, runID string, ingredient model.IngredientRow) *model.RunResult {
	log := zap.L().With(zap.String("ingredient", ingredient.Name), zap.String("run_id", runID))

	if p.store != nil {
		if err := p.store.UpdateRunStatus(ctx, runID, model.RunStatusRunning); err != nil {
			log.Warn("pipeline: failed to update run status", zap.Error(err))
		}
	}

	result := p.Process(ctx, ingredient)

	if p.store != nil {
		if err := p.store.UpdateRunResult(ctx, runID, result); err != nil {
			log.Warn("pipeline: failed to persist run result", zap.Error(err))
		}
	}
	return result
}

// PublishRecord flattens an accumulated record into its published form.
func PublishRecord(name string, record model.FieldRecord) model.PublishedRecord {
	citations := make([]string, 0, len(record.Citations))
	for _, c := range record.Citations {
		if strings.TrimSpace(c.Quote) == "" {
			citations = append(citations, c.URL)
			continue
		}
		citations = append(citations, fmt.Sprintf("%s (%s)", c.Quote, c.URL))
	}

	return model.PublishedRecord{
		Name:            name,
		LocalizedName:   record.LocalizedName,
		SourceMaterial:  record.SourceMaterial,
		ActiveCompounds: strings.Join(record.ActiveCompounds, ", "),
		DailyDose:       record.DailyDose,
		Citations:       strings.Join(citations, "; "),
		EvidenceLevel:   evidenceLevel(record.Citations),
		Completion:      record.Completion().Percentage,
	}
}

// evidenceLevel reports the strongest citation tier, L1 through L4.
// A record with no tiered citations is L4 by definition.
func evidenceLevel(citations []model.Citation) string {
	best := 4
	for _, c := range citations {
		if c.Tier >= 1 && c.Tier < best {
			best = c.Tier
		}
	}
	return fmt.Sprintf("L%d", best)
}
