// Package judge filters candidate sources through the tier classifier,
// collapses duplicates by document identifier, and ranks survivors by
// trust tier.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dlsd-labs/evidence-cli/internal/gateway"
	"github.com/dlsd-labs/evidence-cli/internal/model"
	"github.com/dlsd-labs/evidence-cli/internal/policy"
)

// Result is the judge's verdict over one candidate batch.
type Result struct {
	Accepted []model.ClassifiedSource `json:"accepted"`
	Rejected []model.RejectedSource   `json:"rejected"`
}

// TextGenerator is the slice of the gateway the AI-assisted path needs.
type TextGenerator interface {
	Generate(ctx context.Context, req gateway.Request) (gateway.Response, bool)
}

// Judge classifies and deduplicates candidate sources.
type Judge struct {
	classifier *policy.Classifier
	gw         TextGenerator
}

// New creates a rule-based Judge. Pass a non-nil gateway to enable the
// AI-assisted path.
func New(classifier *policy.Classifier, gw TextGenerator) *Judge {
	return &Judge{classifier: classifier, gw: gw}
}

// Judge classifies every candidate, rejects denied and unknown domains,
// deduplicates accepted sources by DOI, then PMID, then URL, and sorts
// them by tier ascending. Duplicates are dropped silently, not reported
// as rejections.
func (j *Judge) Judge(candidates []model.CandidateSource) Result {
	result := Result{
		Accepted: []model.ClassifiedSource{},
		Rejected: []model.RejectedSource{},
	}

	for _, c := range candidates {
		if strings.TrimSpace(c.URL) == "" {
			result.Rejected = append(result.Rejected, model.RejectedSource{URL: c.URL, Reason: "missing URL"})
			continue
		}

		v := j.classifier.Classify(c.URL)
		if v.Decision == policy.DecisionDeny {
			result.Rejected = append(result.Rejected, model.RejectedSource{URL: c.URL, Reason: v.Reason})
			continue
		}

		src := model.ClassifiedSource{CandidateSource: c, Tier: v.Tier}
		if src.DOI == "" {
			src.DOI = v.DOI
		}
		if src.PMID == "" {
			src.PMID = v.PMID
		}
		src.DedupKey = dedupKey(src)
		result.Accepted = append(result.Accepted, src)
	}

	result.Accepted = dedup(result.Accepted)
	sort.SliceStable(result.Accepted, func(a, b int) bool {
		return result.Accepted[a].Tier < result.Accepted[b].Tier
	})

	zap.L().Info("judged candidates",
		zap.Int("candidates", len(candidates)),
		zap.Int("accepted", len(result.Accepted)),
		zap.Int("rejected", len(result.Rejected)))

	return result
}

func dedupKey(s model.ClassifiedSource) string {
	switch {
	case s.DOI != "":
		return "doi:" + strings.ToLower(s.DOI)
	case s.PMID != "":
		return "pmid:" + s.PMID
	default:
		return "url:" + s.URL
	}
}

func dedup(sources []model.ClassifiedSource) []model.ClassifiedSource {
	seen := make(map[string]bool, len(sources))
	out := sources[:0]
	for _, s := range sources {
		if seen[s.DedupKey] {
			continue
		}
		seen[s.DedupKey] = true
		out = append(out, s)
	}
	return out
}

const aiSystemPrompt = `You are a scientific source quality judge.

TASK: Classify each candidate source into a trust tier or reject it,
following the tier rules exactly. Return ONLY valid JSON:

{
  "accepted": [{"url": "...", "tier": 1}],
  "rejected": [{"url": "...", "reason": "..."}]
}

Tiers: 1 = regulators, primary literature, encyclopedias; 2 = major
journals; 3 = reviews and evidence databases; 4 = everything else
acceptable. Reject blogs and unknown domains.`

type aiVerdict struct {
	Accepted []struct {
		URL  string `json:"url"`
		Tier int    `json:"tier"`
	} `json:"accepted"`
	Rejected []model.RejectedSource `json:"rejected"`
}

// JudgeAI is the AI-assisted path for ambiguous batches: it describes
// the tier rules and the candidates to the gateway and validates the
// returned verdict. Any failure falls back to the rule-based Judge.
func (j *Judge) JudgeAI(ctx context.Context, candidates []model.CandidateSource) Result {
	if j.gw == nil {
		return j.Judge(candidates)
	}

	prompt, err := j.buildAIContext(candidates)
	if err != nil {
		return j.Judge(candidates)
	}

	temp := 0.1
	resp, ok := j.gw.Generate(ctx, gateway.Request{
		Prompt:      prompt,
		System:      aiSystemPrompt,
		Temperature: &temp,
		MaxTokens:   1500,
	})
	if !ok {
		return j.Judge(candidates)
	}

	var verdict aiVerdict
	if !gateway.DecodeJSON(resp.Text, &verdict) || !validVerdict(verdict) {
		zap.L().Debug("ai judge returned invalid verdict, using rule path")
		return j.Judge(candidates)
	}

	byURL := make(map[string]model.CandidateSource, len(candidates))
	for _, c := range candidates {
		byURL[c.URL] = c
	}

	result := Result{
		Accepted: []model.ClassifiedSource{},
		Rejected: verdict.Rejected,
	}
	for _, a := range verdict.Accepted {
		c, found := byURL[a.URL]
		if !found {
			continue
		}
		src := model.ClassifiedSource{CandidateSource: c, Tier: a.Tier}
		if src.DOI == "" {
			src.DOI = policy.ExtractDOI(c.URL)
		}
		if src.PMID == "" {
			src.PMID = policy.ExtractPMID(c.URL)
		}
		src.DedupKey = dedupKey(src)
		result.Accepted = append(result.Accepted, src)
	}

	result.Accepted = dedup(result.Accepted)
	sort.SliceStable(result.Accepted, func(a, b int) bool {
		return result.Accepted[a].Tier < result.Accepted[b].Tier
	})
	return result
}

func (j *Judge) buildAIContext(candidates []model.CandidateSource) (string, error) {
	type slimCandidate struct {
		Title  string `json:"title"`
		URL    string `json:"url"`
		Domain string `json:"domain,omitempty"`
	}
	slim := make([]slimCandidate, 0, len(candidates))
	for _, c := range candidates {
		slim = append(slim, slimCandidate{Title: c.Title, URL: c.URL, Domain: c.Domain})
	}

	encoded, err := json.MarshalIndent(slim, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Candidates to judge:\n%s\n\nReturn ONLY the JSON verdict.", encoded), nil
}

func validVerdict(v aiVerdict) bool {
	for _, a := range v.Accepted {
		if a.URL == "" || a.Tier < 1 || a.Tier > 4 {
			return false
		}
	}
	for _, r := range v.Rejected {
		if r.URL == "" {
			return false
		}
	}
	return true
}
