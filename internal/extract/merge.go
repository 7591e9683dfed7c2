package extract

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/dlsd-labs/evidence-cli/internal/model"
)

const (
	maxCompounds = 10
	maxCitations = 5
)

var fold = cases.Fold()

// Merge combines a new pass result into the accumulated record. Merging
// is strictly additive: scalar fields keep their first non-empty value,
// list fields grow by case-insensitive (compounds) or URL-keyed
// (citations) union, capped at 10 and 5 entries.
func Merge(current, next model.FieldRecord) model.FieldRecord {
	merged := current

	if strings.TrimSpace(merged.LocalizedName) == "" && strings.TrimSpace(next.LocalizedName) != "" {
		merged.LocalizedName = next.LocalizedName
	}
	if strings.TrimSpace(merged.SourceMaterial) == "" && strings.TrimSpace(next.SourceMaterial) != "" {
		merged.SourceMaterial = next.SourceMaterial
	}
	if strings.TrimSpace(merged.DailyDose) == "" && strings.TrimSpace(next.DailyDose) != "" {
		merged.DailyDose = next.DailyDose
	}

	merged.ActiveCompounds = mergeCompounds(merged.ActiveCompounds, next.ActiveCompounds)
	merged.Citations = mergeCitations(merged.Citations, next.Citations)

	return merged
}

func mergeCompounds(current, next []string) []string {
	if len(next) == 0 {
		return current
	}

	seen := make(map[string]bool, len(current))
	for _, c := range current {
		seen[fold.String(c)] = true
	}

	out := append([]string(nil), current...)
	for _, c := range next {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := fold.String(c)
		if seen[key] {
			continue
		}
		if len(out) >= maxCompounds {
			break
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func mergeCitations(current, next []model.Citation) []model.Citation {
	if len(next) == 0 {
		return current
	}

	seen := make(map[string]bool, len(current))
	for _, c := range current {
		seen[c.URL] = true
	}

	out := append([]model.Citation(nil), current...)
	for _, c := range next {
		if c.URL == "" || seen[c.URL] {
			continue
		}
		if len(out) >= maxCitations {
			break
		}
		seen[c.URL] = true
		out = append(out, c)
	}
	return out
}
