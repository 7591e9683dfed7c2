package model

import "strings"

// RecordFieldCount is the number of published evidence fields.
const RecordFieldCount = 5

// Citation backs a field value with a quoted snippet and its source.
type Citation struct {
	URL   string `json:"url"`
	Quote string `json:"quote"`
	Tier  int    `json:"tier,omitempty"`
}

// FieldRecord is the 5-field evidence record accumulated across
// extraction passes. Only the merge step mutates it, and merging is
// additive: a non-empty scalar is never overwritten and list entries are
// never removed.
type FieldRecord struct {
	LocalizedName   string     `json:"localized_name"`
	SourceMaterial  string     `json:"source_material"`
	ActiveCompounds []string   `json:"active_compounds"`
	DailyDose       string     `json:"daily_dose"`
	Citations       []Citation `json:"citations"`
}

// FilledFields counts fields holding data.
func (r FieldRecord) FilledFields() int {
	n := 0
	if strings.TrimSpace(r.LocalizedName) != "" {
		n++
	}
	if strings.TrimSpace(r.SourceMaterial) != "" {
		n++
	}
	if len(r.ActiveCompounds) > 0 {
		n++
	}
	if strings.TrimSpace(r.DailyDose) != "" {
		n++
	}
	if len(r.Citations) > 0 {
		n++
	}
	return n
}

// Empty reports whether no field holds data.
func (r FieldRecord) Empty() bool {
	return r.FilledFields() == 0
}

// Completion derives the current completion stats.
func (r FieldRecord) Completion() CompletionStats {
	filled := r.FilledFields()
	return CompletionStats{
		FilledFields: filled,
		TotalFields:  RecordFieldCount,
		Percentage:   float64(filled) / float64(RecordFieldCount) * 100,
	}
}

// CompletionStats drives the escalation decision between extraction
// passes. Derived, never persisted.
type CompletionStats struct {
	FilledFields int     `json:"filled_fields"`
	TotalFields  int     `json:"total_fields"`
	Percentage   float64 `json:"percentage"`
}

// PublishedRecord is the externally visible result for one ingredient.
type PublishedRecord struct {
	Name            string  `json:"name"`
	LocalizedName   string  `json:"localized_name"`
	SourceMaterial  string  `json:"source_material"`
	ActiveCompounds string  `json:"active_compounds"`
	DailyDose       string  `json:"daily_dose"`
	Citations       string  `json:"citations"`
	EvidenceLevel   string  `json:"evidence_level"`
	Completion      float64 `json:"completion"`
}
