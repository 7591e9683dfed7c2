package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run represents one pipeline run for a single ingredient.
type Run struct {
	ID         string        `json:"id"`
	Ingredient IngredientRow `json:"ingredient"`
	Status     RunStatus     `json:"status"`
	Result     *RunResult    `json:"result,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Record     PublishedRecord `json:"record"`
	Completion float64         `json:"completion"`
	Stages     []StageStats    `json:"stages"`
	Error      string          `json:"error,omitempty"`
}

// StageStats reports one pipeline stage's outcome for observability.
type StageStats struct {
	Name       string `json:"name"`
	Attempted  int    `json:"attempted"`
	Succeeded  int    `json:"succeeded"`
	DurationMS int64  `json:"duration_ms"`
}

// ProviderDescriptor describes one generative-text provider slot. The
// descriptor list is fixed at process start and read-only afterward.
type ProviderDescriptor struct {
	ProviderID    string `json:"provider_id"`
	PrimaryModel  string `json:"primary_model"`
	FallbackModel string `json:"fallback_model"`
	Available     bool   `json:"available"`
}
