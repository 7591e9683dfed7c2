package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "published_records",
		Columns:      []string{"name", "daily_dose"},
		ConflictKeys: []string{"name"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "published_records",
		ConflictKeys: []string{"name"},
	}, [][]any{{"AHCC", "3 g"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "published_records",
		Columns: []string{"name", "daily_dose"},
	}, [][]any{{"AHCC", "3 g"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestUpdateColumnsDefaultsToNonKeys(t *testing.T) {
	cfg := UpsertConfig{
		Columns:      []string{"name", "daily_dose", "citations"},
		ConflictKeys: []string{"name"},
	}
	assert.Equal(t, []string{"daily_dose", "citations"}, cfg.updateColumns())

	cfg.UpdateCols = []string{"daily_dose"}
	assert.Equal(t, []string{"daily_dose"}, cfg.updateColumns())
}

func TestMergeSQL(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "published_records",
		Columns:      []string{"name", "daily_dose"},
		ConflictKeys: []string{"name"},
	}
	sql := mergeSQL(cfg, pgx.Identifier{"_stage_published_records"})
	assert.Equal(t,
		`INSERT INTO "published_records" ("name", "daily_dose") SELECT "name", "daily_dose" FROM "_stage_published_records" ON CONFLICT ("name") DO UPDATE SET "daily_dose" = EXCLUDED."daily_dose"`,
		sql)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.published_records", `"public"."published_records"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"name", "localized_name", "daily_dose"})
	assert.Equal(t, `"name", "localized_name", "daily_dose"`, result)
}
