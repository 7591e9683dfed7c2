package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlsd-labs/evidence-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testIngredient(name string) model.IngredientRow {
	return model.IngredientRow{
		Row:      2,
		Name:     name,
		Synonyms: []string{"synonym"},
	}
}

// --- Runs ---

func TestSQLite_Run_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testIngredient("AHCC"))
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "AHCC", got.Ingredient.Name)
	assert.Equal(t, []string{"synonym"}, got.Ingredient.Synonyms)
	assert.Nil(t, got.Result)
}

func TestSQLite_Run_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "nonexistent")
	require.Error(t, err)
}

func TestSQLite_Run_StatusTransitions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testIngredient("Zinc"))
	require.NoError(t, err)

	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)

	err = st.UpdateRunStatus(ctx, "no-such-run", model.RunStatusRunning)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_Run_ResultRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testIngredient("AHCC"))
	require.NoError(t, err)

	result := &model.RunResult{
		Record: model.PublishedRecord{
			Name:          "AHCC",
			LocalizedName: "АХЦЦ (AHCC)",
			DailyDose:     "3 g",
			EvidenceLevel: "L1",
			Completion:    60,
		},
		Completion: 60,
		Stages:     []model.StageStats{{Name: "search", Attempted: 18, Succeeded: 18}},
	}
	require.NoError(t, st.UpdateRunResult(ctx, run.ID, result))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "АХЦЦ (AHCC)", got.Result.Record.LocalizedName)
	require.Len(t, got.Result.Stages, 1)
	assert.Equal(t, "search", got.Result.Stages[0].Name)
}

func TestSQLite_Run_FailedResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testIngredient("Unknown"))
	require.NoError(t, err)

	require.NoError(t, st.UpdateRunResult(ctx, run.ID, &model.RunResult{Error: "workbook row was blank"}))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
}

func TestSQLite_Run_ListFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateRun(ctx, testIngredient("AHCC"))
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, testIngredient("Zinc"))
	require.NoError(t, err)

	require.NoError(t, st.UpdateRunStatus(ctx, a.ID, model.RunStatusRunning))

	running, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "AHCC", running[0].Ingredient.Name)

	byName, err := st.ListRuns(ctx, RunFilter{Ingredient: "Zinc"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, model.RunStatusQueued, byName[0].Status)

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Page cache ---

func TestSQLite_PageCache_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.SetCachedPage(ctx, "https://en.wikipedia.org/wiki/AHCC", "page content", 1*time.Hour)
	require.NoError(t, err)

	text, ok, err := st.GetCachedPage(ctx, "https://en.wikipedia.org/wiki/AHCC")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "page content", text)
}

func TestSQLite_PageCache_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, ok, err := st.GetCachedPage(context.Background(), "https://example.org/none")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_PageCache_Expired(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.SetCachedPage(ctx, "https://example.org/old", "old data", -1*time.Hour)
	require.NoError(t, err)

	_, ok, err := st.GetCachedPage(ctx, "https://example.org/old")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := st.DeleteExpiredPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
