package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlsd-labs/evidence-cli/internal/model"
	"github.com/dlsd-labs/evidence-cli/internal/store"
)

type stubRunner struct {
	done chan string
}

func (r *stubRunner) CompleteRun(_ context.Context, runID string, row model.IngredientRow) *model.RunResult {
	result := &model.RunResult{
		Record:     model.PublishedRecord{Name: row.Name, EvidenceLevel: "L4"},
		Completion: 20,
	}
	if r.done != nil {
		r.done <- runID
	}
	return result
}

func newTestServer(t *testing.T, runner Runner) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	return New(context.Background(), runner, st, 0), st
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateRunAccepted(t *testing.T) {
	runner := &stubRunner{done: make(chan string, 1)}
	srv, st := newTestServer(t, runner)

	body := strings.NewReader(`{"name":"AHCC","synonyms":["active hexose correlated compound"]}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", body))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var run model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "AHCC", run.Ingredient.Name)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	select {
	case id := <-runner.done:
		assert.Equal(t, run.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("runner was never invoked")
	}

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "AHCC", stored.Ingredient.Name)
}

func TestCreateRunRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not-json"},
		{"missing name", `{"synonyms":["x"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetRun(t *testing.T) {
	srv, st := newTestServer(t, &stubRunner{})

	run, err := st.CreateRun(context.Background(), model.IngredientRow{Name: "Turmeric"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Turmeric", got.Ingredient.Name)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsFilters(t *testing.T) {
	srv, st := newTestServer(t, &stubRunner{})
	ctx := context.Background()

	runA, err := st.CreateRun(ctx, model.IngredientRow{Name: "AHCC"})
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, model.IngredientRow{Name: "Turmeric"})
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, runA.ID, model.RunStatusRunning))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?status=running", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runA.ID, runs[0].ID)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?status=failed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
