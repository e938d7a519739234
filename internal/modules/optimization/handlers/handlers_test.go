package handlers

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/sizing"
)

func testRouter(t *testing.T) *chi.Mux {
	t.Helper()

	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "runs.db"),
		Name: "runs",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := optimization.NewRunRepository(db, zerolog.Nop())
	require.NoError(t, err)

	handler := NewHandler(
		repo,
		sizing.NewTester(0.02, 252, zerolog.Nop()),
		0.02,
		252,
		zerolog.Nop(),
	)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

// testSeries builds deterministic pseudo-random return series.
func testSeries(symbols []string, periods int, seed int64) map[string][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make(map[string][]float64, len(symbols))
	for i, symbol := range symbols {
		s := make([]float64, periods)
		for k := range s {
			s[k] = 0.0005 + rng.NormFloat64()*0.01*float64(i+1)
		}
		out[symbol] = s
	}
	return out
}

func postJSON(t *testing.T, router *chi.Mux, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleOptimizePortfolio(t *testing.T) {
	router := testRouter(t)

	rec := postJSON(t, router, "/optimization/portfolio", map[string]interface{}{
		"returns": testSeries([]string{"AAA", "BBB", "CCC"}, 200, 1),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var run optimization.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "portfolio", run.Mode)
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, run.Symbols, "symbols default to sorted keys")
	assert.Equal(t, 200, run.Periods)
	assert.Len(t, run.Scenarios, 7)
	require.NotNil(t, run.Consensus)
	assert.NotEmpty(t, run.Consensus.SelectedMethod)

	// The run is retrievable afterwards.
	req := httptest.NewRequest("GET", "/optimization/runs/"+run.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleOptimizePortfolio_BadInput(t *testing.T) {
	router := testRouter(t)

	tests := []struct {
		name     string
		body     interface{}
		expected int
	}{
		{"empty body", map[string]interface{}{}, http.StatusBadRequest},
		{
			"misaligned series",
			map[string]interface{}{"returns": map[string][]float64{
				"AAA": {0.01, 0.02},
				"BBB": {0.01},
			}},
			http.StatusBadRequest,
		},
		{
			"too few periods",
			map[string]interface{}{"returns": map[string][]float64{
				"AAA": {0.01},
				"BBB": {0.02},
			}},
			http.StatusUnprocessableEntity,
		},
		{
			"zero variance instrument",
			map[string]interface{}{"returns": map[string][]float64{
				"AAA": {0.01, 0.01, 0.01, 0.01},
				"BBB": {0.02, -0.01, 0.03, 0.00},
			}},
			http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, router, "/optimization/portfolio", tt.body)
			assert.Equal(t, tt.expected, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleOptimizePosition(t *testing.T) {
	router := testRouter(t)

	returns := make([]float64, 120)
	for i := range returns {
		returns[i] = 0.002
		if i%2 == 1 {
			returns[i] = -0.001
		}
	}

	rec := postJSON(t, router, "/optimization/position", map[string]interface{}{
		"symbol":  "AAA",
		"returns": returns,
		"context": map[string]float64{"max_position": 0.25},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var run optimization.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "position", run.Mode)
	assert.Equal(t, []string{"AAA"}, run.Symbols)

	var result sizing.Result
	require.NoError(t, json.Unmarshal(run.Position, &result))
	assert.Equal(t, "AAA", result.Symbol)
	assert.Len(t, result.Scenarios, 6)
	assert.Equal(t, 0.25, result.Context.MaxPosition)
}

func TestHandleOptimizePosition_BadInput(t *testing.T) {
	router := testRouter(t)

	rec := postJSON(t, router, "/optimization/position", map[string]interface{}{
		"returns": []float64{0.01, 0.02},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing symbol")

	rec = postJSON(t, router, "/optimization/position", map[string]interface{}{
		"symbol":  "AAA",
		"returns": []float64{0.01},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "too few periods")
}

func TestHandleListRuns(t *testing.T) {
	router := testRouter(t)

	// Empty store returns an empty list, not null.
	req := httptest.NewRequest("GET", "/optimization/runs/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	for i := 0; i < 2; i++ {
		rec := postJSON(t, router, "/optimization/portfolio", map[string]interface{}{
			"returns": testSeries([]string{"AAA", "BBB"}, 150, int64(i+10)),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("GET", "/optimization/runs/?limit=1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []optimization.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestHandleGetRun_NotFound(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest("GET", "/optimization/runs/unknown-id", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
