package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/allocator/internal/modules/optimization/handlers"
	"github.com/aristath/allocator/internal/modules/sizing"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "runs.db"),
		Name: "runs",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := optimization.NewRunRepository(db, zerolog.Nop())
	require.NoError(t, err)

	handlers := optimizationhandlers.NewHandler(
		repo,
		sizing.NewTester(0.02, 252, zerolog.Nop()),
		0.02,
		252,
		zerolog.Nop(),
	)

	return New(Config{
		Log:                  zerolog.Nop(),
		Config:               &config.Config{Port: 0, DevMode: true},
		RunsDB:               db,
		OptimizationHandlers: handlers,
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRoutesRegistered(t *testing.T) {
	srv := testServer(t)

	// Routes should exist under /api; anything else is a 404.
	tests := []struct {
		method   string
		path     string
		expected int
	}{
		{"GET", "/api/optimization/runs/", http.StatusOK},
		{"POST", "/api/optimization/portfolio", http.StatusBadRequest}, // empty body
		{"POST", "/api/optimization/position", http.StatusBadRequest},  // empty body
		{"GET", "/optimization/runs/", http.StatusNotFound},
		{"GET", "/api/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		assert.Equal(t, tt.expected, rec.Code, "%s %s", tt.method, tt.path)
	}
}
