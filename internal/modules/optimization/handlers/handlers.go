// Package handlers provides HTTP handlers for the optimization module.
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/sizing"
)

// Handler handles optimization HTTP requests
type Handler struct {
	runRepo        *optimization.RunRepository
	tester         *sizing.Tester
	riskFreeRate   float64
	periodsPerYear int
	log            zerolog.Logger
}

// NewHandler creates a new optimization handler
func NewHandler(
	runRepo *optimization.RunRepository,
	tester *sizing.Tester,
	riskFreeRate float64,
	periodsPerYear int,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		runRepo:        runRepo,
		tester:         tester,
		riskFreeRate:   riskFreeRate,
		periodsPerYear: periodsPerYear,
		log:            log.With().Str("handler", "optimization").Logger(),
	}
}

// portfolioRequest is the POST /portfolio body.
type portfolioRequest struct {
	Returns     map[string][]float64 `json:"returns"`
	Symbols     []string             `json:"symbols,omitempty"`
	Constraints *constraintsRequest  `json:"constraints,omitempty"`
	Views       []optimization.View  `json:"views,omitempty"`
}

// constraintsRequest carries optional per-symbol bounds and risk ceilings.
// Bounds missing for a symbol fall back to the defaults.
type constraintsRequest struct {
	MinWeights    map[string]float64 `json:"min_weights,omitempty"`
	MaxWeights    map[string]float64 `json:"max_weights,omitempty"`
	MaxVolatility *float64           `json:"max_volatility,omitempty"`
	MaxVaR        *float64           `json:"max_var,omitempty"`
	MaxCVaR       *float64           `json:"max_cvar,omitempty"`
	Confidence    float64            `json:"confidence,omitempty"`
}

// HandleOptimizePortfolio runs all scenarios over the submitted return
// series, builds the consensus, persists the run and returns it.
func (h *Handler) HandleOptimizePortfolio(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Returns) == 0 {
		h.writeError(w, http.StatusBadRequest, "no return series provided")
		return
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = make([]string, 0, len(req.Returns))
		for symbol := range req.Returns {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
	}

	rm, err := optimization.NewReturnMatrix(req.Returns, symbols)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	moments, err := optimization.EstimateMoments(rm, h.periodsPerYear)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	constraints := h.buildConstraints(symbols, req.Constraints)

	engine := optimization.NewEngineWithViews(h.log, req.Views)
	results, err := engine.Run(r.Context(), moments, constraints)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	consensus := optimization.BuildConsensus(results, moments, constraints)

	run, err := h.runRepo.Save(optimization.Run{
		Mode:      "portfolio",
		Symbols:   symbols,
		Periods:   rm.Periods(),
		Scenarios: results,
		Consensus: &consensus,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to persist portfolio run")
		h.writeError(w, http.StatusInternalServerError, "failed to persist run")
		return
	}

	h.writeJSON(w, http.StatusOK, run)
}

// positionRequest is the POST /position body.
type positionRequest struct {
	Symbol  string         `json:"symbol"`
	Returns []float64      `json:"returns"`
	Context sizing.Context `json:"context"`
}

// HandleOptimizePosition runs the single-asset scenario ladder, persists the
// run and returns it.
func (h *Handler) HandleOptimizePosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	result, err := h.tester.Run(req.Symbol, req.Returns, req.Context)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal position result")
		h.writeError(w, http.StatusInternalServerError, "failed to encode result")
		return
	}

	run, err := h.runRepo.Save(optimization.Run{
		Mode:     "position",
		Symbols:  []string{req.Symbol},
		Periods:  len(req.Returns),
		Position: payload,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to persist position run")
		h.writeError(w, http.StatusInternalServerError, "failed to persist run")
		return
	}

	h.writeJSON(w, http.StatusOK, run)
}

// HandleListRuns returns recent run summaries, newest first.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := h.runRepo.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		h.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []optimization.Run{}
	}

	h.writeJSON(w, http.StatusOK, runs)
}

// HandleGetRun returns one full run by ID.
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.runRepo.Get(id)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "run not found: "+id)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to load run")
		h.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	h.writeJSON(w, http.StatusOK, run)
}

// buildConstraints merges request overrides onto the default constraint set.
func (h *Handler) buildConstraints(symbols []string, req *constraintsRequest) optimization.ConstraintSet {
	c := optimization.DefaultConstraints(len(symbols))
	c.RiskFreeRate = h.riskFreeRate

	if req == nil {
		return c
	}

	for i, symbol := range symbols {
		if v, ok := req.MinWeights[symbol]; ok {
			c.MinWeights[i] = v
		}
		if v, ok := req.MaxWeights[symbol]; ok {
			c.MaxWeights[i] = v
		}
	}
	c.MaxVolatility = req.MaxVolatility
	c.MaxVaR = req.MaxVaR
	c.MaxCVaR = req.MaxCVaR
	if req.Confidence > 0 && req.Confidence < 1 {
		c.Confidence = req.Confidence
	}

	return c
}

// writeDomainError maps engine errors to HTTP statuses: data problems are the
// client's, everything else is ours.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *optimization.InsufficientDataError
	var degenerate *optimization.DegenerateInputError
	switch {
	case errors.As(err, &insufficient), errors.As(err, &degenerate):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Msg("Optimization failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
