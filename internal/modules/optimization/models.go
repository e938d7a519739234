// Package optimization implements the multi-scenario portfolio optimization
// engine: moment estimation, seven allocation strategies behind a shared
// contract, and consensus selection over their results.
package optimization

import (
	"encoding/json"
	"fmt"
	"time"
)

// SolverStatus describes how a scenario solve ended.
type SolverStatus string

const (
	// StatusOptimal means the solver converged to an interior or properly
	// bounded optimum.
	StatusOptimal SolverStatus = "optimal"
	// StatusDegenerate means a solution was produced but it sits on a
	// boundary corner or required repair (normalization, jitter, blending).
	StatusDegenerate SolverStatus = "degenerate"
	// StatusFailed means the solver did not produce a usable solution and
	// the deterministic inverse-volatility fallback was substituted.
	StatusFailed SolverStatus = "failed"
)

// ReturnMatrix holds aligned per-period fractional return series for a set of
// instruments. All series must have identical length; alignment (inner join
// on periods) is the data-ingestion collaborator's responsibility.
type ReturnMatrix struct {
	Symbols []string
	Series  map[string][]float64
}

// NewReturnMatrix validates alignment and builds a ReturnMatrix.
func NewReturnMatrix(series map[string][]float64, symbols []string) (ReturnMatrix, error) {
	if len(symbols) == 0 {
		return ReturnMatrix{}, fmt.Errorf("no symbols provided")
	}

	length := -1
	for _, symbol := range symbols {
		s, ok := series[symbol]
		if !ok {
			return ReturnMatrix{}, fmt.Errorf("missing return series for symbol %s", symbol)
		}
		if length < 0 {
			length = len(s)
		}
		if len(s) != length {
			return ReturnMatrix{}, fmt.Errorf("misaligned return series for symbol %s: %d periods, expected %d",
				symbol, len(s), length)
		}
	}

	return ReturnMatrix{Symbols: symbols, Series: series}, nil
}

// Periods returns the number of aligned periods.
func (rm ReturnMatrix) Periods() int {
	if len(rm.Symbols) == 0 {
		return 0
	}
	return len(rm.Series[rm.Symbols[0]])
}

// Columns returns the return series in symbol order.
func (rm ReturnMatrix) Columns() [][]float64 {
	cols := make([][]float64, len(rm.Symbols))
	for i, symbol := range rm.Symbols {
		cols[i] = rm.Series[symbol]
	}
	return cols
}

// MomentEstimates holds annualized expected returns and the annualized
// shrinkage covariance matrix for an instrument universe, along with the
// per-period sample it was estimated from (the CVaR program and the result
// metrics operate on the raw sample).
type MomentEstimates struct {
	Symbols        []string
	Mean           []float64   // annualized expected returns, symbol order
	Cov            [][]float64 // annualized shrinkage covariance, symbol order
	Volatilities   []float64   // annualized, sqrt of Cov diagonal
	Returns        ReturnMatrix
	PeriodsPerYear int
	Shrinkage      float64 // applied shrinkage intensity (0 = diagonal fallback skipped it)
	DiagonalOnly   bool    // true when shrinkage estimation failed and the diagonal fallback was used
}

// VarianceOf returns the annualized variance of one instrument.
func (m MomentEstimates) VarianceOf(i int) float64 {
	return m.Cov[i][i]
}

// CorrelationPair identifies two instruments whose return correlation exceeds
// the diagnostic threshold.
type CorrelationPair struct {
	Symbol1     string  `json:"symbol1"`
	Symbol2     string  `json:"symbol2"`
	Correlation float64 `json:"correlation"`
}

// BindingBound reports a weight sitting on one of its configured bounds.
type BindingBound struct {
	Symbol string  `json:"symbol"`
	Bound  string  `json:"bound"` // "lower" or "upper"
	Limit  float64 `json:"limit"`
	Weight float64 `json:"weight"`
}

// Diagnostics carries per-scenario solve metadata for the reporting layer.
type Diagnostics struct {
	BindingBounds    []BindingBound    `json:"binding_bounds,omitempty"`
	HighCorrelations []CorrelationPair `json:"high_correlations,omitempty"`
	FallbackUsed     bool              `json:"fallback_used"`
	Iterations       int               `json:"iterations,omitempty"`
	BoundWidth       float64           `json:"bound_width"` // total feasible width of the bounds the solve ran under
	Notes            []string          `json:"notes,omitempty"`

	// Risk profile of the resulting weighted historical series.
	VaR                  float64 `json:"var"`
	CVaR                 float64 `json:"cvar"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	SortinoRatio         float64 `json:"sortino_ratio"`
	DiversificationRatio float64 `json:"diversification_ratio"`
}

// ScenarioResult is the immutable outcome of one scenario optimization.
type ScenarioResult struct {
	Method         string             `json:"method"`
	Philosophy     string             `json:"philosophy"`
	Weights        map[string]float64 `json:"weights"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	SharpeRatio    float64            `json:"sharpe_ratio"`
	SolverStatus   SolverStatus       `json:"solver_status"`
	Diagnostics    Diagnostics        `json:"diagnostics"`
}

// WeightRange is the [min, max] spread of one instrument's weight across
// scenarios.
type WeightRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ConsensusResult aggregates a batch of scenario results into a single
// recommendation.
type ConsensusResult struct {
	SelectedMethod string                 `json:"selected_method"`
	Weights        map[string]float64     `json:"weights"`        // selected scenario's weights, or fallback
	MedianWeights  map[string]float64     `json:"median_weights"` // per-instrument median across scenarios, renormalized
	Ranges         map[string]WeightRange `json:"ranges"`
	BindingBounds  []BindingBound         `json:"binding_bounds,omitempty"`
	FallbackUsed   bool                   `json:"fallback_used"`
	Notes          []string               `json:"notes,omitempty"`
}

// Run is one persisted optimization request/response pair.
type Run struct {
	ID        string                    `json:"id"`
	Mode      string                    `json:"mode"` // "portfolio" or "position"
	Symbols   []string                  `json:"symbols"`
	Periods   int                       `json:"periods"`
	CreatedAt time.Time                 `json:"created_at"`
	Scenarios map[string]ScenarioResult `json:"scenarios,omitempty"`
	Consensus *ConsensusResult          `json:"consensus,omitempty"`

	// Position holds the single-asset sizing payload for mode "position",
	// stored verbatim so this package stays decoupled from the sizing module.
	Position json.RawMessage `json:"position,omitempty"`
}
