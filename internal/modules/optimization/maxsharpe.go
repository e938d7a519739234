package optimization

import (
	"github.com/aristath/allocator/pkg/formulas"
)

// MaxSharpeStrategy solves the mean-variance utility problem
//
//	maximize  mu'w - (gamma/2) w'Sigma w
//	subject to sum(w) = 1, long-only, per-instrument bounds
//
// The risk aversion gamma comes from a small fixed menu keyed on the
// aggregate volatility of the universe: higher-volatility universes get a
// higher gamma so the optimizer does not chase expected return into
// degenerate all-or-nothing corners.
type MaxSharpeStrategy struct{}

// NewMaxSharpeStrategy creates a max-Sharpe / mean-variance strategy.
func NewMaxSharpeStrategy() *MaxSharpeStrategy {
	return &MaxSharpeStrategy{}
}

func (s *MaxSharpeStrategy) Name() string { return "max_sharpe" }

func (s *MaxSharpeStrategy) Philosophy() string {
	return "Maximize risk-adjusted return"
}

// riskAversionFor picks gamma from the fixed menu by average instrument
// volatility.
func riskAversionFor(volatilities []float64) float64 {
	avg := formulas.Mean(volatilities)
	switch {
	case avg < 0.15:
		return 2.0
	case avg < 0.25:
		return 3.5
	case avg < 0.40:
		return 5.0
	default:
		return 8.0
	}
}

// Optimize solves the quadratic utility problem under the shared constraint
// contract.
func (s *MaxSharpeStrategy) Optimize(m MomentEstimates, c ConstraintSet) (ScenarioResult, error) {
	return solveMeanVariance(s, m, c, riskAversionFor(m.Volatilities), m.Mean)
}

// solveMeanVariance is shared by max-Sharpe and Black-Litterman (which swaps
// in the posterior mean vector).
func solveMeanVariance(s ScenarioStrategy, m MomentEstimates, c ConstraintSet, gamma float64, mu []float64) (ScenarioResult, error) {
	n := len(m.Symbols)

	obj := quadraticObjective{
		value: func(w []float64) float64 {
			// Minimize the negated utility.
			return -(portfolioReturn(w, mu) - (gamma/2)*portfolioVariance(w, m.Cov))
		},
		grad: func(grad, w []float64) {
			for i := 0; i < n; i++ {
				grad[i] = -mu[i]
				for j := 0; j < n; j++ {
					grad[i] += gamma * m.Cov[i][j] * w[j]
				}
			}
		},
	}

	w, status, err := solvePenalized(obj, c, n)
	if err != nil {
		return ScenarioResult{}, &SolverFailure{Method: s.Name(), Err: err}
	}

	return ScenarioResult{
		Method:       s.Name(),
		Philosophy:   s.Philosophy(),
		Weights:      weightsToMap(m.Symbols, w),
		SolverStatus: status,
	}, nil
}
