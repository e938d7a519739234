package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/allocator/pkg/formulas"
)

const (
	// riskParityTolerance is the target standard deviation of per-instrument
	// risk contributions at convergence.
	riskParityTolerance = 1e-8
	// riskParityMaxIterations caps the iterative solve.
	riskParityMaxIterations = 1000
	// riskParityDamping slows the multiplicative update for stability.
	riskParityDamping = 0.5
)

// RiskParityStrategy finds the allocation where every instrument contributes
// equal marginal risk to total portfolio volatility.
//
// The solve starts from inverse-volatility weights and repeatedly nudges
// each weight toward equalizing its risk contribution w_i*(Sigma w)_i/sigma_p,
// renormalizing every step. After convergence the solution is projected onto
// the bound constraints by a constrained least-squares correction.
type RiskParityStrategy struct{}

// NewRiskParityStrategy creates a risk parity strategy.
func NewRiskParityStrategy() *RiskParityStrategy {
	return &RiskParityStrategy{}
}

func (s *RiskParityStrategy) Name() string { return "risk_parity" }

func (s *RiskParityStrategy) Philosophy() string {
	return "Equalize risk contributions"
}

func (s *RiskParityStrategy) Optimize(m MomentEstimates, c ConstraintSet) (ScenarioResult, error) {
	n := len(m.Symbols)

	w := formulas.InverseVolatilityWeights(m.Volatilities)

	iterations := 0
	convergedAt := -1
	for iter := 0; iter < riskParityMaxIterations; iter++ {
		iterations = iter + 1

		contributions, sigma := riskContributions(w, m.Cov)
		if sigma <= 0 {
			return ScenarioResult{}, &SolverFailure{
				Method: s.Name(),
				Err:    fmt.Errorf("portfolio volatility collapsed to zero at iteration %d", iter),
			}
		}

		if stat.StdDev(contributions, nil) < riskParityTolerance {
			convergedAt = iter
			break
		}

		// Multiplicative update: shrink overweight contributors, grow
		// underweight ones, damped to avoid oscillation.
		target := sigma / float64(n)
		for i := 0; i < n; i++ {
			if contributions[i] <= 0 {
				continue
			}
			w[i] *= math.Pow(target/contributions[i], riskParityDamping)
		}
		w = normalizeWeights(w)
	}

	if convergedAt < 0 {
		// Check whether the cap landed close enough anyway.
		contributions, _ := riskContributions(w, m.Cov)
		if stat.StdDev(contributions, nil) > riskParityTolerance*100 {
			return ScenarioResult{}, &SolverFailure{
				Method: s.Name(),
				Err:    fmt.Errorf("risk contributions did not equalize within %d iterations", riskParityMaxIterations),
			}
		}
	}

	status := StatusOptimal
	clipped := c.projectToFeasible(w)
	for i := range w {
		if math.Abs(clipped[i]-w[i]) > BindingTolerance {
			// Bounds moved the unconstrained parity point; contributions are
			// no longer exactly equal.
			status = StatusDegenerate
			break
		}
	}

	return ScenarioResult{
		Method:       s.Name(),
		Philosophy:   s.Philosophy(),
		Weights:      weightsToMap(m.Symbols, clipped),
		SolverStatus: status,
		Diagnostics:  Diagnostics{Iterations: iterations},
	}, nil
}

// riskContributions returns each instrument's risk contribution
// w_i*(Sigma w)_i/sigma_p and the portfolio volatility.
func riskContributions(w []float64, cov [][]float64) ([]float64, float64) {
	n := len(w)
	sigmaW := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sigmaW[i] += cov[i][j] * w[j]
		}
	}

	var variance float64
	for i := 0; i < n; i++ {
		variance += w[i] * sigmaW[i]
	}
	sigma := math.Sqrt(math.Max(variance, 0))

	contributions := make([]float64, n)
	if sigma > 0 {
		for i := 0; i < n; i++ {
			contributions[i] = w[i] * sigmaW[i] / sigma
		}
	}
	return contributions, sigma
}
