package optimization

// MinVarianceStrategy minimizes portfolio variance w'Sigma w under the
// shared constraint contract. The solution is unique whenever Sigma is
// positive-definite, which the estimator guarantees.
type MinVarianceStrategy struct{}

// NewMinVarianceStrategy creates a minimum variance strategy.
func NewMinVarianceStrategy() *MinVarianceStrategy {
	return &MinVarianceStrategy{}
}

func (s *MinVarianceStrategy) Name() string { return "min_variance" }

func (s *MinVarianceStrategy) Philosophy() string {
	return "Minimize portfolio volatility"
}

func (s *MinVarianceStrategy) Optimize(m MomentEstimates, c ConstraintSet) (ScenarioResult, error) {
	w, status, err := solveMinVariance(m, c)
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

// MaxDiversificationStrategy is the minimum-variance program solved under
// widened bounds. With more room to spread across imperfectly correlated
// instruments, minimizing variance implicitly maximizes the diversification
// ratio (sum w_i sigma_i) / sigma_p.
type MaxDiversificationStrategy struct{}

// NewMaxDiversificationStrategy creates a maximum diversification strategy.
func NewMaxDiversificationStrategy() *MaxDiversificationStrategy {
	return &MaxDiversificationStrategy{}
}

func (s *MaxDiversificationStrategy) Name() string { return "max_diversification" }

func (s *MaxDiversificationStrategy) Philosophy() string {
	return "Maximize diversification benefit"
}

func (s *MaxDiversificationStrategy) effectiveConstraints(c ConstraintSet) ConstraintSet {
	return c.Widened()
}

func (s *MaxDiversificationStrategy) Optimize(m MomentEstimates, c ConstraintSet) (ScenarioResult, error) {
	wide := s.effectiveConstraints(c)
	w, status, err := solveMinVariance(m, wide)
	if err != nil {
		return ScenarioResult{}, &SolverFailure{Method: s.Name(), Err: err}
	}

	return ScenarioResult{
		Method:       s.Name(),
		Philosophy:   s.Philosophy(),
		Weights:      weightsToMap(m.Symbols, w),
		SolverStatus: status,
		Diagnostics:  Diagnostics{BoundWidth: wide.BoundWidth()},
	}, nil
}

// solveMinVariance runs the variance-minimizing penalized solve used by both
// strategies above.
func solveMinVariance(m MomentEstimates, c ConstraintSet) ([]float64, SolverStatus, error) {
	n := len(m.Symbols)

	obj := quadraticObjective{
		value: func(w []float64) float64 {
			return portfolioVariance(w, m.Cov)
		},
		grad: func(grad, w []float64) {
			for i := 0; i < n; i++ {
				grad[i] = 0
				for j := 0; j < n; j++ {
					grad[i] += 2 * m.Cov[i][j] * w[j]
				}
			}
		},
	}

	return solvePenalized(obj, c, n)
}
