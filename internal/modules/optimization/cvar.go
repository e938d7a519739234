package optimization

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// maxCVaRObservations caps the number of historical periods entering the
// linear program; the most recent periods win. Keeps the simplex tableau at
// a few hundred rows.
const maxCVaRObservations = 500

// CVaRStrategy minimizes portfolio Conditional Value at Risk with the
// Rockafellar-Uryasev linear program:
//
//	minimize   alpha + 1/((1-beta)*T) * sum_t u_t
//	subject to u_t >= -r_t.w - alpha   for every period t
//	           u_t >= 0
//	           sum(w) = 1, bounds on w
//
// where alpha converges to the VaR threshold at confidence beta and the
// objective value to the CVaR.
type CVaRStrategy struct{}

// NewCVaRStrategy creates a CVaR-minimizing strategy.
func NewCVaRStrategy() *CVaRStrategy {
	return &CVaRStrategy{}
}

func (s *CVaRStrategy) Name() string { return "cvar" }

func (s *CVaRStrategy) Philosophy() string {
	return "Minimize tail losses"
}

func (s *CVaRStrategy) Optimize(m MomentEstimates, c ConstraintSet) (ScenarioResult, error) {
	n := len(m.Symbols)

	confidence := c.Confidence
	if confidence <= 0 || confidence >= 1 {
		confidence = DefaultConfidence
	}

	cols := m.Returns.Columns()
	t := m.Returns.Periods()
	offset := 0
	if t > maxCVaRObservations {
		offset = t - maxCVaRObservations
		t = maxCVaRObservations
	}

	// Standard form: variables x >= 0 laid out as
	//   [ w' (n) | s (n) | alpha+ | alpha- | u (t) | v (t) ]
	// with w = lower + w'. The slack s pins the upper bounds, alpha is split
	// into a positive and negative part, u are the tail auxiliaries and v
	// the surplus variables of the period inequalities.
	nVars := 2*n + 2 + 2*t
	nRows := n + 1 + t

	idxW := func(i int) int { return i }
	idxS := func(i int) int { return n + i }
	idxAP := 2 * n
	idxAM := 2*n + 1
	idxU := func(k int) int { return 2*n + 2 + k }
	idxV := func(k int) int { return 2*n + 2 + t + k }

	objective := make([]float64, nVars)
	objective[idxAP] = 1
	objective[idxAM] = -1
	tailWeight := 1.0 / ((1.0 - confidence) * float64(t))
	for k := 0; k < t; k++ {
		objective[idxU(k)] = tailWeight
	}

	a := mat.NewDense(nRows, nVars, nil)
	b := make([]float64, nRows)

	// Upper-bound rows: w'_i + s_i = max_i - min_i.
	for i := 0; i < n; i++ {
		a.Set(i, idxW(i), 1)
		a.Set(i, idxS(i), 1)
		b[i] = c.MaxWeights[i] - c.MinWeights[i]
	}

	// Budget row: sum w'_i = 1 - sum min_i.
	budgetRow := n
	sumLower := 0.0
	for i := 0; i < n; i++ {
		a.Set(budgetRow, idxW(i), 1)
		sumLower += c.MinWeights[i]
	}
	b[budgetRow] = 1.0 - sumLower

	// Period rows: sum_i r_ti*w'_i + alpha+ - alpha- + u_t - v_t = -r_t.lower.
	for k := 0; k < t; k++ {
		row := n + 1 + k
		rhs := 0.0
		for i := 0; i < n; i++ {
			r := cols[i][offset+k]
			a.Set(row, idxW(i), r)
			rhs -= r * c.MinWeights[i]
		}
		a.Set(row, idxAP, 1)
		a.Set(row, idxAM, -1)
		a.Set(row, idxU(k), 1)
		a.Set(row, idxV(k), -1)
		b[row] = rhs
	}

	_, x, err := lp.Simplex(objective, a, b, 1e-10, nil)
	if err != nil {
		return ScenarioResult{}, &SolverFailure{
			Method: s.Name(),
			Err:    fmt.Errorf("simplex solve: %w", err),
		}
	}

	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = c.MinWeights[i] + x[idxW(i)]
	}

	status := StatusOptimal
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum <= 0 {
		return ScenarioResult{}, &SolverFailure{
			Method: s.Name(),
			Err:    fmt.Errorf("LP produced non-positive weight mass %.6f", sum),
		}
	}
	if diff := sum - 1.0; diff > WeightSumTolerance || diff < -WeightSumTolerance {
		w = c.projectToFeasible(w)
		status = StatusDegenerate
	}

	return ScenarioResult{
		Method:       s.Name(),
		Philosophy:   s.Philosophy(),
		Weights:      weightsToMap(m.Symbols, w),
		SolverStatus: status,
	}, nil
}
