package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

const (
	// penaltyWeight enforces the full-investment equality inside the
	// unconstrained solvers.
	penaltyWeight = 1000.0
	// maxSolverIterations bounds every gonum solve.
	maxSolverIterations = 500
)

// quadraticObjective is the smooth part of a penalized solve: value and
// gradient of the scenario objective at projected weights.
type quadraticObjective struct {
	value func(w []float64) float64
	grad  func(grad, w []float64)
}

// solvePenalized minimizes the objective plus a quadratic full-investment
// penalty over box-projected weights, trying BFGS first and falling back to
// Nelder-Mead. It returns the projected, renormalized weight vector.
//
// Penalty-method solve with projection is how the engine handles the
// simplex-with-bounds feasible set without a dedicated QP solver; the final
// projection plus normalization restores feasibility to within tolerance.
func solvePenalized(obj quadraticObjective, c ConstraintSet, n int) ([]float64, SolverStatus, error) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xp := c.clampToBounds(x)
			v := obj.value(xp)

			sum := 0.0
			for _, w := range xp {
				sum += w
			}
			v += penaltyWeight * (sum - 1.0) * (sum - 1.0)
			return v
		},
		Grad: func(grad, x []float64) {
			xp := c.clampToBounds(x)
			obj.grad(grad, xp)

			sum := 0.0
			for _, w := range xp {
				sum += w
			}
			for i := range grad {
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
			}
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	settings := &optimize.Settings{MajorIterations: maxSolverIterations}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if err != nil || !converged(result.Status) {
		result, err = optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
		if err != nil {
			return nil, StatusFailed, fmt.Errorf("optimization failed: %w", err)
		}
		if !converged(result.Status) {
			return nil, StatusFailed, fmt.Errorf("optimization did not converge: status=%v", result.Status)
		}
	}

	w := c.clampToBounds(result.X)
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum <= 0 {
		return nil, StatusFailed, fmt.Errorf("solver produced non-positive weight mass %.6f", sum)
	}

	status := StatusOptimal
	// Projection can leave the budget slightly off; large drift means the
	// penalty solution sat hard against the box and the renormalized answer
	// is only a repaired one.
	if math.Abs(sum-1.0) > 1e-3 {
		status = StatusDegenerate
	}
	for i := range w {
		w[i] /= sum
	}

	// Renormalization can push a weight past its bound again; project back
	// onto the exact feasible set when that happens.
	for i := range w {
		if w[i] < c.MinWeights[i]-WeightSumTolerance || w[i] > c.MaxWeights[i]+WeightSumTolerance {
			w = c.projectToFeasible(w)
			status = StatusDegenerate
			break
		}
	}

	return w, status, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.StepConvergence:
		return true
	}
	return false
}
