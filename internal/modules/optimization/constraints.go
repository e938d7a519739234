package optimization

import (
	"fmt"
	"math"
)

const (
	// WeightSumTolerance is the allowed deviation of sum(weights) from 1.
	WeightSumTolerance = 1e-6
	// BindingTolerance decides when a weight counts as sitting on a bound.
	BindingTolerance = 1e-4
	// DefaultConfidence is the VaR/CVaR confidence level.
	DefaultConfidence = 0.95
)

// ConstraintSet is the single constraint contract shared by every scenario
// optimizer. Bounds are parallel to the instrument universe in symbol order.
type ConstraintSet struct {
	FullInvestment bool
	LongOnly       bool
	MinWeights     []float64
	MaxWeights     []float64

	// Optional portfolio-level risk ceilings (annualized vol, per-period
	// VaR/CVaR magnitudes). Nil means unconstrained.
	MaxVolatility *float64
	MaxVaR        *float64
	MaxCVaR       *float64

	RiskFreeRate float64
	Confidence   float64
}

// DefaultConstraints builds the standard constraint set for n instruments:
// full investment, long only, and per-instrument bounds kept strictly
// interior to the simplex so optimizers cannot land on uninformative 100/0
// corner solutions. For two instruments this yields [0.15, 0.70].
func DefaultConstraints(n int) ConstraintSet {
	cs := ConstraintSet{
		FullInvestment: true,
		LongOnly:       true,
		MinWeights:     make([]float64, n),
		MaxWeights:     make([]float64, n),
		Confidence:     DefaultConfidence,
	}

	if n == 1 {
		cs.MinWeights[0] = 1.0
		cs.MaxWeights[0] = 1.0
		return cs
	}

	lower := math.Min(0.15, 0.5/float64(n))
	upper := math.Min(0.70, 1.4/float64(n))
	if upper <= lower {
		upper = math.Min(1.0, lower*2)
	}
	for i := 0; i < n; i++ {
		cs.MinWeights[i] = lower
		cs.MaxWeights[i] = upper
	}

	return cs
}

// Validate checks internal consistency and simplex feasibility.
func (c ConstraintSet) Validate(n int) error {
	if len(c.MinWeights) != n || len(c.MaxWeights) != n {
		return fmt.Errorf("bounds length mismatch: %d min / %d max for %d instruments",
			len(c.MinWeights), len(c.MaxWeights), n)
	}

	var sumMin, sumMax float64
	for i := 0; i < n; i++ {
		lo, hi := c.MinWeights[i], c.MaxWeights[i]
		if lo > hi {
			return fmt.Errorf("instrument %d has invalid bounds: min=%.4f > max=%.4f", i, lo, hi)
		}
		if c.LongOnly && lo < 0 {
			return fmt.Errorf("instrument %d has negative lower bound %.4f with long-only constraint", i, lo)
		}
		sumMin += lo
		sumMax += hi
	}

	if c.FullInvestment {
		if sumMin > 1.0+WeightSumTolerance {
			return fmt.Errorf("minimum weights sum to %.4f > 1, full investment infeasible", sumMin)
		}
		if sumMax < 1.0-WeightSumTolerance {
			return fmt.Errorf("maximum weights sum to %.4f < 1, full investment infeasible", sumMax)
		}
	}

	return nil
}

// Widened returns a copy with relaxed bounds, used by the maximum
// diversification scenario: lower bounds shrink toward zero, upper bounds
// stretch toward the simplex edge, both kept feasible.
func (c ConstraintSet) Widened() ConstraintSet {
	out := c
	out.MinWeights = make([]float64, len(c.MinWeights))
	out.MaxWeights = make([]float64, len(c.MaxWeights))
	for i := range c.MinWeights {
		out.MinWeights[i] = c.MinWeights[i] * 0.25
		out.MaxWeights[i] = c.MaxWeights[i] + 0.5*(1.0-c.MaxWeights[i])
	}
	return out
}

// BoundWidth is the total feasible width of the bounds, used to rank how
// constrained a scenario was.
func (c ConstraintSet) BoundWidth() float64 {
	var w float64
	for i := range c.MinWeights {
		w += c.MaxWeights[i] - c.MinWeights[i]
	}
	return w
}

// BindingBounds reports weights sitting within tolerance of a bound.
func (c ConstraintSet) BindingBounds(symbols []string, weights []float64) []BindingBound {
	binding := make([]BindingBound, 0)
	for i, w := range weights {
		if i >= len(c.MinWeights) {
			break
		}
		if math.Abs(w-c.MinWeights[i]) <= BindingTolerance {
			binding = append(binding, BindingBound{
				Symbol: symbols[i],
				Bound:  "lower",
				Limit:  c.MinWeights[i],
				Weight: w,
			})
		} else if math.Abs(w-c.MaxWeights[i]) <= BindingTolerance {
			binding = append(binding, BindingBound{
				Symbol: symbols[i],
				Bound:  "upper",
				Limit:  c.MaxWeights[i],
				Weight: w,
			})
		}
	}
	return binding
}

// clampToBounds clips each weight into its [min, max] interval.
func (c ConstraintSet) clampToBounds(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = math.Max(c.MinWeights[i], math.Min(c.MaxWeights[i], x[i]))
	}
	return out
}

// projectToFeasible computes the Euclidean projection of v onto the feasible
// set {w : sum(w)=1, min_i <= w_i <= max_i}. The projection is
// w_i = clip(v_i + lambda) for the shift lambda that restores the budget;
// lambda is found by bisection since the clipped sum is monotone in it.
//
// This is the constrained least-squares correction applied after the risk
// parity and HRP solves.
func (c ConstraintSet) projectToFeasible(v []float64) []float64 {
	n := len(v)
	sumAt := func(lambda float64) float64 {
		s := 0.0
		for i := 0; i < n; i++ {
			s += math.Max(c.MinWeights[i], math.Min(c.MaxWeights[i], v[i]+lambda))
		}
		return s
	}

	lo, hi := -2.0, 2.0
	for sumAt(lo) > 1 {
		lo *= 2
		if lo < -1e6 {
			break
		}
	}
	for sumAt(hi) < 1 {
		hi *= 2
		if hi > 1e6 {
			break
		}
	}

	for iter := 0; iter < 100; iter++ {
		mid := (lo + hi) / 2
		if sumAt(mid) < 1 {
			lo = mid
		} else {
			hi = mid
		}
	}

	lambda := (lo + hi) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Max(c.MinWeights[i], math.Min(c.MaxWeights[i], v[i]+lambda))
	}
	return out
}

// normalizeWeights rescales weights so they sum to 1. Returning an
// unnormalizable vector (non-positive sum) is a programming error upstream;
// callers validate inputs before reaching this point.
func normalizeWeights(w []float64) []float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum <= 0 {
		return w
	}
	out := make([]float64, len(w))
	for i, v := range w {
		out[i] = v / sum
	}
	return out
}

// weightsToMap pairs a weight vector with its symbols.
func weightsToMap(symbols []string, w []float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for i, s := range symbols {
		out[s] = w[i]
	}
	return out
}

// weightsFromMap flattens a weight map back into symbol order.
func weightsFromMap(symbols []string, m map[string]float64) []float64 {
	out := make([]float64, len(symbols))
	for i, s := range symbols {
		out[i] = m[s]
	}
	return out
}
