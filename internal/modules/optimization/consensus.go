package optimization

import (
	"sort"

	"github.com/aristath/allocator/pkg/formulas"
)

// BuildConsensus aggregates a batch of scenario results into a single
// recommendation.
//
// Selection priority: the most-constrained scenario (smallest feasible bound
// width) still reporting optimal status wins; when nothing solved optimally
// the inverse-volatility fallback is used. The binding-bound report explains
// whether the pick landed on an interior or boundary solution.
func BuildConsensus(results map[string]ScenarioResult, m MomentEstimates, c ConstraintSet) ConsensusResult {
	symbols := m.Symbols

	consensus := ConsensusResult{
		MedianWeights: medianWeights(symbols, results),
		Ranges:        weightRanges(symbols, results),
	}

	selected, ok := selectScenario(results)
	if !ok {
		fallback := formulas.InverseVolatilityWeights(m.Volatilities)
		consensus.SelectedMethod = "inverse_volatility"
		consensus.Weights = weightsToMap(symbols, fallback)
		consensus.FallbackUsed = true
		consensus.Notes = append(consensus.Notes, "no scenario reached optimal status")
		consensus.BindingBounds = c.BindingBounds(symbols, fallback)
		return consensus
	}

	consensus.SelectedMethod = selected.Method
	consensus.Weights = selected.Weights
	consensus.BindingBounds = selected.Diagnostics.BindingBounds
	if len(consensus.BindingBounds) == 0 {
		consensus.Notes = append(consensus.Notes, "interior solution: no bound is binding")
	}
	return consensus
}

// selectScenario picks the optimal result with the narrowest bound width,
// breaking ties by method name so the choice is deterministic.
func selectScenario(results map[string]ScenarioResult) (ScenarioResult, bool) {
	candidates := make([]ScenarioResult, 0, len(results))
	for _, r := range results {
		if r.SolverStatus == StatusOptimal {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return ScenarioResult{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Diagnostics.BoundWidth != candidates[j].Diagnostics.BoundWidth {
			return candidates[i].Diagnostics.BoundWidth < candidates[j].Diagnostics.BoundWidth
		}
		return candidates[i].Method < candidates[j].Method
	})

	return candidates[0], true
}

// medianWeights computes the per-instrument median across scenarios,
// renormalized to sum to 1.
func medianWeights(symbols []string, results map[string]ScenarioResult) map[string]float64 {
	medians := make([]float64, len(symbols))
	for i, symbol := range symbols {
		values := make([]float64, 0, len(results))
		for _, r := range results {
			values = append(values, r.Weights[symbol])
		}
		medians[i] = median(values)
	}
	return weightsToMap(symbols, normalizeWeights(medians))
}

// weightRanges computes the [min, max] weight spread per instrument.
func weightRanges(symbols []string, results map[string]ScenarioResult) map[string]WeightRange {
	ranges := make(map[string]WeightRange, len(symbols))
	for _, symbol := range symbols {
		first := true
		var r WeightRange
		for _, res := range results {
			w := res.Weights[symbol]
			if first {
				r = WeightRange{Min: w, Max: w}
				first = false
				continue
			}
			if w < r.Min {
				r.Min = w
			}
			if w > r.Max {
				r.Max = w
			}
		}
		ranges[symbol] = r
	}
	return ranges
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
