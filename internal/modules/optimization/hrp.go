package optimization

import (
	"math"

	"github.com/aristath/allocator/pkg/formulas"
)

// HRPStrategy implements Hierarchical Risk Parity.
//
// Algorithm steps:
//  1. distance d_ij = sqrt(0.5 * (1 - rho_ij)) from the correlation matrix
//  2. agglomerative (single linkage) clustering on the distance matrix
//  3. quasi-diagonalization: instruments reordered to the dendrogram leaf order
//  4. recursive top-down bisection, splitting each cluster's weight inversely
//     to the inverse-variance-weighted variance of each half
//  5. clip to the configured bounds and renormalize
type HRPStrategy struct{}

// NewHRPStrategy creates a hierarchical risk parity strategy.
func NewHRPStrategy() *HRPStrategy {
	return &HRPStrategy{}
}

func (s *HRPStrategy) Name() string { return "hrp" }

func (s *HRPStrategy) Philosophy() string {
	return "Cluster-aware risk spreading"
}

func (s *HRPStrategy) Optimize(m MomentEstimates, c ConstraintSet) (ScenarioResult, error) {
	n := len(m.Symbols)

	corr, err := formulas.CorrelationMatrixFromCovariance(m.Cov)
	if err != nil {
		return ScenarioResult{}, &SolverFailure{Method: s.Name(), Err: err}
	}
	dist := formulas.CorrelationToDistance(corr)

	order := dendrogramLeafOrder(dist)

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0
	}
	recursiveBisection(order, weights, m.Cov)

	status := StatusOptimal
	clipped := c.projectToFeasible(weights)
	for i := range weights {
		if math.Abs(clipped[i]-weights[i]) > BindingTolerance {
			status = StatusDegenerate
			break
		}
	}

	return ScenarioResult{
		Method:       s.Name(),
		Philosophy:   s.Philosophy(),
		Weights:      weightsToMap(m.Symbols, clipped),
		SolverStatus: status,
	}, nil
}

// dendrogramLeafOrder performs single-linkage agglomerative clustering on the
// distance matrix and returns the leaf order of the resulting dendrogram.
// Ties resolve to the lowest cluster index, so the order is deterministic for
// a given input.
func dendrogramLeafOrder(dist [][]float64) []int {
	n := len(dist)
	if n == 1 {
		return []int{0}
	}

	// Active clusters as ordered member lists.
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	linkage := func(a, b []int) float64 {
		minD := math.Inf(1)
		for _, i := range a {
			for _, j := range b {
				if dist[i][j] < minD {
					minD = dist[i][j]
				}
			}
		}
		return minD
	}

	for len(clusters) > 1 {
		bestA, bestB := 0, 1
		bestD := math.Inf(1)
		for a := 0; a < len(clusters); a++ {
			for b := a + 1; b < len(clusters); b++ {
				if d := linkage(clusters[a], clusters[b]); d < bestD {
					bestD = d
					bestA, bestB = a, b
				}
			}
		}

		merged := append(append([]int{}, clusters[bestA]...), clusters[bestB]...)

		next := make([][]int, 0, len(clusters)-1)
		for i, cl := range clusters {
			if i != bestA && i != bestB {
				next = append(next, cl)
			}
		}
		clusters = append(next, merged)
	}

	return clusters[0]
}

// recursiveBisection splits the ordered instrument list in half and assigns
// each half a share of the cluster weight inversely proportional to its
// inverse-variance-weighted cluster variance, recursing until singletons.
func recursiveBisection(order []int, weights []float64, cov [][]float64) {
	if len(order) <= 1 {
		return
	}

	mid := len(order) / 2
	left, right := order[:mid], order[mid:]

	varLeft := clusterVariance(left, cov)
	varRight := clusterVariance(right, cov)

	alpha := 0.5
	if varLeft+varRight > 0 {
		alpha = 1.0 - varLeft/(varLeft+varRight)
	}

	for _, i := range left {
		weights[i] *= alpha
	}
	for _, i := range right {
		weights[i] *= 1.0 - alpha
	}

	recursiveBisection(left, weights, cov)
	recursiveBisection(right, weights, cov)
}

// clusterVariance computes the variance of a cluster under its internal
// inverse-variance allocation.
func clusterVariance(members []int, cov [][]float64) float64 {
	variances := make([]float64, len(members))
	for k, i := range members {
		variances[k] = cov[i][i]
	}
	w := formulas.InverseVarianceWeights(variances)

	var v float64
	for a, i := range members {
		for b, j := range members {
			v += w[a] * w[b] * cov[i][j]
		}
	}
	return v
}
