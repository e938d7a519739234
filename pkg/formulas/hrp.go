package formulas

import (
	"fmt"
	"math"
)

// CorrelationMatrixFromCovariance calculates the correlation matrix from a
// covariance matrix.
//
// Formula: corr(i,j) = cov(i,j) / sqrt(cov(i,i) * cov(j,j))
func CorrelationMatrixFromCovariance(cov [][]float64) ([][]float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("covariance matrix is not square")
		}
	}

	vars := make([]float64, n)
	for i := 0; i < n; i++ {
		v := cov[i][i]
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid variance on diagonal at %d: %v", i, v)
		}
		vars[i] = v
	}

	corr := make([][]float64, n)
	for i := 0; i < n; i++ {
		corr[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		corr[i][i] = 1.0
		for j := i + 1; j < n; j++ {
			den := math.Sqrt(vars[i] * vars[j])
			val := 0.0
			if den > 0 {
				val = cov[i][j] / den
			}
			// Clamp to valid range.
			val = math.Max(-1.0, math.Min(1.0, val))
			corr[i][j] = val
			corr[j][i] = val
		}
	}

	return corr, nil
}

// CorrelationToDistance converts a correlation matrix to a distance matrix
// suitable for hierarchical clustering.
//
// Distance formula: d_ij = sqrt(0.5 * (1 - rho_ij))
//
// Perfectly correlated assets have distance 0, perfectly anti-correlated
// assets have distance 1.
func CorrelationToDistance(corrMatrix [][]float64) [][]float64 {
	n := len(corrMatrix)
	distMatrix := make([][]float64, n)

	for i := 0; i < n; i++ {
		distMatrix[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			corr := corrMatrix[i][j]
			corr = math.Max(-1.0, math.Min(1.0, corr))
			distMatrix[i][j] = math.Sqrt(0.5 * (1.0 - corr))
		}
	}

	return distMatrix
}

// InverseVarianceWeights calculates weights inversely proportional to
// variance.
//
// Formula: w_i = (1/v_i) / sum(1/v_j)
//
// Assets with zero or invalid variance get zero weight; if every variance is
// invalid the result is equal weights.
func InverseVarianceWeights(variances []float64) []float64 {
	n := len(variances)
	weights := make([]float64, n)

	var totalInvVariance float64
	for _, v := range variances {
		if v > 0 {
			totalInvVariance += 1.0 / v
		}
	}

	if totalInvVariance == 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(n)
		}
		return weights
	}

	for i, v := range variances {
		if v > 0 {
			weights[i] = (1.0 / v) / totalInvVariance
		}
	}

	return weights
}

// InverseVolatilityWeights calculates weights inversely proportional to
// standard deviation. Used as the deterministic fallback allocation when a
// solver fails.
func InverseVolatilityWeights(volatilities []float64) []float64 {
	n := len(volatilities)
	weights := make([]float64, n)

	var totalInvVol float64
	for _, v := range volatilities {
		if v > 0 {
			totalInvVol += 1.0 / v
		}
	}

	if totalInvVol == 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(n)
		}
		return weights
	}

	for i, v := range volatilities {
		if v > 0 {
			weights[i] = (1.0 / v) / totalInvVol
		}
	}

	return weights
}
