package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationMatrixFromCovariance(t *testing.T) {
	cov := [][]float64{
		{0.04, 0.012},
		{0.012, 0.09},
	}

	corr, err := CorrelationMatrixFromCovariance(cov)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, corr[0][0], 1e-12)
	assert.InDelta(t, 1.0, corr[1][1], 1e-12)
	expected := 0.012 / math.Sqrt(0.04*0.09)
	assert.InDelta(t, expected, corr[0][1], 1e-12)
	assert.InDelta(t, corr[0][1], corr[1][0], 1e-12)
}

func TestCorrelationMatrixFromCovariance_Invalid(t *testing.T) {
	_, err := CorrelationMatrixFromCovariance([][]float64{})
	assert.Error(t, err)

	_, err = CorrelationMatrixFromCovariance([][]float64{{0.0}})
	assert.Error(t, err, "zero variance on the diagonal")

	_, err = CorrelationMatrixFromCovariance([][]float64{{0.04, 0.01}})
	assert.Error(t, err, "non-square matrix")
}

func TestCorrelationToDistance(t *testing.T) {
	corr := [][]float64{
		{1.0, 0.0},
		{0.0, 1.0},
	}
	dist := CorrelationToDistance(corr)

	assert.InDelta(t, 0.0, dist[0][0], 1e-12, "perfect correlation maps to distance 0")
	assert.InDelta(t, math.Sqrt(0.5), dist[0][1], 1e-12, "zero correlation maps to sqrt(0.5)")

	anti := [][]float64{
		{1.0, -1.0},
		{-1.0, 1.0},
	}
	distAnti := CorrelationToDistance(anti)
	assert.InDelta(t, 1.0, distAnti[0][1], 1e-12, "perfect anti-correlation maps to distance 1")
}

func TestInverseVarianceWeights(t *testing.T) {
	// Variances 0.01 and 0.04: inverse variances 100 and 25, weights 0.8/0.2.
	w := InverseVarianceWeights([]float64{0.01, 0.04})
	require.Len(t, w, 2)
	assert.InDelta(t, 0.8, w[0], 1e-12)
	assert.InDelta(t, 0.2, w[1], 1e-12)

	// Invalid variances fall back to equal weights.
	equal := InverseVarianceWeights([]float64{0, -1})
	assert.InDelta(t, 0.5, equal[0], 1e-12)
	assert.InDelta(t, 0.5, equal[1], 1e-12)
}

func TestInverseVolatilityWeights(t *testing.T) {
	// Vols 0.10 and 0.20: weights 2/3 and 1/3.
	w := InverseVolatilityWeights([]float64{0.10, 0.20})
	require.Len(t, w, 2)
	assert.InDelta(t, 2.0/3.0, w[0], 1e-12)
	assert.InDelta(t, 1.0/3.0, w[1], 1e-12)

	sum := w[0] + w[1]
	assert.InDelta(t, 1.0, sum, 1e-12)

	// Zero-vol entries get zero weight, the rest renormalizes.
	w = InverseVolatilityWeights([]float64{0.0, 0.20, 0.20})
	assert.Equal(t, 0.0, w[0])
	assert.InDelta(t, 0.5, w[1], 1e-12)
	assert.InDelta(t, 0.5, w[2], 1e-12)
}
