package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/allocator/pkg/formulas"
)

const (
	// MinimumPeriods is the fewest aligned observations moment estimation
	// accepts.
	MinimumPeriods = 2
	// HighCorrelationThreshold flags instrument pairs for diagnostics.
	HighCorrelationThreshold = 0.80
	// zeroVarianceEpsilon treats variances below this as degenerate.
	zeroVarianceEpsilon = 1e-12
)

// EstimateMoments builds annualized moment estimates from an aligned return
// matrix. The covariance estimate is shrunk toward the constant-correlation
// target (Ledoit-Wolf) so it stays well conditioned with few observations;
// when shrinkage estimation fails the diagonal (variance-only) matrix is used
// instead. The result is guaranteed positive-definite.
func EstimateMoments(rm ReturnMatrix, periodsPerYear int) (MomentEstimates, error) {
	if periodsPerYear <= 0 {
		periodsPerYear = formulas.TradingPeriodsPerYear
	}

	t := rm.Periods()
	n := len(rm.Symbols)
	if t < MinimumPeriods {
		return MomentEstimates{}, &InsufficientDataError{
			Periods:     t,
			Instruments: n,
			Reason:      "need at least 2 aligned periods",
		}
	}

	mean := make([]float64, n)
	for i, symbol := range rm.Symbols {
		mean[i] = formulas.AnnualizedReturn(rm.Series[symbol], periodsPerYear)
	}

	sampleCov, err := sampleCovariance(rm)
	if err != nil {
		return MomentEstimates{}, err
	}

	// Zero-variance instruments make every scenario ill-posed.
	for i, symbol := range rm.Symbols {
		if sampleCov[i][i] < zeroVarianceEpsilon {
			return MomentEstimates{}, &DegenerateInputError{
				Symbol: symbol,
				Reason: "zero variance return series",
			}
		}
	}

	cov, shrinkage, diagonalOnly := shrinkCovariance(sampleCov)

	// Annualize.
	annual := float64(periodsPerYear)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cov[i][j] *= annual
		}
	}

	cov, err = ensurePositiveDefinite(cov)
	if err != nil {
		return MomentEstimates{}, err
	}

	vols := make([]float64, n)
	for i := 0; i < n; i++ {
		vols[i] = math.Sqrt(cov[i][i])
	}

	return MomentEstimates{
		Symbols:        rm.Symbols,
		Mean:           mean,
		Cov:            cov,
		Volatilities:   vols,
		Returns:        rm,
		PeriodsPerYear: periodsPerYear,
		Shrinkage:      shrinkage,
		DiagonalOnly:   diagonalOnly,
	}, nil
}

// sampleCovariance calculates the per-period sample covariance matrix.
func sampleCovariance(rm ReturnMatrix) ([][]float64, error) {
	n := len(rm.Symbols)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		ri := rm.Series[rm.Symbols[i]]
		for j := i; j < n; j++ {
			rj := rm.Series[rm.Symbols[j]]
			c := stat.Covariance(ri, rj, nil)
			cov[i][j] = c
			if i != j {
				cov[j][i] = c
			}
		}
	}

	return cov, nil
}

// shrinkCovariance applies Ledoit-Wolf style shrinkage toward the constant
// correlation target. On estimation failure it returns the diagonal matrix
// and reports diagonalOnly=true.
//
// Reference: Ledoit, O., & Wolf, M. (2004). "A well-conditioned estimator for
// large-dimensional covariance matrices"
func shrinkCovariance(sampleCov [][]float64) (cov [][]float64, shrinkage float64, diagonalOnly bool) {
	n := len(sampleCov)
	if n == 1 {
		return cloneMatrix(sampleCov), 0, false
	}

	target, ok := constantCorrelationTarget(sampleCov)
	if !ok {
		return diagonalMatrix(sampleCov), 1.0, true
	}

	shrinkage = estimateShrinkageIntensity(sampleCov, target)
	if math.IsNaN(shrinkage) || math.IsInf(shrinkage, 0) {
		return diagonalMatrix(sampleCov), 1.0, true
	}

	cov = make([][]float64, n)
	for i := 0; i < n; i++ {
		cov[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			cov[i][j] = (1-shrinkage)*sampleCov[i][j] + shrinkage*target[i][j]
		}
	}
	return cov, shrinkage, false
}

// constantCorrelationTarget builds the shrinkage target: sample variances on
// the diagonal, average correlation applied off-diagonal.
func constantCorrelationTarget(sampleCov [][]float64) ([][]float64, bool) {
	n := len(sampleCov)

	var avgCorr float64
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			den := math.Sqrt(sampleCov[i][i] * sampleCov[j][j])
			if den <= 0 || math.IsNaN(den) {
				return nil, false
			}
			avgCorr += sampleCov[i][j] / den
			pairs++
		}
	}
	if pairs > 0 {
		avgCorr /= float64(pairs)
	}
	if math.IsNaN(avgCorr) || math.IsInf(avgCorr, 0) {
		return nil, false
	}

	target := make([][]float64, n)
	for i := 0; i < n; i++ {
		target[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				target[i][j] = sampleCov[i][i]
			} else {
				target[i][j] = avgCorr * math.Sqrt(sampleCov[i][i]*sampleCov[j][j])
			}
		}
	}
	return target, true
}

// estimateShrinkageIntensity picks the blend weight between sample and target
// from the dispersion of the sample around the target. Clamped to [0.05, 0.9]
// so the estimate never collapses to either extreme.
func estimateShrinkageIntensity(sampleCov, target [][]float64) float64 {
	n := len(sampleCov)

	var sumSqDiff, sumSq, sum float64
	count := 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			diff := sampleCov[i][j] - target[i][j]
			sumSqDiff += diff * diff
			sum += sampleCov[i][j]
			sumSq += sampleCov[i][j] * sampleCov[i][j]
			count++
		}
	}

	meanSqDiff := sumSqDiff / float64(count)
	meanSample := sum / float64(count)
	varSample := sumSq/float64(count) - meanSample*meanSample

	shrinkage := 0.2
	if varSample > 0 && meanSqDiff > 0 {
		shrinkage = varSample / (varSample + meanSqDiff)
	}
	return math.Min(0.9, math.Max(0.05, shrinkage))
}

// ensurePositiveDefinite verifies the matrix admits a Cholesky factorization,
// adding escalating diagonal jitter when needed. Fails with
// DegenerateInputError when the matrix stays singular.
func ensurePositiveDefinite(cov [][]float64) ([][]float64, error) {
	n := len(cov)

	jitter := 0.0
	for attempt := 0; attempt < 5; attempt++ {
		sym := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := cov[i][j]
				if i == j {
					v += jitter
				}
				sym.SetSym(i, j, v)
			}
		}

		var chol mat.Cholesky
		if chol.Factorize(sym) {
			if jitter > 0 {
				repaired := cloneMatrix(cov)
				for i := 0; i < n; i++ {
					repaired[i][i] += jitter
				}
				return repaired, nil
			}
			return cov, nil
		}

		if jitter == 0 {
			jitter = 1e-10
		} else {
			jitter *= 100
		}
	}

	return nil, &DegenerateInputError{Reason: "covariance matrix singular after shrinkage and jitter"}
}

// HighCorrelations extracts instrument pairs whose correlation magnitude
// exceeds the threshold, for run diagnostics.
func (m MomentEstimates) HighCorrelations(threshold float64) []CorrelationPair {
	n := len(m.Symbols)
	pairs := make([]CorrelationPair, 0)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			den := math.Sqrt(m.Cov[i][i] * m.Cov[j][j])
			if den <= 0 {
				continue
			}
			corr := m.Cov[i][j] / den
			if math.Abs(corr) >= threshold {
				pairs = append(pairs, CorrelationPair{
					Symbol1:     m.Symbols[i],
					Symbol2:     m.Symbols[j],
					Correlation: corr,
				})
			}
		}
	}

	return pairs
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = make([]float64, len(m[i]))
		copy(out[i], m[i])
	}
	return out
}

func diagonalMatrix(m [][]float64) [][]float64 {
	n := len(m)
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		out[i][i] = m[i][i]
	}
	return out
}
