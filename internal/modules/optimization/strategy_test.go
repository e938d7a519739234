package optimization

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/stat"
)

// testMoments estimates moments for a synthetic universe.
func testMoments(t *testing.T, symbols []string, vols []float64, periods int, seed int64) MomentEstimates {
	t.Helper()
	rm, err := NewReturnMatrix(syntheticReturns(symbols, vols, periods, seed), symbols)
	require.NoError(t, err)
	m, err := EstimateMoments(rm, 252)
	require.NoError(t, err)
	return m
}

func assertValidWeights(t *testing.T, r ScenarioResult, symbols []string) {
	t.Helper()
	sum := 0.0
	for _, symbol := range symbols {
		w, ok := r.Weights[symbol]
		require.True(t, ok, "scenario %s missing weight for %s", r.Method, symbol)
		require.False(t, math.IsNaN(w), "scenario %s produced NaN weight for %s", r.Method, symbol)
		require.False(t, math.IsInf(w, 0), "scenario %s produced Inf weight for %s", r.Method, symbol)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6, "scenario %s weights must sum to 1", r.Method)
}

func TestEngineRun_AllScenariosComplete(t *testing.T) {
	symbols := []string{"AAA", "BBB", "CCC", "DDD"}
	m := testMoments(t, symbols, []float64{0.008, 0.012, 0.016, 0.020}, 300, 11)
	c := DefaultConstraints(len(symbols))
	c.RiskFreeRate = 0.02

	engine := NewEngine(zerolog.Nop())
	results, err := engine.Run(context.Background(), m, c)
	require.NoError(t, err)

	expected := []string{"max_sharpe", "min_variance", "risk_parity",
		"max_diversification", "hrp", "cvar", "black_litterman"}
	require.Len(t, results, len(expected))

	for _, method := range expected {
		r, ok := results[method]
		require.True(t, ok, "missing scenario %s", method)
		assertValidWeights(t, r, symbols)
		assert.NotEmpty(t, r.Philosophy)
		assert.Contains(t, []SolverStatus{StatusOptimal, StatusDegenerate, StatusFailed}, r.SolverStatus)

		// Bound compliance for every solve that did not fall back. The
		// max-diversification scenario runs under widened bounds.
		if r.SolverStatus != StatusFailed {
			bounds := c
			if method == "max_diversification" {
				bounds = c.Widened()
			}
			for i, symbol := range symbols {
				assert.GreaterOrEqual(t, r.Weights[symbol], bounds.MinWeights[i]-1e-4,
					"%s weight for %s below lower bound", method, symbol)
				assert.LessOrEqual(t, r.Weights[symbol], bounds.MaxWeights[i]+1e-4,
					"%s weight for %s above upper bound", method, symbol)
			}
		}

		// Finalized metrics are attached for every scenario.
		assert.False(t, math.IsNaN(r.Volatility), "%s volatility", method)
		assert.LessOrEqual(t, r.Diagnostics.MaxDrawdown, 0.0, "%s drawdown sign", method)
		assert.LessOrEqual(t, r.Diagnostics.CVaR, r.Diagnostics.VaR+1e-12, "%s CVaR above VaR", method)
	}
}

func TestEngineRun_RejectsSingleInstrument(t *testing.T) {
	symbols := []string{"AAA"}
	m := testMoments(t, symbols, []float64{0.01}, 100, 5)

	engine := NewEngine(zerolog.Nop())
	_, err := engine.Run(context.Background(), m, DefaultConstraints(1))
	require.Error(t, err)

	var insufficient *InsufficientDataError
	assert.ErrorAs(t, err, &insufficient)
}

func TestEngineRun_InvalidConstraints(t *testing.T) {
	symbols := []string{"AAA", "BBB"}
	m := testMoments(t, symbols, []float64{0.01, 0.02}, 100, 5)

	c := DefaultConstraints(2)
	c.MinWeights = []float64{0.8, 0.8} // infeasible: lower bounds sum to 1.6

	engine := NewEngine(zerolog.Nop())
	_, err := engine.Run(context.Background(), m, c)
	assert.Error(t, err)
}

// symmetricTwoAssetMoments builds two instruments with identical sample means
// and variances and exactly zero sample correlation, using orthogonal sign
// patterns around a common drift.
func symmetricTwoAssetMoments(t *testing.T) MomentEstimates {
	t.Helper()

	periods := 200
	drift, swing := 0.0005, 0.01
	a := make([]float64, periods)
	b := make([]float64, periods)
	for k := 0; k < periods; k++ {
		// Orthogonal Walsh-style patterns with zero mean.
		s1 := 1.0
		if k%2 == 1 {
			s1 = -1.0
		}
		s2 := 1.0
		if (k/2)%2 == 1 {
			s2 = -1.0
		}
		a[k] = drift + swing*s1
		b[k] = drift + swing*s2
	}

	rm, err := NewReturnMatrix(map[string][]float64{"AAA": a, "BBB": b}, []string{"AAA", "BBB"})
	require.NoError(t, err)
	m, err := EstimateMoments(rm, 252)
	require.NoError(t, err)
	return m
}

func TestSymmetricInputsGiveSymmetricWeights(t *testing.T) {
	m := symmetricTwoAssetMoments(t)
	c := DefaultConstraints(2)
	c.RiskFreeRate = 0.02

	for _, s := range []ScenarioStrategy{NewMinVarianceStrategy(), NewMaxSharpeStrategy()} {
		r, err := s.Optimize(m, c)
		require.NoError(t, err, s.Name())
		assert.InDelta(t, 0.5, r.Weights["AAA"], 0.02,
			"%s should split identical instruments evenly", s.Name())
		assert.InDelta(t, 0.5, r.Weights["BBB"], 0.02, s.Name())
	}
}

func TestRiskParity_EqualizesContributions(t *testing.T) {
	// Uncorrelated 10% and 20% annualized vols: the textbook solution puts
	// 2/3 on the low-vol instrument and 1/3 on the high-vol one.
	m := MomentEstimates{
		Symbols:      []string{"LOW", "HIGH"},
		Mean:         []float64{0.08, 0.12},
		Cov:          [][]float64{{0.01, 0}, {0, 0.04}},
		Volatilities: []float64{0.10, 0.20},
	}
	c := DefaultConstraints(2)

	s := NewRiskParityStrategy()
	r, err := s.Optimize(m, c)
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, r.Weights["LOW"], 1e-3)
	assert.InDelta(t, 1.0/3.0, r.Weights["HIGH"], 1e-3)
	assert.Equal(t, StatusOptimal, r.SolverStatus)
	assert.Greater(t, r.Diagnostics.Iterations, 0)

	// Contributions equalize within tolerance.
	w := weightsFromMap(m.Symbols, r.Weights)
	contributions, _ := riskContributions(w, m.Cov)
	assert.Less(t, stat.StdDev(contributions, nil), 1e-4)
}

func TestRiskParity_BoundedSolutionMarkedDegenerate(t *testing.T) {
	// Extreme vol spread pushes the parity point outside tight bounds; the
	// projection must land on the bounds and flag the repair.
	m := MomentEstimates{
		Symbols:      []string{"LOW", "HIGH"},
		Mean:         []float64{0.08, 0.12},
		Cov:          [][]float64{{0.0004, 0}, {0, 0.16}},
		Volatilities: []float64{0.02, 0.40},
	}
	c := ConstraintSet{
		FullInvestment: true,
		LongOnly:       true,
		MinWeights:     []float64{0.30, 0.30},
		MaxWeights:     []float64{0.70, 0.70},
	}

	r, err := NewRiskParityStrategy().Optimize(m, c)
	require.NoError(t, err)

	assert.Equal(t, StatusDegenerate, r.SolverStatus)
	assert.InDelta(t, 0.70, r.Weights["LOW"], 1e-6)
	assert.InDelta(t, 0.30, r.Weights["HIGH"], 1e-6)
}

func TestMinVariance_BoundRelaxationMonotonicity(t *testing.T) {
	symbols := []string{"AAA", "BBB", "CCC"}
	m := testMoments(t, symbols, []float64{0.006, 0.012, 0.024}, 250, 23)

	narrow := DefaultConstraints(3)
	wide := narrow
	wide.MinWeights = []float64{0.0, 0.0, 0.0}
	wide.MaxWeights = []float64{1.0, 1.0, 1.0}

	s := NewMinVarianceStrategy()
	rNarrow, err := s.Optimize(m, narrow)
	require.NoError(t, err)
	rWide, err := s.Optimize(m, wide)
	require.NoError(t, err)

	varNarrow := portfolioVariance(weightsFromMap(symbols, rNarrow.Weights), m.Cov)
	varWide := portfolioVariance(weightsFromMap(symbols, rWide.Weights), m.Cov)

	// A superset of the feasible region can never have a worse optimum.
	assert.LessOrEqual(t, varWide, varNarrow+1e-6)
}

func TestHRP_DuplicateInstrumentsSplitEvenly(t *testing.T) {
	// Two perfectly correlated instruments and one independent. The duplicates
	// cluster first and the bisection must treat them symmetrically,
	// regardless of how the universe is ordered.
	cov := map[string]map[string]float64{}
	vols := map[string]float64{"X1": 0.2, "X2": 0.2, "IND": 0.2}
	for a, va := range vols {
		cov[a] = map[string]float64{}
		for b, vb := range vols {
			switch {
			case a == b:
				cov[a][b] = va * vb
			case (a == "X1" && b == "X2") || (a == "X2" && b == "X1"):
				cov[a][b] = va * vb // correlation 1
			default:
				cov[a][b] = 0
			}
		}
	}

	build := func(symbols []string) MomentEstimates {
		n := len(symbols)
		c := make([][]float64, n)
		v := make([]float64, n)
		for i, a := range symbols {
			c[i] = make([]float64, n)
			v[i] = vols[a]
			for j, b := range symbols {
				c[i][j] = cov[a][b]
			}
		}
		return MomentEstimates{Symbols: symbols, Mean: make([]float64, n), Cov: c, Volatilities: v}
	}

	s := NewHRPStrategy()
	orderings := [][]string{
		{"X1", "X2", "IND"},
		{"IND", "X1", "X2"},
		{"X2", "IND", "X1"},
	}

	var reference map[string]float64
	for _, symbols := range orderings {
		r, err := s.Optimize(build(symbols), DefaultConstraints(3))
		require.NoError(t, err)

		assert.InDelta(t, r.Weights["X1"], r.Weights["X2"], 1e-9,
			"duplicates must get equal weight for ordering %v", symbols)

		sum := r.Weights["X1"] + r.Weights["X2"] + r.Weights["IND"]
		assert.InDelta(t, 1.0, sum, 1e-6)

		if reference == nil {
			reference = r.Weights
			continue
		}
		for symbol, w := range reference {
			assert.InDelta(t, w, r.Weights[symbol], 1e-9,
				"ordering %v changed the allocation", symbols)
		}
	}
}

func TestCVaR_AvoidsTailRiskAsset(t *testing.T) {
	periods := 120
	safe := make([]float64, periods)
	risky := make([]float64, periods)
	for k := 0; k < periods; k++ {
		if k%2 == 0 {
			safe[k] = 0.011
		} else {
			safe[k] = -0.009
		}
		risky[k] = 0.02
		if k%20 == 10 {
			risky[k] = -0.18 // periodic deep loss
		}
	}

	rm, err := NewReturnMatrix(map[string][]float64{"SAFE": safe, "RISKY": risky}, []string{"SAFE", "RISKY"})
	require.NoError(t, err)
	m, err := EstimateMoments(rm, 252)
	require.NoError(t, err)

	r, err := NewCVaRStrategy().Optimize(m, DefaultConstraints(2))
	require.NoError(t, err)

	assertValidWeights(t, r, []string{"SAFE", "RISKY"})
	assert.Greater(t, r.Weights["SAFE"], r.Weights["RISKY"],
		"CVaR minimization should load on the thin-tailed instrument")
	assert.InDelta(t, 0.70, r.Weights["SAFE"], 1e-3, "upper bound should bind")
}

func TestBlackLitterman_ViewTiltsAllocation(t *testing.T) {
	symbols := []string{"AAA", "BBB", "CCC"}
	m := testMoments(t, symbols, []float64{0.010, 0.011, 0.012}, 250, 31)
	c := DefaultConstraints(3)
	c.RiskFreeRate = 0.02

	neutral, err := NewBlackLittermanStrategy(nil).Optimize(m, c)
	require.NoError(t, err)

	bullish, err := NewBlackLittermanStrategy([]View{{
		Type:       "absolute",
		Symbol:     "AAA",
		Return:     0.50,
		Confidence: 0.9,
	}}).Optimize(m, c)
	require.NoError(t, err)

	assert.Greater(t, bullish.Weights["AAA"], neutral.Weights["AAA"]-1e-9,
		"a strongly bullish view must not reduce the viewed weight")
	assert.Contains(t, bullish.Diagnostics.Notes[len(bullish.Diagnostics.Notes)-1], "investor views")
}

func TestBlackLitterman_RejectsUnknownViewSymbol(t *testing.T) {
	symbols := []string{"AAA", "BBB"}
	m := testMoments(t, symbols, []float64{0.01, 0.02}, 100, 3)

	_, err := NewBlackLittermanStrategy([]View{{
		Type: "absolute", Symbol: "ZZZ", Return: 0.1, Confidence: 0.5,
	}}).Optimize(m, DefaultConstraints(2))
	require.Error(t, err)

	var failure *SolverFailure
	assert.ErrorAs(t, err, &failure)
}

func TestFallbackResult_InverseVolatilityVerbatim(t *testing.T) {
	m := MomentEstimates{
		Symbols:      []string{"A", "B"},
		Volatilities: []float64{0.10, 0.30},
	}
	c := DefaultConstraints(2)

	r := FallbackResult(NewMaxSharpeStrategy(), m, c, assert.AnError)

	assert.Equal(t, StatusFailed, r.SolverStatus)
	assert.True(t, r.Diagnostics.FallbackUsed)
	require.NotEmpty(t, r.Diagnostics.Notes)

	// Fallback weights are inverse-volatility verbatim, deliberately not
	// clipped to bounds: 0.75 exceeds the 0.70 default upper bound.
	assert.InDelta(t, 0.75, r.Weights["A"], 1e-12)
	assert.InDelta(t, 0.25, r.Weights["B"], 1e-12)
}

func TestEngine_RiskCeilingBlends(t *testing.T) {
	symbols := []string{"AAA", "BBB", "CCC"}
	m := testMoments(t, symbols, []float64{0.006, 0.012, 0.024}, 250, 41)
	c := DefaultConstraints(3)
	c.RiskFreeRate = 0.02

	// Ceiling below the unconstrained max-Sharpe volatility but above the
	// inverse-volatility anchor's.
	anchorVol := portfolioVolatility(weightsFromMap(symbols,
		FallbackResult(NewMaxSharpeStrategy(), m, c, nil).Weights), m.Cov)
	ceiling := anchorVol * 1.05
	c.MaxVolatility = &ceiling

	engine := NewEngine(zerolog.Nop())
	results, err := engine.Run(context.Background(), m, c)
	require.NoError(t, err)

	for method, r := range results {
		if r.SolverStatus == StatusFailed {
			continue
		}
		assert.LessOrEqual(t, r.Volatility, ceiling+1e-6,
			"scenario %s exceeds the volatility ceiling", method)
	}
}
