// Package sizing implements the single-instrument position-sizing scenario
// ladder: the closed-form quadratic-utility optimum evaluated across a menu
// of named risk-aversion philosophies.
package sizing

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/pkg/formulas"
)

const (
	// highVolatilityThreshold triggers the extra penalty of the
	// volatility-focused philosophy (annualized).
	highVolatilityThreshold = 0.40
	// volatilityPenaltyMultiplier scales gamma above the threshold.
	volatilityPenaltyMultiplier = 1.5
)

// Context carries the position bounds and exposure information supplied by
// the caller. It travels through to the output untouched: the ladder reports
// the raw mathematical optimum and leaves bound clipping to the caller.
type Context struct {
	MinPosition      float64 `json:"min_position"`
	MaxPosition      float64 `json:"max_position"`
	MinCashReserve   float64 `json:"min_cash_reserve"`
	ExistingExposure float64 `json:"existing_exposure"`
	RiskBudget       float64 `json:"risk_budget"`
}

// Scenario is one rung of the ladder: the closed-form optimal weight under a
// named risk-aversion philosophy.
type Scenario struct {
	Philosophy    string  `json:"philosophy"`
	RiskAversion  float64 `json:"risk_aversion"`
	OptimalWeight float64 `json:"optimal_weight"`
	Rationale     string  `json:"rationale"`
}

// Consensus summarizes the ladder.
type Consensus struct {
	MedianWeight   float64 `json:"median_weight"`
	MinWeight      float64 `json:"min_weight"`
	MaxWeight      float64 `json:"max_weight"`
	ExpectedReturn float64 `json:"expected_return"`
	Volatility     float64 `json:"volatility"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
}

// Result is the full single-asset output: one scenario per philosophy plus
// the consensus summary and the caller's context echoed back.
type Result struct {
	Symbol    string              `json:"symbol"`
	Scenarios map[string]Scenario `json:"scenarios"`
	Consensus Consensus           `json:"consensus"`
	Context   Context             `json:"context"`
}

// Tester evaluates the scenario ladder for one instrument.
type Tester struct {
	riskFreeRate   float64
	periodsPerYear int
	log            zerolog.Logger
}

// NewTester creates a single-asset scenario tester.
func NewTester(riskFreeRate float64, periodsPerYear int, log zerolog.Logger) *Tester {
	if log.GetLevel() == zerolog.Disabled {
		log = zerolog.Nop()
	}
	if periodsPerYear <= 0 {
		periodsPerYear = formulas.TradingPeriodsPerYear
	}
	return &Tester{
		riskFreeRate:   riskFreeRate,
		periodsPerYear: periodsPerYear,
		log:            log.With().Str("component", "scenario_ladder").Logger(),
	}
}

// Run evaluates the ladder over a return series. The optimum per rung is the
// quadratic-utility closed form
//
//	w* = (mu - r_f) / (gamma * sigma^2)
//
// deliberately left unclipped: a high-Sharpe, low-volatility instrument can
// produce w* > 1, and the raw number is part of the output's transparency.
// Callers feeding this into capital allocation must apply their own bounds.
func (t *Tester) Run(symbol string, returns []float64, ctx Context) (Result, error) {
	if len(returns) < 2 {
		return Result{}, fmt.Errorf("insufficient data for %s: %d periods, need at least 2", symbol, len(returns))
	}

	mu := formulas.AnnualizedReturn(returns, t.periodsPerYear)
	sigma := formulas.AnnualizedVolatility(returns, t.periodsPerYear)
	if sigma == 0 {
		return Result{}, fmt.Errorf("zero volatility return series for %s", symbol)
	}
	sharpe := formulas.SharpeRatio(returns, t.riskFreeRate, t.periodsPerYear)

	variance := sigma * sigma
	optimum := func(gamma float64) float64 {
		return (mu - t.riskFreeRate) / (gamma * variance)
	}

	scenarios := make(map[string]Scenario)
	for _, rung := range t.ladder(sigma, sharpe) {
		scenarios[rung.philosophy] = Scenario{
			Philosophy:    rung.philosophy,
			RiskAversion:  rung.gamma,
			OptimalWeight: optimum(rung.gamma),
			Rationale:     rung.rationale,
		}
	}

	weights := make([]float64, 0, len(scenarios))
	for _, s := range scenarios {
		weights = append(weights, s.OptimalWeight)
	}
	sort.Float64s(weights)

	consensus := Consensus{
		MedianWeight:   medianSorted(weights),
		MinWeight:      weights[0],
		MaxWeight:      weights[len(weights)-1],
		ExpectedReturn: mu,
		Volatility:     sigma,
		SharpeRatio:    sharpe,
	}

	t.log.Debug().
		Str("symbol", symbol).
		Float64("expected_return", mu).
		Float64("volatility", sigma).
		Float64("median_weight", consensus.MedianWeight).
		Msg("Evaluated scenario ladder")

	return Result{
		Symbol:    symbol,
		Scenarios: scenarios,
		Consensus: consensus,
		Context:   ctx,
	}, nil
}

type rung struct {
	philosophy string
	gamma      float64
	rationale  string
}

// ladder returns the named risk-aversion menu. Gammas are fixed except for
// the volatility-focused rung (penalized above the high-volatility
// threshold) and the Sharpe-adaptive rung (3-tier lookup on the instrument's
// own Sharpe ratio).
func (t *Tester) ladder(sigma, sharpe float64) []rung {
	volGamma := 10.0
	volRationale := "standard aversion, volatility below penalty threshold"
	if sigma > highVolatilityThreshold {
		volGamma *= volatilityPenaltyMultiplier
		volRationale = fmt.Sprintf("volatility %.0f%% above %.0f%% threshold, penalty multiplier applied",
			sigma*100, highVolatilityThreshold*100)
	}

	var adaptiveGamma float64
	var adaptiveRationale string
	switch {
	case sharpe < 0.5:
		adaptiveGamma = 12.0
		adaptiveRationale = "weak risk-adjusted return, defensive sizing"
	case sharpe <= 1.0:
		adaptiveGamma = 8.0
		adaptiveRationale = "moderate risk-adjusted return, balanced sizing"
	default:
		adaptiveGamma = 5.0
		adaptiveRationale = "strong risk-adjusted return, assertive sizing"
	}

	return []rung{
		{"conservative", 15.0, "capital preservation first"},
		{"moderate", 10.0, "balanced growth and drawdown tolerance"},
		{"aggressive", 6.0, "growth-seeking, accepts larger swings"},
		{"volatility_focused", volGamma, volRationale},
		{"return_focused", 5.0, "return maximization with minimal aversion"},
		{"sharpe_adaptive", adaptiveGamma, adaptiveRationale},
	}
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
