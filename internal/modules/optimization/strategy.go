package optimization

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/allocator/pkg/formulas"
)

// ScenarioStrategy is the shared contract every scenario optimizer
// implements: a pure function from moment estimates and constraints to an
// allocation. Implementations return an error only when no usable solution
// exists; the engine converts that into the deterministic inverse-volatility
// fallback so one failing scenario never aborts the batch.
type ScenarioStrategy interface {
	Name() string
	Philosophy() string
	Optimize(m MomentEstimates, c ConstraintSet) (ScenarioResult, error)
}

// Engine runs all scenario strategies over one set of inputs and decorates
// each result with risk metrics and binding-constraint diagnostics.
type Engine struct {
	strategies []ScenarioStrategy
	log        zerolog.Logger
}

// NewEngine creates an engine with the standard seven strategies.
func NewEngine(log zerolog.Logger) *Engine {
	return NewEngineWithViews(log, nil)
}

// NewEngineWithViews creates the standard engine with investor views wired
// into the Black-Litterman scenario.
func NewEngineWithViews(log zerolog.Logger, views []View) *Engine {
	if log.GetLevel() == zerolog.Disabled {
		log = zerolog.Nop()
	}
	return &Engine{
		strategies: []ScenarioStrategy{
			NewMaxSharpeStrategy(),
			NewMinVarianceStrategy(),
			NewRiskParityStrategy(),
			NewMaxDiversificationStrategy(),
			NewHRPStrategy(),
			NewCVaRStrategy(),
			NewBlackLittermanStrategy(views),
		},
		log: log.With().Str("component", "engine").Logger(),
	}
}

// Strategies exposes the configured strategy set.
func (e *Engine) Strategies() []ScenarioStrategy {
	return e.strategies
}

// Run executes every scenario over the shared inputs. Scenarios are mutually
// independent, so they fan out on a worker group; results carry their own
// status and the batch always completes.
func (e *Engine) Run(ctx context.Context, m MomentEstimates, c ConstraintSet) (map[string]ScenarioResult, error) {
	n := len(m.Symbols)
	if n < 2 {
		return nil, &InsufficientDataError{
			Periods:     m.Returns.Periods(),
			Instruments: n,
			Reason:      "multi-asset optimization needs at least 2 instruments",
		}
	}
	if err := c.Validate(n); err != nil {
		return nil, fmt.Errorf("invalid constraints: %w", err)
	}

	results := make([]ScenarioResult, len(e.strategies))

	g, ctx := errgroup.WithContext(ctx)
	for i, strategy := range e.strategies {
		i, strategy := i, strategy
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			results[i] = e.runScenario(strategy, m, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]ScenarioResult, len(results))
	for _, r := range results {
		out[r.Method] = r
	}
	return out, nil
}

// boundsAdjuster lets a strategy declare that it runs under a modified copy
// of the shared constraint set; the engine then validates the result against
// those effective bounds instead of the originals.
type boundsAdjuster interface {
	effectiveConstraints(ConstraintSet) ConstraintSet
}

// runScenario executes one strategy, substituting the inverse-volatility
// fallback on failure and finalizing metrics and diagnostics.
func (e *Engine) runScenario(s ScenarioStrategy, m MomentEstimates, c ConstraintSet) ScenarioResult {
	eff := c
	if ba, ok := s.(boundsAdjuster); ok {
		eff = ba.effectiveConstraints(c)
	}

	result, err := s.Optimize(m, c)
	if err != nil {
		e.log.Warn().
			Str("scenario", s.Name()).
			Err(err).
			Msg("Scenario solve failed, using inverse-volatility fallback")
		result = FallbackResult(s, m, c, err)
	}

	return e.finalize(result, m, eff)
}

// FallbackResult builds the deterministic inverse-volatility allocation used
// whenever a scenario cannot be solved.
func FallbackResult(s ScenarioStrategy, m MomentEstimates, c ConstraintSet, cause error) ScenarioResult {
	w := formulas.InverseVolatilityWeights(m.Volatilities)

	diag := Diagnostics{FallbackUsed: true}
	if cause != nil {
		diag.Notes = append(diag.Notes, cause.Error())
	}

	return ScenarioResult{
		Method:       s.Name(),
		Philosophy:   s.Philosophy(),
		Weights:      weightsToMap(m.Symbols, w),
		SolverStatus: StatusFailed,
		Diagnostics:  diag,
	}
}

// finalize normalizes, enforces risk ceilings, and attaches portfolio metrics
// and binding-constraint diagnostics to a scenario result.
func (e *Engine) finalize(r ScenarioResult, m MomentEstimates, c ConstraintSet) ScenarioResult {
	w := weightsFromMap(m.Symbols, r.Weights)

	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if math.Abs(sum-1.0) > WeightSumTolerance {
		// An unnormalized vector out of a solver is a defect in the solver,
		// not a market condition. Repair and mark the scenario degenerate so
		// the defect stays visible.
		w = normalizeWeights(w)
		if r.SolverStatus == StatusOptimal {
			r.SolverStatus = StatusDegenerate
		}
		r.Diagnostics.Notes = append(r.Diagnostics.Notes,
			fmt.Sprintf("weights renormalized from sum %.8f", sum))
	}

	w, ceilingNotes := e.applyRiskCeilings(w, m, c)
	r.Diagnostics.Notes = append(r.Diagnostics.Notes, ceilingNotes...)

	r.Weights = weightsToMap(m.Symbols, w)
	r.ExpectedReturn = portfolioReturn(w, m.Mean)
	r.Volatility = portfolioVolatility(w, m.Cov)
	if r.Volatility > 0 {
		r.SharpeRatio = (r.ExpectedReturn - c.RiskFreeRate) / r.Volatility
	}

	series := formulas.WeightedReturns(w, m.Returns.Columns())
	confidence := c.Confidence
	if confidence <= 0 || confidence >= 1 {
		confidence = DefaultConfidence
	}
	r.Diagnostics.VaR = formulas.HistoricalVaR(series, confidence)
	r.Diagnostics.CVaR = formulas.CalculateCVaR(series, confidence)
	r.Diagnostics.MaxDrawdown = formulas.MaxDrawdown(series)
	r.Diagnostics.SortinoRatio = formulas.SortinoRatio(series, c.RiskFreeRate, m.PeriodsPerYear)
	r.Diagnostics.DiversificationRatio = formulas.DiversificationRatio(w, m.Volatilities, r.Volatility)
	r.Diagnostics.BindingBounds = c.BindingBounds(m.Symbols, w)
	r.Diagnostics.HighCorrelations = m.HighCorrelations(HighCorrelationThreshold)
	if r.Diagnostics.BoundWidth == 0 {
		r.Diagnostics.BoundWidth = c.BoundWidth()
	}

	return r
}

// applyRiskCeilings blends the allocation toward the inverse-volatility
// portfolio until the configured volatility/VaR/CVaR ceilings hold. When no
// blend satisfies a ceiling the closest blend is kept and the violation is
// noted.
func (e *Engine) applyRiskCeilings(w []float64, m MomentEstimates, c ConstraintSet) ([]float64, []string) {
	if c.MaxVolatility == nil && c.MaxVaR == nil && c.MaxCVaR == nil {
		return w, nil
	}

	confidence := c.Confidence
	if confidence <= 0 || confidence >= 1 {
		confidence = DefaultConfidence
	}

	violates := func(x []float64) (bool, string) {
		if c.MaxVolatility != nil {
			if vol := portfolioVolatility(x, m.Cov); vol > *c.MaxVolatility+1e-9 {
				return true, fmt.Sprintf("volatility %.4f exceeds ceiling %.4f", vol, *c.MaxVolatility)
			}
		}
		series := formulas.WeightedReturns(x, m.Returns.Columns())
		if c.MaxVaR != nil {
			if v := -formulas.HistoricalVaR(series, confidence); v > *c.MaxVaR+1e-9 {
				return true, fmt.Sprintf("VaR %.4f exceeds ceiling %.4f", v, *c.MaxVaR)
			}
		}
		if c.MaxCVaR != nil {
			if v := -formulas.CalculateCVaR(series, confidence); v > *c.MaxCVaR+1e-9 {
				return true, fmt.Sprintf("CVaR %.4f exceeds ceiling %.4f", v, *c.MaxCVaR)
			}
		}
		return false, ""
	}

	bad, _ := violates(w)
	if !bad {
		return w, nil
	}

	anchor := formulas.InverseVolatilityWeights(m.Volatilities)
	blend := func(alpha float64) []float64 {
		out := make([]float64, len(w))
		for i := range w {
			out[i] = (1-alpha)*w[i] + alpha*anchor[i]
		}
		return normalizeWeights(out)
	}

	// Bisect on the blend fraction; the anchor is the lowest-risk direction
	// available without re-solving.
	lo, hi := 0.0, 1.0
	if bad, reason := violates(blend(1.0)); bad {
		return blend(1.0), []string{"risk ceiling unattainable: " + reason}
	}
	for iter := 0; iter < 40; iter++ {
		mid := (lo + hi) / 2
		if bad, _ := violates(blend(mid)); bad {
			lo = mid
		} else {
			hi = mid
		}
	}

	return blend(hi), []string{fmt.Sprintf("blended %.1f%% toward inverse-volatility to satisfy risk ceiling", hi*100)}
}

// portfolioReturn computes mu'w.
func portfolioReturn(w, mu []float64) float64 {
	var r float64
	for i := range w {
		r += w[i] * mu[i]
	}
	return r
}

// portfolioVariance computes w'Sigma w.
func portfolioVariance(w []float64, cov [][]float64) float64 {
	var v float64
	for i := range w {
		for j := range w {
			v += w[i] * w[j] * cov[i][j]
		}
	}
	return v
}

// portfolioVolatility computes sqrt(w'Sigma w).
func portfolioVolatility(w []float64, cov [][]float64) float64 {
	return math.Sqrt(math.Max(portfolioVariance(w, cov), 0))
}
