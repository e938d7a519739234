package optimization

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/pkg/formulas"
)

// defaultTau is the Black-Litterman uncertainty scaling of the prior
// covariance.
const defaultTau = 0.05

// View is an investor opinion blended into the equilibrium returns.
type View struct {
	Type       string  `json:"type"`              // "absolute" or "relative"
	Symbol     string  `json:"symbol,omitempty"`  // absolute views
	Symbol1    string  `json:"symbol1,omitempty"` // relative views: outperformer
	Symbol2    string  `json:"symbol2,omitempty"` // relative views: underperformer
	Return     float64 `json:"return"`            // expected return or outperformance
	Confidence float64 `json:"confidence"`        // 0.0 to 1.0
}

// BlackLittermanStrategy computes implied equilibrium returns from market
// weights, blends them with investor views through the standard posterior
// formula, and hands the blended mean vector to the mean-variance solve in
// place of the raw sample means.
//
// Posterior: E[R] = [(tau*Sigma)^-1 + P'Omega^-1 P]^-1 [(tau*Sigma)^-1 Pi + P'Omega^-1 Q]
type BlackLittermanStrategy struct {
	views []View
	tau   float64
}

// NewBlackLittermanStrategy creates a Black-Litterman strategy. A nil view
// slice means the posterior equals the equilibrium prior.
func NewBlackLittermanStrategy(views []View) *BlackLittermanStrategy {
	return &BlackLittermanStrategy{views: views, tau: defaultTau}
}

func (s *BlackLittermanStrategy) Name() string { return "black_litterman" }

func (s *BlackLittermanStrategy) Philosophy() string {
	return "Equilibrium returns with investor views"
}

func (s *BlackLittermanStrategy) Optimize(m MomentEstimates, c ConstraintSet) (ScenarioResult, error) {
	gamma := riskAversionFor(m.Volatilities)

	// Without observable market capitalizations, inverse-volatility weights
	// stand in as the equilibrium market portfolio.
	marketWeights := formulas.InverseVolatilityWeights(m.Volatilities)

	pi := equilibriumReturns(marketWeights, m.Cov, gamma)

	posterior, err := s.blendViews(pi, m)
	if err != nil {
		return ScenarioResult{}, &SolverFailure{Method: s.Name(), Err: err}
	}

	result, err := solveMeanVariance(s, m, c, gamma, posterior)
	if err != nil {
		return ScenarioResult{}, err
	}
	if len(s.views) > 0 {
		result.Diagnostics.Notes = append(result.Diagnostics.Notes,
			fmt.Sprintf("blended %d investor views (tau=%.2f)", len(s.views), s.tau))
	}
	return result, nil
}

// equilibriumReturns computes Pi = gamma * Sigma * w_market.
func equilibriumReturns(marketWeights []float64, cov [][]float64, gamma float64) []float64 {
	n := len(marketWeights)
	pi := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pi[i] += gamma * cov[i][j] * marketWeights[j]
		}
	}
	return pi
}

// blendViews applies the posterior-mean formula. With no views the prior is
// returned unchanged.
func (s *BlackLittermanStrategy) blendViews(pi []float64, m MomentEstimates) ([]float64, error) {
	if len(s.views) == 0 {
		return pi, nil
	}

	n := len(m.Symbols)
	k := len(s.views)

	index := make(map[string]int, n)
	for i, symbol := range m.Symbols {
		index[symbol] = i
	}

	// Picking matrix P and view vector Q.
	p := mat.NewDense(k, n, nil)
	q := mat.NewVecDense(k, nil)
	omega := mat.NewDense(k, k, nil)

	for vi, view := range s.views {
		q.SetVec(vi, view.Return)

		// View uncertainty shrinks with confidence; floored to keep Omega
		// invertible.
		uncertainty := (1.0 - view.Confidence) * s.tau
		if uncertainty < 1e-6 {
			uncertainty = 1e-6
		}
		omega.Set(vi, vi, uncertainty)

		switch view.Type {
		case "absolute":
			i, ok := index[view.Symbol]
			if !ok {
				return nil, fmt.Errorf("view references unknown symbol %s", view.Symbol)
			}
			p.Set(vi, i, 1.0)
		case "relative":
			i, ok := index[view.Symbol1]
			if !ok {
				return nil, fmt.Errorf("view references unknown symbol %s", view.Symbol1)
			}
			j, ok := index[view.Symbol2]
			if !ok {
				return nil, fmt.Errorf("view references unknown symbol %s", view.Symbol2)
			}
			p.Set(vi, i, 1.0)
			p.Set(vi, j, -1.0)
		default:
			return nil, fmt.Errorf("unknown view type %q", view.Type)
		}
	}

	sigma := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sigma.Set(i, j, m.Cov[i][j])
		}
	}
	piVec := mat.NewVecDense(n, pi)

	tauSigma := mat.NewDense(n, n, nil)
	tauSigma.Scale(s.tau, sigma)

	var tauSigmaInv mat.Dense
	if err := tauSigmaInv.Inverse(tauSigma); err != nil {
		return nil, fmt.Errorf("invert tau*Sigma: %w", err)
	}

	var omegaInv mat.Dense
	if err := omegaInv.Inverse(omega); err != nil {
		return nil, fmt.Errorf("invert Omega: %w", err)
	}

	var pT mat.Dense
	pT.CloneFrom(p.T())
	var pTOmegaInv mat.Dense
	pTOmegaInv.Mul(&pT, &omegaInv)
	var pTOmegaInvP mat.Dense
	pTOmegaInvP.Mul(&pTOmegaInv, p)

	var precision mat.Dense
	precision.Add(&tauSigmaInv, &pTOmegaInvP)

	var precisionInv mat.Dense
	if err := precisionInv.Inverse(&precision); err != nil {
		return nil, fmt.Errorf("invert posterior precision: %w", err)
	}

	var priorTerm mat.VecDense
	priorTerm.MulVec(&tauSigmaInv, piVec)

	var viewTerm mat.VecDense
	viewTerm.MulVec(&pTOmegaInv, q)

	var rhs mat.VecDense
	rhs.AddVec(&priorTerm, &viewTerm)

	var posterior mat.VecDense
	posterior.MulVec(&precisionInv, &rhs)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = posterior.AtVec(i)
	}
	return out, nil
}
