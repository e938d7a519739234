package formulas

import (
	"math"
	"sort"
)

// HistoricalVaR calculates Value at Risk at the given confidence level as an
// empirical quantile of the return distribution.
//
// For 95% confidence the result is the return at the 5th percentile: the
// threshold below which the worst (1-confidence) share of outcomes falls.
// The value is negative for loss-making tails.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	if len(returns) == 1 {
		return returns[0]
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	tailProbability := 1.0 - confidence
	idx := int(math.Ceil(float64(len(sorted))*tailProbability)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

// CalculateCVaR calculates Conditional Value at Risk at the given confidence
// level: the mean of returns at or below the VaR threshold.
func CalculateCVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	if len(returns) == 1 {
		return returns[0]
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	tailProbability := 1.0 - confidence
	tailCount := int(math.Ceil(float64(len(sorted)) * tailProbability))
	if tailCount == 0 {
		tailCount = 1
	}
	if tailCount > len(sorted) {
		tailCount = len(sorted)
	}

	sum := 0.0
	for _, r := range sorted[:tailCount] {
		sum += r
	}

	return sum / float64(tailCount)
}

// MaxDrawdown calculates the maximum peak-to-trough drawdown of a return
// series as min(cumulative/running-max - 1). The result is <= 0.
func MaxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	cumulative := 1.0
	peak := 1.0
	maxDD := 0.0

	for _, r := range returns {
		cumulative *= 1 + r
		if cumulative > peak {
			peak = cumulative
		}
		if peak > 0 {
			dd := cumulative/peak - 1
			if dd < maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// SharpeRatio calculates the annualized Sharpe ratio of a periodic return
// series. Returns 0 when volatility is 0.
//
// Formula: (annualized return - risk-free rate) / annualized volatility
func SharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) float64 {
	vol := AnnualizedVolatility(returns, periodsPerYear)
	if vol == 0 {
		return 0
	}
	return (AnnualizedReturn(returns, periodsPerYear) - riskFreeRate) / vol
}

// SortinoRatio calculates the annualized Sortino ratio: excess return over
// downside deviation, where only returns below the periodic risk-free rate
// count toward deviation. Returns 0 when there is no downside.
func SortinoRatio(returns []float64, riskFreeRate float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}

	periodicRate := riskFreeRate / float64(periodsPerYear)

	var downsideSquaredSum float64
	downsideCount := 0
	for _, r := range returns {
		if r < periodicRate {
			d := r - periodicRate
			downsideSquaredSum += d * d
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return 0
	}

	downsideDeviation := math.Sqrt(downsideSquaredSum/float64(downsideCount)) *
		math.Sqrt(float64(periodsPerYear))
	if downsideDeviation == 0 {
		return 0
	}

	return (AnnualizedReturn(returns, periodsPerYear) - riskFreeRate) / downsideDeviation
}

// DiversificationRatio calculates the ratio of the weighted sum of individual
// volatilities to portfolio volatility: (sum w_i*sigma_i) / sigma_p.
//
// A ratio of 1 means no diversification benefit; higher is better. Returns 0
// when portfolio volatility is 0.
func DiversificationRatio(weights, volatilities []float64, portfolioVolatility float64) float64 {
	if portfolioVolatility == 0 || len(weights) != len(volatilities) {
		return 0
	}

	var weightedVol float64
	for i := range weights {
		weightedVol += weights[i] * volatilities[i]
	}

	return weightedVol / portfolioVolatility
}
