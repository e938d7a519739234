// Package formulas provides pure numeric helpers shared by the optimization
// engine: descriptive statistics, annualization, and risk measures.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingPeriodsPerYear is the annualization constant for daily return data.
const TradingPeriodsPerYear = 252

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// Correlation calculates the Pearson correlation coefficient between two series
func Correlation(x, y []float64) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// Covariance calculates the sample covariance between two series
func Covariance(x, y []float64) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// AnnualizedReturn annualizes the mean of periodic returns.
//
// Formula: mean(returns) * periodsPerYear
//
// The simple (arithmetic) annualization is used for optimizer inputs; the
// compound variant below is used for reporting.
func AnnualizedReturn(returns []float64, periodsPerYear int) float64 {
	if len(returns) == 0 {
		return 0
	}
	return Mean(returns) * float64(periodsPerYear)
}

// AnnualizedVolatility annualizes the standard deviation of periodic returns.
//
// Formula: stddev(returns) * sqrt(periodsPerYear)
func AnnualizedVolatility(returns []float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	return StdDev(returns) * math.Sqrt(float64(periodsPerYear))
}

// CompoundAnnualReturn calculates the compound annual growth rate from
// periodic returns.
//
// Formula: ((1+r1)*(1+r2)*...*(1+rN))^(periodsPerYear/N) - 1
//
// For very short series (< 3 periods) the simple cumulative return is
// returned to avoid extreme annualization.
func CompoundAnnualReturn(returns []float64, periodsPerYear int) float64 {
	if len(returns) == 0 {
		return 0
	}

	cumulative := 1.0
	for _, r := range returns {
		cumulative *= 1 + r
	}

	numPeriods := float64(len(returns))
	if numPeriods < 3 {
		return cumulative - 1
	}

	years := numPeriods / float64(periodsPerYear)
	return math.Pow(cumulative, 1.0/years) - 1
}

// CalculateReturns converts prices to fractional returns.
// Returns[i] = (Price[i] - Price[i-1]) / Price[i-1]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// WeightedReturns computes the per-period return series of a weighted
// portfolio. All series must have equal length; series order follows the
// outer slice.
func WeightedReturns(weights []float64, series [][]float64) []float64 {
	if len(series) == 0 || len(weights) != len(series) {
		return []float64{}
	}

	t := len(series[0])
	for _, s := range series {
		if len(s) != t {
			return []float64{}
		}
	}

	out := make([]float64, t)
	for k := 0; k < t; k++ {
		var v float64
		for i := range weights {
			v += weights[i] * series[i][k]
		}
		out[k] = v
	}
	return out
}
