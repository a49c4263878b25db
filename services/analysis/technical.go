package analysis

import (
	"math"

	"chartstream-backend/models"
)

// Classification thresholds for the trend slope and volume ratio
const (
	TrendSlopeThreshold = 0.001
	VolumeHighRatio     = 1.5
	VolumeLowRatio      = 0.5
	MinTrendPoints      = 5
	TrendWindow         = 10
	RSIPeriod           = 14
)

// LinearSlope fits a first-degree least-squares line over (index, value)
// pairs and returns its slope. Returns false when the fit is degenerate.
func LinearSlope(values []float64) (float64, bool) {
	n := float64(len(values))
	if len(values) < 2 {
		return 0, false
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0, false
	}

	slope := (n*sumXY - sumX*sumY) / denominator
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0, false
	}
	return slope, true
}

// ClassifyTrend derives the coarse price direction from recent prices.
// Fewer than MinTrendPoints observations always classify as neutral.
func ClassifyTrend(prices []float64) models.TrendDirection {
	if len(prices) < MinTrendPoints {
		return models.TrendNeutral
	}

	window := prices
	if len(window) > TrendWindow {
		window = window[len(window)-TrendWindow:]
	}

	slope, ok := LinearSlope(window)
	if !ok {
		return models.TrendNeutral
	}

	switch {
	case slope > TrendSlopeThreshold:
		return models.TrendUp
	case slope < -TrendSlopeThreshold:
		return models.TrendDown
	default:
		return models.TrendNeutral
	}
}

// ClassifyVolumeTrend compares the latest volume to the mean of the volumes
// preceding it within the recent window.
func ClassifyVolumeTrend(volumes []float64) models.VolumeTrend {
	if len(volumes) < MinTrendPoints {
		return models.VolumeNeutral
	}

	window := volumes
	if len(window) > TrendWindow {
		window = window[len(window)-TrendWindow:]
	}

	current := window[len(window)-1]
	prior := window[:len(window)-1]

	var sum float64
	for _, v := range prior {
		sum += v
	}
	avg := sum / float64(len(prior))
	if avg == 0 {
		return models.VolumeNormal
	}

	switch {
	case current > avg*VolumeHighRatio:
		return models.VolumeHigh
	case current < avg*VolumeLowRatio:
		return models.VolumeLow
	default:
		return models.VolumeNormal
	}
}

// CalculateRSI computes the Relative Strength Index over the trailing
// period. Requires period+1 closes; returns false otherwise.
func CalculateRSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	// Use only the most recent period+1 closes
	window := closes[len(closes)-period-1:]

	var gains, losses float64
	for i := 1; i < len(window); i++ {
		change := window[i] - window[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100, true
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// MeanStd computes mean and population standard deviation
func MeanStd(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))

	if len(data) == 1 {
		return mean, 0
	}

	varianceSum := 0.0
	for _, v := range data {
		varianceSum += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(varianceSum / float64(len(data)))
}

// Volatility is the standard deviation of period-over-period returns,
// expressed as a percentage.
func Volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}

	_, std := MeanStd(returns)
	return std * 100
}

// PercentChange computes the change over the trailing N periods
func PercentChange(prices []float64, periods int) float64 {
	if len(prices) < periods+1 {
		return 0
	}

	old := prices[len(prices)-periods-1]
	current := prices[len(prices)-1]
	if old == 0 {
		return 0
	}
	return ((current - old) / old) * 100
}
