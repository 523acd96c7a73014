package forecast

import (
	"fmt"
	"math"
)

// AdditiveDecomposition forecasts by classical decomposition: a centered
// moving-average trend, per-period seasonal means, and linear extrapolation
// of the trend. It plays the role of a general additive-components model for
// strongly seasonal retail series.
type AdditiveDecomposition struct {
	period  int
	metrics FitMetrics

	fitted     bool
	n          int
	slope      float64 // fitted linear trend
	interceptT float64 // trend value at t=0
	season     []float64
}

// NewAdditiveDecomposition creates an unfitted decomposition forecaster.
// period defaults to 12.
func NewAdditiveDecomposition(period int) *AdditiveDecomposition {
	if period <= 0 {
		period = 12
	}
	return &AdditiveDecomposition{period: period}
}

func (m *AdditiveDecomposition) Kind() ModelKind { return KindAdditiveDecomposition }

func (m *AdditiveDecomposition) Metrics() FitMetrics { return m.metrics }

// Fit decomposes the values into trend + seasonal + residual.
func (m *AdditiveDecomposition) Fit(values []float64) error {
	min := 2 * m.period
	if min < MinObservations {
		min = MinObservations
	}
	if err := checkSeries(values, min); err != nil {
		return err
	}

	n := len(values)
	trend := centeredMovingAverage(values, m.period)

	// Seasonal component: mean detrended value per period position
	season := make([]float64, m.period)
	counts := make([]int, m.period)
	for i := 0; i < n; i++ {
		if math.IsNaN(trend[i]) {
			continue
		}
		si := i % m.period
		season[si] += values[i] - trend[i]
		counts[si]++
	}
	for i := range season {
		if counts[i] > 0 {
			season[i] /= float64(counts[i])
		}
	}
	// Center the seasonal pattern so it sums to zero
	adj := mean(season)
	for i := range season {
		season[i] -= adj
	}

	// Fit a line through the defined trend points for extrapolation
	slope, intercept, ok := fitLine(trend)
	if !ok {
		return fmt.Errorf("decomposition trend fit failed: no defined trend points")
	}

	residuals := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		fitted := intercept + slope*float64(i) + season[i%m.period]
		residuals = append(residuals, values[i]-fitted)
	}

	m.n = n
	m.slope = slope
	m.interceptT = intercept
	m.season = season
	m.metrics = FitMetrics{
		Observations: n,
		Variance:     sampleVariance(residuals),
	}
	m.fitted = true
	return nil
}

// Predict extrapolates the trend line and replays the seasonal pattern.
func (m *AdditiveDecomposition) Predict(horizon int) ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}

	out := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		t := m.n + h
		out[h] = m.interceptT + m.slope*float64(t) + m.season[t%m.period]
	}
	return FloorNonNegative(out), nil
}

// centeredMovingAverage computes the classical trend estimate. For an even
// period the average of two adjacent windows is used. Edges where no full
// window fits are NaN.
func centeredMovingAverage(values []float64, period int) []float64 {
	n := len(values)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	half := period / 2
	if period%2 == 1 {
		for i := half; i < n-half; i++ {
			sum := 0.0
			for j := i - half; j <= i+half; j++ {
				sum += values[j]
			}
			out[i] = sum / float64(period)
		}
		return out
	}

	for i := half; i < n-half; i++ {
		sum := 0.5*values[i-half] + 0.5*values[i+half]
		for j := i - half + 1; j < i+half; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(period)
	}
	return out
}

// fitLine runs least squares over the non-NaN points of a sequence indexed
// by position.
func fitLine(values []float64) (slope, intercept float64, ok bool) {
	var sumX, sumY, sumXY, sumXX float64
	n := 0.0
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
		n++
	}
	if n < 2 {
		return 0, 0, false
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0, false
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept, true
}
