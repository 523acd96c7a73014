package forecast

import (
	"fmt"
)

// SmoothingConfig holds Holt-Winters parameters.
type SmoothingConfig struct {
	Alpha          float64 // level
	Beta           float64 // trend
	Gamma          float64 // seasonal
	SeasonalPeriod int
}

// DefaultSmoothingConfig returns production defaults for monthly data.
func DefaultSmoothingConfig() SmoothingConfig {
	return SmoothingConfig{
		Alpha:          0.3,
		Beta:           0.1,
		Gamma:          0.1,
		SeasonalPeriod: 12,
	}
}

// ExponentialSmoothing is a Holt-Winters model with additive trend and
// additive seasonality. With fewer than two full seasons of history it
// degrades to double (trend-only) smoothing.
type ExponentialSmoothing struct {
	config  SmoothingConfig
	metrics FitMetrics

	fitted   bool
	seasonal bool
	level    float64
	trend    float64
	season   []float64 // one factor per period position
	seasonAt int       // index into season for the next forecast step
}

// NewExponentialSmoothing creates an unfitted smoothing model.
func NewExponentialSmoothing(config SmoothingConfig) *ExponentialSmoothing {
	if config.Alpha <= 0 || config.Alpha > 1 {
		config.Alpha = 0.3
	}
	if config.Beta <= 0 || config.Beta > 1 {
		config.Beta = 0.1
	}
	if config.Gamma <= 0 || config.Gamma > 1 {
		config.Gamma = 0.1
	}
	if config.SeasonalPeriod <= 0 {
		config.SeasonalPeriod = 12
	}
	return &ExponentialSmoothing{config: config}
}

func (m *ExponentialSmoothing) Kind() ModelKind { return KindExponentialSmoothing }

func (m *ExponentialSmoothing) Metrics() FitMetrics { return m.metrics }

// Fit runs the smoothing recursion over the training values.
func (m *ExponentialSmoothing) Fit(values []float64) error {
	if err := checkSeries(values, MinObservations); err != nil {
		return err
	}

	period := m.config.SeasonalPeriod
	m.seasonal = len(values) >= 2*period

	var residuals []float64
	if m.seasonal {
		residuals = m.fitSeasonal(values)
	} else {
		residuals = m.fitTrendOnly(values)
	}

	m.metrics = FitMetrics{
		Observations: len(values),
		Variance:     sampleVariance(residuals),
	}
	m.fitted = true
	return nil
}

func (m *ExponentialSmoothing) fitSeasonal(values []float64) []float64 {
	alpha, beta, gamma := m.config.Alpha, m.config.Beta, m.config.Gamma
	period := m.config.SeasonalPeriod
	n := len(values)

	// Initialize level as the first season's mean, trend as the mean
	// per-step change across the first two seasons, seasonal factors as
	// deviations from the initial level.
	level := mean(values[:period])
	trend := 0.0
	for i := 0; i < period; i++ {
		trend += (values[period+i] - values[i]) / float64(period)
	}
	trend /= float64(period)

	season := make([]float64, period)
	for i := 0; i < period; i++ {
		season[i] = values[i] - level
	}

	residuals := make([]float64, 0, n)
	for t := 0; t < n; t++ {
		si := t % period
		fitted := level + trend + season[si]
		residuals = append(residuals, values[t]-fitted)

		prevLevel := level
		level = alpha*(values[t]-season[si]) + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
		season[si] = gamma*(values[t]-level) + (1-gamma)*season[si]
	}

	m.level = level
	m.trend = trend
	m.season = season
	m.seasonAt = n % period
	return residuals
}

func (m *ExponentialSmoothing) fitTrendOnly(values []float64) []float64 {
	alpha, beta := m.config.Alpha, m.config.Beta
	n := len(values)

	level := values[0]
	trend := values[1] - values[0]

	residuals := make([]float64, 0, n)
	for t := 0; t < n; t++ {
		fitted := level + trend
		residuals = append(residuals, values[t]-fitted)

		prevLevel := level
		level = alpha*values[t] + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
	}

	m.level = level
	m.trend = trend
	m.season = nil
	return residuals
}

// Predict forecasts horizon steps past the training window.
func (m *ExponentialSmoothing) Predict(horizon int) ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}

	out := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		v := m.level + float64(h+1)*m.trend
		if m.seasonal {
			si := (m.seasonAt + h) % m.config.SeasonalPeriod
			v += m.season[si]
		}
		out[h] = v
	}
	return FloorNonNegative(out), nil
}
