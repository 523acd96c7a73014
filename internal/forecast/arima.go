package forecast

import (
	"errors"
	"fmt"
	"math"
)

// ARIMAOrder is the (p, d, q) order of an ARIMA model.
type ARIMAOrder struct {
	P int `json:"p"` // autoregressive terms
	D int `json:"d"` // differencing order
	Q int `json:"q"` // moving-average terms
}

// ARIMA is an autoregressive integrated moving-average model estimated by
// conditional sum of squares.
type ARIMA struct {
	order     ARIMAOrder
	arCoeffs  []float64
	maCoeffs  []float64
	intercept float64
	variance  float64
	metrics   FitMetrics

	fitted    bool
	original  []float64
	diffed    []float64
	residuals []float64
}

// NewARIMA creates an unfitted ARIMA model with the given order.
func NewARIMA(order ARIMAOrder) *ARIMA {
	return &ARIMA{
		order:    order,
		arCoeffs: make([]float64, order.P),
		maCoeffs: make([]float64, order.Q),
	}
}

func (m *ARIMA) Kind() ModelKind { return KindARIMA }

func (m *ARIMA) Metrics() FitMetrics { return m.metrics }

// Order returns the model order.
func (m *ARIMA) Order() ARIMAOrder { return m.order }

// Fit estimates coefficients on the value sequence.
func (m *ARIMA) Fit(values []float64) error {
	minLen := m.order.P + m.order.Q + m.order.D + MinObservations
	if err := checkSeries(values, minLen); err != nil {
		return err
	}

	m.original = append([]float64(nil), values...)

	diffed := m.original
	for i := 0; i < m.order.D; i++ {
		diffed = difference(diffed)
		if len(diffed) == 0 {
			return errors.New("differencing exhausted the series")
		}
	}
	m.diffed = diffed

	if err := m.estimateCSS(); err != nil {
		return fmt.Errorf("arima(%d,%d,%d) estimation: %w", m.order.P, m.order.D, m.order.Q, err)
	}

	params := m.order.P + m.order.Q + 1
	aic, aicc, bic := informationCriteria(m.residuals, m.variance, params)
	m.metrics = FitMetrics{
		Observations: len(values),
		Variance:     m.variance,
		AIC:          aic,
		AICc:         aicc,
		BIC:          bic,
	}

	m.fitted = true
	return nil
}

// estimateCSS runs conditional-sum-of-squares estimation: Yule-Walker
// initialization for the AR part, then gradient refinement of both parts.
func (m *ARIMA) estimateCSS() error {
	y := m.diffed
	n := len(y)
	p, q := m.order.P, m.order.Q

	m.intercept = mean(y)

	if p == 0 && q == 0 {
		m.residuals = make([]float64, n)
		for i, v := range y {
			m.residuals[i] = v - m.intercept
		}
		m.variance = sampleVariance(y)
		return nil
	}

	if p > 0 {
		if a := acf(y, p); a != nil {
			if phi := yuleWalker(a, p); phi != nil {
				copy(m.arCoeffs, phi)
			}
		}
	}
	for i := range m.maCoeffs {
		m.maCoeffs[i] = 0.1
	}

	const (
		maxIter      = 100
		tolerance    = 1e-6
		learningRate = 0.01
	)
	startIdx := p
	if q > startIdx {
		startIdx = q
	}

	residuals := make([]float64, n)
	prevSSE := math.Inf(1)

	for iter := 0; iter < maxIter; iter++ {
		sse := 0.0
		for t := startIdx; t < n; t++ {
			residuals[t] = y[t] - m.predictOne(y, residuals, t)
			sse += residuals[t] * residuals[t]
		}

		arGrad := make([]float64, p)
		maGrad := make([]float64, q)
		for t := startIdx; t < n; t++ {
			for i := 0; i < p; i++ {
				arGrad[i] -= 2 * residuals[t] * (y[t-i-1] - m.intercept)
			}
			for i := 0; i < q; i++ {
				maGrad[i] -= 2 * residuals[t] * residuals[t-i-1]
			}
		}
		for i := 0; i < p; i++ {
			m.arCoeffs[i] = clamp(m.arCoeffs[i]-learningRate*arGrad[i]/float64(n), 0.99)
		}
		for i := 0; i < q; i++ {
			m.maCoeffs[i] = clamp(m.maCoeffs[i]-learningRate*maGrad[i]/float64(n), 0.99)
		}

		if math.Abs(prevSSE-sse) < tolerance {
			break
		}
		prevSSE = sse
	}

	// Final residual pass with the settled coefficients
	m.residuals = make([]float64, n)
	for t := 0; t < n; t++ {
		if t < startIdx {
			m.residuals[t] = y[t] - m.intercept
			continue
		}
		m.residuals[t] = y[t] - m.predictOne(y, m.residuals, t)
	}

	sse := 0.0
	count := 0
	for t := startIdx; t < n; t++ {
		sse += m.residuals[t] * m.residuals[t]
		count++
	}
	dof := count - p - q - 1
	if dof < 1 {
		dof = count
	}
	if dof < 1 {
		return errors.New("not enough residuals to estimate variance")
	}
	m.variance = sse / float64(dof)
	return nil
}

// predictOne computes the one-step conditional mean at index t over the
// differenced scale.
func (m *ARIMA) predictOne(y, residuals []float64, t int) float64 {
	pred := m.intercept
	for i := 0; i < m.order.P && t-i-1 >= 0; i++ {
		pred += m.arCoeffs[i] * (y[t-i-1] - m.intercept)
	}
	for i := 0; i < m.order.Q && t-i-1 >= 0; i++ {
		pred += m.maCoeffs[i] * residuals[t-i-1]
	}
	return pred
}

// Predict forecasts horizon steps past the training window.
func (m *ARIMA) Predict(horizon int) ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}

	n := len(m.diffed)
	extY := make([]float64, n+horizon)
	copy(extY, m.diffed)
	extRes := make([]float64, n+horizon)
	copy(extRes, m.residuals)

	for h := 0; h < horizon; h++ {
		t := n + h
		pred := m.intercept
		for i := 0; i < m.order.P && t-i-1 >= 0; i++ {
			pred += m.arCoeffs[i] * (extY[t-i-1] - m.intercept)
		}
		// future residuals have zero expectation
		for i := 0; i < m.order.Q && t-i-1 >= 0 && t-i-1 < n; i++ {
			pred += m.maCoeffs[i] * extRes[t-i-1]
		}
		extY[t] = pred
	}

	forecasts := append([]float64(nil), extY[n:]...)
	if m.order.D > 0 {
		forecasts = integrate(forecasts, m.original, m.order.D)
	}
	return FloorNonNegative(forecasts), nil
}

// integrate undoes d rounds of differencing, anchoring on the tail of the
// original series.
func integrate(forecasts, original []float64, d int) []float64 {
	result := append([]float64(nil), forecasts...)
	for i := 0; i < d; i++ {
		last := original[len(original)-1-i]
		for j := range result {
			if j == 0 {
				result[j] += last
			} else {
				result[j] += result[j-1]
			}
		}
	}
	return result
}
