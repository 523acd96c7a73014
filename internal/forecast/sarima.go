package forecast

import (
	"errors"
	"fmt"
	"math"
)

// SARIMAOrder is the (p, d, q)(P, D, Q)m order of a seasonal ARIMA model.
type SARIMAOrder struct {
	P  int `json:"p"`
	D  int `json:"d"`
	Q  int `json:"q"`
	SP int `json:"sp"`
	SD int `json:"sd"`
	SQ int `json:"sq"`
	M  int `json:"m"` // seasonal period, 12 for monthly data
}

// SARIMA is a seasonal ARIMA model estimated by conditional sum of squares.
type SARIMA struct {
	order     SARIMAOrder
	arCoeffs  []float64
	maCoeffs  []float64
	sarCoeffs []float64
	smaCoeffs []float64
	intercept float64
	variance  float64
	metrics   FitMetrics

	fitted    bool
	original  []float64
	afterD    []float64 // after non-seasonal differencing
	diffed    []float64 // after both differencing stages
	residuals []float64
}

// NewSARIMA creates an unfitted SARIMA model with the given order.
func NewSARIMA(order SARIMAOrder) *SARIMA {
	if order.M <= 0 {
		order.M = 12
	}
	return &SARIMA{
		order:     order,
		arCoeffs:  make([]float64, order.P),
		maCoeffs:  make([]float64, order.Q),
		sarCoeffs: make([]float64, order.SP),
		smaCoeffs: make([]float64, order.SQ),
	}
}

func (m *SARIMA) Kind() ModelKind { return KindSARIMA }

func (m *SARIMA) Metrics() FitMetrics { return m.metrics }

// Order returns the model order.
func (m *SARIMA) Order() SARIMAOrder { return m.order }

// Fit estimates coefficients on the value sequence.
func (m *SARIMA) Fit(values []float64) error {
	o := m.order
	minLen := o.P + o.Q + o.D + (o.SP+o.SD+o.SQ)*o.M + MinObservations
	if err := checkSeries(values, minLen); err != nil {
		return err
	}

	m.original = append([]float64(nil), values...)

	afterD := m.original
	for i := 0; i < o.D; i++ {
		afterD = difference(afterD)
		if len(afterD) == 0 {
			return errors.New("differencing exhausted the series")
		}
	}
	m.afterD = afterD

	diffed := afterD
	for i := 0; i < o.SD; i++ {
		diffed = seasonalDifference(diffed, o.M)
		if len(diffed) == 0 {
			return errors.New("seasonal differencing exhausted the series")
		}
	}
	m.diffed = diffed

	if err := m.estimateCSS(); err != nil {
		return fmt.Errorf("sarima(%d,%d,%d)(%d,%d,%d)%d estimation: %w",
			o.P, o.D, o.Q, o.SP, o.SD, o.SQ, o.M, err)
	}

	params := o.P + o.Q + o.SP + o.SQ + 1
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

func (m *SARIMA) startIndex() int {
	o := m.order
	start := o.P
	if o.Q > start {
		start = o.Q
	}
	if s := o.SP * o.M; s > start {
		start = s
	}
	if s := o.SQ * o.M; s > start {
		start = s
	}
	return start
}

func (m *SARIMA) estimateCSS() error {
	y := m.diffed
	n := len(y)
	o := m.order

	m.intercept = mean(y)
	startIdx := m.startIndex()
	if startIdx >= n {
		return errors.New("order too large for differenced series")
	}

	if o.P > 0 {
		if a := acf(y, o.P); a != nil {
			if phi := yuleWalker(a, o.P); phi != nil {
				copy(m.arCoeffs, phi)
			}
		}
	}
	for i := range m.maCoeffs {
		m.maCoeffs[i] = 0.1
	}
	for i := range m.sarCoeffs {
		m.sarCoeffs[i] = 0.1
	}
	for i := range m.smaCoeffs {
		m.smaCoeffs[i] = 0.1
	}

	const (
		maxIter      = 100
		tolerance    = 1e-6
		learningRate = 0.01
	)

	residuals := make([]float64, n)
	prevSSE := math.Inf(1)

	for iter := 0; iter < maxIter; iter++ {
		sse := 0.0
		for t := startIdx; t < n; t++ {
			residuals[t] = y[t] - m.predictOne(y, residuals, t, n)
			sse += residuals[t] * residuals[t]
		}

		arGrad := make([]float64, o.P)
		maGrad := make([]float64, o.Q)
		sarGrad := make([]float64, o.SP)
		smaGrad := make([]float64, o.SQ)
		for t := startIdx; t < n; t++ {
			for i := 0; i < o.P; i++ {
				arGrad[i] -= 2 * residuals[t] * (y[t-i-1] - m.intercept)
			}
			for i := 0; i < o.Q; i++ {
				maGrad[i] -= 2 * residuals[t] * residuals[t-i-1]
			}
			for i := 0; i < o.SP; i++ {
				sarGrad[i] -= 2 * residuals[t] * (y[t-(i+1)*o.M] - m.intercept)
			}
			for i := 0; i < o.SQ; i++ {
				smaGrad[i] -= 2 * residuals[t] * residuals[t-(i+1)*o.M]
			}
		}
		for i := 0; i < o.P; i++ {
			m.arCoeffs[i] = clamp(m.arCoeffs[i]-learningRate*arGrad[i]/float64(n), 0.99)
		}
		for i := 0; i < o.Q; i++ {
			m.maCoeffs[i] = clamp(m.maCoeffs[i]-learningRate*maGrad[i]/float64(n), 0.99)
		}
		for i := 0; i < o.SP; i++ {
			m.sarCoeffs[i] = clamp(m.sarCoeffs[i]-learningRate*sarGrad[i]/float64(n), 0.99)
		}
		for i := 0; i < o.SQ; i++ {
			m.smaCoeffs[i] = clamp(m.smaCoeffs[i]-learningRate*smaGrad[i]/float64(n), 0.99)
		}

		if math.Abs(prevSSE-sse) < tolerance {
			break
		}
		prevSSE = sse
	}

	m.residuals = make([]float64, n)
	for t := 0; t < n; t++ {
		if t < startIdx {
			m.residuals[t] = y[t] - m.intercept
			continue
		}
		m.residuals[t] = y[t] - m.predictOne(y, m.residuals, t, n)
	}

	sse := 0.0
	count := 0
	for t := startIdx; t < n; t++ {
		sse += m.residuals[t] * m.residuals[t]
		count++
	}
	params := o.P + o.Q + o.SP + o.SQ + 1
	dof := count - params
	if dof < 1 {
		dof = count
	}
	if dof < 1 {
		return errors.New("not enough residuals to estimate variance")
	}
	m.variance = sse / float64(dof)
	return nil
}

// predictOne computes the conditional mean at index t. Residual lags past
// resLimit (the observed range) contribute zero.
func (m *SARIMA) predictOne(y, residuals []float64, t, resLimit int) float64 {
	o := m.order
	pred := m.intercept
	for i := 0; i < o.P && t-i-1 >= 0; i++ {
		pred += m.arCoeffs[i] * (y[t-i-1] - m.intercept)
	}
	for i := 0; i < o.SP && t-(i+1)*o.M >= 0; i++ {
		pred += m.sarCoeffs[i] * (y[t-(i+1)*o.M] - m.intercept)
	}
	for i := 0; i < o.Q && t-i-1 >= 0 && t-i-1 < resLimit; i++ {
		pred += m.maCoeffs[i] * residuals[t-i-1]
	}
	for i := 0; i < o.SQ && t-(i+1)*o.M >= 0 && t-(i+1)*o.M < resLimit; i++ {
		pred += m.smaCoeffs[i] * residuals[t-(i+1)*o.M]
	}
	return pred
}

// Predict forecasts horizon steps past the training window.
func (m *SARIMA) Predict(horizon int) ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}

	o := m.order
	n := len(m.diffed)
	extY := make([]float64, n+horizon)
	copy(extY, m.diffed)
	extRes := make([]float64, n+horizon)
	copy(extRes, m.residuals)

	for h := 0; h < horizon; h++ {
		t := n + h
		extY[t] = m.predictOne(extY, extRes, t, n)
	}

	forecasts := append([]float64(nil), extY[n:]...)

	// Undo seasonal differencing first, anchored on the tail of the
	// non-seasonally-differenced series.
	for i := 0; i < o.SD; i++ {
		anchored := make([]float64, len(forecasts))
		base := m.afterD
		for j := range forecasts {
			if j < o.M {
				anchored[j] = forecasts[j] + base[len(base)-o.M+j]
			} else {
				anchored[j] = forecasts[j] + anchored[j-o.M]
			}
		}
		forecasts = anchored
	}

	if o.D > 0 {
		forecasts = integrate(forecasts, m.original, o.D)
	}
	return FloorNonNegative(forecasts), nil
}
