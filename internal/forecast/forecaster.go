package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/retailcast/demandcast/internal/dataset"
)

// MinObservations is the minimum training length for any statistical kind.
const MinObservations = 12

var (
	// ErrNotFitted is returned by Predict before a successful Fit.
	ErrNotFitted = errors.New("model not fitted")

	// ErrInsufficientHistory is a fit failure caused by a too-short series.
	ErrInsufficientHistory = errors.New("insufficient history to fit model")
)

// Forecaster is the single capability all model families implement.
// Fit moves the model from UNFITTED to FITTED; Predict never mutates state,
// so a fitted model can forecast repeatedly.
type Forecaster interface {
	// Fit trains on an ordered, gap-free value sequence.
	Fit(values []float64) error

	// Predict returns horizon future values continuing immediately after
	// the last training observation. Values are floored at zero.
	Predict(horizon int) ([]float64, error)

	// Kind identifies the model family.
	Kind() ModelKind

	// Metrics returns training diagnostics; zero value until fitted.
	Metrics() FitMetrics
}

// FitMetrics are in-sample training diagnostics comparable across kinds
// where defined (information criteria apply to the statistical family only).
type FitMetrics struct {
	Observations int     `json:"observations"`
	Variance     float64 `json:"variance"`
	AIC          float64 `json:"aic,omitempty"`
	AICc         float64 `json:"aicc,omitempty"`
	BIC          float64 `json:"bic,omitempty"`
}

// TrainedModel couples a fitted forecaster with its identity and window.
type TrainedModel struct {
	ID         string
	Kind       ModelKind
	Entity     string
	TrainedAt  time.Time
	WindowFrom dataset.Period
	WindowTo   dataset.Period
	Forecaster Forecaster
}

// NewModelID builds the canonical model identifier. The kind and entity
// prefix makes registry prefix-lookups possible.
func NewModelID(kind ModelKind, entity string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", kind, entity, at.UTC().Format("20060102-150405"))
}

// FloorNonNegative clips forecast values at zero in place and returns the
// slice for chaining.
func FloorNonNegative(values []float64) []float64 {
	for i, v := range values {
		if v < 0 {
			values[i] = 0
		}
	}
	return values
}

// LogTransform wraps a forecaster with a log1p variance-stabilizing
// transform: training values are log1p'd before Fit and forecasts are
// expm1'd back before return.
type LogTransform struct {
	inner Forecaster
}

// WithLogTransform wraps the forecaster.
func WithLogTransform(inner Forecaster) *LogTransform {
	return &LogTransform{inner: inner}
}

func (l *LogTransform) Fit(values []float64) error {
	transformed := make([]float64, len(values))
	for i, v := range values {
		if v < 0 {
			return fmt.Errorf("log transform requires non-negative values, got %f at %d", v, i)
		}
		transformed[i] = math.Log1p(v)
	}
	return l.inner.Fit(transformed)
}

func (l *LogTransform) Predict(horizon int) ([]float64, error) {
	preds, err := l.inner.Predict(horizon)
	if err != nil {
		return nil, err
	}
	for i, v := range preds {
		preds[i] = math.Expm1(v)
	}
	return FloorNonNegative(preds), nil
}

func (l *LogTransform) Kind() ModelKind { return l.inner.Kind() }

func (l *LogTransform) Metrics() FitMetrics { return l.inner.Metrics() }

// checkSeries validates a training sequence: long enough, finite, gap-free.
func checkSeries(values []float64, min int) error {
	if len(values) < min {
		return fmt.Errorf("%w: %d observations, need %d", ErrInsufficientHistory, len(values), min)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value at index %d", i)
		}
	}
	return nil
}

// constantSeries reports whether all values are (nearly) identical. Constant
// input makes most estimators singular; callers degrade to a flat forecast.
func constantSeries(values []float64) bool {
	if len(values) == 0 {
		return true
	}
	first := values[0]
	for _, v := range values[1:] {
		if math.Abs(v-first) > 1e-12 {
			return false
		}
	}
	return true
}
