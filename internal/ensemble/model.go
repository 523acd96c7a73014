package ensemble

import (
	"fmt"
	"math"

	"github.com/retailcast/demandcast/internal/dataset"
	"github.com/retailcast/demandcast/internal/eval"
	"github.com/retailcast/demandcast/internal/features"
	"github.com/retailcast/demandcast/internal/forecast"
)

// SeriesForecaster adapts a feature-based regressor to the common
// Forecaster contract for one entity. Fit regenerates the entity's feature
// matrix from the supplied target values; Predict extends the series one
// period at a time, rebuilding calendar and lag features from the history
// plus its own predictions.
type SeriesForecaster struct {
	kind    forecast.ModelKind
	config  RegressorConfig
	builder *features.Builder
	series  *dataset.PreparedSeries
	target  TargetField

	regressor Regressor
	scaler    *StandardScaler
	metrics   forecast.FitMetrics
	fitted    bool
}

// NewSeriesForecaster binds a regressor kind to an entity's series context.
// The series supplies periods and the secondary value track; the target
// values come in through Fit.
func NewSeriesForecaster(kind forecast.ModelKind, config RegressorConfig, builder *features.Builder, series *dataset.PreparedSeries, target TargetField) (*SeriesForecaster, error) {
	if !kind.IsEnsemble() {
		return nil, fmt.Errorf("kind %s is not a feature-based regressor", kind)
	}
	return &SeriesForecaster{
		kind:    kind,
		config:  config,
		builder: builder,
		series:  series.Clone(),
		target:  target,
	}, nil
}

func (f *SeriesForecaster) Kind() forecast.ModelKind { return f.kind }

func (f *SeriesForecaster) Metrics() forecast.FitMetrics { return f.metrics }

// Fit trains the regressor on the entity's engineered features against the
// given target values, which must align with the series periods.
func (f *SeriesForecaster) Fit(values []float64) error {
	if len(values) != f.series.Len() {
		return fmt.Errorf("got %d values for %d series periods", len(values), f.series.Len())
	}
	f.setTarget(f.series, values)

	fs := f.builder.Build(f.series)
	m, err := Prepare(fs, f.target)
	if err != nil {
		return fmt.Errorf("%w: %v", forecast.ErrInsufficientHistory, err)
	}

	f.scaler = FitScaler(m)
	scaled, err := f.scaler.Transform(m.Rows)
	if err != nil {
		return err
	}

	f.regressor, err = NewRegressor(f.kind, f.config)
	if err != nil {
		return err
	}
	if err := f.regressor.Fit(scaled, m.Targets); err != nil {
		return fmt.Errorf("%s fit: %w", f.kind, err)
	}

	fitted, err := f.regressor.Predict(scaled)
	if err != nil {
		return err
	}
	residuals := make([]float64, len(fitted))
	for i := range fitted {
		residuals[i] = m.Targets[i] - fitted[i]
	}
	f.metrics = forecast.FitMetrics{
		Observations: len(m.Targets),
		Variance:     varianceOf(residuals),
	}
	f.fitted = true
	return nil
}

// Predict walks forward one month at a time so lag and rolling features can
// feed on earlier predictions.
func (f *SeriesForecaster) Predict(horizon int) ([]float64, error) {
	if !f.fitted || f.scaler == nil {
		return nil, forecast.ErrNotFitted
	}
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}

	extended := f.series.Clone()
	out := make([]float64, 0, horizon)

	for h := 0; h < horizon; h++ {
		next := extended.Periods[extended.Len()-1].Next()
		extended.Periods = append(extended.Periods, next)
		// The non-target track carries its last value forward; the target
		// slot is filled after prediction.
		extended.Quantity = append(extended.Quantity, lastValue(extended.Quantity))
		extended.Revenue = append(extended.Revenue, lastValue(extended.Revenue))

		fs := f.builder.Build(extended)
		row := fs.Rows[len(fs.Rows)-1].Values

		// Mean-impute features undefined for the future period (e.g., an
		// exogenous table that ran out) so scaling maps them to zero.
		patched := make([]float64, len(row))
		for c, v := range row {
			if math.IsNaN(v) {
				patched[c] = f.scaler.Mean[c]
			} else {
				patched[c] = v
			}
		}
		scaled, err := f.scaler.Transform([][]float64{patched})
		if err != nil {
			return nil, err
		}
		preds, err := f.regressor.Predict(scaled)
		if err != nil {
			return nil, err
		}

		v := preds[0]
		if v < 0 {
			v = 0
		}
		out = append(out, v)
		f.setTargetAt(extended, extended.Len()-1, v)
	}
	return out, nil
}

func (f *SeriesForecaster) setTarget(s *dataset.PreparedSeries, values []float64) {
	if f.target == TargetRevenue {
		copy(s.Revenue, values)
		return
	}
	copy(s.Quantity, values)
}

func (f *SeriesForecaster) setTargetAt(s *dataset.PreparedSeries, i int, v float64) {
	if f.target == TargetRevenue {
		s.Revenue[i] = v
		return
	}
	s.Quantity[i] = v
}

func lastValue(values []float64) float64 {
	for i := len(values) - 1; i >= 0; i-- {
		if !math.IsNaN(values[i]) {
			return values[i]
		}
	}
	return 0
}

func varianceOf(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := 0.0
	for _, v := range values {
		m += v
	}
	m /= float64(len(values))
	ss := 0.0
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return ss / float64(len(values)-1)
}

// EvaluateRegressor scores a fitted regressor on held-out rows scaled with
// the training scaler.
func EvaluateRegressor(r Regressor, scaler *StandardScaler, X [][]float64, y []float64) (*eval.Metrics, error) {
	if scaler == nil {
		return nil, fmt.Errorf("no fitted scaler")
	}
	scaled, err := scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	preds, err := r.Predict(scaled)
	if err != nil {
		return nil, err
	}
	return eval.Evaluate(y, preds)
}
