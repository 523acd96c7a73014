package ensemble

import (
	"math"
	"testing"

	"github.com/retailcast/demandcast/internal/dataset"
	"github.com/retailcast/demandcast/internal/features"
	"github.com/retailcast/demandcast/internal/forecast"
)

func testSeries(t *testing.T, months int) *dataset.PreparedSeries {
	t.Helper()
	s := &dataset.PreparedSeries{Category: "chairs"}
	p := dataset.Period{Year: 2021, Month: 1}
	for i := 0; i < months; i++ {
		q := 200 + 2*float64(i) + 40*math.Sin(2*math.Pi*float64(i)/12)
		s.Periods = append(s.Periods, p)
		s.Quantity = append(s.Quantity, q)
		s.Revenue = append(s.Revenue, q*12.5)
		p = p.Next()
	}
	return s
}

func testMatrix(t *testing.T, months int) *Matrix {
	t.Helper()
	s := testSeries(t, months)
	fs := features.NewBuilder(features.DefaultConfig()).Build(s)
	m, err := Prepare(fs, TargetQuantity)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return m
}

func TestPrepareFillsFeatureGaps(t *testing.T) {
	m := testMatrix(t, 36)
	if len(m.Rows) != 36 {
		t.Fatalf("expected 36 rows, got %d", len(m.Rows))
	}
	for r, row := range m.Rows {
		for c, v := range row {
			if math.IsNaN(v) {
				t.Fatalf("NaN left in row %d column %s", r, m.Names[c])
			}
		}
	}
}

func TestSplitTimeKeepsChronology(t *testing.T) {
	m := testMatrix(t, 30)
	train, test, err := m.SplitTime(0.2)
	if err != nil {
		t.Fatalf("SplitTime: %v", err)
	}
	if len(train.Rows)+len(test.Rows) != len(m.Rows) {
		t.Fatalf("split lost rows: %d + %d != %d", len(train.Rows), len(test.Rows), len(m.Rows))
	}
	last := train.Periods[len(train.Periods)-1]
	for _, p := range test.Periods {
		if p.Before(last) {
			t.Fatalf("test period %v precedes training period %v", p, last)
		}
	}
}

func TestStandardScalerRoundTrip(t *testing.T) {
	m := testMatrix(t, 24)
	s := FitScaler(m)
	scaled, err := s.Transform(m.Rows)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	// Columns should come out near zero mean after scaling.
	for c := range m.Names {
		sum := 0.0
		for r := range scaled {
			sum += scaled[r][c]
		}
		mean := sum / float64(len(scaled))
		if math.Abs(mean) > 1e-9 {
			t.Fatalf("column %s mean %f after scaling", m.Names[c], mean)
		}
	}
}

func TestRegressorsFitAndPredict(t *testing.T) {
	m := testMatrix(t, 36)
	scaler := FitScaler(m)
	scaled, err := scaler.Transform(m.Rows)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	for _, kind := range forecast.EnsembleKinds() {
		r, err := NewRegressor(kind, DefaultRegressorConfig())
		if err != nil {
			t.Fatalf("%s: NewRegressor: %v", kind, err)
		}
		if err := r.Fit(scaled, m.Targets); err != nil {
			t.Fatalf("%s: Fit: %v", kind, err)
		}
		preds, err := r.Predict(scaled)
		if err != nil {
			t.Fatalf("%s: Predict: %v", kind, err)
		}
		if len(preds) != len(m.Targets) {
			t.Fatalf("%s: got %d predictions for %d rows", kind, len(preds), len(m.Targets))
		}
		for i, p := range preds {
			if math.IsNaN(p) || math.IsInf(p, 0) {
				t.Fatalf("%s: non-finite prediction at %d", kind, i)
			}
		}
	}
}

func TestLinearFitsWithConstantColumns(t *testing.T) {
	// Scaled single-entity matrices always hold constant columns (a flat
	// holiday flag scales to all zeros), so plain least squares must not
	// choke on the singular normal equations they would otherwise cause.
	X := [][]float64{
		{0, 1.0, 5.0},
		{0, 2.0, 5.0},
		{0, 3.0, 5.0},
		{0, 4.0, 5.0},
	}
	y := []float64{10, 20, 30, 40}

	for _, kind := range []forecast.ModelKind{forecast.KindLinear, forecast.KindRidge} {
		r, err := NewRegressor(kind, DefaultRegressorConfig())
		if err != nil {
			t.Fatalf("%s: NewRegressor: %v", kind, err)
		}
		if err := r.Fit(X, y); err != nil {
			t.Fatalf("%s: Fit with constant columns: %v", kind, err)
		}
		preds, err := r.Predict(X)
		if err != nil {
			t.Fatalf("%s: Predict: %v", kind, err)
		}
		for i, p := range preds {
			if math.IsNaN(p) || math.IsInf(p, 0) {
				t.Fatalf("%s: non-finite prediction at %d", kind, i)
			}
		}
		// The varying column carries all the signal; unpenalized least
		// squares should track it exactly (ridge shrinks the slope).
		if kind == forecast.KindLinear {
			if math.Abs(preds[0]-10) > 1e-6 || math.Abs(preds[3]-40) > 1e-6 {
				t.Fatalf("%s: fit missed the varying column: %v", kind, preds)
			}
		}
	}
}

func TestRandomForestDeterministicWithSeed(t *testing.T) {
	m := testMatrix(t, 36)
	scaler := FitScaler(m)
	scaled, _ := scaler.Transform(m.Rows)

	run := func() []float64 {
		r, err := NewRegressor(forecast.KindRandomForest, DefaultRegressorConfig())
		if err != nil {
			t.Fatalf("NewRegressor: %v", err)
		}
		if err := r.Fit(scaled, m.Targets); err != nil {
			t.Fatalf("Fit: %v", err)
		}
		preds, err := r.Predict(scaled)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		return preds
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seeded forest diverged at %d: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestSeriesForecasterFitPredict(t *testing.T) {
	s := testSeries(t, 36)
	builder := features.NewBuilder(features.DefaultConfig())

	f, err := NewSeriesForecaster(forecast.KindGradientBoosting, DefaultRegressorConfig(), builder, s, TargetQuantity)
	if err != nil {
		t.Fatalf("NewSeriesForecaster: %v", err)
	}
	if _, err := f.Predict(6); err != forecast.ErrNotFitted {
		t.Fatalf("expected ErrNotFitted before Fit, got %v", err)
	}
	if err := f.Fit(s.Quantity); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	preds, err := f.Predict(12)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(preds) != 12 {
		t.Fatalf("expected 12 predictions, got %d", len(preds))
	}
	for i, p := range preds {
		if p < 0 {
			t.Fatalf("negative forecast at %d: %f", i, p)
		}
		if math.IsNaN(p) || math.IsInf(p, 0) {
			t.Fatalf("non-finite forecast at %d", i)
		}
	}

	// Demand near the observed level, not collapsed to zero or exploding.
	mean := 0.0
	for _, p := range preds {
		mean += p
	}
	mean /= float64(len(preds))
	if mean < 50 || mean > 1000 {
		t.Fatalf("forecast mean %f far from observed level", mean)
	}
}

func TestSeriesForecasterRejectsStatisticalKind(t *testing.T) {
	s := testSeries(t, 24)
	builder := features.NewBuilder(features.DefaultConfig())
	if _, err := NewSeriesForecaster(forecast.KindARIMA, DefaultRegressorConfig(), builder, s, TargetQuantity); err == nil {
		t.Fatal("expected error for statistical kind")
	}
}

func TestEvaluateRegressorOnHoldout(t *testing.T) {
	m := testMatrix(t, 36)
	train, test, err := m.SplitTime(0.2)
	if err != nil {
		t.Fatalf("SplitTime: %v", err)
	}
	scaler := FitScaler(train)
	scaled, err := scaler.Transform(train.Rows)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	r, err := NewRegressor(forecast.KindRidge, DefaultRegressorConfig())
	if err != nil {
		t.Fatalf("NewRegressor: %v", err)
	}
	if err := r.Fit(scaled, train.Targets); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	metrics, err := EvaluateRegressor(r, scaler, test.Rows, test.Targets)
	if err != nil {
		t.Fatalf("EvaluateRegressor: %v", err)
	}
	if metrics.Points != len(test.Targets) {
		t.Fatalf("expected %d evaluated points, got %d", len(test.Targets), metrics.Points)
	}
	if metrics.RMSE <= 0 || math.IsNaN(metrics.RMSE) {
		t.Fatalf("suspicious RMSE %f", metrics.RMSE)
	}
}

func TestPreparePooledAddsEntityColumns(t *testing.T) {
	a := testSeries(t, 24)
	b := testSeries(t, 24)
	b.Specification = "oak"
	builder := features.NewBuilder(features.DefaultConfig())

	m, err := PreparePooled([]*features.FeatureSet{builder.Build(a), builder.Build(b)}, TargetQuantity)
	if err != nil {
		t.Fatalf("PreparePooled: %v", err)
	}
	base := len(builder.Names())
	if len(m.Names) != base+2 {
		t.Fatalf("expected %d columns, got %d", base+2, len(m.Names))
	}
	if len(m.Rows) != 48 {
		t.Fatalf("expected 48 pooled rows, got %d", len(m.Rows))
	}
	for _, row := range m.Rows {
		hot := row[base] + row[base+1]
		if hot != 1 {
			t.Fatalf("one-hot columns sum to %f", hot)
		}
	}
}
