package eval

import (
	"errors"
	"math"
	"testing"
)

func TestEvaluateBasic(t *testing.T) {
	actual := []float64{100, 110, 120, 130}
	predicted := []float64{102, 108, 121, 128}

	m, err := Evaluate(actual, predicted)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if m.Points != 4 {
		t.Errorf("Expected 4 points, got %d", m.Points)
	}
	if m.RMSE <= 0 || math.IsNaN(m.RMSE) {
		t.Errorf("Bad RMSE: %f", m.RMSE)
	}
	if m.MAE <= 0 || m.MAE > m.RMSE+1e-9 {
		t.Errorf("MAE %f should be positive and <= RMSE %f", m.MAE, m.RMSE)
	}
	if m.R2 < 0.9 {
		t.Errorf("Expected high R2 for near-perfect fit, got %f", m.R2)
	}
	if m.DirectionalAccuracy != 100 {
		t.Errorf("All deltas agree, expected 100, got %f", m.DirectionalAccuracy)
	}
}

func TestMAPEZeroSafe(t *testing.T) {
	cases := []struct {
		name      string
		actual    []float64
		predicted []float64
	}{
		{"some zeros", []float64{0, 100, 0, 120}, []float64{5, 95, 5, 125}},
		{"all zeros", []float64{0, 0, 0, 0}, []float64{1, 2, 3, 4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MAPE(tc.actual, tc.predicted)
			if math.IsNaN(got) || math.IsInf(got, 0) {
				t.Errorf("MAPE resolved to %f", got)
			}
		})
	}
}

func TestEvaluateDropsNaNPairs(t *testing.T) {
	actual := []float64{100, math.NaN(), 120}
	predicted := []float64{101, 110, math.NaN()}

	m, err := Evaluate(actual, predicted)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if m.Points != 1 {
		t.Errorf("Expected 1 surviving point, got %d", m.Points)
	}
}

func TestEvaluateNoOverlap(t *testing.T) {
	actual := []float64{math.NaN(), math.NaN()}
	predicted := []float64{1, 2}
	if _, err := Evaluate(actual, predicted); !errors.Is(err, ErrNoOverlap) {
		t.Errorf("Expected ErrNoOverlap, got %v", err)
	}
}

func TestToleranceBandsZeroActual(t *testing.T) {
	// Zero actuals use the 0.1 floor rather than dividing by zero
	actual := []float64{0, 0}
	predicted := []float64{0.004, 1}

	m, err := Evaluate(actual, predicted)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if m.Within5Pct != 50 {
		t.Errorf("Expected 50%% within 5%%, got %f", m.Within5Pct)
	}
}

func TestRollingMetrics(t *testing.T) {
	n := 12
	actual := make([]float64, n)
	predicted := make([]float64, n)
	for i := 0; i < n; i++ {
		actual[i] = float64(100 + i)
		predicted[i] = float64(101 + i)
	}

	windows, err := RollingMetrics(actual, predicted, 6)
	if err != nil {
		t.Fatalf("RollingMetrics failed: %v", err)
	}
	if len(windows) != n-6+1 {
		t.Fatalf("Expected %d windows, got %d", n-6+1, len(windows))
	}
	for _, w := range windows {
		if math.Abs(w.Metrics.MAE-1) > 1e-9 {
			t.Errorf("Window at %d: expected MAE 1, got %f", w.Start, w.Metrics.MAE)
		}
	}
}

func TestCompareModelsDeterministicTies(t *testing.T) {
	evals := map[string]*Metrics{
		"b-model": {RMSE: 5},
		"a-model": {RMSE: 5},
		"c-model": {RMSE: 3},
	}
	ranked := CompareModels(evals)
	if ranked[0].Name != "c-model" {
		t.Errorf("Expected c-model first, got %s", ranked[0].Name)
	}
	if ranked[1].Name != "a-model" || ranked[2].Name != "b-model" {
		t.Errorf("Tie not broken deterministically: %v", ranked)
	}
}

func TestR2EdgeCases(t *testing.T) {
	// Constant actual, perfect prediction
	if r := R2([]float64{5, 5, 5}, []float64{5, 5, 5}); r != 1 {
		t.Errorf("Expected R2 1 for perfect flat fit, got %f", r)
	}
	// Constant actual, imperfect prediction
	if r := R2([]float64{5, 5, 5}, []float64{4, 5, 6}); r != 0 {
		t.Errorf("Expected R2 0 for imperfect flat fit, got %f", r)
	}
}
