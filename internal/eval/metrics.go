package eval

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrNoOverlap is returned when actual and predicted share no usable points.
var ErrNoOverlap = errors.New("no overlap between actual and predicted series")

// Metrics are the comparable error measures used across all model families.
// Both statistical and feature-based models are scored with exactly these
// functions so registry entries compare on one scale.
type Metrics struct {
	RMSE                float64 `json:"rmse"`
	MAE                 float64 `json:"mae"`
	MAPE                float64 `json:"mape"`
	R2                  float64 `json:"r2"`
	Within5Pct          float64 `json:"within_5pct"`
	Within10Pct         float64 `json:"within_10pct"`
	Within20Pct         float64 `json:"within_20pct"`
	DirectionalAccuracy float64 `json:"directional_accuracy"`
	Points              int     `json:"points"`
}

// Evaluate computes all metrics over two aligned series. Pairs where either
// side is NaN are dropped; if nothing survives, ErrNoOverlap is returned.
func Evaluate(actual, predicted []float64) (*Metrics, error) {
	if len(actual) != len(predicted) {
		return nil, fmt.Errorf("length mismatch: %d actual vs %d predicted", len(actual), len(predicted))
	}

	var a, p []float64
	for i := range actual {
		if math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) {
			continue
		}
		a = append(a, actual[i])
		p = append(p, predicted[i])
	}
	if len(a) == 0 {
		return nil, ErrNoOverlap
	}

	m := &Metrics{
		RMSE:                RMSE(a, p),
		MAE:                 MAE(a, p),
		MAPE:                MAPE(a, p),
		R2:                  R2(a, p),
		DirectionalAccuracy: DirectionalAccuracy(a, p),
		Points:              len(a),
	}
	m.Within5Pct = withinTolerance(a, p, 0.05)
	m.Within10Pct = withinTolerance(a, p, 0.10)
	m.Within20Pct = withinTolerance(a, p, 0.20)
	return m, nil
}

// RMSE is the root mean squared error.
func RMSE(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := range actual {
		d := actual[i] - predicted[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(actual)))
}

// MAE is the mean absolute error.
func MAE(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := range actual {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(len(actual))
}

// MAPE is the mean absolute percentage error over the nonzero actuals.
// When every actual is zero, or the percentage form degenerates, it falls
// back to MAE normalized by the actual range, so it never resolves to
// NaN or Inf.
func MAPE(actual, predicted []float64) float64 {
	sum := 0.0
	n := 0
	for i := range actual {
		if actual[i] == 0 {
			continue
		}
		sum += math.Abs((actual[i] - predicted[i]) / actual[i])
		n++
	}
	if n > 0 {
		mape := sum / float64(n) * 100
		if !math.IsNaN(mape) && !math.IsInf(mape, 0) {
			return mape
		}
	}
	return rangeNormalizedMAE(actual, predicted)
}

// rangeNormalizedMAE is the MAPE fallback: MAE as a percentage of the
// observed actual range.
func rangeNormalizedMAE(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return math.NaN()
	}
	min, max := actual[0], actual[0]
	for _, v := range actual {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	r := max - min
	if r == 0 {
		r = 1 // flat series; report absolute error directly
	}
	return MAE(actual, predicted) / r * 100
}

// R2 is the coefficient of determination.
func R2(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return math.NaN()
	}
	meanA := 0.0
	for _, v := range actual {
		meanA += v
	}
	meanA /= float64(len(actual))

	var ssRes, ssTot float64
	for i := range actual {
		d := actual[i] - predicted[i]
		ssRes += d * d
		t := actual[i] - meanA
		ssTot += t * t
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// withinTolerance is the share of points (percent) whose prediction falls
// within the tolerance band around the actual. The denominator is floored
// at 0.1 so zero actuals do not blow the band up.
func withinTolerance(actual, predicted []float64, tol float64) float64 {
	if len(actual) == 0 {
		return math.NaN()
	}
	hits := 0
	for i := range actual {
		denom := math.Max(0.1, math.Abs(actual[i]))
		if math.Abs(actual[i]-predicted[i])/denom <= tol {
			hits++
		}
	}
	return float64(hits) / float64(len(actual)) * 100
}

// DirectionalAccuracy is the share of successive deltas (percent) where the
// forecast moved the same way as the actual.
func DirectionalAccuracy(actual, predicted []float64) float64 {
	if len(actual) < 2 {
		return math.NaN()
	}
	agree := 0
	total := 0
	for i := 1; i < len(actual); i++ {
		da := actual[i] - actual[i-1]
		dp := predicted[i] - predicted[i-1]
		if da*dp > 0 {
			agree++
		}
		total++
	}
	return float64(agree) / float64(total) * 100
}

// WindowMetrics is one rolling-window evaluation.
type WindowMetrics struct {
	Start   int      `json:"start"` // index of the window's first point
	Metrics *Metrics `json:"metrics"`
}

// RollingMetrics recomputes the full metric set over sliding windows for
// drift visibility. Spans shorter than the window size are not emitted.
func RollingMetrics(actual, predicted []float64, window int) ([]WindowMetrics, error) {
	if window < 2 {
		return nil, fmt.Errorf("window must be at least 2, got %d", window)
	}
	if len(actual) != len(predicted) {
		return nil, fmt.Errorf("length mismatch: %d actual vs %d predicted", len(actual), len(predicted))
	}

	var out []WindowMetrics
	for start := 0; start+window <= len(actual); start++ {
		m, err := Evaluate(actual[start:start+window], predicted[start:start+window])
		if err != nil {
			continue // window entirely NaN; skip it
		}
		out = append(out, WindowMetrics{Start: start, Metrics: m})
	}
	return out, nil
}

// Comparison ranks one model's evaluation against others.
type Comparison struct {
	Name    string   `json:"name"`
	Metrics *Metrics `json:"metrics"`
}

// CompareModels sorts evaluations by ascending RMSE. Equal RMSE breaks the
// tie by name, so the ranking is deterministic across runs.
func CompareModels(evaluations map[string]*Metrics) []Comparison {
	out := make([]Comparison, 0, len(evaluations))
	for name, m := range evaluations {
		out = append(out, Comparison{Name: name, Metrics: m})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Metrics.RMSE != out[j].Metrics.RMSE {
			return out[i].Metrics.RMSE < out[j].Metrics.RMSE
		}
		return out[i].Name < out[j].Name
	})
	return out
}
