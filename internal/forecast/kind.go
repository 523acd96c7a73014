package forecast

import "fmt"

// ModelKind is the closed set of supported model families. Dispatch is over
// this tag, never over strings.
type ModelKind int

const (
	KindARIMA ModelKind = iota
	KindSARIMA
	KindExponentialSmoothing
	KindAdditiveDecomposition
	KindRandomForest
	KindGradientBoosting
	KindSVR
	KindLinear
	KindRidge
	KindLasso
)

var kindNames = map[ModelKind]string{
	KindARIMA:                 "arima",
	KindSARIMA:                "sarima",
	KindExponentialSmoothing:  "exp_smoothing",
	KindAdditiveDecomposition: "additive_decomposition",
	KindRandomForest:          "random_forest",
	KindGradientBoosting:      "gradient_boosting",
	KindSVR:                   "svr",
	KindLinear:                "linear",
	KindRidge:                 "ridge",
	KindLasso:                 "lasso",
}

// String returns the stable wire name of the kind.
func (k ModelKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// ParseKind maps a wire name back to its kind.
func ParseKind(name string) (ModelKind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown model kind %q", name)
}

// StatisticalKinds returns the time-series model families.
func StatisticalKinds() []ModelKind {
	return []ModelKind{KindARIMA, KindSARIMA, KindExponentialSmoothing, KindAdditiveDecomposition}
}

// EnsembleKinds returns the feature-based regressor families.
func EnsembleKinds() []ModelKind {
	return []ModelKind{KindRandomForest, KindGradientBoosting, KindSVR, KindLinear, KindRidge, KindLasso}
}

// IsStatistical reports whether the kind is a time-series model.
func (k ModelKind) IsStatistical() bool {
	switch k {
	case KindARIMA, KindSARIMA, KindExponentialSmoothing, KindAdditiveDecomposition:
		return true
	}
	return false
}

// IsEnsemble reports whether the kind is a feature-based regressor.
func (k ModelKind) IsEnsemble() bool {
	return !k.IsStatistical()
}

// MarshalText implements encoding.TextMarshaler for registry persistence.
func (k ModelKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ModelKind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
