package forecast

import "math"

// difference returns the first difference of the sequence.
func difference(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}

// seasonalDifference returns the lag-m difference of the sequence.
func seasonalDifference(values []float64, m int) []float64 {
	if len(values) <= m {
		return nil
	}
	out := make([]float64, len(values)-m)
	for i := m; i < len(values); i++ {
		out[i-m] = values[i] - values[i-m]
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleVariance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return ss / float64(len(values)-1)
}

// acf computes the autocorrelation function up to maxLag (inclusive).
// Index 0 is always 1.
func acf(values []float64, maxLag int) []float64 {
	n := len(values)
	if n == 0 || maxLag < 0 {
		return nil
	}
	m := mean(values)

	denom := 0.0
	for _, v := range values {
		d := v - m
		denom += d * d
	}
	if denom == 0 {
		return nil // constant series has no autocorrelation structure
	}

	out := make([]float64, maxLag+1)
	out[0] = 1
	for lag := 1; lag <= maxLag && lag < n; lag++ {
		num := 0.0
		for t := lag; t < n; t++ {
			num += (values[t] - m) * (values[t-lag] - m)
		}
		out[lag] = num / denom
	}
	return out
}

// yuleWalker estimates AR coefficients from the ACF via Levinson-Durbin
// recursion.
func yuleWalker(acfVals []float64, order int) []float64 {
	if order <= 0 || len(acfVals) <= order {
		return nil
	}

	phi := make([]float64, order)
	phi[0] = acfVals[1]
	if order == 1 {
		return phi
	}

	v := 1 - phi[0]*phi[0]
	for i := 1; i < order; i++ {
		lambda := acfVals[i+1]
		for j := 0; j < i; j++ {
			lambda -= phi[j] * acfVals[i-j]
		}
		if v <= 0 {
			break
		}
		lambda /= v

		newPhi := make([]float64, i+1)
		for j := 0; j < i; j++ {
			newPhi[j] = phi[j] - lambda*phi[i-1-j]
		}
		newPhi[i] = lambda
		copy(phi, newPhi)

		v *= 1 - lambda*lambda
	}
	return phi
}

// informationCriteria computes AIC/AICc/BIC from residuals and parameter
// count, assuming Gaussian errors.
func informationCriteria(residuals []float64, variance float64, params int) (aic, aicc, bic float64) {
	n := float64(len(residuals))
	k := float64(params)

	sse := 0.0
	for _, r := range residuals {
		sse += r * r
	}

	var logLik float64
	if variance > 0 {
		logLik = -n/2*math.Log(2*math.Pi) - n/2*math.Log(variance) - sse/(2*variance)
	} else {
		logLik = math.Inf(-1)
	}

	aic = -2*logLik + 2*k
	if n-k-1 > 0 {
		aicc = aic + 2*k*(k+1)/(n-k-1)
	} else {
		aicc = math.Inf(1)
	}
	bic = -2*logLik + k*math.Log(n)
	return aic, aicc, bic
}

// clamp bounds a coefficient for stationarity/invertibility.
func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
