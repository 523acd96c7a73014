package forecast

import (
	"fmt"
	"math"
)

// SearchConfig bounds the automatic order search. The search is stepwise
// over an explicit grid with a hard evaluation budget, so it always
// terminates.
type SearchConfig struct {
	MaxP           int
	MaxD           int
	MaxQ           int
	MaxSP          int
	MaxSD          int
	MaxSQ          int
	Seasonal       bool
	SeasonalPeriod int
	MaxEvaluations int
}

// DefaultSearchConfig returns the production search bounds.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxP:           5,
		MaxD:           2,
		MaxQ:           5,
		MaxSP:          2,
		MaxSD:          1,
		MaxSQ:          2,
		Seasonal:       true,
		SeasonalPeriod: 12,
		MaxEvaluations: 60,
	}
}

// SearchResult is the best model found by AutoFit.
type SearchResult struct {
	Forecaster      Forecaster
	Criterion       float64 // AICc of the winner
	ModelsEvaluated int
}

type searchPoint struct {
	p, q, sp, sq int
}

// AutoFit selects and fits the best (S)ARIMA order for the series by
// stepwise neighborhood search on AICc.
func AutoFit(values []float64, config SearchConfig) (*SearchResult, error) {
	if config.MaxEvaluations <= 0 {
		config.MaxEvaluations = 60
	}
	if config.SeasonalPeriod <= 0 {
		config.SeasonalPeriod = 12
	}

	d := chooseDifferencing(values, config.MaxD)
	sd := 0
	if config.Seasonal && len(values) >= 2*config.SeasonalPeriod+MinObservations {
		sd = chooseSeasonalDifferencing(values, config.MaxSD, config.SeasonalPeriod)
	} else {
		config.Seasonal = false
	}

	result := &SearchResult{Criterion: math.Inf(1)}
	tried := make(map[searchPoint]bool)

	evaluate := func(pt searchPoint) {
		if tried[pt] || result.ModelsEvaluated >= config.MaxEvaluations {
			return
		}
		if pt.p < 0 || pt.q < 0 || pt.sp < 0 || pt.sq < 0 {
			return
		}
		if pt.p > config.MaxP || pt.q > config.MaxQ || pt.sp > config.MaxSP || pt.sq > config.MaxSQ {
			return
		}
		tried[pt] = true
		result.ModelsEvaluated++

		var f Forecaster
		var criterion float64
		if config.Seasonal && (pt.sp > 0 || pt.sq > 0 || sd > 0) {
			m := NewSARIMA(SARIMAOrder{
				P: pt.p, D: d, Q: pt.q,
				SP: pt.sp, SD: sd, SQ: pt.sq, M: config.SeasonalPeriod,
			})
			if err := m.Fit(values); err != nil {
				return
			}
			f, criterion = m, m.Metrics().AICc
		} else {
			m := NewARIMA(ARIMAOrder{P: pt.p, D: d, Q: pt.q})
			if err := m.Fit(values); err != nil {
				return
			}
			f, criterion = m, m.Metrics().AICc
		}

		if criterion < result.Criterion {
			result.Criterion = criterion
			result.Forecaster = f
		}
	}

	// Standard stepwise starting set, then hill-climb around the incumbent.
	starts := []searchPoint{
		{0, 0, 0, 0},
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{1, 1, 0, 0},
		{2, 2, 0, 0},
	}
	if config.Seasonal {
		starts = append(starts,
			searchPoint{1, 0, 1, 0},
			searchPoint{0, 1, 0, 1},
			searchPoint{1, 1, 1, 1},
		)
	}
	for _, s := range starts {
		evaluate(s)
	}

	for result.ModelsEvaluated < config.MaxEvaluations && result.Forecaster != nil {
		before := result.Criterion
		for _, nb := range neighbors(bestPoint(result), config.Seasonal) {
			evaluate(nb)
		}
		if result.Criterion >= before {
			break
		}
	}

	if result.Forecaster == nil {
		return nil, fmt.Errorf("%w: no order in the search grid converged", ErrInsufficientHistory)
	}
	return result, nil
}

// bestPoint recovers the incumbent's coordinates for neighborhood expansion.
func bestPoint(result *SearchResult) searchPoint {
	switch m := result.Forecaster.(type) {
	case *ARIMA:
		return searchPoint{p: m.Order().P, q: m.Order().Q}
	case *SARIMA:
		o := m.Order()
		return searchPoint{p: o.P, q: o.Q, sp: o.SP, sq: o.SQ}
	}
	return searchPoint{}
}

func neighbors(pt searchPoint, seasonal bool) []searchPoint {
	out := []searchPoint{
		{pt.p + 1, pt.q, pt.sp, pt.sq},
		{pt.p - 1, pt.q, pt.sp, pt.sq},
		{pt.p, pt.q + 1, pt.sp, pt.sq},
		{pt.p, pt.q - 1, pt.sp, pt.sq},
	}
	if seasonal {
		out = append(out,
			searchPoint{pt.p, pt.q, pt.sp + 1, pt.sq},
			searchPoint{pt.p, pt.q, pt.sp - 1, pt.sq},
			searchPoint{pt.p, pt.q, pt.sp, pt.sq + 1},
			searchPoint{pt.p, pt.q, pt.sp, pt.sq - 1},
		)
	}
	return out
}

// chooseDifferencing picks the smallest d whose differenced series stops
// reducing variance. A unit root shows up as a large variance drop on
// differencing; a stationary series gains variance instead.
func chooseDifferencing(values []float64, maxD int) int {
	current := values
	for d := 0; d < maxD; d++ {
		next := difference(current)
		if len(next) < MinObservations {
			return d
		}
		if sampleVariance(next) >= sampleVariance(current)*0.95 {
			return d
		}
		current = next
	}
	return maxD
}

// chooseSeasonalDifferencing applies the same variance heuristic at the
// seasonal lag.
func chooseSeasonalDifferencing(values []float64, maxSD, m int) int {
	current := values
	for sd := 0; sd < maxSD; sd++ {
		next := seasonalDifference(current, m)
		if len(next) < MinObservations {
			return sd
		}
		if sampleVariance(next) >= sampleVariance(current)*0.95 {
			return sd
		}
		current = next
	}
	return maxSD
}
