package features

import (
	"sort"

	"github.com/retailcast/demandcast/internal/dataset"
)

// ExogenousPoint is one externally-sourced observation keyed by period.
type ExogenousPoint struct {
	Period dataset.Period
	Value  float64
}

// ExogenousSeries is a named external series at an arbitrary frequency.
// Join expands it to monthly with forward-fill across frequency mismatches
// (e.g., quarterly consumer confidence expanded to monthly).
type ExogenousSeries struct {
	Name   string
	Points []ExogenousPoint
}

// ValueAt returns the most recent value at or before the period, forward
// filling across gaps. ok is false before the first observation.
func (e *ExogenousSeries) ValueAt(p dataset.Period) (float64, bool) {
	idx := p.Index()
	best := -1
	for i, pt := range e.Points {
		if pt.Period.Index() <= idx {
			if best < 0 || e.Points[i].Period.Index() > e.Points[best].Period.Index() {
				best = i
			}
		}
	}
	if best < 0 {
		return 0, false
	}
	return e.Points[best].Value, true
}

// sortPoints keeps the series chronological.
func (e *ExogenousSeries) sortPoints() {
	sort.Slice(e.Points, func(i, j int) bool {
		return e.Points[i].Period.Before(e.Points[j].Period)
	})
}

// DefaultInflationSeries returns the monthly headline inflation table used
// as the default exogenous signal (annual % rates, 2021-2024).
func DefaultInflationSeries() *ExogenousSeries {
	monthly := []struct {
		year, month int
		rate        float64
	}{
		{2021, 1, 4.3}, {2021, 4, 4.1}, {2021, 7, 5.4}, {2021, 10, 6.3},
		{2022, 1, 7.3}, {2022, 4, 13.1}, {2022, 7, 13.6}, {2022, 10, 16.2},
		{2023, 1, 25.8}, {2023, 4, 30.6}, {2023, 7, 36.5}, {2023, 10, 35.8},
		{2024, 1, 29.8}, {2024, 4, 32.5}, {2024, 7, 25.7}, {2024, 10, 23.5},
	}
	s := &ExogenousSeries{Name: "inflation_rate"}
	for _, m := range monthly {
		s.Points = append(s.Points, ExogenousPoint{
			Period: dataset.Period{Year: m.year, Month: m.month},
			Value:  m.rate,
		})
	}
	s.sortPoints()
	return s
}

// DefaultConsumerConfidenceSeries returns the quarterly consumer confidence
// index (expanded to monthly at join time via forward-fill).
func DefaultConsumerConfidenceSeries() *ExogenousSeries {
	quarterly := []struct {
		year, quarter int
		index         float64
	}{
		{2021, 1, 85}, {2021, 2, 84}, {2021, 3, 83}, {2021, 4, 82},
		{2022, 1, 80}, {2022, 2, 78}, {2022, 3, 76}, {2022, 4, 74},
		{2023, 1, 72}, {2023, 2, 70}, {2023, 3, 71}, {2023, 4, 72},
		{2024, 1, 73}, {2024, 2, 74}, {2024, 3, 75}, {2024, 4, 76},
	}
	s := &ExogenousSeries{Name: "consumer_confidence"}
	for _, q := range quarterly {
		s.Points = append(s.Points, ExogenousPoint{
			Period: dataset.Period{Year: q.year, Month: (q.quarter-1)*3 + 1},
			Value:  q.index,
		})
	}
	s.sortPoints()
	return s
}

// DefaultImportTrendSeries returns the import-volume trend applied to
// import-sensitive categories (index, 2021=100).
func DefaultImportTrendSeries() *ExogenousSeries {
	yearly := []struct {
		year  int
		index float64
	}{
		{2021, 100}, {2022, 92}, {2023, 78}, {2024, 84},
	}
	s := &ExogenousSeries{Name: "import_trend"}
	for _, y := range yearly {
		s.Points = append(s.Points, ExogenousPoint{
			Period: dataset.Period{Year: y.year, Month: 1},
			Value:  y.index,
		})
	}
	s.sortPoints()
	return s
}
