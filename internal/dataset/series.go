package dataset

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/retailcast/demandcast/internal/store"
)

// Period is one calendar month.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// Index maps the period onto a continuous month axis.
func (p Period) Index() int {
	return p.Year*12 + (p.Month - 1)
}

// Next returns the following calendar month.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// Before reports chronological order.
func (p Period) Before(q Period) bool {
	return p.Index() < q.Index()
}

// String renders the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// PeriodOf truncates a timestamp to its month.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// PreparedSeries is an ordered, continuous monthly sequence for one entity.
// Missing observations are NaN until interpolation fills them.
type PreparedSeries struct {
	Category      string
	Specification string
	Periods       []Period
	Quantity      []float64
	Revenue       []float64
}

// EntityKey returns the canonical entity key for the series.
func (s *PreparedSeries) EntityKey() string {
	return store.EntityKey(s.Category, s.Specification)
}

// Len returns the number of periods in the series.
func (s *PreparedSeries) Len() int {
	return len(s.Periods)
}

// ObservedLen counts periods holding a real (non-NaN) quantity.
func (s *PreparedSeries) ObservedLen() int {
	n := 0
	for _, v := range s.Quantity {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Clone deep-copies the series.
func (s *PreparedSeries) Clone() *PreparedSeries {
	out := &PreparedSeries{
		Category:      s.Category,
		Specification: s.Specification,
		Periods:       append([]Period(nil), s.Periods...),
		Quantity:      append([]float64(nil), s.Quantity...),
		Revenue:       append([]float64(nil), s.Revenue...),
	}
	return out
}

// BuildSeries groups demand records per entity into continuous monthly series.
// Interior months with no record are present with NaN values so later
// interpolation can fill them.
func BuildSeries(records []store.DemandRecord) map[string]*PreparedSeries {
	type obs struct {
		quantity float64
		revenue  float64
	}
	grouped := make(map[string]map[Period]obs)
	meta := make(map[string]store.DemandRecord)

	for _, r := range records {
		key := r.EntityKey()
		if grouped[key] == nil {
			grouped[key] = make(map[Period]obs)
			meta[key] = r
		}
		p := Period{Year: r.Year, Month: r.Month}
		o := grouped[key][p]
		o.quantity += r.Quantity
		o.revenue += r.Revenue
		grouped[key][p] = o
	}

	out := make(map[string]*PreparedSeries, len(grouped))
	for key, byPeriod := range grouped {
		periods := make([]Period, 0, len(byPeriod))
		for p := range byPeriod {
			periods = append(periods, p)
		}
		sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })

		s := &PreparedSeries{
			Category:      meta[key].Category,
			Specification: meta[key].Specification,
		}
		for p := periods[0]; p.Index() <= periods[len(periods)-1].Index(); p = p.Next() {
			s.Periods = append(s.Periods, p)
			if o, ok := byPeriod[p]; ok {
				s.Quantity = append(s.Quantity, o.quantity)
				s.Revenue = append(s.Revenue, o.revenue)
			} else {
				s.Quantity = append(s.Quantity, math.NaN())
				s.Revenue = append(s.Revenue, math.NaN())
			}
		}
		out[key] = s
	}
	return out
}
