package dataset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/retailcast/demandcast/internal/store"
)

// ErrNoData signals an empty fetch result. Callers skip the entity when the
// miss is partial and abort the run when nothing at all came back.
var ErrNoData = errors.New("no demand data available")

// PreparerConfig controls preparation behavior.
type PreparerConfig struct {
	OutlierIQRFactor float64 // IQR multiplier for outlier bounds
	TestFraction     float64 // trailing fraction reserved for the test set
	YearFrom         int     // 0 = unrestricted
	YearTo           int     // 0 = unrestricted
	Categories       []string
}

// DefaultPreparerConfig returns production defaults.
func DefaultPreparerConfig() PreparerConfig {
	return PreparerConfig{
		OutlierIQRFactor: 2.0,
		TestFraction:     0.2,
	}
}

// Preparer fetches, cleans, and splits demand history.
type Preparer struct {
	store  store.Store
	config PreparerConfig
}

// NewPreparer creates a data preparer over the given store.
func NewPreparer(s store.Store, config PreparerConfig) *Preparer {
	if config.OutlierIQRFactor <= 0 {
		config.OutlierIQRFactor = 2.0
	}
	if config.TestFraction <= 0 || config.TestFraction >= 1 {
		config.TestFraction = 0.2
	}
	return &Preparer{store: s, config: config}
}

// Fetch pulls demand records from a collection, dropping rows with invalid
// numeric fields or missing period data.
func (p *Preparer) Fetch(ctx context.Context, collection string) ([]store.DemandRecord, error) {
	records, err := p.store.FetchDemand(ctx, collection, store.Filter{
		Categories: p.config.Categories,
		YearFrom:   p.config.YearFrom,
		YearTo:     p.config.YearTo,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", collection, err)
	}

	valid := records[:0]
	for _, r := range records {
		if r.Category == "" || r.Year == 0 || r.Month < 1 || r.Month > 12 {
			continue
		}
		if math.IsNaN(r.Quantity) || math.IsInf(r.Quantity, 0) {
			continue
		}
		if math.IsNaN(r.Revenue) || math.IsInf(r.Revenue, 0) {
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil, ErrNoData
	}
	return valid, nil
}

// SaleRecord is one raw classified sale, the input to aggregation.
type SaleRecord struct {
	Category      string
	Specification string
	Date          time.Time
	Quantity      float64
	Revenue       float64
}

// Aggregate sums raw sales into category-monthly and item-monthly demand
// records. The result fully replaces prior aggregates when persisted.
func Aggregate(sales []SaleRecord) (category, item []store.DemandRecord) {
	type key struct {
		category      string
		specification string
		period        Period
	}
	catSums := make(map[key]*store.DemandRecord)
	itemSums := make(map[key]*store.DemandRecord)

	add := func(m map[key]*store.DemandRecord, k key, s SaleRecord) {
		rec, ok := m[k]
		if !ok {
			rec = &store.DemandRecord{
				Category:      k.category,
				Specification: k.specification,
				Year:          k.period.Year,
				Month:         k.period.Month,
			}
			m[k] = rec
		}
		rec.Quantity += s.Quantity
		rec.Revenue += s.Revenue
	}

	for _, s := range sales {
		if s.Category == "" || s.Date.IsZero() {
			continue
		}
		p := PeriodOf(s.Date)
		add(catSums, key{category: s.Category, period: p}, s)
		if s.Specification != "" {
			add(itemSums, key{category: s.Category, specification: s.Specification, period: p}, s)
		}
	}

	for _, rec := range catSums {
		category = append(category, *rec)
	}
	for _, rec := range itemSums {
		item = append(item, *rec)
	}
	sortRecords(category)
	sortRecords(item)
	return category, item
}

func sortRecords(records []store.DemandRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Specification != b.Specification {
			return a.Specification < b.Specification
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
}

// RemoveOutliers nulls values outside [Q1-k*IQR, Q3+k*IQR] per series.
// Values are set to NaN, not dropped, to preserve period continuity.
func RemoveOutliers(s *PreparedSeries, k float64) {
	nullOutliers(s.Quantity, k)
	nullOutliers(s.Revenue, k)
}

func nullOutliers(values []float64, k float64) {
	lower, upper, ok := iqrBounds(values, k)
	if !ok {
		return
	}
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if v < lower || v > upper {
			values[i] = math.NaN()
		}
	}
}

// iqrBounds computes the outlier bounds over the non-NaN values.
func iqrBounds(values []float64, k float64) (lower, upper float64, ok bool) {
	observed := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			observed = append(observed, v)
		}
	}
	if len(observed) < 4 {
		return 0, 0, false // too few points for quartiles to mean anything
	}
	sort.Float64s(observed)
	q1 := quantile(observed, 0.25)
	q3 := quantile(observed, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr, true
}

// quantile interpolates linearly over a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Interpolate fills interior NaN gaps linearly along the time axis and clips
// negatives to zero. Leading and trailing gaps are left as-is: there is no
// neighbor to anchor them.
func Interpolate(s *PreparedSeries) {
	interpolateLinear(s.Quantity)
	interpolateLinear(s.Revenue)
	clipNonNegative(s.Quantity)
	clipNonNegative(s.Revenue)
}

func interpolateLinear(values []float64) {
	n := len(values)
	i := 0
	for i < n {
		if !math.IsNaN(values[i]) {
			i++
			continue
		}
		// find the gap [start, end)
		start := i
		for i < n && math.IsNaN(values[i]) {
			i++
		}
		end := i
		if start == 0 || end == n {
			continue // leading or trailing gap, nothing to anchor on
		}
		left := values[start-1]
		right := values[end]
		span := float64(end - start + 1)
		for j := start; j < end; j++ {
			frac := float64(j-start+1) / span
			values[j] = left + (right-left)*frac
		}
	}
}

func clipNonNegative(values []float64) {
	for i, v := range values {
		if !math.IsNaN(v) && v < 0 {
			values[i] = 0
		}
	}
}

// Clean applies outlier removal then interpolation, repeating until the
// series stops changing. Interpolated replacements shift the quartiles, so a
// single pass can leave values a recomputation would null; running to the
// fixpoint makes cleaning an already-clean series a no-op.
func (p *Preparer) Clean(s *PreparedSeries) {
	const maxPasses = 8
	for pass := 0; pass < maxPasses; pass++ {
		prevQ := append([]float64(nil), s.Quantity...)
		prevR := append([]float64(nil), s.Revenue...)

		RemoveOutliers(s, p.config.OutlierIQRFactor)
		Interpolate(s)

		if seriesUnchanged(prevQ, s.Quantity) && seriesUnchanged(prevR, s.Revenue) {
			return
		}
	}
}

// seriesUnchanged compares two value slices treating NaN as equal to NaN.
func seriesUnchanged(a, b []float64) bool {
	for i := range a {
		if math.IsNaN(a[i]) && math.IsNaN(b[i]) {
			continue
		}
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SplitChronological reserves the trailing fraction of periods as the test
// set. Every train period strictly precedes every test period.
func SplitChronological(s *PreparedSeries, testFraction float64) (train, test *PreparedSeries, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0,1), got %f", testFraction)
	}
	n := s.Len()
	if n < 2 {
		return nil, nil, fmt.Errorf("series too short to split: %d periods", n)
	}
	cut := int(float64(n) * (1 - testFraction))
	if cut < 1 {
		cut = 1
	}
	if cut >= n {
		cut = n - 1
	}

	train = &PreparedSeries{
		Category:      s.Category,
		Specification: s.Specification,
		Periods:       append([]Period(nil), s.Periods[:cut]...),
		Quantity:      append([]float64(nil), s.Quantity[:cut]...),
		Revenue:       append([]float64(nil), s.Revenue[:cut]...),
	}
	test = &PreparedSeries{
		Category:      s.Category,
		Specification: s.Specification,
		Periods:       append([]Period(nil), s.Periods[cut:]...),
		Quantity:      append([]float64(nil), s.Quantity[cut:]...),
		Revenue:       append([]float64(nil), s.Revenue[cut:]...),
	}
	return train, test, nil
}

// SplitRandomIndices shuffles row indices with a fixed seed and reserves a
// test fraction. Used for pooled cross-entity training where time order does
// not bind.
func SplitRandomIndices(n int, testFraction float64, seed int64) (trainIdx, testIdx []int) {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	cut := n - int(float64(n)*testFraction)
	if cut < 1 {
		cut = 1
	}
	return idx[:cut], idx[cut:]
}
