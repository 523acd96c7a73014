package features

import (
	"fmt"
	"math"
	"sort"

	"github.com/retailcast/demandcast/internal/dataset"
	"github.com/retailcast/demandcast/internal/store"
)

// Config controls feature generation. The emitted feature set is
// deterministic given identical config: same names, same order, same values.
type Config struct {
	LagOffsets     []int // in months, applied to both quantity and revenue
	RollingWindows []int // in months
	Calendar       *CalendarTable
	Exogenous      []*ExogenousSeries
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		LagOffsets:     []int{1, 3, 6, 12},
		RollingWindows: []int{3, 6, 12},
		Calendar:       DefaultCalendarTable(),
		Exogenous: []*ExogenousSeries{
			DefaultInflationSeries(),
			DefaultConsumerConfidenceSeries(),
		},
	}
}

// FeatureRow is one engineered (entity, period) observation. Values align
// positionally with FeatureSet.Names. Unavailable features (short lags,
// single-point stddev) are NaN; downstream matrix preparation fills them.
type FeatureRow struct {
	Period         dataset.Period
	Values         []float64
	TargetQuantity float64
	TargetRevenue  float64
}

// FeatureSet holds all engineered rows for one entity.
type FeatureSet struct {
	Category      string
	Specification string
	Names         []string
	Rows          []FeatureRow
}

// EntityKey returns the canonical entity key for the set.
func (fs *FeatureSet) EntityKey() string {
	return store.EntityKey(fs.Category, fs.Specification)
}

// Builder turns prepared series into feature sets.
type Builder struct {
	config Config
}

// NewBuilder creates a feature builder.
func NewBuilder(config Config) *Builder {
	if len(config.LagOffsets) == 0 {
		config.LagOffsets = []int{1, 3, 6, 12}
	}
	if len(config.RollingWindows) == 0 {
		config.RollingWindows = []int{3, 6, 12}
	}
	if config.Calendar == nil {
		config.Calendar = DefaultCalendarTable()
	}
	return &Builder{config: config}
}

// Names returns the feature name list in emission order.
func (b *Builder) Names() []string {
	names := []string{
		"year", "month", "quarter",
		"month_sin", "month_cos",
		"is_ramadan", "is_eid_al_fitr", "is_eid_al_adha",
		"is_winter", "is_summer", "is_school_season",
	}
	for _, lag := range b.config.LagOffsets {
		names = append(names, lagName("quantity", lag))
	}
	for _, lag := range b.config.LagOffsets {
		names = append(names, lagName("revenue", lag))
	}
	for _, w := range b.config.RollingWindows {
		names = append(names,
			rollName("mean", w), rollName("std", w), rollName("min", w), rollName("max", w))
	}
	for _, ex := range b.config.Exogenous {
		names = append(names, ex.Name)
	}
	return names
}

// Build produces one feature row per series period.
func (b *Builder) Build(s *dataset.PreparedSeries) *FeatureSet {
	fs := &FeatureSet{
		Category:      s.Category,
		Specification: s.Specification,
		Names:         b.Names(),
	}

	for i, p := range s.Periods {
		row := FeatureRow{
			Period:         p,
			TargetQuantity: s.Quantity[i],
			TargetRevenue:  s.Revenue[i],
		}

		monthAngle := 2 * math.Pi * float64(p.Month) / 12
		row.Values = append(row.Values,
			float64(p.Year),
			float64(p.Month),
			float64((p.Month-1)/3+1),
			math.Sin(monthAngle),
			math.Cos(monthAngle),
			boolFeature(b.config.Calendar.IsRamadan(p.Year, p.Month)),
			boolFeature(b.config.Calendar.IsEidAlFitr(p.Year, p.Month)),
			boolFeature(b.config.Calendar.IsEidAlAdha(p.Year, p.Month)),
			boolFeature(b.config.Calendar.IsWinter(p.Month)),
			boolFeature(b.config.Calendar.IsSummer(p.Month)),
			boolFeature(b.config.Calendar.IsSchoolSeason(p.Month)),
		)

		for _, lag := range b.config.LagOffsets {
			row.Values = append(row.Values, lagValue(s.Quantity, i, lag))
		}
		for _, lag := range b.config.LagOffsets {
			row.Values = append(row.Values, lagValue(s.Revenue, i, lag))
		}

		for _, w := range b.config.RollingWindows {
			mean, std, min, max := rollingStats(s.Quantity, i, w)
			row.Values = append(row.Values, mean, std, min, max)
		}

		for _, ex := range b.config.Exogenous {
			if v, ok := ex.ValueAt(p); ok {
				row.Values = append(row.Values, v)
			} else {
				row.Values = append(row.Values, math.NaN())
			}
		}

		fs.Rows = append(fs.Rows, row)
	}
	return fs
}

func lagName(field string, lag int) string {
	return fmt.Sprintf("lag_%s_%d", field, lag)
}

func rollName(stat string, window int) string {
	return fmt.Sprintf("roll_%s_quantity_%d", stat, window)
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func lagValue(values []float64, i, lag int) float64 {
	if i-lag < 0 {
		return math.NaN()
	}
	return values[i-lag]
}

// rollingStats computes trailing-window statistics ending at index i.
// Partial windows are valid from the first period; std needs at least two
// points and is NaN otherwise.
func rollingStats(values []float64, i, window int) (mean, std, min, max float64) {
	start := i - window + 1
	if start < 0 {
		start = 0
	}

	var observed []float64
	for j := start; j <= i; j++ {
		if !math.IsNaN(values[j]) {
			observed = append(observed, values[j])
		}
	}
	if len(observed) == 0 {
		nan := math.NaN()
		return nan, nan, nan, nan
	}

	sum := 0.0
	min, max = observed[0], observed[0]
	for _, v := range observed {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean = sum / float64(len(observed))

	if len(observed) < 2 {
		return mean, math.NaN(), min, max
	}
	var ss float64
	for _, v := range observed {
		d := v - mean
		ss += d * d
	}
	std = math.Sqrt(ss / float64(len(observed)-1))
	return mean, std, min, max
}

// TopSpecifications ranks a category's specifications by total quantity and
// returns the top n.
func TopSpecifications(records []store.DemandRecord, category string, n int) []string {
	sums := make(map[string]float64)
	for _, r := range records {
		if r.Category != category || r.Specification == "" {
			continue
		}
		sums[r.Specification] += r.Quantity
	}

	type ranked struct {
		spec  string
		total float64
	}
	list := make([]ranked, 0, len(sums))
	for spec, total := range sums {
		list = append(list, ranked{spec, total})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].total != list[j].total {
			return list[i].total > list[j].total
		}
		return list[i].spec < list[j].spec
	})

	if n > len(list) {
		n = len(list)
	}
	out := make([]string, 0, n)
	for _, r := range list[:n] {
		out = append(out, r.spec)
	}
	return out
}
