package dataset

import (
	"math"
	"testing"
	"time"

	"github.com/retailcast/demandcast/internal/store"
)

func monthlySeries(quantities []float64) *PreparedSeries {
	s := &PreparedSeries{Category: "dairy"}
	p := Period{Year: 2021, Month: 1}
	for _, q := range quantities {
		s.Periods = append(s.Periods, p)
		s.Quantity = append(s.Quantity, q)
		s.Revenue = append(s.Revenue, q*5)
		p = p.Next()
	}
	return s
}

func TestBuildSeriesFillsInteriorGaps(t *testing.T) {
	records := []store.DemandRecord{
		{Category: "dairy", Year: 2023, Month: 1, Quantity: 100},
		{Category: "dairy", Year: 2023, Month: 4, Quantity: 130},
	}
	series := BuildSeries(records)
	s, ok := series["dairy"]
	if !ok {
		t.Fatal("Expected series for dairy")
	}
	if s.Len() != 4 {
		t.Fatalf("Expected 4 continuous periods, got %d", s.Len())
	}
	if !math.IsNaN(s.Quantity[1]) || !math.IsNaN(s.Quantity[2]) {
		t.Errorf("Expected NaN for missing interior months, got %v", s.Quantity)
	}
}

func TestRemoveOutliersNullsNotDrops(t *testing.T) {
	quantities := []float64{100, 110, 95, 105, 98, 102, 5000, 99, 101, 103, 97, 100}
	s := monthlySeries(quantities)
	RemoveOutliers(s, 2.0)

	if s.Len() != len(quantities) {
		t.Fatalf("Series length changed: %d -> %d", len(quantities), s.Len())
	}
	if !math.IsNaN(s.Quantity[6]) {
		t.Errorf("Expected outlier 5000 nulled, got %f", s.Quantity[6])
	}
	for i, v := range s.Quantity {
		if i == 6 {
			continue
		}
		if math.IsNaN(v) {
			t.Errorf("Non-outlier at %d was nulled", i)
		}
	}
}

func TestInterpolateFillsInteriorGap(t *testing.T) {
	s := monthlySeries([]float64{100, math.NaN(), math.NaN(), 130})
	Interpolate(s)
	if math.Abs(s.Quantity[1]-110) > 1e-9 || math.Abs(s.Quantity[2]-120) > 1e-9 {
		t.Errorf("Expected linear fill 110,120, got %f,%f", s.Quantity[1], s.Quantity[2])
	}
}

func TestInterpolateLeavesEdgeGaps(t *testing.T) {
	s := monthlySeries([]float64{math.NaN(), 100, 110, math.NaN()})
	Interpolate(s)
	if !math.IsNaN(s.Quantity[0]) {
		t.Errorf("Leading gap should remain, got %f", s.Quantity[0])
	}
	if !math.IsNaN(s.Quantity[3]) {
		t.Errorf("Trailing gap should remain, got %f", s.Quantity[3])
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	quantities := []float64{100, 110, 95, 105, 98, 102, 5000, 99, 101, 103, 97, 100}
	s := monthlySeries(quantities)

	p := NewPreparer(NewFakeEmptyStore(), DefaultPreparerConfig())
	p.Clean(s)
	first := s.Clone()
	if first.Quantity[6] >= 200 {
		t.Fatalf("Spike survived cleaning: %f", first.Quantity[6])
	}
	p.Clean(s)

	for i := range first.Quantity {
		a, b := first.Quantity[i], s.Quantity[i]
		if math.IsNaN(a) != math.IsNaN(b) {
			t.Fatalf("NaN mismatch at %d after second clean", i)
		}
		if !math.IsNaN(a) && math.Abs(a-b) > 1e-9 {
			t.Errorf("Value changed at %d: %f -> %f", i, a, b)
		}
	}
}

func TestCleanClipsNegatives(t *testing.T) {
	s := monthlySeries([]float64{100, 110, 95, 105})
	s.Quantity[2] = -50
	p := NewPreparer(NewFakeEmptyStore(), DefaultPreparerConfig())
	p.Clean(s)
	for i, v := range s.Quantity {
		if !math.IsNaN(v) && v < 0 {
			t.Errorf("Negative quantity at %d after clean: %f", i, v)
		}
	}
}

func TestSplitChronologicalNoLeakage(t *testing.T) {
	quantities := make([]float64, 24)
	for i := range quantities {
		quantities[i] = float64(100 + i)
	}
	s := monthlySeries(quantities)

	train, test, err := SplitChronological(s, 0.2)
	if err != nil {
		t.Fatalf("SplitChronological failed: %v", err)
	}
	if train.Len()+test.Len() != s.Len() {
		t.Errorf("Split lost periods: %d+%d != %d", train.Len(), test.Len(), s.Len())
	}
	lastTrain := train.Periods[train.Len()-1]
	for _, p := range test.Periods {
		if !lastTrain.Before(p) {
			t.Errorf("Test period %v does not follow last train period %v", p, lastTrain)
		}
	}
}

func TestSplitRandomIndicesDeterministic(t *testing.T) {
	train1, test1 := SplitRandomIndices(100, 0.2, 42)
	train2, test2 := SplitRandomIndices(100, 0.2, 42)
	if len(train1) != len(train2) || len(test1) != len(test2) {
		t.Fatal("Split sizes differ across identical seeds")
	}
	for i := range train1 {
		if train1[i] != train2[i] {
			t.Fatal("Train indices differ across identical seeds")
		}
	}
}

func TestAggregateSums(t *testing.T) {
	jan := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)
	sales := []SaleRecord{
		{Category: "dairy", Specification: "milk-1L", Date: jan, Quantity: 10, Revenue: 50},
		{Category: "dairy", Specification: "milk-1L", Date: jan.AddDate(0, 0, 5), Quantity: 5, Revenue: 25},
		{Category: "dairy", Specification: "cheese", Date: jan, Quantity: 2, Revenue: 30},
	}
	category, item := Aggregate(sales)

	if len(category) != 1 {
		t.Fatalf("Expected 1 category record, got %d", len(category))
	}
	if category[0].Quantity != 17 || category[0].Revenue != 105 {
		t.Errorf("Category sums wrong: %+v", category[0])
	}
	if len(item) != 2 {
		t.Fatalf("Expected 2 item records, got %d", len(item))
	}
}

// NewFakeEmptyStore returns a store with no contents for tests that only
// exercise in-memory cleaning.
func NewFakeEmptyStore() store.Store {
	return store.NewMemoryStore("")
}
