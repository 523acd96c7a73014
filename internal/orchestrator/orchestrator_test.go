package orchestrator

import (
	"context"
	"errors"
	"log"
	"math"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/retailcast/demandcast/internal/dataset"
	"github.com/retailcast/demandcast/internal/metrics"
	"github.com/retailcast/demandcast/internal/registry"
	"github.com/retailcast/demandcast/internal/store"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test ", log.LstdFlags)
}

// seedCategory writes months of demand history for one category starting at
// 2021-01. An outlierAt of 0 injects nothing.
func seedCategory(t *testing.T, s store.Store, category string, months int, outlierAt int, outlierValue float64) {
	t.Helper()
	records := make([]store.DemandRecord, 0, months)
	p := dataset.Period{Year: 2021, Month: 1}
	for i := 1; i <= months; i++ {
		q := 200 + 3*float64(i) + 120*math.Sin(2*math.Pi*float64(i-1)/12)
		if q < 50 {
			q = 50
		}
		if i == outlierAt {
			q = outlierValue
		}
		records = append(records, store.DemandRecord{
			Category: category,
			Year:     p.Year,
			Month:    p.Month,
			Quantity: q,
			Revenue:  q * 15,
		})
		p = p.Next()
	}
	if _, err := s.ReplaceDemand(context.Background(), store.CollectionCategoryDemand, records); err != nil {
		t.Fatalf("seed category demand: %v", err)
	}
}

// seedItems writes item-level history as fixed shares of the category's
// records already in the store.
func seedItems(t *testing.T, s store.Store, category string, shares map[string]float64) {
	t.Helper()
	cat, err := s.FetchDemand(context.Background(), store.CollectionCategoryDemand, store.Filter{})
	if err != nil {
		t.Fatalf("fetch seeded category demand: %v", err)
	}
	var records []store.DemandRecord
	for _, r := range cat {
		if r.Category != category {
			continue
		}
		for spec, share := range shares {
			records = append(records, store.DemandRecord{
				Category:      category,
				Specification: spec,
				Year:          r.Year,
				Month:         r.Month,
				Quantity:      r.Quantity * share,
				Revenue:       r.Revenue * share,
			})
		}
	}
	if _, err := s.ReplaceDemand(context.Background(), store.CollectionItemDemand, records); err != nil {
		t.Fatalf("seed item demand: %v", err)
	}
}

func fastConfig() Config {
	config := DefaultConfig()
	config.Search.MaxEvaluations = 12
	config.Regressor.Trees = 20
	return config
}

func TestEndToEndRunWithOutlier(t *testing.T) {
	ms := store.NewMemoryStore("")
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	seedCategory(t, ms, "chairs", 36, 20, 5000)

	o := New(ms, reg, fastConfig(), testLogger())
	report, err := o.Run(context.Background(), FullRun())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Success {
		t.Fatalf("run not successful: %s", report.Message)
	}
	for _, name := range StepNames() {
		step, ok := report.Steps[name]
		if !ok {
			t.Fatalf("step %s missing from report", name)
		}
		if !step.Completed {
			t.Fatalf("step %s not completed: %s", name, step.Message)
		}
	}

	forecasts, err := ms.FetchForecasts(context.Background(), store.CollectionCategoryForecast, store.Filter{})
	if err != nil {
		t.Fatalf("FetchForecasts: %v", err)
	}
	if len(forecasts) != 12 {
		t.Fatalf("expected 12 forecast points, got %d", len(forecasts))
	}

	// Chronological, starting right after 2023-12.
	want := dataset.Period{Year: 2024, Month: 1}
	for i, f := range forecasts {
		got := dataset.Period{Year: f.Year, Month: f.Month}
		if got != want {
			t.Fatalf("forecast %d at %v, want %v", i, got, want)
		}
		want = want.Next()

		if f.PredictedQuantity < 0 || f.PredictedRevenue < 0 {
			t.Fatalf("negative forecast at %d: %+v", i, f)
		}
		// The 5000 outlier must have been nulled and interpolated away, so
		// nothing close to it can leak into the forecast level.
		if f.PredictedQuantity > 2000 {
			t.Fatalf("forecast %f at %d tracks the injected outlier", f.PredictedQuantity, i)
		}
	}

	entries := reg.ListEntity("chairs")
	if len(entries) == 0 {
		t.Fatal("no models registered for the category")
	}
	for _, e := range entries {
		if math.IsNaN(e.Metrics.RMSE) || math.IsInf(e.Metrics.RMSE, 0) {
			t.Fatalf("non-finite RMSE registered for %s", e.ModelID)
		}
	}
	if _, err := reg.BestModel("chairs"); err != nil {
		t.Fatalf("BestModel: %v", err)
	}
}

func TestDisaggregationConservation(t *testing.T) {
	ms := store.NewMemoryStore("")
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	seedCategory(t, ms, "chairs", 36, 0, 0)
	seedItems(t, ms, "chairs", map[string]float64{"oak": 0.6, "pine": 0.4})

	config := fastConfig()
	// Force the ratio path so the conservation property is about the shares.
	config.MinItemObservations = 1000

	o := New(ms, reg, config, testLogger())
	report, err := o.Run(context.Background(), FullRun())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Success {
		t.Fatalf("run not successful: %s", report.Message)
	}

	cat, err := ms.FetchForecasts(context.Background(), store.CollectionCategoryForecast, store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	items, err := ms.FetchForecasts(context.Background(), store.CollectionItemForecast, store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 24 {
		t.Fatalf("expected 24 item forecast records, got %d", len(items))
	}

	itemSum := make(map[dataset.Period]float64)
	for _, f := range items {
		itemSum[dataset.Period{Year: f.Year, Month: f.Month}] += f.PredictedQuantity
	}
	for _, f := range cat {
		if f.PredictedQuantity <= 0 {
			continue
		}
		sum := itemSum[dataset.Period{Year: f.Year, Month: f.Month}]
		ratio := sum / f.PredictedQuantity
		if ratio < 0.85 || ratio > 1.15 {
			t.Fatalf("item sum %f vs category %f at %d-%02d: ratio %f outside ±15%%",
				sum, f.PredictedQuantity, f.Year, f.Month, ratio)
		}
	}
}

func TestDefaultShareRatioFallback(t *testing.T) {
	cat := &dataset.PreparedSeries{
		Periods:  []dataset.Period{{Year: 2021, Month: 1}, {Year: 2021, Month: 2}},
		Quantity: []float64{100, 100},
		Revenue:  []float64{1000, 1000},
	}
	item := &dataset.PreparedSeries{
		Category:      "chairs",
		Specification: "oak",
		// No shared periods with the category window.
		Periods:  []dataset.Period{{Year: 2020, Month: 1}},
		Quantity: []float64{10},
		Revenue:  []float64{100},
	}
	if r := shareRatio(cat.Quantity, cat.Periods, item, quantityAt); r != 0 {
		t.Fatalf("expected zero ratio with no shared history, got %f", r)
	}
}

func TestRunFailsWithoutData(t *testing.T) {
	ms := store.NewMemoryStore("")
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	o := New(ms, reg, fastConfig(), testLogger())
	report, err := o.Run(context.Background(), FullRun())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if report.Success {
		t.Fatal("report should not be successful")
	}
	if _, ok := report.Steps[StepFetchData]; !ok {
		t.Fatal("fetch step missing from failure report")
	}
}

type failingForecastStore struct {
	store.Store
}

func (f *failingForecastStore) ReplaceForecasts(ctx context.Context, collection string, records []store.ForecastRecord) (int, error) {
	return 0, errors.New("disk full")
}

func TestPersistenceFailureReportsPriorSteps(t *testing.T) {
	ms := store.NewMemoryStore("")
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	seedCategory(t, ms, "chairs", 36, 0, 0)

	o := New(&failingForecastStore{Store: ms}, reg, fastConfig(), testLogger())
	report, err := o.Run(context.Background(), FullRun())
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if report.Success {
		t.Fatal("report should not be successful")
	}
	for _, name := range []string{StepFetchData, StepFitModels, StepSelectBest, StepGenerateForecasts} {
		step, ok := report.Steps[name]
		if !ok || !step.Completed {
			t.Fatalf("prior step %s should be reported as completed", name)
		}
	}
}

func TestBestModelSelectionDeterministic(t *testing.T) {
	run := func() string {
		ms := store.NewMemoryStore("")
		reg, err := registry.NewRegistry(t.TempDir())
		if err != nil {
			t.Fatalf("NewRegistry: %v", err)
		}
		seedCategory(t, ms, "chairs", 36, 0, 0)

		o := New(ms, reg, fastConfig(), testLogger())
		if _, err := o.Run(context.Background(), RunOptions{TrainModels: true}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		best, err := reg.BestModel("chairs")
		if err != nil {
			t.Fatalf("BestModel: %v", err)
		}
		return best.Kind.String()
	}

	first := run()
	for i := 0; i < 2; i++ {
		if got := run(); got != first {
			t.Fatalf("best model kind changed across runs: %s vs %s", got, first)
		}
	}
}

type fakeLocker struct {
	allow    bool
	acquired int
	released int
}

func (l *fakeLocker) AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	l.acquired++
	return l.allow, nil
}

func (l *fakeLocker) ReleaseRunLock(ctx context.Context, owner string) error {
	l.released++
	return nil
}

func TestRunLockDeniedAbortsRun(t *testing.T) {
	ms := store.NewMemoryStore("")
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	seedCategory(t, ms, "chairs", 36, 0, 0)

	locker := &fakeLocker{allow: false}
	o := New(ms, reg, fastConfig(), testLogger()).WithRunLock(locker)
	if _, err := o.Run(context.Background(), FullRun()); !errors.Is(err, ErrRunLocked) {
		t.Fatalf("expected ErrRunLocked, got %v", err)
	}
	if locker.acquired != 1 || locker.released != 0 {
		t.Fatalf("unexpected lock calls: %+v", locker)
	}
}

func TestRunLockReleasedAfterRun(t *testing.T) {
	ms := store.NewMemoryStore("")
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	seedCategory(t, ms, "chairs", 36, 0, 0)

	locker := &fakeLocker{allow: true}
	o := New(ms, reg, fastConfig(), testLogger()).WithRunLock(locker)
	if _, err := o.Run(context.Background(), RunOptions{TrainModels: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if locker.released != 1 {
		t.Fatalf("lock not released: %+v", locker)
	}
}

func TestPrepareOnlyRun(t *testing.T) {
	ms := store.NewMemoryStore("")
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	seedCategory(t, ms, "chairs", 36, 0, 0)

	o := New(ms, reg, fastConfig(), testLogger())
	report, err := o.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Success {
		t.Fatalf("prepare-only run failed: %s", report.Message)
	}
	if _, ok := report.Steps[StepFitModels]; ok {
		t.Fatal("fit step should not run when training is disabled")
	}
	if n := len(reg.List()); n != 0 {
		t.Fatalf("no models should be registered, got %d", n)
	}
}

func TestRunWithLogTransform(t *testing.T) {
	ms := store.NewMemoryStore("")
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	seedCategory(t, ms, "chairs", 36, 0, 0)

	config := fastConfig()
	config.UseLogTransform = true
	o := New(ms, reg, config, testLogger())
	report, err := o.Run(context.Background(), FullRun())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Success {
		t.Fatalf("log-transformed run failed: %s", report.Message)
	}

	// Forecasts come back on the original scale, not the log scale.
	forecasts, err := ms.FetchForecasts(context.Background(), store.CollectionCategoryForecast, store.Filter{})
	if err != nil {
		t.Fatalf("FetchForecasts: %v", err)
	}
	if len(forecasts) != 12 {
		t.Fatalf("expected 12 forecast points, got %d", len(forecasts))
	}
	for i, f := range forecasts {
		if f.PredictedQuantity < 0 {
			t.Fatalf("negative forecast at %d: %+v", i, f)
		}
		if f.PredictedQuantity < 10 || f.PredictedQuantity > 2000 {
			t.Fatalf("forecast %f at %d far from the observed level", f.PredictedQuantity, i)
		}
	}
}

// Instruments register against the global Prometheus registry, so only this
// test may call metrics.New in the package.
func TestStepDurationsObserved(t *testing.T) {
	ms := store.NewMemoryStore("")
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	seedCategory(t, ms, "chairs", 24, 0, 0)

	m := metrics.New()
	o := New(ms, reg, fastConfig(), testLogger()).WithMetrics(m)
	if _, err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A prepare-only run passes through exactly the first two steps.
	if got := testutil.CollectAndCount(m.StepDuration); got != 2 {
		t.Fatalf("expected 2 step duration series, got %d", got)
	}
	for _, step := range []string{StepFetchData, StepBuildFeatures} {
		if _, err := m.StepDuration.GetMetricWithLabelValues(step); err != nil {
			t.Fatalf("no duration series for step %s: %v", step, err)
		}
	}
}
