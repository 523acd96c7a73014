package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/retailcast/demandcast/internal/dataset"
	"github.com/retailcast/demandcast/internal/ensemble"
	"github.com/retailcast/demandcast/internal/eval"
	"github.com/retailcast/demandcast/internal/features"
	"github.com/retailcast/demandcast/internal/forecast"
	"github.com/retailcast/demandcast/internal/metrics"
	"github.com/retailcast/demandcast/internal/registry"
	"github.com/retailcast/demandcast/internal/runlog"
	"github.com/retailcast/demandcast/internal/store"
	pkgotel "github.com/retailcast/demandcast/pkg/otel"
)

// Config controls a full pipeline run.
type Config struct {
	Horizon             int     // forecast months, default 12
	MaxHorizon          int     // hard clip on requested horizons, default 24
	TestFraction        float64 // trailing holdout fraction, default 0.2
	DefaultShareRatio   float64 // item share when history defines none, default 0.10
	MinItemObservations int     // observed months required for a direct item model
	UseLogTransform     bool    // fit statistical kinds on the log1p scale
	RunLockTTL          time.Duration

	Preparer  dataset.PreparerConfig
	Features  features.Config
	Regressor ensemble.RegressorConfig
	Search    forecast.SearchConfig
	Smoothing forecast.SmoothingConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Horizon:             12,
		MaxHorizon:          24,
		TestFraction:        0.2,
		DefaultShareRatio:   0.10,
		MinItemObservations: 2 * forecast.MinObservations,
		RunLockTTL:          30 * time.Minute,
		Preparer:            dataset.DefaultPreparerConfig(),
		Features:            features.DefaultConfig(),
		Regressor:           ensemble.DefaultRegressorConfig(),
		Search:              forecast.DefaultSearchConfig(),
		Smoothing:           forecast.DefaultSmoothingConfig(),
	}
}

// RunOptions select which phases of the run execute. Zero value means the
// full pipeline at the configured horizon.
type RunOptions struct {
	TrainModels       bool
	GenerateForecasts bool
	Persist           bool
	Horizon           int // 0 = configured default
}

// FullRun enables every phase.
func FullRun() RunOptions {
	return RunOptions{TrainModels: true, GenerateForecasts: true, Persist: true}
}

// RunLocker is the single-writer guard. Satisfied by store.RedisStore.
type RunLocker interface {
	AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, owner string) error
}

// Orchestrator drives the end-to-end forecast pipeline: fetch, clean, fit,
// evaluate, select, forecast, disaggregate, persist. Entities are processed
// sequentially; per-entity failures are absorbed and reported.
type Orchestrator struct {
	store    store.Store
	registry *registry.Registry
	config   Config
	logger   *log.Logger

	metrics *metrics.Metrics // optional
	locker  RunLocker        // optional
	journal *runlog.Journal  // optional

	runMu sync.Mutex // in-process single-writer guard when no external locker is set
}

// New creates an orchestrator over the given store and registry.
func New(s store.Store, reg *registry.Registry, config Config, logger *log.Logger) *Orchestrator {
	if config.Horizon <= 0 {
		config.Horizon = 12
	}
	if config.MaxHorizon <= 0 {
		config.MaxHorizon = 24
	}
	if config.TestFraction <= 0 || config.TestFraction >= 1 {
		config.TestFraction = 0.2
	}
	if config.DefaultShareRatio <= 0 || config.DefaultShareRatio > 1 {
		config.DefaultShareRatio = 0.10
	}
	if config.MinItemObservations <= 0 {
		config.MinItemObservations = 2 * forecast.MinObservations
	}
	if config.RunLockTTL <= 0 {
		config.RunLockTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{store: s, registry: reg, config: config, logger: logger}
}

// WithMetrics attaches Prometheus instruments.
func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// WithRunLock attaches a single-writer lock, usually Redis-backed.
func (o *Orchestrator) WithRunLock(l RunLocker) *Orchestrator {
	o.locker = l
	return o
}

// WithJournal attaches a run-report journal.
func (o *Orchestrator) WithJournal(j *runlog.Journal) *Orchestrator {
	o.journal = j
	return o
}

// candidate is one fitted model for an entity plus its holdout score.
type candidate struct {
	kind       forecast.ModelKind
	forecaster forecast.Forecaster
	modelID    string
	metrics    eval.Metrics
	order      int // registration order, the deterministic tie-break
}

// entityState carries one entity through the run's steps.
type entityState struct {
	key        string
	series     *dataset.PreparedSeries
	train      *dataset.PreparedSeries
	test       *dataset.PreparedSeries
	featureSet *features.FeatureSet
	candidates []*candidate
	best       *candidate

	forecastPeriods  []dataset.Period
	forecastQuantity []float64
	forecastRevenue  []float64
}

// Run executes the pipeline. The returned report always describes every step
// reached, including on failure; the error is non-nil only for run-fatal
// conditions.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	runID := fmt.Sprintf("run-%s", time.Now().UTC().Format("20060102-150405"))
	report := newRunReport(runID)

	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = o.config.Horizon
	}
	if horizon > o.config.MaxHorizon {
		horizon = o.config.MaxHorizon
	}

	if o.locker != nil {
		ok, err := o.locker.AcquireRunLock(ctx, runID, o.config.RunLockTTL)
		if err != nil {
			return o.fail(report, fmt.Errorf("acquire run lock: %w", err))
		}
		if !ok {
			return o.fail(report, ErrRunLocked)
		}
		defer o.locker.ReleaseRunLock(context.WithoutCancel(ctx), runID)
	} else {
		if !o.runMu.TryLock() {
			return o.fail(report, ErrRunLocked)
		}
		defer o.runMu.Unlock()
	}

	o.observeRunStart()
	started := time.Now()
	report, err := o.run(ctx, report, opts, horizon)
	o.observeRunEnd(time.Since(started), err)

	if o.journal != nil {
		if jerr := o.journal.Append(report); jerr != nil {
			o.logger.Printf("run=%s journal append failed: %v", runID, jerr)
		}
	}
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, report *RunReport, opts RunOptions, horizon int) (*RunReport, error) {
	runID := report.RunID

	// Step 1: fetch and prepare.
	ctx, done := o.stepSpan(ctx, runID, StepFetchData)
	entities, items, fetchStep, err := o.fetchData(ctx)
	done()
	report.setStep(StepFetchData, fetchStep)
	if err != nil {
		return o.fail(report, err)
	}
	o.observeEntities(len(entities))

	// Step 2: build features.
	_, done = o.stepSpan(ctx, runID, StepBuildFeatures)
	builder := features.NewBuilder(o.config.Features)
	rows := 0
	for _, e := range entities {
		e.featureSet = builder.Build(e.series)
		rows += len(e.featureSet.Rows)
	}
	done()
	report.setStep(StepBuildFeatures, StepReport{Completed: true, Count: rows,
		Message: fmt.Sprintf("%d feature rows across %d entities", rows, len(entities))})

	if !opts.TrainModels && !opts.GenerateForecasts {
		return report.finish(true, "data preparation completed; nothing further requested"), nil
	}

	if opts.TrainModels {
		// Step 3: fit every kind per entity.
		_, done = o.stepSpan(ctx, runID, StepFitModels)
		fitStep := o.fitModels(entities, builder)
		done()
		report.setStep(StepFitModels, fitStep)

		// Step 4: evaluate on holdout and register.
		_, done = o.stepSpan(ctx, runID, StepEvaluateAndRegister)
		evalStep, err := o.evaluateAndRegister(entities)
		done()
		report.setStep(StepEvaluateAndRegister, evalStep)
		if err != nil {
			return o.fail(report, err)
		}
	}

	// Step 5: pick best model per entity.
	_, done = o.stepSpan(ctx, runID, StepSelectBest)
	selectStep := o.selectBest(entities)
	done()
	report.setStep(StepSelectBest, selectStep)

	if !opts.GenerateForecasts {
		return report.finish(true, fmt.Sprintf("training completed for %d entities", selectStep.Count)), nil
	}

	// Step 6: forecast the horizon per entity.
	_, done = o.stepSpan(ctx, runID, StepGenerateForecasts)
	genStep := o.generateForecasts(entities, builder, horizon)
	done()
	report.setStep(StepGenerateForecasts, genStep)
	if genStep.Count == 0 {
		return report.finish(true, "nothing to forecast"), nil
	}

	// Step 7: disaggregate category forecasts to items.
	_, done = o.stepSpan(ctx, runID, StepDisaggregate)
	itemRecords, disStep := o.disaggregate(entities, items, builder, horizon)
	done()
	report.setStep(StepDisaggregate, disStep)

	if !opts.Persist {
		return report.finish(true, fmt.Sprintf("forecasts generated for %d entities (not persisted)", genStep.Count)), nil
	}

	// Step 8: persist, full replace.
	_, done = o.stepSpan(ctx, runID, StepPersist)
	persistStep, err := o.persist(ctx, entities, itemRecords)
	done()
	report.setStep(StepPersist, persistStep)
	if err != nil {
		return o.fail(report, err)
	}

	return report.finish(true, fmt.Sprintf("forecast run completed: %d entities, %d forecast records", len(entities), persistStep.Count)), nil
}

func (o *Orchestrator) fail(report *RunReport, err error) (*RunReport, error) {
	o.logger.Printf("run=%s failed: %v", report.RunID, err)
	return report.finish(false, err.Error()), err
}

// fetchData pulls both aggregation levels, builds continuous series, and
// cleans them. Category data missing entirely is run-fatal; item data is
// optional (disaggregation falls back to default ratios).
func (o *Orchestrator) fetchData(ctx context.Context) (entities []*entityState, items map[string]*dataset.PreparedSeries, step StepReport, err error) {
	preparer := dataset.NewPreparer(o.store, o.config.Preparer)

	catRecords, err := preparer.Fetch(ctx, store.CollectionCategoryDemand)
	if err != nil {
		if errors.Is(err, dataset.ErrNoData) {
			err = fmt.Errorf("%w: no category demand history", ErrDataUnavailable)
		}
		return nil, nil, StepReport{Message: err.Error()}, err
	}

	var skipped []string
	for key, s := range dataset.BuildSeries(catRecords) {
		preparer.Clean(s)
		trimmed := trimToObserved(s)
		if trimmed == nil || trimmed.Len() < forecast.MinObservations {
			skipped = append(skipped, fmt.Sprintf("%s: %v", key, ErrDataUnavailable))
			continue
		}
		entities = append(entities, &entityState{key: key, series: trimmed})
	}
	if len(entities) == 0 {
		err = fmt.Errorf("%w: no category has enough usable history", ErrDataUnavailable)
		return nil, nil, StepReport{Message: err.Error(), Errors: skipped}, err
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].key < entities[j].key })

	items = make(map[string]*dataset.PreparedSeries)
	itemRecords, ierr := preparer.Fetch(ctx, store.CollectionItemDemand)
	switch {
	case errors.Is(ierr, dataset.ErrNoData):
		o.logger.Printf("no item demand history; disaggregation will use default ratios")
	case ierr != nil:
		return nil, nil, StepReport{Message: ierr.Error()}, ierr
	default:
		for key, s := range dataset.BuildSeries(itemRecords) {
			preparer.Clean(s)
			items[key] = s
		}
	}

	step = StepReport{
		Completed: true,
		Count:     len(entities),
		Message:   fmt.Sprintf("%d category entities, %d item series", len(entities), len(items)),
		Errors:    skipped,
	}
	return entities, items, step, nil
}

// fitModels trains every model kind per entity independently. Failures are
// absorbed per (entity, kind).
func (o *Orchestrator) fitModels(entities []*entityState, builder *features.Builder) StepReport {
	var step StepReport
	kinds := append(forecast.StatisticalKinds(), forecast.EnsembleKinds()...)

	for _, e := range entities {
		train, test, err := dataset.SplitChronological(e.series, o.config.TestFraction)
		if err != nil {
			step.Errors = append(step.Errors, fmt.Sprintf("%s: split: %v", e.key, err))
			continue
		}
		e.train, e.test = train, test

		for _, kind := range kinds {
			o.observeFit(kind)
			fc, err := o.fitKind(kind, builder, train, train.Quantity, ensemble.TargetQuantity)
			if err != nil {
				o.observeFitFailure(kind)
				o.logger.Printf("entity=%s kind=%s %v", e.key, kind, fmt.Errorf("%w: %v", ErrFitFailure, err))
				step.Errors = append(step.Errors, fmt.Sprintf("%s/%s: %v", e.key, kind, err))
				continue
			}
			e.candidates = append(e.candidates, &candidate{kind: kind, forecaster: fc})
			step.Count++
		}
	}
	step.Completed = true
	step.Message = fmt.Sprintf("%d models fitted, %d failures", step.Count, len(step.Errors))
	return step
}

// fitKind dispatches one model family on a training series.
func (o *Orchestrator) fitKind(kind forecast.ModelKind, builder *features.Builder, series *dataset.PreparedSeries, values []float64, target ensemble.TargetField) (forecast.Forecaster, error) {
	switch kind {
	case forecast.KindARIMA, forecast.KindSARIMA:
		cfg := o.config.Search
		cfg.Seasonal = kind == forecast.KindSARIMA
		fitValues := values
		if o.config.UseLogTransform {
			transformed, err := logValues(values)
			if err != nil {
				return nil, err
			}
			fitValues = transformed
		}
		result, err := forecast.AutoFit(fitValues, cfg)
		if err != nil {
			return nil, err
		}
		if o.config.UseLogTransform {
			return forecast.WithLogTransform(result.Forecaster), nil
		}
		return result.Forecaster, nil
	case forecast.KindExponentialSmoothing:
		return o.fitStatistical(forecast.NewExponentialSmoothing(o.config.Smoothing), values)
	case forecast.KindAdditiveDecomposition:
		return o.fitStatistical(forecast.NewAdditiveDecomposition(o.config.Smoothing.SeasonalPeriod), values)
	default:
		f, err := ensemble.NewSeriesForecaster(kind, o.config.Regressor, builder, series, target)
		if err != nil {
			return nil, err
		}
		if err := f.Fit(values); err != nil {
			return nil, err
		}
		return f, nil
	}
}

// fitStatistical fits f on the values, applying the configured log transform.
// Prepared series are non-negative, so the transform cannot reject them.
func (o *Orchestrator) fitStatistical(f forecast.Forecaster, values []float64) (forecast.Forecaster, error) {
	if o.config.UseLogTransform {
		f = forecast.WithLogTransform(f)
	}
	if err := f.Fit(values); err != nil {
		return nil, err
	}
	return f, nil
}

// logValues is the AutoFit-side half of the log transform: order search runs
// over the log1p scale, the winning model is then wrapped for the inverse.
func logValues(values []float64) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		if v < 0 {
			return nil, fmt.Errorf("log transform requires non-negative values, got %f at %d", v, i)
		}
		out[i] = math.Log1p(v)
	}
	return out, nil
}

// evaluateAndRegister scores each candidate on the holdout window and writes
// a registry entry. Evaluation failures drop the candidate; registry write
// failures abort the run.
func (o *Orchestrator) evaluateAndRegister(entities []*entityState) (StepReport, error) {
	var step StepReport
	now := time.Now().UTC()
	order := 0

	for _, e := range entities {
		kept := e.candidates[:0]
		for _, c := range e.candidates {
			preds, err := c.forecaster.Predict(e.test.Len())
			if err != nil {
				step.Errors = append(step.Errors, fmt.Sprintf("%s/%s: predict holdout: %v", e.key, c.kind, err))
				continue
			}
			m, err := eval.Evaluate(e.test.Quantity, preds)
			if err != nil {
				o.logger.Printf("entity=%s kind=%s %v", e.key, c.kind, fmt.Errorf("%w: %v", ErrEvaluationFailure, err))
				step.Errors = append(step.Errors, fmt.Sprintf("%s/%s: %v", e.key, c.kind, err))
				continue
			}

			c.metrics = *m
			c.modelID = forecast.NewModelID(c.kind, e.key, now)
			c.order = order
			order++

			entry := registry.Entry{
				ModelID:      c.modelID,
				Kind:         c.kind,
				Entity:       e.key,
				Metrics:      *m,
				RegisteredAt: now.Add(time.Duration(c.order) * time.Microsecond),
			}
			path, hash, err := o.registry.SaveArtifact(c.modelID, artifactPayload(e, c))
			if err != nil {
				return step, fmt.Errorf("%w: %v", ErrRegistryIO, err)
			}
			entry.ArtifactPath = path
			entry.ArtifactHash = hash
			if err := o.registry.Register(entry); err != nil {
				return step, fmt.Errorf("%w: %v", ErrRegistryIO, err)
			}
			if err := o.registry.SaveCard(registry.NewModelCard(&forecast.TrainedModel{
				ID:         c.modelID,
				Kind:       c.kind,
				Entity:     e.key,
				TrainedAt:  now,
				WindowFrom: e.train.Periods[0],
				WindowTo:   e.train.Periods[e.train.Len()-1],
				Forecaster: c.forecaster,
			}, *m)); err != nil {
				o.logger.Printf("entity=%s kind=%s model card write failed: %v", e.key, c.kind, err)
			}

			kept = append(kept, c)
			step.Count++
		}
		e.candidates = kept
	}
	step.Completed = true
	step.Message = fmt.Sprintf("%d models registered", step.Count)
	return step, nil
}

// artifactPayload captures the persisted form of a trained model.
func artifactPayload(e *entityState, c *candidate) map[string]any {
	return map[string]any{
		"model_id":    c.modelID,
		"kind":        c.kind.String(),
		"entity":      e.key,
		"window_from": e.train.Periods[0].String(),
		"window_to":   e.train.Periods[e.train.Len()-1].String(),
		"fit":         c.forecaster.Metrics(),
		"holdout":     c.metrics,
	}
}

// selectBest picks the per-entity winner: lowest holdout RMSE among the best
// statistical and the best ensemble candidate, ties favoring the statistical
// model. Within a family, ties fall to the first-registered candidate.
func (o *Orchestrator) selectBest(entities []*entityState) StepReport {
	var step StepReport
	for _, e := range entities {
		var bestStat, bestEns *candidate
		for _, c := range e.candidates {
			if c.modelID == "" {
				continue
			}
			if c.kind.IsStatistical() {
				bestStat = betterCandidate(bestStat, c)
			} else {
				bestEns = betterCandidate(bestEns, c)
			}
		}

		if bestStat == nil && bestEns == nil {
			// No freshly fitted candidates (training skipped or all failed);
			// fall back to the catalog's best model for the entity.
			if entry, err := o.registry.BestModel(e.key); err == nil {
				e.best = &candidate{kind: entry.Kind, modelID: entry.ModelID, metrics: entry.Metrics}
				o.observeBest(e.best.kind)
				step.Count++
			} else {
				step.Errors = append(step.Errors, fmt.Sprintf("%s: no evaluated models", e.key))
			}
			continue
		}

		switch {
		case bestStat == nil:
			e.best = bestEns
		case bestEns == nil:
			e.best = bestStat
		case bestEns.metrics.RMSE < bestStat.metrics.RMSE:
			e.best = bestEns
		default:
			e.best = bestStat
		}
		o.observeBest(e.best.kind)
		o.logger.Printf("entity=%s best model=%s rmse=%.3f", e.key, e.best.modelID, e.best.metrics.RMSE)
		step.Count++
	}
	step.Completed = true
	step.Message = fmt.Sprintf("best model chosen for %d entities", step.Count)
	return step
}

func betterCandidate(current, challenger *candidate) *candidate {
	if current == nil {
		return challenger
	}
	if challenger.metrics.RMSE < current.metrics.RMSE {
		return challenger
	}
	return current
}

// generateForecasts refits the winning kind on the full series and forecasts
// the horizon. Revenue is modeled the same way from the revenue series, with
// a unit-revenue fallback when that fit fails.
func (o *Orchestrator) generateForecasts(entities []*entityState, builder *features.Builder, horizon int) StepReport {
	var step StepReport
	for _, e := range entities {
		if e.best == nil {
			continue
		}

		fc, err := o.fitKind(e.best.kind, builder, e.series, e.series.Quantity, ensemble.TargetQuantity)
		if err != nil {
			if e.best.forecaster == nil || e.test == nil {
				step.Errors = append(step.Errors, fmt.Sprintf("%s: forecast: %v", e.key, err))
				continue
			}
			// Full-series refit failed; the train-window model still extends
			// past the holdout, so take the tail of a longer prediction.
			o.logger.Printf("entity=%s kind=%s full refit failed, using training-window model: %v", e.key, e.best.kind, err)
			extended, perr := e.best.forecaster.Predict(e.test.Len() + horizon)
			if perr != nil {
				step.Errors = append(step.Errors, fmt.Sprintf("%s: forecast: %v", e.key, perr))
				continue
			}
			e.forecastQuantity = extended[e.test.Len():]
		} else {
			preds, perr := fc.Predict(horizon)
			if perr != nil {
				step.Errors = append(step.Errors, fmt.Sprintf("%s: forecast: %v", e.key, perr))
				continue
			}
			e.forecastQuantity = preds
		}
		forecast.FloorNonNegative(e.forecastQuantity)

		e.forecastPeriods = futurePeriods(e.series, horizon)
		e.forecastRevenue = o.forecastRevenue(e, builder, horizon)
		step.Count++
	}
	step.Completed = true
	step.Message = fmt.Sprintf("forecasts generated for %d entities over %d months", step.Count, horizon)
	return step
}

func (o *Orchestrator) forecastRevenue(e *entityState, builder *features.Builder, horizon int) []float64 {
	fc, err := o.fitKind(e.best.kind, builder, e.series, e.series.Revenue, ensemble.TargetRevenue)
	if err == nil {
		if preds, perr := fc.Predict(horizon); perr == nil {
			return forecast.FloorNonNegative(preds)
		}
	}

	// Fallback: scale the quantity forecast by historical mean unit revenue.
	unit := meanUnitRevenue(e.series)
	out := make([]float64, len(e.forecastQuantity))
	for i, q := range e.forecastQuantity {
		out[i] = q * unit
	}
	return out
}

func meanUnitRevenue(s *dataset.PreparedSeries) float64 {
	var q, r float64
	for i := range s.Quantity {
		q += s.Quantity[i]
		r += s.Revenue[i]
	}
	if q <= 0 {
		return 0
	}
	return r / q
}

func futurePeriods(s *dataset.PreparedSeries, horizon int) []dataset.Period {
	out := make([]dataset.Period, 0, horizon)
	p := s.Periods[s.Len()-1]
	for i := 0; i < horizon; i++ {
		p = p.Next()
		out = append(out, p)
	}
	return out
}

// persist fully replaces both forecast collections.
func (o *Orchestrator) persist(ctx context.Context, entities []*entityState, itemRecords []store.ForecastRecord) (StepReport, error) {
	var step StepReport

	var catRecords []store.ForecastRecord
	for _, e := range entities {
		if e.best == nil || len(e.forecastQuantity) == 0 {
			continue
		}
		for i, p := range e.forecastPeriods {
			catRecords = append(catRecords, store.ForecastRecord{
				Category:          e.series.Category,
				Year:              p.Year,
				Month:             p.Month,
				PredictedQuantity: e.forecastQuantity[i],
				PredictedRevenue:  e.forecastRevenue[i],
			})
		}
	}

	n, err := o.store.ReplaceForecasts(ctx, store.CollectionCategoryForecast, catRecords)
	if err != nil {
		return step, fmt.Errorf("%w: %s: %v", ErrPersistence, store.CollectionCategoryForecast, err)
	}
	o.observeWritten(store.CollectionCategoryForecast, n)
	step.Count += n

	n, err = o.store.ReplaceForecasts(ctx, store.CollectionItemForecast, itemRecords)
	if err != nil {
		return step, fmt.Errorf("%w: %s: %v", ErrPersistence, store.CollectionItemForecast, err)
	}
	o.observeWritten(store.CollectionItemForecast, n)
	step.Count += n

	step.Completed = true
	step.Message = fmt.Sprintf("%d forecast records persisted", step.Count)
	return step, nil
}

// trimToObserved cuts leading and trailing NaN periods, which interpolation
// leaves unfilled. Returns nil when nothing was observed.
func trimToObserved(s *dataset.PreparedSeries) *dataset.PreparedSeries {
	start, end := -1, -1
	for i, v := range s.Quantity {
		if !isNaN(v) {
			if start == -1 {
				start = i
			}
			end = i
		}
	}
	if start == -1 {
		return nil
	}
	return &dataset.PreparedSeries{
		Category:      s.Category,
		Specification: s.Specification,
		Periods:       append([]dataset.Period(nil), s.Periods[start:end+1]...),
		Quantity:      append([]float64(nil), s.Quantity[start:end+1]...),
		Revenue:       append([]float64(nil), s.Revenue[start:end+1]...),
	}
}

func isNaN(v float64) bool { return v != v }

// stepSpan opens one pipeline step: it starts the step's trace span and
// returns a closer that ends the span and records the step's wall time.
func (o *Orchestrator) stepSpan(ctx context.Context, runID, step string) (context.Context, func()) {
	ctx, span := pkgotel.StartSpan(ctx, "orchestrator", "run."+step, pkgotel.RunAttributes(runID, step)...)
	started := time.Now()
	return ctx, func() {
		span.End()
		o.observeStepDuration(step, time.Since(started))
	}
}

// metric guards: instruments are optional so tests can run without touching
// the global Prometheus registry.

func (o *Orchestrator) observeRunStart() {
	if o.metrics != nil {
		o.metrics.RunsTotal.Inc()
	}
}

func (o *Orchestrator) observeRunEnd(d time.Duration, err error) {
	if o.metrics == nil {
		return
	}
	o.metrics.RunDuration.Observe(d.Seconds())
	if err != nil {
		o.metrics.RunsFailed.Inc()
	}
}

func (o *Orchestrator) observeStepDuration(step string, d time.Duration) {
	if o.metrics != nil {
		o.metrics.StepDuration.WithLabelValues(step).Observe(d.Seconds())
	}
}

func (o *Orchestrator) observeEntities(n int) {
	if o.metrics != nil {
		o.metrics.EntitiesTotal.Set(float64(n))
	}
}

func (o *Orchestrator) observeFit(kind forecast.ModelKind) {
	if o.metrics != nil {
		o.metrics.FitsTotal.WithLabelValues(kind.String()).Inc()
	}
}

func (o *Orchestrator) observeFitFailure(kind forecast.ModelKind) {
	if o.metrics != nil {
		o.metrics.FitFailures.WithLabelValues(kind.String()).Inc()
	}
}

func (o *Orchestrator) observeBest(kind forecast.ModelKind) {
	if o.metrics != nil {
		o.metrics.BestModel.WithLabelValues(kind.String()).Inc()
	}
}

func (o *Orchestrator) observeWritten(collection string, n int) {
	if o.metrics != nil {
		o.metrics.ForecastsWritten.WithLabelValues(collection).Add(float64(n))
	}
}
