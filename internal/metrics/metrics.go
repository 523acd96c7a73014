package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the forecasting pipeline.
type Metrics struct {
	RunsTotal     prometheus.Counter
	RunsFailed    prometheus.Counter
	RunDuration   prometheus.Histogram
	StepDuration  *prometheus.HistogramVec
	EntitiesTotal prometheus.Gauge

	FitsTotal   *prometheus.CounterVec
	FitFailures *prometheus.CounterVec
	BestModel   *prometheus.CounterVec

	ForecastsWritten  *prometheus.CounterVec
	ForecastCacheHits prometheus.Counter
	ForecastCacheMiss prometheus.Counter
}

// New creates and registers all instruments with the default registry.
func New() *Metrics {
	return &Metrics{
		RunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dfc_runs_total",
			Help: "Total number of forecast pipeline runs started",
		}),
		RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dfc_runs_failed",
			Help: "Number of forecast pipeline runs that ended in failure",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dfc_run_duration_seconds",
			Help:    "Wall time of full pipeline runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		StepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dfc_step_duration_seconds",
				Help:    "Wall time of individual pipeline steps",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"step"},
		),
		EntitiesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dfc_entities_total",
			Help: "Number of entities processed in the latest run",
		}),
		FitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfc_model_fits_total",
				Help: "Number of model fits attempted per kind",
			},
			[]string{"kind"},
		),
		FitFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfc_model_fit_failures_total",
				Help: "Number of failed model fits per kind",
			},
			[]string{"kind"},
		),
		BestModel: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfc_best_model_selected_total",
				Help: "How often each kind won best-model selection",
			},
			[]string{"kind"},
		),
		ForecastsWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfc_forecast_records_written_total",
				Help: "Forecast records persisted per collection",
			},
			[]string{"collection"},
		),
		ForecastCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dfc_forecast_cache_hits",
			Help: "Forecast read requests served from the in-process cache",
		}),
		ForecastCacheMiss: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dfc_forecast_cache_misses",
			Help: "Forecast read requests that went to the store",
		}),
	}
}
