package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/retailcast/demandcast/internal/cache"
	"github.com/retailcast/demandcast/internal/metrics"
	"github.com/retailcast/demandcast/internal/orchestrator"
	"github.com/retailcast/demandcast/internal/registry"
	"github.com/retailcast/demandcast/internal/runlog"
	"github.com/retailcast/demandcast/internal/store"
	pkgotel "github.com/retailcast/demandcast/pkg/otel"
)

type Server struct {
	store        store.Store
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	cache        *cache.ForecastCache
	metrics      *metrics.Metrics
	limiter      *rate.Limiter
	metricsAuth  struct {
		enabled  bool
		user     string
		password string
	}
}

func main() {
	// Setup demand store
	backend := getEnv("DFC_STORE_BACKEND", "memory")
	var st store.Store
	var locker orchestrator.RunLocker
	var err error

	switch backend {
	case "memory":
		snapshotPath := getEnv("DFC_SNAPSHOT", "data/demand.json")
		st = store.NewMemoryStore(snapshotPath)
	case "redis":
		redisAddr := getEnv("DFC_REDIS_ADDR", "localhost:6379")
		rs, rerr := store.NewRedisStore(redisAddr, getEnv("DFC_REDIS_PASSWORD", ""), getEnvInt("DFC_REDIS_DB", 0))
		if rerr != nil {
			log.Fatalf("Failed to create Redis store: %v", rerr)
		}
		st = rs
		locker = rs
	case "postgres":
		connStr := getEnv("DFC_POSTGRES_CONN", "")
		st, err = store.NewPostgresStore(connStr, getEnvInt("DFC_PG_BATCHES_PER_SEC", 10))
		if err != nil {
			log.Fatalf("Failed to create Postgres store: %v", err)
		}
	default:
		log.Fatalf("Unknown DFC_STORE_BACKEND: %s", backend)
	}

	// Model registry
	reg, err := registry.NewRegistry(getEnv("DFC_REGISTRY_DIR", "data/registry"))
	if err != nil {
		log.Fatalf("Failed to open model registry: %v", err)
	}

	// Run journal
	journal, err := runlog.Open(getEnv("DFC_RUNLOG_DIR", "data/runs"))
	if err != nil {
		log.Fatalf("Failed to open run journal: %v", err)
	}

	// Metrics
	m := metrics.New()

	// Optional tracing
	ctx := context.Background()
	if endpoint := getEnv("DFC_OTEL_ENDPOINT", ""); endpoint != "" {
		otelConfig := pkgotel.DefaultConfig("demandcast")
		otelConfig.CollectorEndpoint = endpoint
		tp, terr := pkgotel.InitTracer(ctx, otelConfig)
		if terr != nil {
			log.Fatalf("Failed to init tracing: %v", terr)
		}
		defer pkgotel.Shutdown(ctx, tp)
	}

	// Orchestrator
	config := orchestrator.DefaultConfig()
	config.Horizon = getEnvInt("DFC_HORIZON", config.Horizon)
	orch := orchestrator.New(st, reg, config, log.Default()).
		WithMetrics(m).
		WithJournal(journal)
	if locker != nil {
		orch = orch.WithRunLock(locker)
	}

	// Forecast read cache
	fcache, err := cache.NewForecastCache(getEnvInt("DFC_CACHE_SIZE", 256), time.Duration(getEnvInt("DFC_CACHE_TTL_SEC", 300))*time.Second)
	if err != nil {
		log.Fatalf("Failed to create forecast cache: %v", err)
	}

	// Rate limiter for run requests: training is expensive
	runRate := getEnvInt("DFC_RUN_RATE", 2)
	limiter := rate.NewLimiter(rate.Limit(float64(runRate)/60.0), 1)

	srv := &Server{
		store:        st,
		registry:     reg,
		orchestrator: orch,
		cache:        fcache,
		metrics:      m,
		limiter:      limiter,
	}
	srv.metricsAuth.enabled = getEnv("METRICS_USER", "") != ""
	srv.metricsAuth.user = getEnv("METRICS_USER", "")
	srv.metricsAuth.password = getEnv("METRICS_PASS", "")

	mux := http.NewServeMux()
	mux.HandleFunc("/api/forecast/run", srv.handleRun)
	mux.HandleFunc("/api/forecast", srv.handleForecast)
	mux.HandleFunc("/api/models", srv.handleModels)
	mux.Handle("/metrics", srv.metricsHandler())
	mux.HandleFunc("/healthz", handleHealth)

	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // synchronous runs train every model kind
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s (store=%s)", port, backend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdown
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := journal.Close(); err != nil {
		log.Printf("Error closing run journal: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Printf("Error closing store: %v", err)
	}

	log.Println("Server stopped")
}

type runRequest struct {
	TrainModels       *bool `json:"train_models"`
	GenerateForecasts *bool `json:"generate_forecasts"`
	Persist           *bool `json:"persist"`
	Horizon           int   `json:"horizon"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "60")
		http.Error(w, "A run was started recently; try again later", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	// Missing flags default to the full pipeline.
	opts := orchestrator.FullRun()
	if len(body) > 0 {
		var req runRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if req.TrainModels != nil {
			opts.TrainModels = *req.TrainModels
		}
		if req.GenerateForecasts != nil {
			opts.GenerateForecasts = *req.GenerateForecasts
		}
		if req.Persist != nil {
			opts.Persist = *req.Persist
		}
		opts.Horizon = req.Horizon
	}

	report, err := s.orchestrator.Run(r.Context(), opts)
	if err == nil {
		// Forecast collections were rewritten; readers must not see the
		// previous run.
		s.cache.Clear()
	}

	status := http.StatusOK
	switch {
	case errors.Is(err, orchestrator.ErrRunLocked):
		status = http.StatusConflict
	case err != nil:
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	collection := store.CollectionCategoryForecast
	if q.Get("level") == "item" {
		collection = store.CollectionItemForecast
	}
	filter := store.Filter{
		YearFrom: atoi(q.Get("year_from")),
		YearTo:   atoi(q.Get("year_to")),
	}
	if c := q.Get("category"); c != "" {
		filter.Categories = []string{c}
	}

	key := cache.ForecastKey(collection, filter)
	if records, ok := s.cache.Get(key); ok {
		s.metrics.ForecastCacheHits.Inc()
		respondJSON(w, records)
		return
	}
	s.metrics.ForecastCacheMiss.Inc()

	records, err := s.store.FetchForecasts(r.Context(), collection, filter)
	if err != nil {
		log.Printf("forecast fetch failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.cache.Set(key, records)
	respondJSON(w, records)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	entity := q.Get("entity")

	if entity != "" && q.Get("best") == "true" {
		best, err := s.registry.BestModel(entity)
		if errors.Is(err, registry.ErrNotFound) {
			http.Error(w, "No models for entity", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		respondJSON(w, best)
		return
	}

	if entity != "" {
		respondJSON(w, s.registry.ListEntity(entity))
		return
	}
	respondJSON(w, s.registry.List())
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()

	if !s.metricsAuth.enabled {
		return handler
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
