package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mnemoslabs/mnemos/internal/api/handlers"
	mw "github.com/mnemoslabs/mnemos/internal/api/middleware"
	"github.com/mnemoslabs/mnemos/internal/buildconfig"
	"github.com/mnemoslabs/mnemos/internal/codec"
	"github.com/mnemoslabs/mnemos/internal/config"
	"github.com/mnemoslabs/mnemos/internal/domain"
	"github.com/mnemoslabs/mnemos/internal/index"
	"github.com/mnemoslabs/mnemos/internal/metrics"
	"github.com/mnemoslabs/mnemos/internal/service"
	"github.com/mnemoslabs/mnemos/internal/store"
)

// Deps are the wired backends the App serves. Index and Policies are
// usually the same value; they are separate fields so either can be
// swapped in tests.
type Deps struct {
	Codec     *codec.Codec
	Content   domain.ContentStore
	Index     domain.EnvelopeIndex
	Policies  domain.PolicyStore
	Identity  *service.IdentityManager
	Estimator domain.TokenEstimator
	Metrics   metrics.Collector
	Logger    *zap.Logger
}

// App holds the router and request counters for lifecycle management.
type App struct {
	Router       *chi.Mux
	Ledger       *service.Ledger
	Compiler     *service.Compiler
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewApp wires services, handlers, and routes. The identity kernel is
// loaded (or created) up front; its id is the attester principal for
// every write.
func NewApp(deps Deps) (*App, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}

	kernel, err := deps.Identity.Load()
	if err != nil {
		return nil, err
	}

	// Services
	ledger := service.NewLedger(deps.Codec, deps.Content, deps.Index, kernel.ID.String(), deps.Metrics, logger)
	compiler := service.NewCompiler(ledger, deps.Index, deps.Policies, deps.Estimator, deps.Metrics, logger)

	// Handlers
	memoryHandler := handlers.NewMemoryHandler(ledger, deps.Index)
	compileHandler := handlers.NewCompileHandler(compiler, deps.Identity)
	kernelHandler := handlers.NewKernelHandler(deps.Identity)
	policyHandler := handlers.NewPolicyHandler(deps.Policies)

	var reconcileHandler *handlers.ReconcileHandler
	if listing, ok := deps.Content.(domain.ListingContentStore); ok {
		reconcileHandler = handlers.NewReconcileHandler(service.NewReconciler(listing, deps.Index, logger))
	}

	r := chi.NewRouter()
	app := &App{
		Router:    r,
		Ledger:    ledger,
		Compiler:  compiler,
		startTime: time.Now(),
	}

	stats := mw.NewRequestStats(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(stats.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	// Health and metrics (no auth)
	r.Get("/health", healthHandler(deps.Index))
	r.Get("/metrics", app.statsHandler())
	if prom, ok := deps.Metrics.(*metrics.PromCollector); ok {
		r.Handle("/metrics/prometheus", promhttp.HandlerFor(prom.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/kernel", func(r chi.Router) {
			r.Get("/", kernelHandler.Get)
			r.Post("/values", kernelHandler.AddValue)
			r.Post("/boundaries", kernelHandler.AddBoundary)
			r.Put("/preferences", kernelHandler.SetPreference)
			r.Post("/epoch", kernelHandler.TransitionEpoch)
			r.Get("/export", kernelHandler.Export)
			r.Post("/import", kernelHandler.Import)
		})

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", memoryHandler.Remember)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", memoryHandler.GetByID)
				r.Post("/supersede", memoryHandler.Supersede)
				r.Post("/tombstone", memoryHandler.Tombstone)
				r.Delete("/", memoryHandler.Shred)
			})
		})

		r.Post("/reflections", memoryHandler.IngestReflections)

		r.Route("/policies", func(r chi.Router) {
			r.Put("/", policyHandler.Upsert)
			r.Get("/", policyHandler.ListByOwner)
			r.Get("/{id}", policyHandler.GetByID)
		})

		r.Post("/context-packs", compileHandler.Compile)

		if reconcileHandler != nil {
			r.Route("/reconcile", func(r chi.Router) {
				r.Get("/orphans", reconcileHandler.Orphans)
				r.Get("/cycles", reconcileHandler.Cycles)
			})
		}
	})

	return app, nil
}

func healthHandler(idx domain.EnvelopeIndex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// A one-row query doubles as a backend liveness probe.
		if _, err := idx.Query(r.Context(), domain.QueryOpts{Limit: 1}); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) statsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"version":        buildconfig.Version(),
			"commit":         buildconfig.Commit(),
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores satisfy interfaces at compile time.
var (
	_ domain.ContentStore        = (*store.LocalStore)(nil)
	_ domain.ContentStore        = (*store.GatewayStore)(nil)
	_ domain.ContentStore        = (*store.PostgresStore)(nil)
	_ domain.ListingContentStore = (*store.LocalStore)(nil)
	_ domain.ListingContentStore = (*store.PostgresStore)(nil)
	_ service.ContentDeleter     = (*store.LocalStore)(nil)
	_ service.ContentDeleter     = (*store.PostgresStore)(nil)
	_ domain.EnvelopeIndex       = (*index.SQLiteIndex)(nil)
	_ domain.EnvelopeIndex       = (*index.PostgresIndex)(nil)
	_ domain.PolicyStore         = (*index.SQLiteIndex)(nil)
	_ domain.PolicyStore         = (*index.PostgresIndex)(nil)
)
