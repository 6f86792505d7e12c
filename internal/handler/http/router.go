package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/gally-search/internal/service"
	"github.com/utafrali/gally-search/pkg/health"
	"github.com/utafrali/gally-search/pkg/middleware"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	CORS              middleware.CORSConfig
	APIKeys           middleware.APIKeys
	SearchCacheMaxAge int
	PprofAllowedCIDRs []string
	RequestTimeout    time.Duration
}

// NewRouter creates a chi router with all search service routes registered.
func NewRouter(
	searchService *service.SearchService,
	reindexService *service.ReindexService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing())
	r.Use(middleware.PrometheusMetrics())
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if len(cfg.PprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	searchHandler := NewSearchHandler(searchService, logger)
	reindexHandler := NewReindexHandler(reindexService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.CacheControl(cfg.SearchCacheMaxAge)).Get("/search", searchHandler.Search)

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)
			r.Post("/search", searchHandler.SearchPost)
		})

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)
			r.Use(middleware.APIKeyAuth(cfg.APIKeys))
			r.Use(middleware.RequestLogger(logger))
			r.Post("/reindex", reindexHandler.Reindex)
		})
	})

	return r
}
