// Package app is the composition root of the search service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/gally-search/internal/config"
	"github.com/utafrali/gally-search/internal/engine"
	esengine "github.com/utafrali/gally-search/internal/engine/elasticsearch"
	"github.com/utafrali/gally-search/internal/engine/gally"
	"github.com/utafrali/gally-search/internal/engine/memory"
	"github.com/utafrali/gally-search/internal/event"
	handler "github.com/utafrali/gally-search/internal/handler/http"
	"github.com/utafrali/gally-search/internal/install"
	"github.com/utafrali/gally-search/internal/job"
	jobmemory "github.com/utafrali/gally-search/internal/job/memory"
	jobpostgres "github.com/utafrali/gally-search/internal/job/postgres"
	"github.com/utafrali/gally-search/internal/job/postgres/migrations"
	jobredis "github.com/utafrali/gally-search/internal/job/redis"
	"github.com/utafrali/gally-search/internal/queue"
	"github.com/utafrali/gally-search/internal/reindex"
	"github.com/utafrali/gally-search/internal/service"
	"github.com/utafrali/gally-search/internal/source"
	"github.com/utafrali/gally-search/internal/translator"
	"github.com/utafrali/gally-search/pkg/database"
	"github.com/utafrali/gally-search/pkg/health"
	"github.com/utafrali/gally-search/pkg/httpclient"
	pkgkafka "github.com/utafrali/gally-search/pkg/kafka"
	"github.com/utafrali/gally-search/pkg/middleware"
	"github.com/utafrali/gally-search/pkg/tracing"
)

// ServiceName identifies the service in logs, traces and event envelopes.
const ServiceName = "gally-search"

// App wires together all dependencies and runs the search service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	consumers  []*pkgkafka.Consumer
	producer   *pkgkafka.Producer
	httpServer *http.Server

	// closers release connections in reverse order of creation.
	closers []func() error
}

// NewApp creates a new application instance, initializing all dependencies.
// Resources opened before a failure are released.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.OTELEnabled,
		ServiceName:    ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(shutdownCtx)
	})

	aliases, err := translator.LoadAliases(cfg.FieldAliasesFile)
	if err != nil {
		return nil, fmt.Errorf("load field aliases: %w", err)
	}
	catalogs, err := reindex.ParseCatalogs(cfg.WebsiteCatalogs)
	if err != nil {
		return nil, fmt.Errorf("parse WEBSITE_CATALOGS: %w", err)
	}
	defaultCatalog := cfg.DefaultCatalog
	if defaultCatalog == "" {
		defaultCatalog = catalogs.For(nil)[0]
	}

	healthHandler := health.NewHandler()

	eng, err := newEngine(cfg, healthHandler, logger)
	if err != nil {
		return nil, err
	}

	// Kafka producer, shared by the reindex flow and the reindex API.
	a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	a.closers = append(a.closers, a.producer.Close)
	producer := queue.NewKafkaProducer(a.producer, ServiceName)
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return pkgkafka.PingBrokers(ctx, cfg.KafkaBrokers)
	})

	store, redisClient, err := a.newJobStore(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	// Document sources.
	products := source.NewProductSource(cfg.ProductServiceURL, newDoer("product-service", logger), cfg.ProductPageSize, logger)
	sources := source.NewRegistry()
	sources.Register(service.DefaultEntityType, products)

	granularizer := &reindex.ChunkGranularizer{ChunkSize: cfg.ChunkSize, Websites: catalogs.Websites()}
	if cfg.PageFullReindex {
		granularizer.Counter = reindex.SourceCounter{Sources: sources}
	}

	tracker := install.NewTracker(eng, logger)
	processor := reindex.NewProcessor(reindex.ProcessorConfig{
		Passes:                      reindex.NewIndexRegistry(eng, catalogs, logger),
		Granularizer:                granularizer,
		Indexer:                     reindex.NewIndexer(eng, sources, catalogs, logger),
		Runner:                      job.NewRunner(store, producer, logger),
		Producer:                    producer,
		Installer:                   tracker,
		DisableGranularizationCache: cfg.DisableGranularizationCache,
	}, logger)

	searchService := service.NewSearchService(eng, aliases, defaultCatalog, logger)
	reindexService := service.NewReindexService(producer, reindex.TopicReindex, sources.EntityTypes(), logger)

	// Kafka consumers. Reindex and finish messages are deduplicated by the
	// job graph and install idempotence; product events by event id.
	var idempotency pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
	if redisClient != nil {
		idempotency = pkgkafka.NewRedisIdempotencyStore(redisClient, "gally:events:", cfg.IdempotencyTTL)
	}
	productEvents := pkgkafka.IdempotentHandler(idempotency, event.NewConsumer(reindexService, logger).Handle, logger)

	handlers := map[string]pkgkafka.Handler{
		reindex.TopicReindex:         queue.KafkaHandler(reindex.TopicReindex, processor),
		reindex.TopicReindexFinished: queue.KafkaHandler(reindex.TopicReindexFinished, tracker),
	}
	for _, topic := range event.Topics {
		handlers[topic] = productEvents
	}
	for topic, h := range handlers {
		a.consumers = append(a.consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:   cfg.KafkaBrokers,
			GroupID:   cfg.KafkaGroupID,
			Topic:     topic,
			MinBytes:  1,
			MaxBytes:  10e6, // 10 MB
			EnableDLQ: true,
		}, h, logger))
	}
	logger.Info("kafka consumers initialized",
		slog.Any("brokers", cfg.KafkaBrokers),
		slog.Int("topic_count", len(handlers)),
	)

	router := handler.NewRouter(searchService, reindexService, healthHandler, handler.RouterConfig{
		CORS:              middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		APIKeys:           cfg.Clients(),
		SearchCacheMaxAge: cfg.SearchCacheMaxAge,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		RequestTimeout:    cfg.RequestTimeout,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return a, nil
}

// newEngine builds the search backend selected by SEARCH_ENGINE.
func newEngine(cfg *config.Config, h *health.Handler, logger *slog.Logger) (engine.Engine, error) {
	switch cfg.SearchEngine {
	case config.EngineGally:
		client := gally.NewClient(gally.Config{
			BaseURL:  cfg.GallyURL,
			Email:    cfg.GallyEmail,
			Password: cfg.GallyPassword,
		}, newDoer("gally", logger), logger)
		h.RegisterCritical("gally", client.Ping)
		logger.Info("gally search engine initialized", slog.String("url", cfg.GallyURL))
		return client, nil

	case config.EngineElasticsearch:
		es, err := esengine.New(esengine.Config{
			URL:         cfg.ElasticsearchURL,
			IndexPrefix: cfg.ElasticsearchIndex,
			Facets:      cfg.Facets,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init elasticsearch engine: %w", err)
		}
		h.RegisterCritical("elasticsearch", es.Ping)
		logger.Info("elasticsearch search engine initialized",
			slog.String("url", cfg.ElasticsearchURL),
			slog.String("index_prefix", cfg.ElasticsearchIndex),
		)
		return es, nil

	default:
		logger.Info("in-memory search engine initialized")
		return memory.New(cfg.Facets...), nil
	}
}

// newJobStore opens the job store selected by JOB_STORE. The Redis client is
// returned so that event deduplication can share it.
func (a *App) newJobStore(ctx context.Context, h *health.Handler) (job.Store, *redis.Client, error) {
	switch a.cfg.JobStore {
	case config.JobStoreRedis:
		client, err := database.NewRedisClient(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis job store: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		h.RegisterCritical("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		a.logger.Info("redis job store initialized")
		return jobredis.NewStore(client, jobredis.DefaultKeyPrefix), client, nil

	case config.JobStorePostgres:
		pool, err := database.NewPostgresPool(ctx, database.DefaultPostgresConfig(a.cfg.DatabaseURL), a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres job store: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			return nil, nil, fmt.Errorf("migrate job store: %w", err)
		}
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool); err != nil {
			a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}
		database.SetSlowQueryLogging(a.cfg.SlowQueryThreshold, a.logger)
		h.RegisterCritical("postgres", pool.Ping)
		a.logger.Info("postgres job store initialized")
		return jobpostgres.NewStore(pool), nil, nil

	default:
		a.logger.Info("in-memory job store initialized")
		return jobmemory.NewStore(), nil, nil
	}
}

// newDoer returns a retrying HTTP client behind a circuit breaker.
func newDoer(name string, logger *slog.Logger) httpclient.Doer {
	return httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig(name),
		logger,
	)
}

// Run starts the HTTP server and Kafka consumers, blocking until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1+len(a.consumers))

	for _, c := range a.consumers {
		go func() {
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("component failed, shutting down", slog.String("error", runErr.Error()))
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	errs = append(errs, a.close())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// close releases producer, stores and tracing, newest first.
func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
