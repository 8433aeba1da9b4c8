package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-billswift/internal/analytics"
	"github.com/noah-isme/backend-billswift/internal/app"
	"github.com/noah-isme/backend-billswift/internal/audit"
	"github.com/noah-isme/backend-billswift/internal/auth"
	"github.com/noah-isme/backend-billswift/internal/billing"
	"github.com/noah-isme/backend-billswift/internal/catalog"
	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/config"
	"github.com/noah-isme/backend-billswift/internal/events"
	"github.com/noah-isme/backend-billswift/internal/health"
	"github.com/noah-isme/backend-billswift/internal/lock"
	"github.com/noah-isme/backend-billswift/internal/obs"
	"github.com/noah-isme/backend-billswift/internal/pricing"
	"github.com/noah-isme/backend-billswift/internal/ratelimit"
	"github.com/noah-isme/backend-billswift/internal/repo"
	"github.com/noah-isme/backend-billswift/internal/security"
)

const serviceName = "billswift-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Str("service", serviceName).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "billswift")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, prometheus.DefaultRegisterer)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", false)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:    serviceName,
			ServiceVersion: envOrDefault("SERVICE_VERSION", "dev"),
			Endpoint:       envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio:  envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:    cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	deps, err := app.Open(startCtx, cfg, app.Options{
		ApplicationName:  serviceName,
		MetricsNamespace: metricsNamespace,
		MetricsEnabled:   metricsEnabled,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	if cfg.MigrateOnStart {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		err := app.RunMigrations(migrateCtx, cfg.DatabaseURL, lock.Locker{R: deps.Redis}, logger)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	store := repo.NewPostgres(deps.DB)
	bus := &events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}},
	}
	logger.Info().Strs("topics", events.DefaultTopics()).Msg("domain events enabled")

	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{
		Store:  store,
		Engine: pricing.Engine{TaxRateBps: cfg.TaxRateBps},
		Cache:  catalog.NewCache(deps.Redis, cfg.CatalogCacheTTL),
		Events: bus,
		Logger: logger.With().Str("component", "catalog").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init catalog service")
	}

	numberer, err := billing.NewNumberer(billing.NumbererConfig{
		Probe:       store,
		Prefix:      cfg.BillNumberPrefix,
		MaxAttempts: cfg.BillNumberMaxAttempts,
		NodeID:      cfg.BillNumberNodeID,
		Logger:      logger.With().Str("component", "bill_number").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init bill numberer")
	}
	billingSvc, err := billing.NewService(billing.ServiceConfig{
		Store:         store,
		Numberer:      numberer,
		Events:        bus,
		Logger:        logger.With().Str("component", "billing").Logger(),
		CommitRetries: cfg.BillCommitMaxRetries,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init billing service")
	}

	tokens, err := auth.NewTokens(auth.Config{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		AccessTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init token verifier")
	}

	auditSvc := &audit.Service{Store: store, Enabled: cfg.AuditEnabled, SamplingRate: cfg.AuditSamplingRate}
	api := app.API{
		Auth:      auth.Middleware{Tokens: tokens},
		Catalog:   catalog.NewHandler(catalog.HandlerConfig{Service: catalogSvc}),
		Billing:   billing.NewHandler(billing.HandlerConfig{Service: billingSvc}),
		Analytics: &analytics.Handler{Svc: &analytics.Service{Q: store, R: deps.Redis, TTL: cfg.AnalyticsCacheTTL, DefaultRange: cfg.AnalyticsRange}},
		AuditLogs: audit.Handler{Store: store},
		Audit: audit.HTTPRecorder{
			Service: auditSvc,
			OnError: func(err error) { logger.Warn().Err(err).Msg("record audit log") },
		},
		Idem: common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL},
		BillLimit: ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "billswift:rl:"},
			Config: ratelimit.Config{
				Key:    ratelimit.ByPrincipal("bills"),
				Window: cfg.BillRateLimitWindow,
				Max:    cfg.BillRateLimitMax,
			},
			OnError: func(err error) { logger.Warn().Err(err).Msg("bill rate limiter unavailable") },
		}.Middleware,
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnabled, EnableHSTS: cfg.IsProduction()}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"Location", "X-Total-Count", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.BodyLimit{Max: cfg.RequestBodyLimit}.Middleware)
	if limiterStore, err := ratelimit.NewStore(deps.Redis, "billswift:api"); err != nil {
		logger.Error().Err(err).Msg("init api rate limit store")
	} else if global, err := ratelimit.Global(limiterStore, cfg.APIRateLimit); err != nil {
		logger.Error().Err(err).Msg("init api rate limit")
	} else {
		r.Use(global)
	}

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	healthHandler := health.Handler{
		Checker:      deps,
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	api.Mount(r)

	var handler http.Handler = r
	if tracingEnabled {
		handler = otelhttp.NewHandler(r, serviceName)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("draining")
	}

	health.SetReady(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return time.Duration(fallback) * time.Millisecond
}
