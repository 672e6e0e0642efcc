package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/peerhours/libs/auth"
	"github.com/md-rashed-zaman/peerhours/libs/db"
	"github.com/md-rashed-zaman/peerhours/libs/httpx"
	"github.com/md-rashed-zaman/peerhours/libs/kafkax"
	otelx "github.com/md-rashed-zaman/peerhours/libs/otel"
	"github.com/md-rashed-zaman/peerhours/libs/redisx"
	"github.com/md-rashed-zaman/peerhours/libs/runtime"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/appconfig"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/consumer"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/directory"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/handlers"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/inbox"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/metrics"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/oracle"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/storage"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/windows"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/migrations"
)

func main() {
	cfg, err := appconfig.Load()
	if err != nil {
		runtime.NewLogger("availability-service", "info").Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)

	ctx, stop := runtime.SignalContext(context.Background(), logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		applied, err := migrations.Up(ctx, pool)
		if err != nil {
			logger.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "files", applied)
		}
	}

	rdb := redisx.Open(redisx.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if rdb != nil {
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewAvailabilityMetrics(reg)

	dir := directory.NewCache(directory.NewPostgres(pool), rdb, directory.CacheConfig{TTL: cfg.DirectoryTTL}, m, logger)
	store := windows.NewStore(storage.NewWindowRepository(pool), outbox.NewRepository(), dir, m, logger)
	gen := availability.NewGenerator(
		oracle.NewInstrumented(oracle.NewPostgres(pool), m),
		availability.GeneratorConfig{
			Concurrency:  cfg.OracleConcurrency,
			CallTimeout:  cfg.OracleTimeout,
			MaxRangeDays: cfg.MaxRangeDays,
			Location:     cfg.Location,
		},
		logger,
	)
	svc := availability.NewService(store, gen, m, logger)

	var jwks *auth.JWKSClient
	if cfg.JWKSURL != "" {
		jwks = auth.NewJWKSClient(cfg.JWKSURL, 5*time.Minute)
		warmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := jwks.Refresh(warmCtx); err != nil {
			logger.Warn("jwks warmup failed, keys will be fetched on demand", "err", err)
		}
		cancel()
	}
	verifier := auth.NewVerifier(auth.VerifierConfig{Secret: cfg.JWTSecret, JWKS: jwks, Issuer: cfg.JWTIssuer})

	var limit httpx.Middleware
	rateKey := auth.UserKey(httpx.ClientKey)
	if rdb != nil {
		limit = httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "rl:availability", rateKey).
			Middleware(logger, cfg.RateLimitFailOpen)
	} else {
		limit = httpx.NewRateLimiter(cfg.RateLimitPerMinute, rateKey).Middleware()
	}
	protect := func(next http.Handler) http.Handler {
		return httpx.Chain(next, auth.RequireBearer(verifier), limit)
	}

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb), Optional: true})
	}
	if cfg.KafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers), Optional: true})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	handlers.New(svc, store, cfg.DefaultDuration, logger).Register(mux, protect)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "If-Match", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id", "Location", "Retry-After", "ETag"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	handler = otelhttp.NewHandler(handler, "availability")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	publisher := outbox.NewPublisher(pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
		Brokers:     cfg.KafkaBrokers,
		PollEvery:   cfg.OutboxPollEvery,
		MaxAttempts: cfg.OutboxAttempts,
		Retention:   cfg.OutboxRetention,
	})
	go publisher.Run(ctx)

	if cfg.KafkaBrokers != "" {
		c := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers:     cfg.KafkaBrokers,
			GroupID:     cfg.ConsumerGroupID,
			Topic:       cfg.ProfileTopic,
			MaxAttempts: cfg.ConsumerRetries,
		}, consumer.ProfileHandler(dir, logger))
		go c.Run(ctx)
	} else {
		logger.Warn("profile consumer disabled, no kafka brokers configured")
	}

	if err := startGrpcServer(ctx, logger, cfg.GRPCPort, checks); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
