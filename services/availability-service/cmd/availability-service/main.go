package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/tutorslots/libs/auth"
	"github.com/md-rashed-zaman/tutorslots/libs/config"
	"github.com/md-rashed-zaman/tutorslots/libs/db"
	"github.com/md-rashed-zaman/tutorslots/libs/httpx"
	"github.com/md-rashed-zaman/tutorslots/libs/kafkax"
	otelx "github.com/md-rashed-zaman/tutorslots/libs/otel"
	"github.com/md-rashed-zaman/tutorslots/libs/runtime"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/cache"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/consumer"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/handlers"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/inbox"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/storage"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/migrations"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := loadSettings()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.databaseURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if cfg.autoMigrate {
		if err := storage.Migrate(ctx, pool, migrations.FS, logger); err != nil {
			logger.Error("migration failed", "err", err)
			panic(err)
		}
	}

	outboxRepo := outbox.NewRepository()
	repo := storage.NewRepository(pool, outboxRepo)
	if cfg.seedDemo {
		if err := storage.Seed(ctx, repo, logger); err != nil {
			logger.Error("demo seed failed", "err", err)
		}
	}

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if cfg.kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.kafkaBrokers)})
	}

	var opts []booking.Option
	var rateLimitMW httpx.Middleware
	if cfg.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})

		profiles := cache.NewProfileCache(rdb, repo, cfg.profileTTL, logger)
		opts = append(opts, booking.WithProfileCache(profiles))

		if cfg.kafkaBrokers != "" {
			eventConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
				Brokers: cfg.kafkaBrokers,
				GroupID: cfg.kafkaGroupID,
				Topic:   outbox.TopicAvailabilityUpdated,
			}, consumer.EvictProfiles(profiles, logger))
			go eventConsumer.Run(ctx)
		}

		rl := httpx.NewRedisRateLimiter(rdb, cfg.rateLimitPerMinute, time.Minute, "rl:availability")
		rateLimitMW = rl.Middleware(logger, cfg.rateLimitFailOpen)
		logger.Info("profile cache and rate limiting enabled (redis)", "redis_addr", cfg.redisAddr, "per_minute", cfg.rateLimitPerMinute)
	} else {
		rateLimitMW = httpx.NewRateLimiter(cfg.rateLimitPerMinute, time.Minute).Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.rateLimitPerMinute)
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	svc := booking.NewService(repo, logger, cfg.booking, opts...)
	logger.Info("trial policy", "global_cap", svc.Policy().GlobalCap, "per_tutor_cap", svc.Policy().PerTutorCap)

	verifier := auth.Verifier{Secret: cfg.jwtSecret}
	if cfg.jwksURL != "" {
		verifier.JWKS = auth.NewJWKSClient(cfg.jwksURL, cfg.jwksTTL)
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", promhttp.Handler())
	handlers.New(svc, logger).Register(mux, verifier)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.cors,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id", "Idempotency-Key"},
			MaxAge:         cfg.corsMaxAge,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(cfg.bodyLimit),
		httpx.WithTimeout(cfg.requestTimeout),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "availability")
	srv := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.grpcPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	startGRPCServer(ctx, logger, lis, 10*time.Second, readyChecks...)

	if err := runtime.ServeHTTP(ctx, srv, logger, 10*time.Second); err != nil {
		logger.Error("http server error", "err", err)
	}
}
