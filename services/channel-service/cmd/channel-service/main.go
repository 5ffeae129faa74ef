package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clipdeck/clipdeck/libs/config"
	"github.com/clipdeck/clipdeck/libs/db"
	"github.com/clipdeck/clipdeck/libs/httpx"
	"github.com/clipdeck/clipdeck/libs/idempotency"
	"github.com/clipdeck/clipdeck/libs/kafkax"
	otelx "github.com/clipdeck/clipdeck/libs/otel"
	"github.com/clipdeck/clipdeck/libs/outbox"
	"github.com/clipdeck/clipdeck/libs/runtime"
	"github.com/clipdeck/clipdeck/libs/saga"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/handlers"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/sagas"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "channel-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	channelRepo := storage.NewChannelRepository(pool)
	handleRepo := storage.NewHandleRepository(pool)
	memberRepo := storage.NewMemberRepository(pool)

	outboxStore := outbox.NewPgStore(pool)
	recorder := outbox.NewRecorder(pool, outboxStore)
	kafkaPublisher := outbox.NewKafkaPublisher(config.String("KAFKA_BROKERS", ""))
	defer func() { _ = kafkaPublisher.Close() }()
	dispatcher := outbox.NewDispatcher(outboxStore, kafkaPublisher, logger, outbox.DispatcherConfig{
		Interval:  config.Seconds("OUTBOX_POLL_SECONDS", 5*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go dispatcher.Run(ctx)

	deps := sagas.Deps{
		Channels:       channelRepo,
		Handles:        handleRepo,
		Members:        memberRepo,
		Events:         recorder,
		HandleCooldown: config.Seconds("HANDLE_COOLDOWN_SECONDS", sagas.DefaultHandleCooldown),
	}
	exec := saga.Chain(saga.NewExecutor(logger).Execute,
		saga.WithTracing(),
		saga.WithLogging(logger),
	)

	channelHandler := handlers.NewChannelHandler(deps, channelRepo, exec, logger)
	adminHandler := handlers.NewDispatcherAdmin(dispatcher, outboxStore, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/channels", channelHandler.Create)
	mux.HandleFunc("/api/v1/channels/get", channelHandler.Get)
	mux.HandleFunc("/api/v1/channels/handle", channelHandler.ChangeHandle)
	mux.HandleFunc("/api/v1/channels/branding", channelHandler.UpdateBranding)
	mux.HandleFunc("/api/v1/channels/members", channelHandler.SetMemberRole)
	mux.HandleFunc("/internal/outbox/dispatcher", adminHandler.Handle)

	limitPerMinute := 120
	if v, err := strconv.Atoi(config.String("RATE_LIMIT_PER_MINUTE", "120")); err == nil && v > 0 {
		limitPerMinute = v
	}
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
		})
		defer func() { _ = rdb.Close() }()
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl:channel"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id,X-Profile-Id,Idempotency-Key")),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Seconds("CORS_MAX_AGE_SECONDS", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Seconds("REQUEST_TIMEOUT_SECONDS", 10*time.Second)),
		rateLimitMW,
		idempotency.Middleware(idempotency.NewPgStore(pool), logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "channel")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := startGrpcServer(ctx, logger, channelRepo); err != nil {
		logger.Error("grpc server start failed", "err", err)
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
