package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/clipdeck/clipdeck/libs/config"
	"github.com/clipdeck/clipdeck/libs/db"
	"github.com/clipdeck/clipdeck/libs/httpx"
	"github.com/clipdeck/clipdeck/libs/idempotency"
	"github.com/clipdeck/clipdeck/libs/inbox"
	"github.com/clipdeck/clipdeck/libs/kafkax"
	otelx "github.com/clipdeck/clipdeck/libs/otel"
	"github.com/clipdeck/clipdeck/libs/outbox"
	"github.com/clipdeck/clipdeck/libs/runtime"
	"github.com/clipdeck/clipdeck/libs/saga"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/consumer"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/handlers"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/quota"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/sagas"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "upload-service")
	port, err := config.Port("PORT", "8083")
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

	uploadRepo := storage.NewUploadRepository(pool)
	quotaRepo := storage.NewQuotaRepository(pool)

	outboxStore := outbox.NewPgStore(pool)
	recorder := outbox.NewRecorder(pool, outboxStore)
	kafkaPublisher := outbox.NewKafkaPublisher(config.String("KAFKA_BROKERS", ""))
	defer func() { _ = kafkaPublisher.Close() }()
	dispatcher := outbox.NewDispatcher(outboxStore, kafkaPublisher, logger, outbox.DispatcherConfig{
		Interval:  config.Seconds("OUTBOX_POLL_SECONDS", 5*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go dispatcher.Run(ctx)

	fallback := quota.Limits{
		MaxActiveUploads: int32(config.Int("QUOTA_MAX_ACTIVE_UPLOADS", 2)),
		MaxUploadBytes:   int64(config.Int("QUOTA_MAX_UPLOAD_GB", 20)) << 30,
	}
	limits, err := quota.NewChannelQuotaProvider(logger, fallback, config.String("CHANNEL_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("quota provider init failed; using static limits", "err", err)
		limits = quota.NewStaticProvider(fallback)
	}

	// New channels get a quota row as soon as channel.created.v1 arrives.
	inboxStore := inbox.NewPgStore(pool)
	defaultBudget := int64(config.Int("QUOTA_DEFAULT_BUDGET_GB", 20)) << 30
	eventConsumer := consumer.New(logger, inboxStore, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "upload-service"),
		Topic:   config.String("KAFKA_CONSUME_TOPIC", "channel.created.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			ChannelID string `json:"channel_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.ChannelID == "" {
			logger.Error("missing channel_id in event", "topic", msg.Topic)
			return nil
		}
		channelLimits, err := limits.ChannelLimits(ctx, payload.ChannelID)
		if err != nil {
			logger.Warn("channel limits lookup failed; using defaults", "err", err)
			channelLimits = quota.Limits{MaxActiveUploads: fallback.MaxActiveUploads, MaxUploadBytes: defaultBudget}
		}
		return quotaRepo.Provision(ctx, payload.ChannelID, channelLimits.MaxActiveUploads, defaultBudget)
	})
	go eventConsumer.Run(ctx)

	deps := sagas.Deps{
		Uploads: uploadRepo,
		Quotas:  quotaRepo,
		Events:  recorder,
		Limits:  limits,
	}
	exec := saga.Chain(saga.NewExecutor(logger).Execute,
		saga.WithTracing(),
		saga.WithLogging(logger),
	)
	uploadHandler := handlers.NewUploadHandler(deps, uploadRepo, quotaRepo, exec, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/uploads", uploadHandler.Initialize)
	mux.HandleFunc("/api/v1/uploads/get", uploadHandler.Get)
	mux.HandleFunc("/api/v1/quotas", uploadHandler.Quota)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		idempotency.Middleware(idempotency.NewPgStore(pool), logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "upload")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
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
