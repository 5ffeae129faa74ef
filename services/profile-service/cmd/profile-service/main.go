package main

import (
	"context"
	"net/http"
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
	"github.com/clipdeck/clipdeck/services/profile-service/internal/handlers"
	"github.com/clipdeck/clipdeck/services/profile-service/internal/sagas"
	"github.com/clipdeck/clipdeck/services/profile-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "profile-service")
	port, err := config.Port("PORT", "8082")
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

	profileRepo := storage.NewProfileRepository(pool)

	outboxStore := outbox.NewPgStore(pool)
	recorder := outbox.NewRecorder(pool, outboxStore)
	kafkaPublisher := outbox.NewKafkaPublisher(config.String("KAFKA_BROKERS", ""))
	defer func() { _ = kafkaPublisher.Close() }()
	dispatcher := outbox.NewDispatcher(outboxStore, kafkaPublisher, logger, outbox.DispatcherConfig{
		Interval:  config.Seconds("OUTBOX_POLL_SECONDS", 5*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go dispatcher.Run(ctx)

	deps := sagas.Deps{Profiles: profileRepo, Events: recorder}
	exec := saga.Chain(saga.NewExecutor(logger).Execute,
		saga.WithTracing(),
		saga.WithLogging(logger),
	)
	profileHandler := handlers.NewProfileHandler(deps, profileRepo, exec, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/profiles", profileHandler.Create)
	mux.HandleFunc("/api/v1/profiles/get", profileHandler.Get)
	mux.HandleFunc("/api/v1/profiles/update", profileHandler.Update)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		idempotency.Middleware(idempotency.NewPgStore(pool), logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "profile")
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
