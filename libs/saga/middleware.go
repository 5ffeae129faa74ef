package saga

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WithLogging logs saga start/outcome with timing around the wrapped ExecFunc.
func WithLogging(logger *slog.Logger) Middleware {
	return func(next ExecFunc) ExecFunc {
		return func(ctx context.Context, sc *Context, steps []Step) error {
			start := time.Now()
			logger.Info("saga started",
				"saga_id", sc.SagaID(),
				"saga_type", sc.SagaType(),
				"steps", len(steps),
			)
			err := next(ctx, sc, steps)
			if err != nil {
				logger.Error("saga failed",
					"saga_id", sc.SagaID(),
					"saga_type", sc.SagaType(),
					"duration_ms", time.Since(start).Milliseconds(),
					"err", err,
				)
				return err
			}
			logger.Info("saga completed",
				"saga_id", sc.SagaID(),
				"saga_type", sc.SagaType(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}

// WithTracing wraps the saga run in a span carrying saga id and type.
func WithTracing() Middleware {
	return func(next ExecFunc) ExecFunc {
		return func(ctx context.Context, sc *Context, steps []Step) error {
			ctx, span := otel.Tracer("saga").Start(ctx, "saga.execute",
				trace.WithAttributes(
					attribute.String("saga.id", sc.SagaID()),
					attribute.String("saga.type", sc.SagaType()),
				),
			)
			defer span.End()

			err := next(ctx, sc, steps)
			if err != nil {
				span.RecordError(err)
			}
			return err
		}
	}
}
