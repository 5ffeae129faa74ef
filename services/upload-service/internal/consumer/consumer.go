// Package consumer reads channel lifecycle events and applies them through
// the inbox guard, so redeliveries never run a handler's side effects twice.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipdeck/clipdeck/libs/inbox"
	"github.com/clipdeck/clipdeck/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	inbox   inbox.Store
	handler Handler
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, inboxStore inbox.Store, cfg Config, handler Handler) *Consumer {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:  reader,
		logger:  logger,
		inbox:   inboxStore,
		handler: handler,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)
		messageID := meta.EventID
		if messageID == "" {
			// Producers outside the outbox pipeline may omit the header;
			// the broker coordinates are still unique per delivery.
			messageID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
		}

		if err := inbox.Process(ctxSpan, c.inbox, c.logger, messageID, func(ctx context.Context) error {
			return c.handler(ctx, msg)
		}); err != nil {
			c.logger.Error("handler error", "err", err, "event_id", messageID, "event_type", meta.EventType)
			span.RecordError(err)
		}
		span.End()
	}
}
