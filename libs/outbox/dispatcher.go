package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	otelx "github.com/clipdeck/clipdeck/libs/otel"
)

// Dispatcher drains pending outbox rows on a fixed interval and hands them to
// a Publisher. One failing event never blocks the rest of its batch: it gets
// its error recorded and is retried on every subsequent tick, without a retry
// ceiling: rows are never deleted, so the error column is the audit trail.
type Dispatcher struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	enabled   atomic.Bool
}

type DispatcherConfig struct {
	Interval  time.Duration
	BatchSize int
}

func NewDispatcher(store Store, publisher Publisher, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	d := &Dispatcher{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
	d.enabled.Store(true)
	return d
}

// Pause stops draining without stopping the loop; pending events accumulate
// until Resume. Safe to call from any goroutine (maintenance endpoint).
func (d *Dispatcher) Pause()        { d.enabled.Store(false) }
func (d *Dispatcher) Resume()       { d.enabled.Store(true) }
func (d *Dispatcher) Enabled() bool { return d.enabled.Load() }

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.enabled.Load() {
				continue
			}
			if err := d.Tick(ctx); err != nil {
				d.logger.Error("outbox drain failed", "err", err)
			}
		}
	}
}

// Tick drains one batch. Exposed so tests and maintenance tooling can force a
// drain without waiting for the ticker.
func (d *Dispatcher) Tick(ctx context.Context) error {
	return d.store.DrainPending(ctx, d.batchSize, d.publishBatch)
}

func (d *Dispatcher) publishBatch(ctx context.Context, events []Event) []Disposition {
	dispositions := make([]Disposition, 0, len(events))
	for _, evt := range events {
		msgCtx := otelx.ContextWithTraceContext(ctx, evt.Traceparent, "")
		if err := d.publisher.Publish(msgCtx, evt); err != nil {
			var pe *PublishError
			if errors.As(err, &pe) {
				d.logger.Error("broker rejected event", "event_id", evt.ID, "event_type", evt.EventType, "err", err)
			} else {
				d.logger.Error("unexpected publish failure", "event_id", evt.ID, "event_type", evt.EventType, "err", err)
			}
			dispositions = append(dispositions, Disposition{EventID: evt.ID, Err: err})
			continue
		}

		brokerID := d.publisher.BrokerMessageID(evt)
		if brokerID == "" {
			brokerID = evt.ID
		}
		dispositions = append(dispositions, Disposition{EventID: evt.ID, BrokerMessageID: brokerID})
	}
	return dispositions
}
