package kafkax

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck probes the first broker. A service whose dispatcher cannot reach
// Kafka still accepts writes (the outbox buffers them) but reports not-ready.
func ReadyCheck(brokers string) func(context.Context) error {
	return func(ctx context.Context) error {
		list := SplitBrokers(brokers)
		if len(list) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", list[0])
		if err != nil {
			return err
		}
		_ = conn.Close()
		return nil
	}
}
