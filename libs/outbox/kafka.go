package outbox

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/clipdeck/clipdeck/libs/kafkax"
)

// KafkaPublisher publishes outbox events to Kafka. The topic equals the event
// type (event-per-topic, as everywhere else in this codebase); the aggregate
// id is the partition key so events for one aggregate stay ordered.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  kafkax.SplitBrokers(brokers),
			Balancer: &kafka.Hash{},
		}),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	msg := kafka.Message{
		Topic: evt.EventType,
		Key:   []byte(evt.AggregateID),
		Value: evt.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(evt.ID)},
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "correlation_id", Value: []byte(evt.CorrelationID)},
			{Key: "causation_id", Value: []byte(evt.CausationID)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return &PublishError{Err: err}
	}
	return nil
}

// BrokerMessageID returns "". Kafka assigns no message id, so the dispatcher
// falls back to the outbox id.
func (p *KafkaPublisher) BrokerMessageID(Event) string { return "" }

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

var _ Publisher = (*KafkaPublisher)(nil)
