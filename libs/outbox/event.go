package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Event is one row of the transactional outbox. Rows are written in the same
// transaction as the aggregate mutation they describe and are never deleted by
// the dispatcher; dispatched_at doubles as the "pending" sentinel (NULL) and,
// once set, is never cleared.
type Event struct {
	ID            string
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       []byte
	CorrelationID string
	CausationID   string
	Traceparent   string
	CreatedAt     time.Time

	DispatchedAt    *time.Time
	BrokerMessageID *string
	Error           *string
}

// Meta carries the causality identifiers stamped onto every appended event.
type Meta struct {
	CorrelationID string
	CausationID   string
}

// maxErrorLen bounds the error column so repeated publish failures cannot grow
// rows without limit.
const maxErrorLen = 512

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}

// newEventID returns a time-sortable unique id (UUIDv7).
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// Disposition is the per-event outcome of a drained batch. A nil Err means the
// event was handed to the broker and is marked dispatched; otherwise the error
// is recorded and the event stays pending for the next tick.
type Disposition struct {
	EventID         string
	BrokerMessageID string
	Err             error
}
