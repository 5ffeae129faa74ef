package outbox

import (
	"context"
	"fmt"
)

// Publisher is the broker abstraction consumed by the dispatcher. Publish
// failures must come back as a *PublishError so the dispatcher can tell a
// broker rejection apart from plumbing faults; both end up in markFailed, but
// the distinction matters for logs and metrics.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	// BrokerMessageID reports the broker-assigned id for a published event,
	// or "" when the broker assigns none (the outbox id is used instead).
	BrokerMessageID(evt Event) string
}

// PublishError wraps a broker-side delivery failure.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish: %v", e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }
