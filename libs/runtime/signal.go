package runtime

import (
	"context"
	"os/signal"
	"syscall"
)

// SignalContext is the root context of a service process; SIGINT/SIGTERM
// cancel it, which stops the dispatcher and consumer loops before the HTTP
// server drains.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

