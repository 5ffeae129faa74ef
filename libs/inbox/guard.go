package inbox

import (
	"context"
	"errors"
	"log/slog"
)

// Process runs handler under the inbox guard: already-processed messages are
// acknowledged without reprocessing, every real run records an attempt first,
// success marks the message processed, failure stores the error and leaves the
// message unprocessed for the next delivery (at-least-once broker assumed).
func Process(ctx context.Context, store Store, logger *slog.Logger, messageID string, handler func(ctx context.Context) error) error {
	msg, err := store.Get(ctx, messageID)
	switch {
	case err == nil && msg.ProcessedAt != nil:
		logger.Info("duplicate message ignored", "message_id", messageID, "attempts", msg.Attempts)
		return nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}

	if _, err := store.RecordAttempt(ctx, messageID); err != nil {
		return err
	}

	if err := handler(ctx); err != nil {
		if markErr := store.MarkFailed(ctx, messageID, err.Error()); markErr != nil {
			logger.Error("inbox mark failed errored", "message_id", messageID, "err", markErr)
		}
		return err
	}

	return store.MarkProcessed(ctx, messageID)
}
