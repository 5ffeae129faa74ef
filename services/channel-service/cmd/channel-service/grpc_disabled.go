//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/clipdeck/clipdeck/services/channel-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *storage.ChannelRepository) error {
	return nil
}
