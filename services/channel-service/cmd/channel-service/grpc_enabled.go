//go:build protogen

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/clipdeck/clipdeck/libs/config"
	"github.com/clipdeck/clipdeck/libs/grpcx"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/quota"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, repo *storage.ChannelRepository) error {
	port, err := config.Port("GRPC_PORT", "9094")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerRequestIDInterceptor()),
	)
	quota.Register(srv, repo)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}
