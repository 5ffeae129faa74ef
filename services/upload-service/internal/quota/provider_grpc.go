//go:build protogen

package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/clipdeck/clipdeck/libs/grpcx"
	quotav1 "github.com/clipdeck/clipdeck/protos/gen/quota/v1"
)

type grpcProvider struct {
	client quotav1.QuotaServiceClient
}

func NewChannelQuotaProvider(logger *slog.Logger, fallback Limits, addr string) (Provider, error) {
	if addr == "" {
		return NewStaticProvider(fallback), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn("grpc quota provider unavailable, using fallback", "err", err)
		return NewStaticProvider(fallback), nil
	}

	logger.Info("grpc quota provider enabled", "addr", addr)
	return &grpcProvider{client: quotav1.NewQuotaServiceClient(conn)}, nil
}

func (p *grpcProvider) ChannelLimits(ctx context.Context, channelID string) (Limits, error) {
	resp, err := p.client.GetChannelQuota(ctx, &quotav1.ChannelQuotaRequest{ChannelId: channelID})
	if err != nil {
		return Limits{}, err
	}
	return Limits{
		Plan:             resp.GetPlan(),
		MaxActiveUploads: int32(resp.GetMaxActiveUploads()),
		MaxUploadBytes:   int64(resp.GetMaxUploadBytes()),
	}, nil
}
