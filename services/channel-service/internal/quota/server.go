//go:build protogen

package quota

import (
	"context"

	quotav1 "github.com/clipdeck/clipdeck/protos/gen/quota/v1"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/storage"
	"google.golang.org/grpc"
)

type server struct {
	quotav1.UnimplementedQuotaServiceServer
	repo *storage.ChannelRepository
}

func Register(grpcServer *grpc.Server, repo *storage.ChannelRepository) {
	quotav1.RegisterQuotaServiceServer(grpcServer, &server{repo: repo})
}

func (s *server) GetChannelQuota(ctx context.Context, req *quotav1.ChannelQuotaRequest) (*quotav1.ChannelQuotaResponse, error) {
	// Unknown channels and repo errors both get the free tier so the
	// response stays stable for callers.
	limits := LimitsForPlan("free")
	if s.repo != nil && req.GetChannelId() != "" {
		if _, err := s.repo.Get(ctx, req.GetChannelId()); err == nil {
			limits = LimitsForPlan("creator")
		}
	}
	return &quotav1.ChannelQuotaResponse{
		Plan:             limits.Plan,
		MaxActiveUploads: uint32(limits.MaxActiveUploads),
		MaxUploadBytes:   uint64(limits.MaxUploadBytes),
	}, nil
}
