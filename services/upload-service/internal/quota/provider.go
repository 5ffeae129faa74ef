// Package quota resolves per-channel upload limits, either from static
// defaults or from channel-service over gRPC.
package quota

import "context"

type Limits struct {
	Plan             string
	MaxActiveUploads int32
	MaxUploadBytes   int64
}

type Provider interface {
	ChannelLimits(ctx context.Context, channelID string) (Limits, error)
}

type staticProvider struct {
	limits Limits
}

func NewStaticProvider(limits Limits) Provider {
	if limits.MaxActiveUploads <= 0 {
		limits.MaxActiveUploads = 2
	}
	if limits.MaxUploadBytes <= 0 {
		limits.MaxUploadBytes = 20 << 30
	}
	if limits.Plan == "" {
		limits.Plan = "free"
	}
	return &staticProvider{limits: limits}
}

func (p *staticProvider) ChannelLimits(_ context.Context, _ string) (Limits, error) {
	return p.limits, nil
}
