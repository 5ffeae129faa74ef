//go:build !protogen

package quota

import "log/slog"

func NewChannelQuotaProvider(_ *slog.Logger, fallback Limits, _ string) (Provider, error) {
	return NewStaticProvider(fallback), nil
}
