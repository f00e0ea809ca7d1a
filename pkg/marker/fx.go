package marker

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trackpoints/pkg/config"
)

var Module = fx.Module("marker.client",
	fx.Provide(New),
)

// New builds the marker client from config. Without an endpoint markers are not synced.
func New(cfg *config.Config) Client {
	m := cfg.Marker
	if m.Endpoint == "" {
		zap.L().Warn("[Marker] endpoint not configured, marker sync disabled")
		return Nop()
	}
	return NewHTTPClient(Options{
		Endpoint:  m.Endpoint,
		Timeout:   m.Timeout,
		RateLimit: m.RateLimit,
		Burst:     m.Burst,
	})
}
