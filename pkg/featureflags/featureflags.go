package featureflags

import (
	"context"

	"trackpoints/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MarkerSync gates marker calls per organization.
const MarkerSync = "marker_sync"

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

type FeatureFlag interface {
	// Enabled reports whether feature is on for identifier. Without a flag backend, or
	// when the backend cannot answer, fallback is returned.
	Enabled(ctx context.Context, identifier, feature string, fallback bool) bool
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return Static(nil)
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Enabled(ctx context.Context, identifier, feature string, fallback bool) bool {
	flags, err := s.client.GetIdentityFlags(identifier, nil)
	if err != nil {
		zap.L().Warn("feature flag lookup failed",
			zap.String("identifier", identifier), zap.String("feature", feature), zap.Error(err))
		return fallback
	}

	enabled, err := flags.IsFeatureEnabled(feature)
	if err != nil {
		return fallback
	}
	return enabled
}

type static map[string]bool

// Static answers from a fixed feature map; unknown features get the fallback.
func Static(features map[string]bool) FeatureFlag {
	return static(features)
}

func (s static) Enabled(_ context.Context, _ string, feature string, fallback bool) bool {
	if v, ok := s[feature]; ok {
		return v
	}
	return fallback
}
