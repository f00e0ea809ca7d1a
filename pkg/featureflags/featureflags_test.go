package featureflags

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trackpoints/pkg/config"
)

func TestStatic(t *testing.T) {
	flags := Static(map[string]bool{MarkerSync: false})
	require.False(t, flags.Enabled(context.Background(), "org", MarkerSync, true))
	require.True(t, flags.Enabled(context.Background(), "org", "other", true))
}

func TestProvideWithoutKeyFallsBack(t *testing.T) {
	flags := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})
	require.True(t, flags.Enabled(context.Background(), "org", MarkerSync, true))
}
