package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"trackpoints/pkg/config"
)

func TestFromContextAddsTraceIDs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	FromContext(ctx, zap.String("organization_id", "org-1")).Info("settled")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "org-1", fields["organization_id"])
	require.Equal(t, traceID.String(), fields["trace_id"])
	require.Equal(t, spanID.String(), fields["span_id"])
}

func TestFromContextWithoutSpan(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	FromContext(context.Background()).Info("plain")
	require.NotContains(t, logs.All()[0].ContextMap(), "trace_id")
}

func TestNewDevelopmentLogger(t *testing.T) {
	cfg := &config.Config{AppEnv: "development", AppName: "trackpoints"}
	log := New(ConfigParams{Cfg: cfg})
	require.NotNil(t, log)
	require.Same(t, log, zap.L())
	zap.ReplaceGlobals(zap.NewNop())
}
