package otelcol

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trackpoints/pkg/config"
	"trackpoints/pkg/otelcol/exporters"
)

// Module installs the global tracer provider when tracing is enabled. Spans started
// through otel.Tracer before that are dropped by the default no-op provider.
var Module = fx.Module("otelcol", fx.Invoke(Register))

func Resource(cfg *config.Config) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.AppName),
		semconv.ServiceVersion(cfg.AppVersion),
		semconv.DeploymentEnvironment(cfg.AppEnv),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	if len(opts) == 0 {
		opts = []trace.TracerProviderOption{trace.WithResource(resource.Default())}
	}

	opts = append(opts, trace.WithBatcher(exporter))

	return trace.NewTracerProvider(opts...)
}

func Register(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Otel.Enable {
		zap.L().Info("[Otel] tracing disabled")
		return nil
	}

	var (
		exporter trace.SpanExporter
		err      error
	)
	switch cfg.Otel.Protocol {
	case "http":
		exporter, err = exporters.ProvideHttp(cfg)
	default:
		exporter, err = exporters.ProvideGrpc(cfg)
	}
	if err != nil {
		zap.L().Error("[Otel] failed to create trace exporter", zap.Error(err))
		return err
	}

	tp := ProvideTrace(exporter, trace.WithResource(Resource(cfg)))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	zap.L().Info("[Otel] tracing enabled",
		zap.String("protocol", cfg.Otel.Protocol),
		zap.String("addr", cfg.Otel.Addr),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}
