package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Init sets up the global OpenTelemetry providers. Traces stay in-process
// unless an exporter is configured; metrics are bridged into the given
// Prometheus registry so instrumented drivers (mongo) surface on /metrics.
func Init(reg prometheus.Registerer) (*trace.TracerProvider, *metric.MeterProvider, error) {
	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	exporter, err := prometheusexporter.New(prometheusexporter.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}
	mp := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	return tp, mp, nil
}

// Shutdown flushes and stops both providers.
func Shutdown(ctx context.Context, tp *trace.TracerProvider, mp *metric.MeterProvider) {
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("failed to shut down tracer provider")
		}
	}
	if mp != nil {
		if err := mp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("failed to shut down meter provider")
		}
	}
}
