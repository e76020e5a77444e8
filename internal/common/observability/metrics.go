package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	sweepCounter  otelmetric.Int64Counter
	sweepDuration otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	sweepCounter, _ := meter.Int64Counter(
		"sweeps.processed",
		otelmetric.WithDescription("Number of sweeps processed"),
	)

	sweepDuration, _ := meter.Float64Histogram(
		"sweeps.duration",
		otelmetric.WithDescription("Sweep processing duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		sweepCounter:  sweepCounter,
		sweepDuration: sweepDuration,
	}
}

func (o *Observability) RecordSweepProcessed(ctx context.Context, taskType, status string) {
	if o.sweepCounter != nil {
		o.sweepCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("task_type", taskType),
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordSweepDuration(ctx context.Context, taskType string, duration time.Duration) {
	if o.sweepDuration != nil {
		o.sweepDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("task_type", taskType),
		))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
