package observability

import (
	"context"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability records pipeline-level measurements through an OpenTelemetry
// meter exported on the Prometheus endpoint.
type Observability struct {
	meterProvider *metric.MeterProvider
	queries       otelmetric.Int64Counter
	duration      otelmetric.Float64Histogram
	rows          otelmetric.Int64Histogram
}

// New registers the exporter with the default Prometheus registerer.
func New(serviceName string) (*Observability, error) {
	return NewWithRegisterer(serviceName, prom.DefaultRegisterer)
}

// NewWithRegisterer is New with an explicit registerer.
func NewWithRegisterer(serviceName string, reg prom.Registerer) (*Observability, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(serviceName)

	queries, err := meter.Int64Counter("financial_queries.processed",
		otelmetric.WithDescription("Financial queries processed by stage and outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("financial_queries.duration",
		otelmetric.WithDescription("Stage duration"),
		otelmetric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	rows, err := meter.Int64Histogram("financial_queries.rows",
		otelmetric.WithDescription("Filtered rows returned per retrieval"))
	if err != nil {
		return nil, err
	}

	return &Observability{
		meterProvider: provider,
		queries:       queries,
		duration:      duration,
		rows:          rows,
	}, nil
}

// RecordStage records one stage execution (parse, retrieve, refresh).
func (o *Observability) RecordStage(ctx context.Context, stage, outcome string, d time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	)
	o.queries.Add(ctx, 1, attrs)
	o.duration.Record(ctx, float64(d.Milliseconds()), attrs)
}

// RecordRetrieval records the mode and row count of a retrieval.
func (o *Observability) RecordRetrieval(ctx context.Context, mode string, rows int) {
	if o == nil {
		return
	}
	o.rows.Record(ctx, int64(rows), otelmetric.WithAttributes(attribute.String("mode", mode)))
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.meterProvider == nil {
		return nil
	}
	return o.meterProvider.Shutdown(ctx)
}
