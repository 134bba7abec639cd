// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterName scopes every fedplane instrument.
const MeterName = "fedplane"

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Instruments holds the domain counters recorded by the orchestrator.
type Instruments struct {
	runTransitions    metric.Int64Counter
	batchesStarted    metric.Int64Counter
	sitesDisconnected metric.Int64Counter
	heartbeats        metric.Int64Counter
}

// NewInstruments creates the domain counters on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.runTransitions, err = meter.Int64Counter("fedplane_run_transitions_total",
		metric.WithDescription("Run status transitions applied, by target status and role")); err != nil {
		return nil, fmt.Errorf("create run transitions counter: %w", err)
	}
	if in.batchesStarted, err = meter.Int64Counter("fedplane_batches_started_total",
		metric.WithDescription("Batches started across all projects")); err != nil {
		return nil, fmt.Errorf("create batches counter: %w", err)
	}
	if in.sitesDisconnected, err = meter.Int64Counter("fedplane_sites_disconnected_total",
		metric.WithDescription("Sites disconnected by the liveness sweep")); err != nil {
		return nil, fmt.Errorf("create disconnect counter: %w", err)
	}
	if in.heartbeats, err = meter.Int64Counter("fedplane_site_heartbeats_total",
		metric.WithDescription("Site heartbeats accepted, by reported status")); err != nil {
		return nil, fmt.Errorf("create heartbeat counter: %w", err)
	}
	return &in, nil
}

// DefaultInstruments builds instruments on the global meter provider and
// falls back to no-op instruments if that fails.
func DefaultInstruments() *Instruments {
	in, err := NewInstruments(otel.Meter(MeterName))
	if err != nil {
		in, _ = NewInstruments(noop.NewMeterProvider().Meter(MeterName))
	}
	return in
}

func (in *Instruments) RunTransition(ctx context.Context, target, role string) {
	in.runTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", target),
		attribute.String("role", role),
	))
}

func (in *Instruments) BatchStarted(ctx context.Context, runs int) {
	in.batchesStarted.Add(ctx, 1, metric.WithAttributes(attribute.Int("runs", runs)))
}

func (in *Instruments) SitesDisconnected(ctx context.Context, n int64) {
	if n > 0 {
		in.sitesDisconnected.Add(ctx, n)
	}
}

func (in *Instruments) Heartbeat(ctx context.Context, status string) {
	in.heartbeats.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RegisterConnectedSitesGauge publishes the number of CONNECTED sites as an
// observable gauge evaluated on every scrape.
func RegisterConnectedSitesGauge(meter metric.Meter, count func(context.Context) (int64, error)) error {
	_, err := meter.Int64ObservableGauge("fedplane_connected_sites",
		metric.WithDescription("Sites currently CONNECTED"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := count(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("create connected sites gauge: %w", err)
	}
	return nil
}
