package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const ServiceName = "go-chat-live"

// Shutdown flushes and stops the meter provider.
type Shutdown func(context.Context) error

// Setup installs a global meter provider exporting over OTLP/HTTP. With an
// empty endpoint it leaves the global no-op provider in place.
func Setup(ctx context.Context, endpoint string) (Shutdown, error) {
	if endpoint == "" {
		slog.Info("OpenTelemetry export disabled")
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	slog.Info("OpenTelemetry initialized", "service", ServiceName, "endpoint", endpoint)
	return mp.Shutdown, nil
}

// Metrics are the instruments recorded by the realtime core.
type Metrics struct {
	FanoutDeliveries    metric.Int64Counter
	MessagesPersisted   metric.Int64Counter
	PresenceTransitions metric.Int64Counter
	EventsDropped       metric.Int64Counter
	ConnectionsActive   metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.FanoutDeliveries, err = meter.Int64Counter("chat_fanout_deliveries_total",
		metric.WithDescription("Frames queued to live connections")); err != nil {
		return nil, err
	}
	if m.MessagesPersisted, err = meter.Int64Counter("chat_messages_persisted_total",
		metric.WithDescription("Socket messages persisted before fanout")); err != nil {
		return nil, err
	}
	if m.PresenceTransitions, err = meter.Int64Counter("chat_presence_transitions_total",
		metric.WithDescription("Online and offline announcements")); err != nil {
		return nil, err
	}
	if m.EventsDropped, err = meter.Int64Counter("chat_events_dropped_total",
		metric.WithDescription("Inbound events or outbound frames dropped")); err != nil {
		return nil, err
	}
	if m.ConnectionsActive, err = meter.Int64UpDownCounter("chat_connections_active",
		metric.WithDescription("Authenticated websocket connections")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Default builds Metrics on the global meter provider.
func Default() (*Metrics, error) {
	return NewMetrics(otel.Meter(ServiceName))
}

// Noop returns Metrics that record nothing.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(ServiceName))
	return m
}
