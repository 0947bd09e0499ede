package monitoring

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/madfam-org/janua-sub020/logging"
)

var (
	// OpenTelemetry metrics
	PaymentCounter     metric.Int64Counter
	PaymentAmount      metric.Float64Histogram
	RoutingDecisions   metric.Int64Counter
	ProviderFailovers  metric.Int64Counter
	WebhooksReceived   metric.Int64Counter
	WebhooksRejected   metric.Int64Counter
	WebhookDuration    metric.Float64Histogram
	HTTPServerDuration metric.Float64Histogram
)

func init() {
	// Instruments start against the global (noop until InitMeter) meter so
	// recording before initialization never panics, e.g. under `go test`.
	_ = initInstruments(otel.Meter("payment-orchestrator"))
}

// InitTracer initializes OpenTelemetry tracing
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, trace.Tracer, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	tracer := tp.Tracer(serviceName)

	logging.Info("Tracing initialized", zap.String("service_name", serviceName))

	return tp, tracer, nil
}

// InitMeter initializes OpenTelemetry metrics with a Prometheus exporter.
// The exporter registers with the default Prometheus registry, so the
// instruments below are scrapeable via promhttp.
func InitMeter(serviceName string) (*sdkmetric.MeterProvider, metric.Meter, error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	exporter, err := otelprom.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)
	meter := mp.Meter(serviceName)

	if err := initInstruments(meter); err != nil {
		return nil, nil, err
	}

	logging.Info("Metrics initialized with Prometheus exporter")

	return mp, meter, nil
}

func initInstruments(meter metric.Meter) error {
	var err error

	PaymentCounter, err = meter.Int64Counter(
		"payments_processed_total",
		metric.WithDescription("Total number of payments processed"),
	)
	if err != nil {
		return err
	}

	PaymentAmount, err = meter.Float64Histogram(
		"payment_amount",
		metric.WithDescription("Payment amounts in transaction currency"),
	)
	if err != nil {
		return err
	}

	RoutingDecisions, err = meter.Int64Counter(
		"routing_decisions_total",
		metric.WithDescription("Routing decisions by provider and reason"),
	)
	if err != nil {
		return err
	}

	ProviderFailovers, err = meter.Int64Counter(
		"provider_failovers_total",
		metric.WithDescription("Fallback executions that moved past the routed provider"),
	)
	if err != nil {
		return err
	}

	WebhooksReceived, err = meter.Int64Counter(
		"webhooks_received_total",
		metric.WithDescription("Webhook deliveries by provider and outcome"),
	)
	if err != nil {
		return err
	}

	WebhooksRejected, err = meter.Int64Counter(
		"webhooks_rejected_total",
		metric.WithDescription("Webhook deliveries rejected for invalid signatures"),
	)
	if err != nil {
		return err
	}

	WebhookDuration, err = meter.Float64Histogram(
		"webhook_processing_duration_milliseconds",
		metric.WithDescription("Webhook processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	HTTPServerDuration, err = meter.Float64Histogram(
		"http_server_duration_milliseconds",
		metric.WithDescription("HTTP server request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}
