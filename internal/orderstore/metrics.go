package orderstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/joao-fontenele/orderdesk/internal/orderstore"

var tracer = otel.Tracer(instrumentationName)

type clientMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newClientMetrics() (*clientMetrics, error) {
	meter := otel.Meter(instrumentationName)

	requests, err := meter.Int64Counter("orderstore.client.requests",
		metric.WithDescription("Order store operations by outcome"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("orderstore.client.duration",
		metric.WithDescription("Order store operation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &clientMetrics{requests: requests, duration: duration}, nil
}

// observe runs fn inside a span, records its outcome and logs failures.
func (c *Client) observe(ctx context.Context, op string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := tracer.Start(ctx, "orderstore."+op)
	defer span.End()
	span.SetAttributes(attrs...)

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	result := outcome(err)
	metricAttrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", result),
	)
	c.metrics.requests.Add(ctx, 1, metricAttrs)
	c.metrics.duration.Record(ctx, elapsed.Seconds(), metricAttrs)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("order store call failed", "operation", op, "outcome", result, "error", err)
		return err
	}

	c.logger.Debug("order store call completed", "operation", op, "duration", elapsed)
	return nil
}
