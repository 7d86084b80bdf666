package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/conceptmesh/backend/internal/llm"
	"github.com/conceptmesh/backend/internal/platform/envutil"
	"github.com/conceptmesh/backend/internal/platform/logger"
)

// Metrics holds the LLM call instruments. A nil *Metrics is a valid no-op,
// so callers never need to branch on METRICS_ENABLED themselves.
type Metrics struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	latency  metric.Float64Histogram
	tokens   metric.Int64Counter
}

// Setup installs the SDK meter provider and builds the instrument set.
// Returns nil when METRICS_ENABLED is false.
func Setup(log *logger.Logger) (*Metrics, error) {
	if !envutil.GetEnvAsBool("METRICS_ENABLED", false, log) {
		return nil, nil
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider())
	meter := otel.GetMeterProvider().Meter("conceptmesh/llm")

	requests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM provider calls"))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter("llm.errors",
		metric.WithDescription("failed LLM provider calls"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("llm.latency",
		metric.WithDescription("LLM call latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	tokens, err := meter.Int64Counter("llm.tokens",
		metric.WithDescription("tokens consumed, by direction"))
	if err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, errors: errs, latency: latency, tokens: tokens}, nil
}

func (m *Metrics) record(ctx context.Context, model string, dur time.Duration, resp *llm.Response, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, dur.Seconds(), attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
		return
	}
	m.tokens.Add(ctx, int64(resp.InputTokens), metric.WithAttributes(
		attribute.String("model", model), attribute.String("direction", "input")))
	m.tokens.Add(ctx, int64(resp.OutputTokens), metric.WithAttributes(
		attribute.String("model", model), attribute.String("direction", "output")))
}

type instrumentedClient struct {
	inner   llm.Client
	metrics *Metrics
}

// InstrumentClient wraps an LLM client with call metrics. With a nil
// Metrics the original client is returned unchanged.
func InstrumentClient(inner llm.Client, m *Metrics) llm.Client {
	if m == nil {
		return inner
	}
	return &instrumentedClient{inner: inner, metrics: m}
}

func (c *instrumentedClient) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	start := time.Now()
	resp, err := c.inner.Call(ctx, req)
	c.metrics.record(ctx, req.Model, time.Since(start), resp, err)
	return resp, err
}
