package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/structflow/llm"
)

const instrumentationName = "github.com/BaSui01/structflow/llm"

// Metrics 记录 Provider 调用的 OTel 指标与 span
type Metrics struct {
	tracer trace.Tracer

	requestTotal    metric.Int64Counter
	tokenTotal      metric.Int64Counter
	errorTotal      metric.Int64Counter
	requestDuration metric.Float64Histogram
	costPerRequest  metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
}

// NewMetrics 使用全局 TracerProvider / MeterProvider 创建指标收集器
func NewMetrics() (*Metrics, error) {
	return NewMetricsWith(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewMetricsWith 使用指定的 provider 创建指标收集器
func NewMetricsWith(tp trace.TracerProvider, mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{tracer: tp.Tracer(instrumentationName)}

	var err error
	if m.requestTotal, err = meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.tokenTotal, err = meter.Int64Counter("llm.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if m.errorTotal, err = meter.Int64Counter("llm.error.total",
		metric.WithDescription("Total number of errors"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60)); err != nil {
		return nil, err
	}
	if m.costPerRequest, err = meter.Float64Histogram("llm.cost.per_request",
		metric.WithDescription("Cost per request in USD"),
		metric.WithUnit("USD"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1)); err != nil {
		return nil, err
	}
	if m.activeRequests, err = meter.Int64UpDownCounter("llm.request.active",
		metric.WithDescription("Number of active requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	return m, nil
}

// InstrumentedProvider wraps a provider with request spans, token and cost metrics.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *Metrics
	costs   *CostCalculator
}

var _ llm.Provider = (*InstrumentedProvider)(nil)

// Instrument wraps p. costs may be nil.
func Instrument(p llm.Provider, m *Metrics, costs *CostCalculator) *InstrumentedProvider {
	return &InstrumentedProvider{inner: p, metrics: m, costs: costs}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

func (p *InstrumentedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m := p.metrics
	model := req.Model
	format := "none"
	if req.ResponseFormat != nil {
		format = req.ResponseFormat.Type
	}
	base := []attribute.KeyValue{
		attribute.String("provider", p.inner.Name()),
		attribute.String("model", model),
	}

	ctx, span := m.tracer.Start(ctx, "llm.completion", trace.WithAttributes(
		attribute.String("llm.provider", p.inner.Name()),
		attribute.String("llm.model", model),
		attribute.String("llm.response_format", format),
	))
	defer span.End()
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(base...))
	defer m.activeRequests.Add(ctx, -1, metric.WithAttributes(base...))

	start := time.Now()
	resp, err := p.inner.Completion(ctx, req)
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		code := "unknown"
		var llmErr *llm.Error
		if errors.As(err, &llmErr) {
			code = string(llmErr.Code)
		}
		m.errorTotal.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("error_code", code))...))
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
	}
	attrs := metric.WithAttributes(append(base, attribute.String("status", status))...)
	m.requestTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, elapsed.Seconds(), attrs)

	if resp != nil {
		if resp.Model != "" {
			model = resp.Model
		}
		u := resp.Usage
		if u.PromptTokens+u.CompletionTokens > 0 {
			m.tokenTotal.Add(ctx, int64(u.PromptTokens), metric.WithAttributes(append(base, attribute.String("type", "prompt"))...))
			m.tokenTotal.Add(ctx, int64(u.CompletionTokens), metric.WithAttributes(append(base, attribute.String("type", "completion"))...))
			span.SetAttributes(
				attribute.Int("llm.tokens.prompt", u.PromptTokens),
				attribute.Int("llm.tokens.completion", u.CompletionTokens),
			)
		}
		if p.costs != nil {
			if cost := p.costs.Calculate(p.inner.Name(), model, u.PromptTokens, u.CompletionTokens); cost > 0 {
				m.costPerRequest.Record(ctx, cost, attrs)
				span.SetAttributes(attribute.Float64("llm.cost", cost))
			}
		}
	}
	return resp, err
}
