package observability

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/structflow/structured"
)

// AttemptRecord is the exported form of one generation attempt.
type AttemptRecord struct {
	ID           string             `json:"id"`
	InvocationID string             `json:"invocation_id"`
	Attempt      int                `json:"attempt"`
	Name         string             `json:"name"`
	Input        json.RawMessage    `json:"input,omitempty"`
	Output       string             `json:"output,omitempty"`
	Outcome      structured.Outcome `json:"outcome"`
	Error        string             `json:"error,omitempty"`
	StartTime    time.Time          `json:"start_time"`
	EndTime      time.Time          `json:"end_time"`
	Duration     time.Duration      `json:"duration"`
}

// Exporter 将尝试记录输出到外部系统。
type Exporter interface {
	Export(ctx context.Context, rec *AttemptRecord) error
	Flush(ctx context.Context) error
}

type openAttempt struct {
	rec  *AttemptRecord
	span oteltrace.Span
}

// Tracer implements structured.Tracer: one span per attempt, named after the
// attempt, plus an optional exporter for the attempt log.
type Tracer struct {
	otel     oteltrace.Tracer
	exporter Exporter
	logger   *zap.Logger

	mu   sync.Mutex
	open map[string]*openAttempt
}

var _ structured.Tracer = (*Tracer)(nil)

// NewTracer creates a tracer. otelTracer and exporter may each be nil.
func NewTracer(otelTracer oteltrace.Tracer, exporter Exporter, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{
		otel:     otelTracer,
		exporter: exporter,
		logger:   logger.With(zap.String("component", "attempt_tracer")),
		open:     make(map[string]*openAttempt),
	}
}

func (t *Tracer) OnAttemptStart(ctx context.Context, ev structured.AttemptStart) error {
	rec := &AttemptRecord{
		ID:           ev.ID,
		InvocationID: ev.InvocationID,
		Attempt:      ev.Attempt,
		Name:         ev.Name,
		StartTime:    ev.StartedAt,
	}
	if data, err := json.Marshal(ev.Messages); err == nil {
		rec.Input = data
	}

	oa := &openAttempt{rec: rec}
	if t.otel != nil {
		_, oa.span = t.otel.Start(ctx, ev.Name,
			oteltrace.WithTimestamp(ev.StartedAt),
			oteltrace.WithAttributes(
				attribute.String("structflow.invocation_id", ev.InvocationID),
				attribute.String("structflow.attempt_id", ev.ID),
				attribute.Int("structflow.attempt", ev.Attempt),
				attribute.Int("structflow.messages", len(ev.Messages)),
			))
	}

	t.mu.Lock()
	t.open[ev.ID] = oa
	t.mu.Unlock()
	return nil
}

func (t *Tracer) OnAttemptEnd(ctx context.Context, ev structured.AttemptEnd) error {
	t.mu.Lock()
	oa, ok := t.open[ev.ID]
	delete(t.open, ev.ID)
	t.mu.Unlock()
	if !ok {
		// end without a start: the start hook failed or was skipped
		oa = &openAttempt{rec: &AttemptRecord{
			ID: ev.ID, InvocationID: ev.InvocationID, Attempt: ev.Attempt, Name: ev.Name,
		}}
	}

	rec := oa.rec
	rec.Output = ev.Output
	rec.Outcome = ev.Outcome
	rec.Duration = ev.Duration
	if rec.StartTime.IsZero() {
		rec.EndTime = time.Now()
		rec.StartTime = rec.EndTime.Add(-ev.Duration)
	} else {
		rec.EndTime = rec.StartTime.Add(ev.Duration)
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}

	if oa.span != nil {
		oa.span.SetAttributes(
			attribute.String("structflow.outcome", string(ev.Outcome)),
			attribute.Int("structflow.output_bytes", len(ev.Output)),
		)
		if ev.Err != nil {
			oa.span.RecordError(ev.Err)
			oa.span.SetStatus(codes.Error, string(ev.Outcome))
		} else {
			oa.span.SetStatus(codes.Ok, "")
		}
		oa.span.End(oteltrace.WithTimestamp(rec.EndTime))
	}

	if t.exporter == nil {
		return nil
	}
	return t.exporter.Export(ctx, rec)
}

// Pending reports attempts that started but have not ended.
func (t *Tracer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// Flush drains the exporter. Call it before shutdown.
func (t *Tracer) Flush(ctx context.Context) error {
	if t.exporter == nil {
		return nil
	}
	if err := t.exporter.Flush(ctx); err != nil {
		t.logger.Warn("failed to flush attempt exporter", zap.Error(err))
		return err
	}
	return nil
}
