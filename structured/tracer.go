package structured

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/structflow/llm"
)

// Outcome 单次尝试的结束方式
type Outcome string

const (
	OutcomeParsed          Outcome = "parsed"
	OutcomeRepairFailed    Outcome = "repair_failed"
	OutcomeEmptyResponse   Outcome = "empty_response"
	OutcomeSchemaViolation Outcome = "schema_violation"
	OutcomeCallError       Outcome = "call_error"
)

// AttemptStart 每次生成调用之前上报
type AttemptStart struct {
	ID           string
	InvocationID string
	Attempt      int
	Name         string
	Messages     []llm.Message
	StartedAt    time.Time
}

// AttemptEnd 每次生成调用分类完成后上报
type AttemptEnd struct {
	ID           string
	InvocationID string
	Attempt      int
	Name         string
	Output       string
	Outcome      Outcome
	Err          error
	Duration     time.Duration
}

// Tracer 观察每次尝试；返回的错误和 panic 只会被记录，不影响调用结果
type Tracer interface {
	OnAttemptStart(ctx context.Context, ev AttemptStart) error
	OnAttemptEnd(ctx context.Context, ev AttemptEnd) error
}

// NopTracer 丢弃所有事件
type NopTracer struct{}

func (NopTracer) OnAttemptStart(context.Context, AttemptStart) error { return nil }
func (NopTracer) OnAttemptEnd(context.Context, AttemptEnd) error     { return nil }

type multiTracer []Tracer

// Tracers 把事件分发给每个非 nil 的 tracer，单个失败不影响其他
func Tracers(tracers ...Tracer) Tracer {
	var out multiTracer
	for _, t := range tracers {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (m multiTracer) OnAttemptStart(ctx context.Context, ev AttemptStart) error {
	errs := make([]error, 0, len(m))
	for _, t := range m {
		errs = append(errs, safeTrace(func() error { return t.OnAttemptStart(ctx, ev) }))
	}
	return errors.Join(errs...)
}

func (m multiTracer) OnAttemptEnd(ctx context.Context, ev AttemptEnd) error {
	errs := make([]error, 0, len(m))
	for _, t := range m {
		errs = append(errs, safeTrace(func() error { return t.OnAttemptEnd(ctx, ev) }))
	}
	return errors.Join(errs...)
}

func safeTrace(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tracer panic: %v", r)
		}
	}()
	return fn()
}
