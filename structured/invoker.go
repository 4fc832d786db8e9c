package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
	"go.uber.org/zap"

	"github.com/BaSui01/structflow/llm"
	"github.com/BaSui01/structflow/prompt"
	"github.com/BaSui01/structflow/types"
)

// DefaultMaxRetries 首次尝试之后的最大重试次数
const DefaultMaxRetries = 2

// FormatInstructionsKey 存放严格 schema JSON 的输入变量名
const FormatInstructionsKey = "format_instructions"

// Callable 一个生成步骤：提示词模板加上带 response_format 槽位的模型调用
type Callable interface {
	llm.FormatSlot
	Name() string
	Render(input map[string]any) ([]llm.Message, error)
	Call(ctx context.Context, msgs []llm.Message) (string, error)
}

var _ Callable = (*llm.Chain)(nil)

// Attempt 记录一次生成调用
type Attempt struct {
	Number   int
	Name     string
	Request  []llm.Message
	Raw      string
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Result 成功调用的结果；无 schema 模式下 Value 与 Text 都是原始输出
type Result struct {
	InvocationID string
	Value        any
	JSON         json.RawMessage
	Text         string
	Attempts     []Attempt
}

type decodeFunc func(data []byte) (any, error)

func decodeAny(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Invoker 反复调用 Callable，直到输出满足严格 schema 或重试次数用尽
type Invoker struct {
	augmenter  *RetryAugmenter
	repairer   Repairer
	validator  SchemaValidator
	tracer     Tracer
	logger     *zap.Logger
	maxRetries int
}

// Option Invoker 配置项
type Option func(*Invoker)

func WithRepairer(r Repairer) Option {
	return func(inv *Invoker) {
		if r != nil {
			inv.repairer = r
		}
	}
}

func WithValidator(v SchemaValidator) Option {
	return func(inv *Invoker) {
		if v != nil {
			inv.validator = v
		}
	}
}

func WithTracer(t Tracer) Option {
	return func(inv *Invoker) {
		if t != nil {
			inv.tracer = t
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(inv *Invoker) {
		if logger != nil {
			inv.logger = logger
		}
	}
}

// WithMaxRetries 设置首次之后的重试次数，负数按 0 处理
func WithMaxRetries(n int) Option {
	return func(inv *Invoker) { inv.maxRetries = max(n, 0) }
}

// NewInvoker 创建 Invoker，prompts 提供重试提示词
func NewInvoker(prompts prompt.Source, opts ...Option) *Invoker {
	inv := &Invoker{
		augmenter:  NewRetryAugmenter(prompts),
		repairer:   NewJSONRepairer(),
		validator:  NewValidator(),
		tracer:     NopTracer{},
		logger:     zap.NewNop(),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(inv)
	}
	inv.logger = inv.logger.With(zap.String("component", "invoker"))
	return inv
}

func (inv *Invoker) MaxRetries() int { return inv.maxRetries }

// Invoke 按 schema 执行 c；schema 为 nil 时进入无 schema 模式，返回第一个非空输出
func (inv *Invoker) Invoke(ctx context.Context, c Callable, schema *JSONSchema, input map[string]any) (*Result, error) {
	return inv.invoke(ctx, c, schema, input, decodeAny)
}

func (inv *Invoker) invoke(ctx context.Context, c Callable, schema *JSONSchema, input map[string]any, decode decodeFunc) (*Result, error) {
	if c == nil {
		return nil, types.NewError(types.ErrCall, "callable is nil")
	}

	res := &Result{InvocationID: uuid.NewString()}
	logger := inv.logger.With(zap.String("invocation_id", res.InvocationID), zap.String("chain", c.Name()))
	vars := copyInput(input)

	var strict *JSONSchema
	if schema != nil {
		var err error
		if strict, err = Strictify(schema); err != nil {
			return nil, err
		}
		if strict.Title == "" {
			return nil, types.NewError(types.ErrSchema, "strict schema has no title to name the response format")
		}
		if p, ok := inv.validator.(SchemaPreparer); ok {
			if err := p.Prepare(strict); err != nil {
				return nil, err
			}
		}
		compact, err := strict.ToJSON()
		if err != nil {
			return nil, types.NewError(types.ErrSchema, "failed to serialize strict schema").WithCause(err)
		}
		indented, err := strict.ToJSONIndent()
		if err != nil {
			return nil, types.NewError(types.ErrSchema, "failed to serialize strict schema").WithCause(err)
		}
		if _, ok := vars[FormatInstructionsKey]; !ok {
			vars[FormatInstructionsKey] = string(indented)
		}

		prev := c.ResponseFormat()
		c.SetResponseFormat(&llm.ResponseFormat{
			Type: llm.ResponseFormatJSONSchema,
			JSONSchema: &llm.JSONSchemaFormat{
				Name:   strict.Title,
				Strict: true,
				Schema: compact,
			},
		})
		defer c.SetResponseFormat(prev)
	}

	msgs, err := c.Render(vars)
	if err != nil {
		return nil, types.NewError(types.ErrPromptInvalid, "failed to render prompt").WithCause(err)
	}
	formatInstructions := ""
	if v, ok := vars[FormatInstructionsKey]; ok && v != nil {
		formatInstructions = fmt.Sprint(v)
	}

	var lastErr error
	var lastRaw string
	total := inv.maxRetries + 1
	for n := 1; n <= total; n++ {
		rec := Attempt{Number: n, Name: attemptName(c.Name(), n), Request: slices.Clone(msgs)}
		id := uuid.NewString()
		started := time.Now()
		inv.traceStart(ctx, AttemptStart{
			ID: id, InvocationID: res.InvocationID, Attempt: n, Name: rec.Name,
			Messages: rec.Request, StartedAt: started,
		})
		logger.Debug("invoking chain", zap.Int("attempt", n), zap.String("name", rec.Name))

		raw, callErr := c.Call(ctx, rec.Request)
		rec.Raw = raw
		rec.Duration = time.Since(started)

		if callErr != nil {
			rec.Outcome = OutcomeCallError
			rec.Err = types.Errorf(types.ErrCall, "generation call failed for %s", rec.Name).
				WithCause(callErr).WithAttempts(n)
			inv.finish(ctx, res, rec, id)
			logger.Error("generation call failed", zap.Int("attempt", n), zap.Error(callErr))
			return nil, rec.Err
		}

		value, data, outcome, perr := inv.parse(raw, strict, decode)
		rec.Outcome = outcome
		rec.Err = perr
		inv.finish(ctx, res, rec, id)

		if perr == nil {
			res.Value = value
			res.JSON = data
			res.Text = raw
			logger.Debug("invocation succeeded", zap.Int("attempts", n))
			return res, nil
		}

		lastErr, lastRaw = perr, raw
		logger.Warn("output parse error", zap.Int("attempt", n), zap.String("outcome", string(outcome)), zap.Error(perr))
		if n == total {
			break
		}

		msgs, err = inv.augmenter.Augment(ctx, msgs, RetryContext{
			PreviousResponse:   raw,
			ErrorMessage:       perr.Error(),
			FormatInstructions: formatInstructions,
		})
		if err != nil {
			logger.Error("failed to append retry prompt", zap.Error(err))
			return nil, err
		}
	}

	logger.Error("max retries reached", zap.Int("attempts", total))
	return nil, types.Errorf(types.ErrRetriesExhausted, "no valid output after %d attempts", total).
		WithCause(lastErr).WithRaw(lastRaw).WithAttempts(total)
}

// parse 对原始输出分类，返回的错误都可重试
func (inv *Invoker) parse(raw string, strict *JSONSchema, decode decodeFunc) (any, json.RawMessage, Outcome, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil, OutcomeEmptyResponse,
			types.NewError(types.ErrEmptyResponse, "empty response from LLM").WithRetryable(true)
	}
	if strict == nil {
		return raw, nil, OutcomeParsed, nil
	}

	fixed := inv.repairer.Repair(raw)
	if strings.TrimSpace(fixed) == "" {
		fixed = raw
	}
	data := []byte(fixed)
	if !json.Valid(data) {
		return nil, nil, OutcomeRepairFailed, parseError(strict.Title, raw, errors.New("output is not valid JSON"))
	}
	if err := inv.validator.Validate(data, strict); err != nil {
		return nil, nil, OutcomeSchemaViolation, parseError(strict.Title, raw, err)
	}
	value, err := decode(data)
	if err != nil {
		return nil, nil, OutcomeSchemaViolation, parseError(strict.Title, raw, err)
	}
	return value, json.RawMessage(data), OutcomeParsed, nil
}

func parseError(title, raw string, cause error) *types.Error {
	// 原始输出只放在 Raw 字段，不进入错误消息
	return types.Errorf(types.ErrParse, "failed to parse %s from completion", title).
		WithCause(cause).WithRaw(raw).WithRetryable(true)
}

func (inv *Invoker) finish(ctx context.Context, res *Result, rec Attempt, id string) {
	res.Attempts = append(res.Attempts, rec)
	inv.traceEnd(ctx, AttemptEnd{
		ID: id, InvocationID: res.InvocationID, Attempt: rec.Number, Name: rec.Name,
		Output: rec.Raw, Outcome: rec.Outcome, Err: rec.Err, Duration: rec.Duration,
	})
}

func (inv *Invoker) traceStart(ctx context.Context, ev AttemptStart) {
	if err := safeTrace(func() error { return inv.tracer.OnAttemptStart(ctx, ev) }); err != nil {
		inv.logger.Warn("tracer failed on attempt start", zap.Int("attempt", ev.Attempt), zap.Error(err))
	}
}

func (inv *Invoker) traceEnd(ctx context.Context, ev AttemptEnd) {
	if err := safeTrace(func() error { return inv.tracer.OnAttemptEnd(ctx, ev) }); err != nil {
		inv.logger.Warn("tracer failed on attempt end", zap.Int("attempt", ev.Attempt), zap.Error(err))
	}
}

// attemptName 重试命名为 "<name> - Retry <n>"
func attemptName(name string, attempt int) string {
	if attempt <= 1 {
		return name
	}
	return fmt.Sprintf("%s - Retry %d", name, attempt-1)
}

func copyInput(input map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	if cp, ok := deepcopy.Copy(input).(map[string]any); ok {
		return cp
	}
	return maps.Clone(input)
}
