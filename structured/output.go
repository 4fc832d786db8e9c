package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseResult 离线解析的详细结果
type ParseResult[T any] struct {
	Value  *T           `json:"value,omitempty"`
	Raw    string       `json:"raw"`
	Errors []ParseError `json:"errors,omitempty"`
}

func (r *ParseResult[T]) IsValid() bool {
	return r.Value != nil && len(r.Errors) == 0
}

// StructuredOutput Invoker 的泛型封装：schema 从 T 反射并严格化一次，结果解码为 *T
type StructuredOutput[T any] struct {
	invoker *Invoker
	schema  *JSONSchema
}

// NewStructuredOutput 从 cache 取严格 schema；cache 为 nil 时不缓存
func NewStructuredOutput[T any](inv *Invoker, cache *SchemaCache) (*StructuredOutput[T], error) {
	if inv == nil {
		return nil, fmt.Errorf("invoker cannot be nil")
	}
	var (
		schema *JSONSchema
		err    error
	)
	if cache != nil {
		schema, err = StrictFor[T](cache)
	} else {
		schema, err = SchemaFor[T]()
		if err == nil {
			schema, err = Strictify(schema)
		}
	}
	if err != nil {
		var zero T
		return nil, fmt.Errorf("failed to generate schema for type %T: %w", zero, err)
	}
	return &StructuredOutput[T]{invoker: inv, schema: schema}, nil
}

// NewStructuredOutputWithSchema 使用调用方提供的 schema，创建时即严格化
func NewStructuredOutputWithSchema[T any](inv *Invoker, schema *JSONSchema) (*StructuredOutput[T], error) {
	if inv == nil {
		return nil, fmt.Errorf("invoker cannot be nil")
	}
	if schema == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	strict, err := Strictify(schema)
	if err != nil {
		return nil, err
	}
	return &StructuredOutput[T]{invoker: inv, schema: strict}, nil
}

// Schema 返回严格 schema 的副本
func (s *StructuredOutput[T]) Schema() *JSONSchema {
	return s.schema.Clone()
}

// Generate 调用 c 并把校验通过的输出解码为 *T
func (s *StructuredOutput[T]) Generate(ctx context.Context, c Callable, input map[string]any) (*T, *Result, error) {
	res, err := s.invoker.invoke(ctx, c, s.schema, input, decodeInto[T])
	if err != nil {
		return nil, nil, err
	}
	v, ok := res.Value.(*T)
	if !ok {
		return nil, res, fmt.Errorf("decoded value has type %T", res.Value)
	}
	return v, res, nil
}

func decodeInto[T any](data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Parse 不调用模型，直接修复、校验并解码一段输出
func (s *StructuredOutput[T]) Parse(raw string) (*T, error) {
	r := s.ParseWithResult(raw)
	if len(r.Errors) > 0 {
		return nil, &ValidationErrors{Errors: r.Errors}
	}
	return r.Value, nil
}

// ParseWithResult 同 Parse，但收集全部校验错误
func (s *StructuredOutput[T]) ParseWithResult(raw string) *ParseResult[T] {
	out := &ParseResult[T]{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		out.Errors = []ParseError{{Message: "empty response"}}
		return out
	}

	fixed := s.invoker.repairer.Repair(raw)
	if strings.TrimSpace(fixed) == "" {
		fixed = raw
	}
	if err := s.invoker.validator.Validate([]byte(fixed), s.schema); err != nil {
		var ve *ValidationErrors
		if errors.As(err, &ve) {
			out.Errors = append(out.Errors, ve.Errors...)
		} else {
			out.Errors = append(out.Errors, ParseError{Message: err.Error()})
		}
	}

	var value T
	if err := json.Unmarshal([]byte(fixed), &value); err != nil {
		out.Errors = append(out.Errors, ParseError{Message: fmt.Sprintf("JSON parse error: %v", err)})
		return out
	}
	out.Value = &value
	return out
}

func (s *StructuredOutput[T]) ValidateValue(value *T) error {
	if value == nil {
		return fmt.Errorf("value cannot be nil")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return s.invoker.validator.Validate(data, s.schema)
}
