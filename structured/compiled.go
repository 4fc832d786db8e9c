package structured

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kaptinlin/jsonschema"

	"github.com/BaSui01/structflow/types"
)

const defaultCompiledCacheSize = 128

// CompiledValidator 基于完整的 JSON Schema 实现校验，
// 编译结果以序列化后的 schema 为键缓存在 LRU 中
type CompiledValidator struct {
	mu       sync.Mutex // guards compiler
	compiler *jsonschema.Compiler
	cache    *lru.Cache[string, *jsonschema.Schema]
}

// NewCompiledValidator 创建最多缓存 size 个编译结果的校验器，size <= 0 使用默认值
func NewCompiledValidator(size int) (*CompiledValidator, error) {
	if size <= 0 {
		size = defaultCompiledCacheSize
	}
	cache, err := lru.New[string, *jsonschema.Schema](size)
	if err != nil {
		return nil, fmt.Errorf("create compiled schema cache: %w", err)
	}
	return &CompiledValidator{compiler: jsonschema.NewCompiler(), cache: cache}, nil
}

func (v *CompiledValidator) Validate(data []byte, schema *JSONSchema) error {
	if schema == nil {
		return nil
	}
	compiled, err := v.compile(schema)
	if err != nil {
		return err
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return &ValidationErrors{Errors: []ParseError{{Message: fmt.Sprintf("invalid JSON: %v", err)}}}
	}

	result := compiled.Validate(value)
	if result.Valid {
		return nil
	}
	keys := make([]string, 0, len(result.Errors))
	for k := range result.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &ValidationErrors{}
	for _, k := range keys {
		out.Errors = append(out.Errors, ParseError{Path: k, Message: result.Errors[k].Error()})
	}
	if len(out.Errors) == 0 {
		out.Errors = append(out.Errors, ParseError{Message: "value does not satisfy the schema"})
	}
	return out
}

// Prepare 检查正则并编译 schema，失败时返回 ErrSchema
func (v *CompiledValidator) Prepare(schema *JSONSchema) error {
	if schema == nil {
		return nil
	}
	if err := checkPatterns(schema, nil); err != nil {
		return err
	}
	if _, err := v.compile(schema); err != nil {
		return types.NewError(types.ErrSchema, "schema cannot be compiled").WithCause(err)
	}
	return nil
}

func (v *CompiledValidator) compile(schema *JSONSchema) (*jsonschema.Schema, error) {
	data, err := schema.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("serialize schema: %w", err)
	}
	key := string(data)
	if c, ok := v.cache.Get(key); ok {
		return c, nil
	}
	v.mu.Lock()
	c, err := v.compiler.Compile(data)
	v.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cache.Add(key, c)
	return c, nil
}
