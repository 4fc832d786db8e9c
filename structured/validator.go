package structured

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// SchemaValidator 校验 JSON 数据是否符合 schema
type SchemaValidator interface {
	Validate(data []byte, schema *JSONSchema) error
}

// SchemaPreparer 是可选接口：校验器在首次模型调用前检查 schema 本身，
// 返回 ErrSchema 时整个调用不发出任何请求
type SchemaPreparer interface {
	Prepare(schema *JSONSchema) error
}

// ParseError 单个字段的校验错误
type ParseError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors 汇总一次校验的全部错误
type ValidationErrors struct {
	Errors []ParseError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "validation failed"
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// maxValidationDepth 限制下降深度，自引用 schema 不会死循环
const maxValidationDepth = 128

// DefaultValidator 解码后逐节点校验，支持本地 $ref 与组合关键字
type DefaultValidator struct {
	mu               sync.RWMutex
	formatValidators map[StringFormat]func(string) bool
	patterns         sync.Map // pattern -> *regexp.Regexp
}

// NewValidator 创建带内置 format 校验的 DefaultValidator
func NewValidator() *DefaultValidator {
	v := &DefaultValidator{formatValidators: make(map[StringFormat]func(string) bool)}
	for format, pattern := range builtinFormats {
		re := regexp.MustCompile(pattern)
		v.formatValidators[format] = re.MatchString
	}
	v.formatValidators[FormatIPv4] = validIPv4
	v.formatValidators[FormatHostname] = func(s string) bool {
		return len(s) <= 253 && hostnamePattern.MatchString(s)
	}
	return v
}

var builtinFormats = map[StringFormat]string{
	FormatEmail:    `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`,
	FormatURI:      `^[a-zA-Z][a-zA-Z0-9+.-]*://`,
	FormatUUID:     `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`,
	FormatDateTime: `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`,
	FormatDate:     `^\d{4}-\d{2}-\d{2}$`,
	FormatTime:     `^\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`,
	FormatIPv6:     `^([0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}$|^::$|^([0-9a-fA-F]{1,4}:)*:([0-9a-fA-F]{1,4}:)*[0-9a-fA-F]{1,4}$`,
}

var (
	ipv4Pattern     = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
)

func validIPv4(s string) bool {
	if !ipv4Pattern.MatchString(s) {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		var num int
		if _, err := fmt.Sscanf(part, "%d", &num); err != nil || num > 255 {
			return false
		}
	}
	return true
}

// RegisterFormat 注册自定义 format 校验函数
func (v *DefaultValidator) RegisterFormat(format StringFormat, fn func(string) bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.formatValidators[format] = fn
}

func (v *DefaultValidator) Validate(data []byte, schema *JSONSchema) error {
	if schema == nil {
		return nil
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return &ValidationErrors{Errors: []ParseError{{Message: fmt.Sprintf("invalid JSON: %v", err)}}}
	}

	run := &validation{v: v, root: schema, refs: make(map[string]*JSONSchema)}
	run.value(value, schema, "", 0)
	if len(run.errs) > 0 {
		return &ValidationErrors{Errors: run.errs}
	}
	return nil
}

// Prepare 预编译 schema 中所有正则，非法正则直接报 ErrSchema
func (v *DefaultValidator) Prepare(schema *JSONSchema) error {
	return checkPatterns(schema, v.compile)
}

func (v *DefaultValidator) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := v.patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	v.patterns.Store(pattern, re)
	return re, nil
}

func (v *DefaultValidator) format(f StringFormat) (func(string) bool, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	fn, ok := v.formatValidators[f]
	return fn, ok
}

// validation 一次 Validate 调用的状态
type validation struct {
	v    *DefaultValidator
	root *JSONSchema
	doc  []byte
	refs map[string]*JSONSchema
	errs []ParseError
}

func (r *validation) add(path, format string, args ...any) {
	r.errs = append(r.errs, ParseError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// matches 只判断是否匹配，不记录错误
func (r *validation) matches(value any, schema *JSONSchema, depth int) bool {
	sub := &validation{v: r.v, root: r.root, doc: r.doc, refs: r.refs}
	sub.value(value, schema, "", depth)
	r.doc = sub.doc
	return len(sub.errs) == 0
}

func (r *validation) value(value any, schema *JSONSchema, path string, depth int) {
	if schema == nil {
		return
	}
	if depth > maxValidationDepth {
		r.add(path, "schema nesting exceeds %d levels", maxValidationDepth)
		return
	}

	if schema.Ref != "" {
		target, err := r.resolve(schema.Ref)
		if err != nil {
			r.add(path, "%v", err)
			return
		}
		r.value(value, target, path, depth+1)
	}

	if want, ok := schema.ConstValue(); ok && !equalValues(value, want) {
		r.add(path, "value must be %s", valueKey(want))
		return
	}

	if len(schema.Enum) > 0 {
		found := false
		for _, enumVal := range schema.Enum {
			if equalValues(value, enumVal) {
				found = true
				break
			}
		}
		if !found {
			r.add(path, "value must be one of: %v", schema.Enum)
		}
	}

	switch {
	case len(schema.Types) > 0:
		r.typeSet(value, schema, path, depth)
	case schema.Type != "":
		r.typed(value, schema.Type, schema, path, depth)
	}

	r.composition(value, schema, path, depth)
}

// typeSet 任一类型匹配即可
func (r *validation) typeSet(value any, schema *JSONSchema, path string, depth int) {
	for _, t := range schema.Types {
		if jsonType(value) == t || (t == TypeNumber && jsonType(value) == TypeInteger) {
			r.typed(value, t, schema, path, depth)
			return
		}
	}
	r.add(path, "expected one of %v, got %s", schema.Types, jsonType(value))
}

func (r *validation) composition(value any, schema *JSONSchema, path string, depth int) {
	for _, member := range schema.AllOf {
		r.value(value, member, path, depth+1)
	}

	if len(schema.AnyOf) > 0 {
		ok := false
		for _, alt := range schema.AnyOf {
			if r.matches(value, alt, depth+1) {
				ok = true
				break
			}
		}
		if !ok {
			r.add(path, "value does not match any of %d alternatives", len(schema.AnyOf))
		}
	}

	if len(schema.OneOf) > 0 {
		n := 0
		for _, alt := range schema.OneOf {
			if r.matches(value, alt, depth+1) {
				n++
			}
		}
		if n != 1 {
			r.add(path, "value must match exactly one of %d alternatives, matched %d", len(schema.OneOf), n)
		}
	}

	if schema.Not != nil && r.matches(value, schema.Not, depth+1) {
		r.add(path, "value must not match the negated schema")
	}

	if schema.If != nil {
		if r.matches(value, schema.If, depth+1) {
			r.value(value, schema.Then, path, depth+1)
		} else {
			r.value(value, schema.Else, path, depth+1)
		}
	}
}

func (r *validation) resolve(ref string) (*JSONSchema, error) {
	if s, ok := r.refs[ref]; ok {
		return s, nil
	}
	if ref == "#" {
		return r.root, nil
	}
	if !strings.HasPrefix(ref, "#/") {
		return nil, fmt.Errorf("unsupported $ref %q", ref)
	}
	if r.doc == nil {
		doc, err := json.Marshal(r.root)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", ref, err)
		}
		r.doc = doc
	}
	target := gjson.GetBytes(r.doc, gjsonPath(ref[2:]))
	if !target.IsObject() {
		return nil, fmt.Errorf("$ref %s does not resolve to a schema", ref)
	}
	s, err := FromJSON([]byte(target.Raw))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	r.refs[ref] = s
	return s, nil
}

func (r *validation) typed(value any, t SchemaType, schema *JSONSchema, path string, depth int) {
	switch t {
	case TypeString:
		r.str(value, schema, path)
	case TypeNumber:
		num, ok := toFloat64(value)
		if !ok {
			r.add(path, "expected number, got %s", jsonType(value))
			return
		}
		r.numeric(num, schema, path)
	case TypeInteger:
		num, ok := toFloat64(value)
		if !ok || num != math.Trunc(num) {
			r.add(path, "expected integer, got %s", jsonType(value))
			return
		}
		r.numeric(num, schema, path)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			r.add(path, "expected boolean, got %s", jsonType(value))
		}
	case TypeNull:
		if value != nil {
			r.add(path, "expected null, got %s", jsonType(value))
		}
	case TypeObject:
		r.object(value, schema, path, depth)
	case TypeArray:
		r.array(value, schema, path, depth)
	}
}

func (r *validation) str(value any, schema *JSONSchema, path string) {
	s, ok := value.(string)
	if !ok {
		r.add(path, "expected string, got %s", jsonType(value))
		return
	}
	n := len([]rune(s))
	if schema.MinLength != nil && n < *schema.MinLength {
		r.add(path, "string length %d is less than minimum %d", n, *schema.MinLength)
	}
	if schema.MaxLength != nil && n > *schema.MaxLength {
		r.add(path, "string length %d exceeds maximum %d", n, *schema.MaxLength)
	}
	if schema.Pattern != "" {
		re, err := r.v.compile(schema.Pattern)
		switch {
		case err != nil:
			r.add(path, "invalid pattern %q: %v", schema.Pattern, err)
		case !re.MatchString(s):
			r.add(path, "string does not match pattern %q", schema.Pattern)
		}
	}
	if schema.Format != "" {
		if fn, ok := r.v.format(schema.Format); ok && !fn(s) {
			r.add(path, "string does not match format %q", schema.Format)
		}
	}
}

func (r *validation) numeric(num float64, schema *JSONSchema, path string) {
	if schema.Minimum != nil && num < *schema.Minimum {
		r.add(path, "value %v is less than minimum %v", num, *schema.Minimum)
	}
	if schema.Maximum != nil && num > *schema.Maximum {
		r.add(path, "value %v exceeds maximum %v", num, *schema.Maximum)
	}
	if schema.ExclusiveMinimum != nil && num <= *schema.ExclusiveMinimum {
		r.add(path, "value %v must be greater than %v", num, *schema.ExclusiveMinimum)
	}
	if schema.ExclusiveMaximum != nil && num >= *schema.ExclusiveMaximum {
		r.add(path, "value %v must be less than %v", num, *schema.ExclusiveMaximum)
	}
	if schema.MultipleOf != nil && *schema.MultipleOf != 0 {
		q := num / *schema.MultipleOf
		if q != math.Trunc(q) {
			r.add(path, "value %v is not a multiple of %v", num, *schema.MultipleOf)
		}
	}
}

// object 只检查 required 键是否存在；值为 null 时交给属性 schema 判断，
// 严格化后可选字段靠 anyOf null 保持可空
func (r *validation) object(value any, schema *JSONSchema, path string, depth int) {
	obj, ok := value.(map[string]any)
	if !ok {
		r.add(path, "expected object, got %s", jsonType(value))
		return
	}

	for _, req := range schema.Required {
		if _, exists := obj[req]; !exists {
			r.add(joinPath(path, req), "required field is missing")
		}
	}
	if schema.MinProperties != nil && len(obj) < *schema.MinProperties {
		r.add(path, "object has %d properties, minimum is %d", len(obj), *schema.MinProperties)
	}
	if schema.MaxProperties != nil && len(obj) > *schema.MaxProperties {
		r.add(path, "object has %d properties, maximum is %d", len(obj), *schema.MaxProperties)
	}

	for _, name := range sortedValueKeys(obj) {
		propValue := obj[name]
		propPath := joinPath(path, name)

		matchedPattern := false
		for pattern, patternSchema := range schema.PatternProperties {
			re, err := r.v.compile(pattern)
			if err == nil && re.MatchString(name) {
				matchedPattern = true
				r.value(propValue, patternSchema, propPath, depth+1)
			}
		}

		if propSchema, ok := schema.Properties[name]; ok {
			r.value(propValue, propSchema, propPath, depth+1)
		} else if ap := schema.AdditionalProperties; ap != nil && !matchedPattern {
			switch {
			case ap.Schema != nil:
				r.value(propValue, ap.Schema, propPath, depth+1)
			case !ap.Allowed:
				r.add(propPath, "additional property not allowed")
			}
		}

		if schema.PropertyNames != nil {
			r.value(name, schema.PropertyNames, propPath, depth+1)
		}
	}
}

func (r *validation) array(value any, schema *JSONSchema, path string, depth int) {
	arr, ok := value.([]any)
	if !ok {
		r.add(path, "expected array, got %s", jsonType(value))
		return
	}

	if schema.MinItems != nil && len(arr) < *schema.MinItems {
		r.add(path, "array has %d items, minimum is %d", len(arr), *schema.MinItems)
	}
	if schema.MaxItems != nil && len(arr) > *schema.MaxItems {
		r.add(path, "array has %d items, maximum is %d", len(arr), *schema.MaxItems)
	}
	if schema.UniqueItems != nil && *schema.UniqueItems {
		seen := make(map[string]bool, len(arr))
		for i, item := range arr {
			key := valueKey(item)
			if seen[key] {
				r.add(fmt.Sprintf("%s[%d]", path, i), "duplicate item in array with uniqueItems constraint")
			}
			seen[key] = true
		}
	}

	for i, item := range arr {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		if i < len(schema.PrefixItems) {
			r.value(item, schema.PrefixItems[i], itemPath, depth+1)
			continue
		}
		if schema.ItemsList != nil {
			if i < len(schema.ItemsList) {
				r.value(item, schema.ItemsList[i], itemPath, depth+1)
			} else if closedTuple(schema) {
				r.add(itemPath, "tuple allows %d items", len(schema.ItemsList))
			}
			continue
		}
		if schema.Items != nil {
			r.value(item, schema.Items, itemPath, depth+1)
		}
	}

	if schema.Contains != nil {
		found := false
		for _, item := range arr {
			if r.matches(item, schema.Contains, depth+1) {
				found = true
				break
			}
		}
		if !found {
			r.add(path, "array must contain at least one matching item")
		}
	}
}

// closedTuple 判断元组形式的 items 是否以 additionalItems: false 关闭
func closedTuple(schema *JSONSchema) bool {
	raw, ok := schema.Extra["additionalItems"]
	return ok && gjson.ParseBytes(raw).Type == gjson.False
}

func jsonType(value any) SchemaType {
	switch v := value.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case string:
		return TypeString
	case map[string]any:
		return TypeObject
	case []any:
		return TypeArray
	default:
		if f, ok := toFloat64(v); ok {
			if f == math.Trunc(f) {
				return TypeInteger
			}
			return TypeNumber
		}
	}
	return SchemaType(fmt.Sprintf("%T", value))
}

func toFloat64(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func equalValues(a, b any) bool {
	if an, ok := toFloat64(a); ok {
		bn, ok := toFloat64(b)
		return ok && an == bn
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return valueKey(a) == valueKey(b)
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

func valueKey(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func sortedValueKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
