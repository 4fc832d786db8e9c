package structured

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// SchemaType JSON Schema 类型
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeNull    SchemaType = "null"
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
)

// StringFormat 常用字符串格式约束
type StringFormat string

const (
	FormatDateTime StringFormat = "date-time"
	FormatDate     StringFormat = "date"
	FormatTime     StringFormat = "time"
	FormatEmail    StringFormat = "email"
	FormatURI      StringFormat = "uri"
	FormatUUID     StringFormat = "uuid"
	FormatHostname StringFormat = "hostname"
	FormatIPv4     StringFormat = "ipv4"
	FormatIPv6     StringFormat = "ipv6"
)

// NullDefault 表示解码得到的 `"default": null`
var NullDefault = json.RawMessage("null")

// NullConst 表示解码得到的 `"const": null`，与未设置 const 区分
var NullConst = json.RawMessage("null")

// JSONSchema 表示一个 JSON Schema 节点。
//
// Properties 是 map，解码时（或 AddProperty 调用时）的声明顺序保存在
// PropertyOrder，序列化和严格化的 required 都按这个顺序。
// `type` 为列表时保存在 Types，此时 Type 为空。
// `items` 为元组形式（数组）时保存在 ItemsList。
// 未建模的关键字（nullable、discriminator、x-* 等）原样保存在 Extra，序列化时写回。
type JSONSchema struct {
	// 元数据
	Schema      string `json:"$schema,omitempty"`
	ID          string `json:"$id,omitempty"`
	Ref         string `json:"$ref,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type  SchemaType   `json:"type,omitempty"`
	Types []SchemaType `json:"-"`

	// 对象
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	PropertyOrder        []string               `json:"-"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *AdditionalProperties  `json:"additionalProperties,omitempty"`
	MinProperties        *int                   `json:"minProperties,omitempty"`
	MaxProperties        *int                   `json:"maxProperties,omitempty"`
	PatternProperties    map[string]*JSONSchema `json:"patternProperties,omitempty"`
	PropertyNames        *JSONSchema            `json:"propertyNames,omitempty"`

	// 数组
	Items       *JSONSchema   `json:"items,omitempty"`
	ItemsList   []*JSONSchema `json:"-"`
	PrefixItems []*JSONSchema `json:"prefixItems,omitempty"`
	Contains    *JSONSchema   `json:"contains,omitempty"`
	MinItems    *int          `json:"minItems,omitempty"`
	MaxItems    *int          `json:"maxItems,omitempty"`
	UniqueItems *bool         `json:"uniqueItems,omitempty"`

	Enum  []any `json:"enum,omitempty"`
	Const any   `json:"const,omitempty"`

	// 字符串
	MinLength *int         `json:"minLength,omitempty"`
	MaxLength *int         `json:"maxLength,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Format    StringFormat `json:"format,omitempty"`

	// 数值
	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusiveMaximum,omitempty"`
	MultipleOf       *float64 `json:"multipleOf,omitempty"`

	Default  any   `json:"default,omitempty"`
	Examples []any `json:"examples,omitempty"`

	// 组合
	AllOf []*JSONSchema `json:"allOf,omitempty"`
	AnyOf []*JSONSchema `json:"anyOf,omitempty"`
	OneOf []*JSONSchema `json:"oneOf,omitempty"`
	Not   *JSONSchema   `json:"not,omitempty"`

	// 条件
	If   *JSONSchema `json:"if,omitempty"`
	Then *JSONSchema `json:"then,omitempty"`
	Else *JSONSchema `json:"else,omitempty"`

	// 共享定义，归文档根节点所有
	Defs        map[string]*JSONSchema `json:"$defs,omitempty"`
	Definitions map[string]*JSONSchema `json:"definitions,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// knownKeys 是 JSONSchema 字段对应的关键字，其余关键字进入 Extra
var knownKeys = func() map[string]bool {
	keys := make(map[string]bool)
	t := reflect.TypeOf(JSONSchema{})
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}()

// AdditionalProperties 可以是布尔值或 schema
type AdditionalProperties struct {
	Allowed bool
	Schema  *JSONSchema
}

func (ap *AdditionalProperties) MarshalJSON() ([]byte, error) {
	if ap == nil {
		return []byte("null"), nil
	}
	if ap.Schema != nil {
		return json.Marshal(ap.Schema)
	}
	return json.Marshal(ap.Allowed)
}

func (ap *AdditionalProperties) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		ap.Allowed = b
		ap.Schema = nil
		return nil
	}

	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err == nil {
		ap.Allowed = true
		ap.Schema = &schema
		return nil
	}

	return fmt.Errorf("additionalProperties must be boolean or schema")
}

type orderedProperties struct {
	order []string
	m     map[string]*JSONSchema
}

func (p *orderedProperties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range p.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.m[name])
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON 按声明顺序写出 properties，type 写成字符串或列表，
// 最后按键名顺序追加 Extra 中的关键字
func (s *JSONSchema) MarshalJSON() ([]byte, error) {
	type plain JSONSchema
	aux := struct {
		*plain
		Type       any                `json:"type,omitempty"`
		Properties *orderedProperties `json:"properties,omitempty"`
		Items      any                `json:"items,omitempty"`
	}{plain: (*plain)(s)}

	switch {
	case len(s.Types) > 0:
		aux.Type = s.Types
	case s.Type != "":
		aux.Type = s.Type
	}
	if s.Properties != nil {
		aux.Properties = &orderedProperties{order: s.OrderedPropertyNames(), m: s.Properties}
	}
	switch {
	case s.ItemsList != nil:
		aux.Items = s.ItemsList
	case s.Items != nil:
		aux.Items = s.Items
	}
	data, err := json.Marshal(aux)
	if err != nil || len(s.Extra) == 0 {
		return data, err
	}

	keys := make([]string, 0, len(s.Extra))
	for k := range s.Extra {
		if !knownKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(data[:len(data)-1])
	for _, k := range keys {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(s.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 记录属性声明顺序、列表形式的 type、元组形式的 items、
// 值为 null 的 default/const，以及未建模的关键字；这些信息普通结构体解码都会丢失
func (s *JSONSchema) UnmarshalJSON(data []byte) error {
	type plain JSONSchema
	aux := struct {
		*plain
		Type  json.RawMessage `json:"type,omitempty"`
		Items json.RawMessage `json:"items,omitempty"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	s.Type, s.Types = "", nil
	if t := gjson.GetBytes(data, "type"); t.Exists() {
		switch {
		case t.IsArray():
			for _, v := range t.Array() {
				s.Types = append(s.Types, SchemaType(v.String()))
			}
		case t.Type == gjson.String:
			s.Type = SchemaType(t.String())
		default:
			return fmt.Errorf("type must be a string or a list of strings, got %s", t.Raw)
		}
	}

	s.Items, s.ItemsList = nil, nil
	if items := bytes.TrimSpace(aux.Items); len(items) > 0 && !bytes.Equal(items, []byte("null")) {
		if items[0] == '[' {
			list := []*JSONSchema{}
			if err := json.Unmarshal(items, &list); err != nil {
				return fmt.Errorf("items: %w", err)
			}
			s.ItemsList = list
		} else {
			s.Items = &JSONSchema{}
			if err := json.Unmarshal(items, s.Items); err != nil {
				return fmt.Errorf("items: %w", err)
			}
		}
	}

	if d := gjson.GetBytes(data, "default"); d.Exists() && d.Type == gjson.Null {
		s.Default = NullDefault
	}
	if c := gjson.GetBytes(data, "const"); c.Exists() && c.Type == gjson.Null {
		s.Const = NullConst
	}

	s.PropertyOrder = nil
	if props := gjson.GetBytes(data, "properties"); props.IsObject() {
		seen := make(map[string]bool)
		props.ForEach(func(key, _ gjson.Result) bool {
			name := key.String()
			if !seen[name] {
				seen[name] = true
				s.PropertyOrder = append(s.PropertyOrder, name)
			}
			return true
		})
	}

	s.Extra = nil
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		if name := key.String(); !knownKeys[name] {
			if s.Extra == nil {
				s.Extra = make(map[string]json.RawMessage)
			}
			s.Extra[name] = json.RawMessage(value.Raw)
		}
		return true
	})
	return nil
}

// ConstValue 返回 const 的值；ok 为 false 表示未设置 const
func (s *JSONSchema) ConstValue() (value any, ok bool) {
	if s.Const == nil {
		return nil, false
	}
	if isNullDefault(s.Const) {
		return nil, true
	}
	return s.Const, true
}

// OrderedPropertyNames 返回声明顺序的属性名：先是 PropertyOrder 中仍存在的，
// 其余按名称排序追加
func (s *JSONSchema) OrderedPropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	seen := make(map[string]bool, len(s.Properties))
	for _, name := range s.PropertyOrder {
		if _, ok := s.Properties[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var rest []string
	for name := range s.Properties {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// IsObject 判断节点是否声明了 object 类型
func (s *JSONSchema) IsObject() bool {
	if s.Type == TypeObject {
		return true
	}
	for _, t := range s.Types {
		if t == TypeObject {
			return true
		}
	}
	return false
}

// NewSchema 创建指定类型的 schema
func NewSchema(t SchemaType) *JSONSchema {
	return &JSONSchema{Type: t}
}

// NewObjectSchema 创建对象 schema
func NewObjectSchema() *JSONSchema {
	return &JSONSchema{
		Type:       TypeObject,
		Properties: make(map[string]*JSONSchema),
	}
}

// NewArraySchema 创建数组 schema
func NewArraySchema(items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: TypeArray, Items: items}
}

func NewStringSchema() *JSONSchema  { return &JSONSchema{Type: TypeString} }
func NewNumberSchema() *JSONSchema  { return &JSONSchema{Type: TypeNumber} }
func NewIntegerSchema() *JSONSchema { return &JSONSchema{Type: TypeInteger} }
func NewBooleanSchema() *JSONSchema { return &JSONSchema{Type: TypeBoolean} }

func NewEnumSchema(values ...any) *JSONSchema {
	return &JSONSchema{Enum: values}
}

// NewRefSchema 创建引用节点，如 "#/$defs/Address"
func NewRefSchema(ref string) *JSONSchema {
	return &JSONSchema{Ref: ref}
}

func NewAnyOfSchema(alternatives ...*JSONSchema) *JSONSchema {
	return &JSONSchema{AnyOf: alternatives}
}

func NewAllOfSchema(members ...*JSONSchema) *JSONSchema {
	return &JSONSchema{AllOf: members}
}

// WithTitle 设置标题，标题即 response_format 的名称
func (s *JSONSchema) WithTitle(title string) *JSONSchema {
	s.Title = title
	return s
}

func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

func (s *JSONSchema) WithDefault(def any) *JSONSchema {
	s.Default = def
	return s
}

// AddProperty 添加属性并记录调用顺序
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	if _, exists := s.Properties[name]; !exists {
		s.PropertyOrder = append(s.PropertyOrder, name)
	}
	s.Properties[name] = prop
	return s
}

func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	s.Required = append(s.Required, names...)
	return s
}

// AddDef 在 $defs 下注册共享定义
func (s *JSONSchema) AddDef(name string, def *JSONSchema) *JSONSchema {
	if s.Defs == nil {
		s.Defs = make(map[string]*JSONSchema)
	}
	s.Defs[name] = def
	return s
}

func (s *JSONSchema) WithMinLength(min int) *JSONSchema {
	s.MinLength = &min
	return s
}

func (s *JSONSchema) WithMaxLength(max int) *JSONSchema {
	s.MaxLength = &max
	return s
}

func (s *JSONSchema) WithPattern(pattern string) *JSONSchema {
	s.Pattern = pattern
	return s
}

func (s *JSONSchema) WithFormat(format StringFormat) *JSONSchema {
	s.Format = format
	return s
}

func (s *JSONSchema) WithMinimum(min float64) *JSONSchema {
	s.Minimum = &min
	return s
}

func (s *JSONSchema) WithMaximum(max float64) *JSONSchema {
	s.Maximum = &max
	return s
}

func (s *JSONSchema) WithMinItems(min int) *JSONSchema {
	s.MinItems = &min
	return s
}

func (s *JSONSchema) WithMaxItems(max int) *JSONSchema {
	s.MaxItems = &max
	return s
}

func (s *JSONSchema) WithAdditionalProperties(allowed bool) *JSONSchema {
	s.AdditionalProperties = &AdditionalProperties{Allowed: allowed}
	return s
}

func (s *JSONSchema) WithAdditionalPropertiesSchema(schema *JSONSchema) *JSONSchema {
	s.AdditionalProperties = &AdditionalProperties{Allowed: true, Schema: schema}
	return s
}

func (s *JSONSchema) WithEnum(values ...any) *JSONSchema {
	s.Enum = values
	return s
}

func (s *JSONSchema) WithConst(value any) *JSONSchema {
	s.Const = value
	return s
}

// Clone 深拷贝整棵 schema 树；Default、Const、Enum、Examples 的值为浅拷贝
func (s *JSONSchema) Clone() *JSONSchema {
	if s == nil {
		return nil
	}

	c := *s
	c.Types = cloneSlice(s.Types)
	c.PropertyOrder = cloneSlice(s.PropertyOrder)
	c.Required = cloneSlice(s.Required)
	c.Enum = cloneSlice(s.Enum)
	c.Examples = cloneSlice(s.Examples)

	c.Properties = cloneSchemaMap(s.Properties)
	c.PatternProperties = cloneSchemaMap(s.PatternProperties)
	c.Defs = cloneSchemaMap(s.Defs)
	c.Definitions = cloneSchemaMap(s.Definitions)

	c.ItemsList = cloneSchemaList(s.ItemsList)
	c.PrefixItems = cloneSchemaList(s.PrefixItems)
	c.AllOf = cloneSchemaList(s.AllOf)
	c.AnyOf = cloneSchemaList(s.AnyOf)
	c.OneOf = cloneSchemaList(s.OneOf)

	c.Items = s.Items.Clone()
	c.Contains = s.Contains.Clone()
	c.PropertyNames = s.PropertyNames.Clone()
	c.Not = s.Not.Clone()
	c.If = s.If.Clone()
	c.Then = s.Then.Clone()
	c.Else = s.Else.Clone()

	if s.AdditionalProperties != nil {
		c.AdditionalProperties = &AdditionalProperties{
			Allowed: s.AdditionalProperties.Allowed,
			Schema:  s.AdditionalProperties.Schema.Clone(),
		}
	}

	c.MinProperties = clonePtr(s.MinProperties)
	c.MaxProperties = clonePtr(s.MaxProperties)
	c.MinItems = clonePtr(s.MinItems)
	c.MaxItems = clonePtr(s.MaxItems)
	c.UniqueItems = clonePtr(s.UniqueItems)
	c.MinLength = clonePtr(s.MinLength)
	c.MaxLength = clonePtr(s.MaxLength)
	c.Minimum = clonePtr(s.Minimum)
	c.Maximum = clonePtr(s.Maximum)
	c.ExclusiveMinimum = clonePtr(s.ExclusiveMinimum)
	c.ExclusiveMaximum = clonePtr(s.ExclusiveMaximum)
	c.MultipleOf = clonePtr(s.MultipleOf)

	if s.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			c.Extra[k] = cloneSlice(v)
		}
	}

	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneSchemaList(in []*JSONSchema) []*JSONSchema {
	if in == nil {
		return nil
	}
	out := make([]*JSONSchema, len(in))
	for i, v := range in {
		out[i] = v.Clone()
	}
	return out
}

func cloneSchemaMap(in map[string]*JSONSchema) map[string]*JSONSchema {
	if in == nil {
		return nil
	}
	out := make(map[string]*JSONSchema, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

func (s *JSONSchema) ToJSONIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON 从 JSON 文档解析 schema
func FromJSON(data []byte) (*JSONSchema, error) {
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	return &schema, nil
}

func (s *JSONSchema) IsRequired(name string) bool {
	for _, req := range s.Required {
		if req == name {
			return true
		}
	}
	return false
}

func (s *JSONSchema) GetProperty(name string) *JSONSchema {
	if s.Properties == nil {
		return nil
	}
	return s.Properties[name]
}

func (s *JSONSchema) HasProperty(name string) bool {
	_, ok := s.Properties[name]
	return ok
}

// isNullDefault 判断 v 是否为显式的 null 值
func isNullDefault(v any) bool {
	switch d := v.(type) {
	case nil:
		return false
	case json.RawMessage:
		return bytes.Equal(bytes.TrimSpace(d), []byte("null"))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
