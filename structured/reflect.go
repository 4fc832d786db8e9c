package structured

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/structflow/types"
)

func newReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		ExpandedStruct: true,  // 根类型内联，嵌套类型放在 $defs
		DoNotReference: false, // 嵌套类型通过 $ref 引用
	}
}

// ReflectSchema 从 Go 类型生成 schema，title 默认为类型名（即 response_format 名称）。
// 指针字段和带 omitempty/omitzero 的字段会加上 null 分支，严格化后仍可表达"缺省"。
func ReflectSchema(t reflect.Type) (*JSONSchema, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, types.Errorf(types.ErrUnsupportedSchema, "cannot reflect a schema from %s, need a struct", t)
	}

	reflected := newReflector().ReflectFromType(t)
	data, err := json.Marshal(reflected)
	if err != nil {
		return nil, types.Errorf(types.ErrUnsupportedSchema, "marshal reflected schema for %s", t).WithCause(err)
	}
	schema, err := FromJSON(data)
	if err != nil {
		return nil, types.Errorf(types.ErrUnsupportedSchema, "decode reflected schema for %s", t).WithCause(err)
	}
	schema.Schema = ""
	schema.ID = ""
	if schema.Title == "" {
		schema.Title = t.Name()
	}
	markNullable(schema, t, schema.Defs, make(map[reflect.Type]bool))
	return schema, nil
}

// markNullable 按结构体字段把可选属性改写为 anyOf [原 schema, null]，
// 并沿嵌套结构体进入 $defs 中对应的定义
func markNullable(schema *JSONSchema, t reflect.Type, defs map[string]*JSONSchema, seen map[reflect.Type]bool) {
	if schema == nil || t.Kind() != reflect.Struct || seen[t] {
		return
	}
	seen[t] = true

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" && opts == "" {
			continue
		}
		ft := f.Type
		if f.Anonymous && name == "" {
			// 未命名的嵌入结构体，字段展开在当前对象上
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				markNullable(schema, ft, defs, seen)
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}

		prop := schema.Properties[name]
		if prop == nil {
			continue
		}
		options := strings.Split(opts, ",")
		optional := ft.Kind() == reflect.Ptr || slices.Contains(options, "omitempty") || slices.Contains(options, "omitzero")
		if optional && !allowsNull(prop) {
			schema.Properties[name] = &JSONSchema{
				Description: prop.Description,
				AnyOf:       []*JSONSchema{prop, {Type: TypeNull}},
			}
			prop.Description = ""
		}

		if nested := structElem(ft); nested != nil && nested.Name() != "" {
			markNullable(defs[nested.Name()], nested, defs, seen)
		}
	}
}

// structElem 剥掉指针、切片和 map，返回其中的结构体类型
func structElem(t reflect.Type) reflect.Type {
	for {
		switch t.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Array, reflect.Map:
			t = t.Elem()
		case reflect.Struct:
			return t
		default:
			return nil
		}
	}
}

func allowsNull(s *JSONSchema) bool {
	if s.Type == TypeNull || slices.Contains(s.Types, TypeNull) {
		return true
	}
	for _, alt := range slices.Concat(s.AnyOf, s.OneOf) {
		if alt != nil && (alt.Type == TypeNull || slices.Contains(alt.Types, TypeNull)) {
			return true
		}
	}
	return false
}

// SchemaFor 反射 T 的 schema
func SchemaFor[T any]() (*JSONSchema, error) {
	return ReflectSchema(reflect.TypeOf((*T)(nil)).Elem())
}

// SchemaCache 按 Go 类型缓存严格 schema，条目只计算一次，调用方拿到的是副本
type SchemaCache struct {
	entries sync.Map // reflect.Type -> *JSONSchema
	group   singleflight.Group
}

func NewSchemaCache() *SchemaCache {
	return &SchemaCache{}
}

// Strict 返回 t 的严格 schema，首次使用时反射并严格化
func (c *SchemaCache) Strict(t reflect.Type) (*JSONSchema, error) {
	if v, ok := c.entries.Load(t); ok {
		return v.(*JSONSchema).Clone(), nil
	}

	// 每个类型只有一个 reflect.Type 值，指针可作为 singleflight 键
	key := fmt.Sprintf("%s@%p", t, t)
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.entries.Load(t); ok {
			return v, nil
		}
		schema, err := StrictifyAny(t)
		if err != nil {
			return nil, err
		}
		actual, _ := c.entries.LoadOrStore(t, schema)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*JSONSchema).Clone(), nil
}

// Len 已缓存的类型数
func (c *SchemaCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// StrictFor SchemaCache.Strict 的泛型形式
func StrictFor[T any](c *SchemaCache) (*JSONSchema, error) {
	return c.Strict(reflect.TypeOf((*T)(nil)).Elem())
}
