package structured

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"

	"github.com/BaSui01/structflow/types"
)

// Strictify 返回 schema 的严格形式：对象节点禁止未知字段并要求全部声明属性，
// 单成员 allOf 合并进父节点，null 默认值被移除，带兄弟键的 $ref 被内联。
// 未建模的关键字原样保留。
//
// 输入不会被修改，转换作用于私有的深拷贝。
func Strictify(schema *JSONSchema) (*JSONSchema, error) {
	if schema == nil {
		return nil, types.NewError(types.ErrUnsupportedSchema, "schema is nil")
	}
	root := schema.Clone()
	st := &strictifier{root: root, expanding: make(map[string]bool)}
	if err := st.walk(root, nil); err != nil {
		return nil, err
	}
	return root, nil
}

// StrictifyAny 接受各种 schema 载体并严格化：*JSONSchema、JSONSchema、
// JSON 文档（[]byte、json.RawMessage、string）、map[string]any、
// invopop 的 *jsonschema.Schema，以及先反射再处理的 reflect.Type。
func StrictifyAny(v any) (*JSONSchema, error) {
	switch s := v.(type) {
	case *JSONSchema:
		if s == nil {
			break
		}
		return Strictify(s)
	case JSONSchema:
		return Strictify(&s)
	case json.RawMessage:
		return strictifyDocument(s)
	case []byte:
		return strictifyDocument(s)
	case string:
		return strictifyDocument([]byte(s))
	case map[string]any:
		if s == nil {
			break
		}
		data, err := json.Marshal(s)
		if err != nil {
			return nil, types.NewError(types.ErrUnsupportedSchema, "schema map is not serializable").WithCause(err)
		}
		return strictifyDocument(data)
	case *jsonschema.Schema:
		if s == nil {
			break
		}
		data, err := json.Marshal(s)
		if err != nil {
			return nil, types.NewError(types.ErrUnsupportedSchema, "reflected schema is not serializable").WithCause(err)
		}
		return strictifyDocument(data)
	case reflect.Type:
		if s == nil {
			break
		}
		schema, err := ReflectSchema(s)
		if err != nil {
			return nil, err
		}
		return Strictify(schema)
	}
	return nil, types.Errorf(types.ErrUnsupportedSchema, "cannot build a schema from %T", v)
}

func strictifyDocument(data []byte) (*JSONSchema, error) {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, types.NewError(types.ErrUnsupportedSchema, "schema document must be a JSON object")
	}
	schema, err := FromJSON(data)
	if err != nil {
		return nil, types.NewError(types.ErrUnsupportedSchema, "invalid schema document").WithCause(err)
	}
	return Strictify(schema)
}

type strictifier struct {
	root *JSONSchema
	// 正在内联的 $ref；重复出现说明是递归引用
	expanding map[string]bool
}

func (st *strictifier) walk(node *JSONSchema, path []string) error {
	if node == nil {
		return types.NewError(types.ErrSchema, "expected a schema object").WithPath(pointer(path))
	}

	for _, name := range sortedKeys(node.Defs) {
		if err := st.walk(node.Defs[name], extend(path, "$defs", name)); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(node.Definitions) {
		if err := st.walk(node.Definitions[name], extend(path, "definitions", name)); err != nil {
			return err
		}
	}

	if node.IsObject() && node.AdditionalProperties == nil {
		node.AdditionalProperties = &AdditionalProperties{Allowed: false}
	}
	if ap := node.AdditionalProperties; ap != nil && ap.Schema != nil {
		if err := st.walk(ap.Schema, extend(path, "additionalProperties")); err != nil {
			return err
		}
	}

	if node.Properties != nil {
		names := node.OrderedPropertyNames()
		node.PropertyOrder = names
		node.Required = cloneSlice(names)
		for _, name := range names {
			if err := st.walk(node.Properties[name], extend(path, "properties", name)); err != nil {
				return err
			}
		}
	}

	if node.Items != nil {
		if err := st.walk(node.Items, extend(path, "items")); err != nil {
			return err
		}
	}
	for i, item := range node.ItemsList {
		if err := st.walk(item, extend(path, "items", fmt.Sprint(i))); err != nil {
			return err
		}
	}
	for i, item := range node.PrefixItems {
		if err := st.walk(item, extend(path, "prefixItems", fmt.Sprint(i))); err != nil {
			return err
		}
	}

	for i, alt := range node.AnyOf {
		if err := st.walk(alt, extend(path, "anyOf", fmt.Sprint(i))); err != nil {
			return err
		}
	}
	for i, alt := range node.OneOf {
		if err := st.walk(alt, extend(path, "oneOf", fmt.Sprint(i))); err != nil {
			return err
		}
	}

	switch len(node.AllOf) {
	case 0:
	case 1:
		member := node.AllOf[0]
		if err := st.walk(member, extend(path, "allOf", "0")); err != nil {
			return err
		}
		node.AllOf = nil
		merged, err := overlay(node, member)
		if err != nil {
			return types.NewError(types.ErrSchema, "cannot merge allOf member").WithPath(pointer(path)).WithCause(err)
		}
		// 空的 required 列表序列化后会丢失，这里重新计算
		if merged.Properties != nil {
			merged.PropertyOrder = merged.OrderedPropertyNames()
			merged.Required = cloneSlice(merged.PropertyOrder)
		}
		*node = *merged
	default:
		for i, member := range node.AllOf {
			if err := st.walk(member, extend(path, "allOf", fmt.Sprint(i))); err != nil {
				return err
			}
		}
	}

	if isNullDefault(node.Default) {
		node.Default = nil
	}

	if node.Ref != "" {
		n, err := keyCount(node)
		if err != nil {
			return types.NewError(types.ErrSchema, "cannot inspect node").WithPath(pointer(path)).WithCause(err)
		}
		if n > 1 {
			return st.inline(node, path)
		}
	}
	return nil
}

// inline 用引用目标替换带兄弟键的 $ref，兄弟键优先，然后重新严格化
func (st *strictifier) inline(node *JSONSchema, path []string) error {
	ref := node.Ref
	if st.expanding[ref] {
		return types.Errorf(types.ErrSchemaResolution, "recursive reference %s cannot be inlined", ref).WithPath(pointer(path))
	}
	resolved, err := st.resolve(ref, path)
	if err != nil {
		return err
	}

	siblings := *node
	siblings.Ref = ""
	merged, err := overlay(resolved, &siblings)
	if err != nil {
		return types.Errorf(types.ErrSchema, "cannot merge %s", ref).WithPath(pointer(path)).WithCause(err)
	}
	*node = *merged

	st.expanding[ref] = true
	defer delete(st.expanding, ref)
	return st.walk(node, path)
}

// resolve 在当前根节点上解析本地 JSON pointer（"#/..."）
func (st *strictifier) resolve(ref string, path []string) (*JSONSchema, error) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, types.Errorf(types.ErrSchemaResolution, "unexpected $ref format %q, only local #/ references are supported", ref).
			WithPath(pointer(path))
	}
	doc, err := json.Marshal(st.root)
	if err != nil {
		return nil, types.NewError(types.ErrSchema, "cannot serialize schema root").WithCause(err)
	}

	target := gjson.GetBytes(doc, gjsonPath(ref[2:]))
	if !target.Exists() {
		return nil, types.Errorf(types.ErrSchemaResolution, "$ref %s does not resolve", ref).WithPath(pointer(path))
	}
	if !target.IsObject() {
		return nil, types.Errorf(types.ErrSchemaResolution, "$ref %s resolved to a non-object: %s", ref, target.Raw).
			WithPath(pointer(path))
	}
	resolved, err := FromJSON([]byte(target.Raw))
	if err != nil {
		return nil, types.Errorf(types.ErrSchemaResolution, "$ref %s resolved to an invalid schema", ref).
			WithPath(pointer(path)).WithCause(err)
	}
	return resolved, nil
}

// overlay 返回 base 被 top 中所有键覆盖后的结果，未建模关键字同样参与合并
func overlay(base, top *JSONSchema) (*JSONSchema, error) {
	merged, err := keyMap(base)
	if err != nil {
		return nil, err
	}
	over, err := keyMap(top)
	if err != nil {
		return nil, err
	}
	for k, v := range over {
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return FromJSON(data)
}

func keyMap(s *JSONSchema) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	m := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func keyCount(s *JSONSchema) (int, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return 0, err
	}
	n := 0
	gjson.ParseBytes(data).ForEach(func(_, _ gjson.Result) bool {
		n++
		return true
	})
	return n, nil
}

// gjsonPath 把 "#/" 之后的 JSON pointer 转成 gjson 路径
func gjsonPath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		parts[i] = escapeGJSON(part)
	}
	return strings.Join(parts, ".")
}

func escapeGJSON(comp string) string {
	var b strings.Builder
	for _, r := range comp {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func pointer(path []string) string {
	if len(path) == 0 {
		return "#"
	}
	return "#/" + strings.Join(path, "/")
}

func extend(path []string, elems ...string) []string {
	out := make([]string, 0, len(path)+len(elems))
	return append(append(out, path...), elems...)
}

func sortedKeys(m map[string]*JSONSchema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
