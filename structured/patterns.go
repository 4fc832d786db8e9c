package structured

import (
	"fmt"
	"regexp"

	"github.com/BaSui01/structflow/types"
)

// checkPatterns 遍历 schema 中的 pattern 与 patternProperties 键，
// 第一个无法编译的正则以 ErrSchema 返回，Path 指向所在节点
func checkPatterns(schema *JSONSchema, compile func(string) (*regexp.Regexp, error)) error {
	if compile == nil {
		compile = regexp.Compile
	}
	pc := &patternCheck{compile: compile, seen: make(map[*JSONSchema]bool)}
	return pc.walk(schema, nil)
}

type patternCheck struct {
	compile func(string) (*regexp.Regexp, error)
	seen    map[*JSONSchema]bool
}

func (pc *patternCheck) walk(node *JSONSchema, path []string) error {
	if node == nil || pc.seen[node] {
		return nil
	}
	pc.seen[node] = true

	if node.Pattern != "" {
		if _, err := pc.compile(node.Pattern); err != nil {
			return types.NewError(types.ErrSchema, fmt.Sprintf("invalid pattern %q", node.Pattern)).
				WithPath(pointer(extend(path, "pattern"))).WithCause(err)
		}
	}
	for _, key := range sortedKeys(node.PatternProperties) {
		if _, err := pc.compile(key); err != nil {
			return types.NewError(types.ErrSchema, fmt.Sprintf("invalid patternProperties key %q", key)).
				WithPath(pointer(extend(path, "patternProperties"))).WithCause(err)
		}
		if err := pc.walk(node.PatternProperties[key], extend(path, "patternProperties", key)); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(node.Properties) {
		if err := pc.walk(node.Properties[name], extend(path, "properties", name)); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(node.Defs) {
		if err := pc.walk(node.Defs[name], extend(path, "$defs", name)); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(node.Definitions) {
		if err := pc.walk(node.Definitions[name], extend(path, "definitions", name)); err != nil {
			return err
		}
	}

	lists := []struct {
		key   string
		nodes []*JSONSchema
	}{
		{"items", node.ItemsList},
		{"prefixItems", node.PrefixItems},
		{"allOf", node.AllOf},
		{"anyOf", node.AnyOf},
		{"oneOf", node.OneOf},
	}
	for _, l := range lists {
		for i, child := range l.nodes {
			if err := pc.walk(child, extend(path, l.key, fmt.Sprint(i))); err != nil {
				return err
			}
		}
	}

	children := []struct {
		key  string
		node *JSONSchema
	}{
		{"items", node.Items},
		{"contains", node.Contains},
		{"propertyNames", node.PropertyNames},
		{"not", node.Not},
		{"if", node.If},
		{"then", node.Then},
		{"else", node.Else},
	}
	if ap := node.AdditionalProperties; ap != nil {
		children = append(children, struct {
			key  string
			node *JSONSchema
		}{"additionalProperties", ap.Schema})
	}
	for _, c := range children {
		if err := pc.walk(c.node, extend(path, c.key)); err != nil {
			return err
		}
	}
	return nil
}
