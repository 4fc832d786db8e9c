package structured

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"pgregory.net/rapid"

	"github.com/BaSui01/structflow/types"
)

func mustSchema(t testing.TB, doc string) *JSONSchema {
	t.Helper()
	s, err := FromJSON([]byte(doc))
	require.NoError(t, err)
	return s
}

func mustStrict(t testing.TB, doc string) *JSONSchema {
	t.Helper()
	s, err := Strictify(mustSchema(t, doc))
	require.NoError(t, err)
	return s
}

func TestStrictify_ClosesObjects(t *testing.T) {
	s := mustStrict(t, `{
		"title": "Person",
		"type": "object",
		"properties": {
			"zeta": {"type": "string"},
			"alpha": {"type": "integer", "default": null},
			"tags": {"type": "array", "items": {"type": "object", "properties": {"k": {"type": "string"}}}}
		}
	}`)

	require.NotNil(t, s.AdditionalProperties)
	assert.False(t, s.AdditionalProperties.Allowed)
	assert.Equal(t, []string{"zeta", "alpha", "tags"}, s.Required)
	assert.Nil(t, s.Properties["alpha"].Default)

	item := s.Properties["tags"].Items
	require.NotNil(t, item.AdditionalProperties)
	assert.False(t, item.AdditionalProperties.Allowed)
	assert.Equal(t, []string{"k"}, item.Required)

	data, err := s.ToJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"default"`)
}

func TestStrictify_KeepsExplicitAdditionalProperties(t *testing.T) {
	s := mustStrict(t, `{"type":"object","additionalProperties":{"type":"object","properties":{"v":{"type":"number"}}}}`)

	require.NotNil(t, s.AdditionalProperties.Schema)
	inner := s.AdditionalProperties.Schema
	assert.False(t, inner.AdditionalProperties.Allowed)
	assert.Equal(t, []string{"v"}, inner.Required)
	assert.Nil(t, s.Required)
}

func TestStrictify_KeepsUnmodeledKeywords(t *testing.T) {
	s := mustStrict(t, `{
		"title": "Pet",
		"type": "object",
		"x-go-name": "Pet",
		"properties": {
			"kind": {"const": null},
			"owner": {
				"type": "object",
				"nullable": true,
				"deprecated": true,
				"discriminator": {"propertyName": "kind"},
				"properties": {"id": {"type": "string"}}
			},
			"pair": {
				"type": "array",
				"items": [{"type": "string"}, {"type": "object", "properties": {"v": {"type": "integer"}}}],
				"additionalItems": false
			}
		}
	}`)

	data, err := s.ToJSON()
	require.NoError(t, err)
	doc := gjson.ParseBytes(data)
	assert.Equal(t, "Pet", doc.Get("x-go-name").String())
	assert.Equal(t, gjson.Null, doc.Get("properties.kind.const").Type)
	assert.True(t, doc.Get("properties.kind.const").Exists())
	assert.True(t, doc.Get("properties.owner.nullable").Bool())
	assert.True(t, doc.Get("properties.owner.deprecated").Bool())
	assert.Equal(t, "kind", doc.Get("properties.owner.discriminator.propertyName").String())
	assert.False(t, doc.Get("properties.owner.additionalProperties").Bool())
	assert.True(t, doc.Get("properties.pair.items").IsArray())
	assert.Equal(t, gjson.False, doc.Get("properties.pair.additionalItems").Type)

	// 元组中的对象同样被封闭
	tuple := s.Properties["pair"].ItemsList
	require.Len(t, tuple, 2)
	require.NotNil(t, tuple[1].AdditionalProperties)
	assert.False(t, tuple[1].AdditionalProperties.Allowed)
	assert.Equal(t, []string{"v"}, tuple[1].Required)

	v := NewValidator()
	ok := `{"kind":null,"owner":{"id":"o1"},"pair":["a",{"v":1}]}`
	assert.NoError(t, v.Validate([]byte(ok), s))
	assert.Error(t, v.Validate([]byte(`{"kind":"anything","owner":{"id":"o1"},"pair":["a",{"v":1}]}`), s))
	assert.Error(t, v.Validate([]byte(`{"kind":null,"owner":{"id":"o1"},"pair":["a",{"v":"x"}]}`), s))
	assert.Error(t, v.Validate([]byte(`{"kind":null,"owner":{"id":"o1"},"pair":["a",{"v":1},"extra"]}`), s))
}

func TestStrictify_DoesNotModifyInput(t *testing.T) {
	in := mustSchema(t, `{"type":"object","properties":{"a":{"type":"string","default":null}}}`)
	before, err := in.ToJSON()
	require.NoError(t, err)

	_, err = Strictify(in)
	require.NoError(t, err)

	after, err := in.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestStrictify_UnionsAndDefs(t *testing.T) {
	s := mustStrict(t, `{
		"type": "object",
		"properties": {
			"value": {"anyOf": [{"type": "object", "properties": {"a": {"type": "string"}}}, {"type": "null"}]},
			"choice": {"oneOf": [{"type": "object", "properties": {"b": {"type": "string"}}}]}
		},
		"$defs": {"D": {"type": "object", "properties": {"x": {"type": "string"}}}},
		"definitions": {"E": {"type": "object"}}
	}`)

	alt := s.Properties["value"].AnyOf[0]
	assert.False(t, alt.AdditionalProperties.Allowed)
	assert.Equal(t, []string{"a"}, alt.Required)
	assert.Equal(t, SchemaType("null"), s.Properties["value"].AnyOf[1].Type)

	assert.Equal(t, []string{"b"}, s.Properties["choice"].OneOf[0].Required)
	assert.Equal(t, []string{"x"}, s.Defs["D"].Required)
	assert.False(t, s.Definitions["E"].AdditionalProperties.Allowed)
}

func TestStrictify_TypeList(t *testing.T) {
	s := mustStrict(t, `{"type":["object","null"],"properties":{"a":{"type":"string"}}}`)
	assert.Equal(t, []SchemaType{TypeObject, "null"}, s.Types)
	assert.False(t, s.AdditionalProperties.Allowed)
	assert.Equal(t, []string{"a"}, s.Required)
}

func TestStrictify_SingleAllOfAtDepth(t *testing.T) {
	s := mustStrict(t, `{
		"type": "object",
		"properties": {
			"outer": {
				"type": "object",
				"properties": {
					"inner": {"description": "kept", "allOf": [{"type": "object", "properties": {"x": {"type": "string"}}}]},
					"ref": {"allOf": [{"$ref": "#/$defs/Leaf"}]}
				}
			}
		},
		"$defs": {"Leaf": {"type": "object", "properties": {"y": {"type": "integer"}}}}
	}`)

	inner := s.Properties["outer"].Properties["inner"]
	assert.Nil(t, inner.AllOf)
	assert.Equal(t, TypeObject, inner.Type)
	assert.Equal(t, "kept", inner.Description)
	assert.Equal(t, []string{"x"}, inner.Required)
	assert.False(t, inner.AdditionalProperties.Allowed)

	ref := s.Properties["outer"].Properties["ref"]
	assert.Nil(t, ref.AllOf)
	assert.Equal(t, "#/$defs/Leaf", ref.Ref)
}

func TestStrictify_SingleAllOfMemberWins(t *testing.T) {
	s := mustStrict(t, `{
		"type": "object",
		"properties": {
			"n": {
				"type": "object",
				"description": "parent",
				"properties": {"a": {"type": "string"}},
				"allOf": [{"type": "object", "description": "member", "properties": {}}]
			}
		}
	}`)

	n := s.Properties["n"]
	assert.Equal(t, "member", n.Description)
	assert.Empty(t, n.Properties)
	assert.Empty(t, n.Required)
}

func TestStrictify_MultiAllOfKept(t *testing.T) {
	s := mustStrict(t, `{"allOf":[{"type":"object","properties":{"a":{"type":"string"}}},{"type":"object"}]}`)
	require.Len(t, s.AllOf, 2)
	assert.Equal(t, []string{"a"}, s.AllOf[0].Required)
	assert.False(t, s.AllOf[1].AdditionalProperties.Allowed)
}

func TestStrictify_InlinesRefWithSiblings(t *testing.T) {
	s := mustStrict(t, `{
		"title": "Owner",
		"type": "object",
		"properties": {
			"pet": {"$ref": "#/$defs/Pet", "description": "the pet"},
			"other": {"$ref": "#/$defs/Pet"}
		},
		"$defs": {"Pet": {"type": "object", "description": "a pet", "properties": {"name": {"type": "string"}}}}
	}`)

	pet := s.Properties["pet"]
	assert.Empty(t, pet.Ref)
	assert.Equal(t, "the pet", pet.Description)
	assert.Equal(t, TypeObject, pet.Type)
	assert.Equal(t, []string{"name"}, pet.Required)
	assert.False(t, pet.AdditionalProperties.Allowed)

	// a bare reference stays a reference
	assert.Equal(t, "#/$defs/Pet", s.Properties["other"].Ref)
}

func TestStrictify_InlinesEscapedPointer(t *testing.T) {
	s := mustStrict(t, `{
		"type": "object",
		"properties": {"p": {"$ref": "#/$defs/a~1b.c", "title": "P"}},
		"$defs": {"a/b.c": {"type": "string"}}
	}`)
	p := s.Properties["p"]
	assert.Empty(t, p.Ref)
	assert.Equal(t, TypeString, p.Type)
	assert.Equal(t, "P", p.Title)
}

func TestStrictify_ResolutionErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"remote ref", `{"type":"object","properties":{"a":{"$ref":"other.json#/x","description":"d"}}}`},
		{"missing target", `{"type":"object","properties":{"a":{"$ref":"#/$defs/Nope","description":"d"}}}`},
		{"non-object target", `{"type":"object","required":["a"],"properties":{"a":{"$ref":"#/required","description":"d"}}}`},
		{"recursive", `{"$defs":{"Node":{"type":"object","properties":{"next":{"$ref":"#/$defs/Node","description":"n"}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Strictify(mustSchema(t, tt.doc))
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrSchemaResolution), "got %v", err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.NotEmpty(t, e.Path)
		})
	}
}

func TestStrictifyAny(t *testing.T) {
	doc := `{"title":"T","type":"object","properties":{"a":{"type":"string"}}}`

	type Reflected struct {
		Name string `json:"name"`
	}

	inputs := map[string]any{
		"pointer":     mustSchema(t, doc),
		"value":       *mustSchema(t, doc),
		"bytes":       []byte(doc),
		"raw":         json.RawMessage(doc),
		"string":      doc,
		"map":         map[string]any{"title": "T", "type": "object", "properties": map[string]any{"a": map[string]any{"type": "string"}}},
		"invopop":     &jsonschema.Schema{Title: "T", Type: "object"},
		"reflectType": reflect.TypeOf(Reflected{}),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			s, err := StrictifyAny(in)
			require.NoError(t, err)
			assert.NotEmpty(t, s.Title)
			assert.False(t, s.AdditionalProperties.Allowed)
		})
	}
}

func TestStrictifyAny_Unsupported(t *testing.T) {
	var nilSchema *JSONSchema
	var nilMap map[string]any
	for _, in := range []any{nil, 42, nilSchema, nilMap, "[1,2]", []byte("not json"), struct{}{}} {
		_, err := StrictifyAny(in)
		assert.True(t, types.IsErrorCode(err, types.ErrUnsupportedSchema), "input %#v: %v", in, err)
	}
}

// genSchema draws a random schema tree of bounded depth.
func genSchema(t *rapid.T, depth int) *JSONSchema {
	kinds := []string{"string", "integer"}
	if depth > 0 {
		kinds = append(kinds, "object", "array", "anyOf", "allOf")
	}
	var s *JSONSchema
	switch rapid.SampledFrom(kinds).Draw(t, "kind") {
	case "string":
		s = NewStringSchema()
	case "integer":
		s = NewIntegerSchema()
	case "object":
		s = NewObjectSchema()
		n := rapid.IntRange(0, 3).Draw(t, "props")
		for i := 0; i < n; i++ {
			name := rapid.SampledFrom([]string{"a", "b", "c", "d"}).Draw(t, "name")
			s.AddProperty(name, genSchema(t, depth-1))
		}
		if rapid.Bool().Draw(t, "open") {
			s.WithAdditionalProperties(true)
		}
	case "array":
		s = NewArraySchema(genSchema(t, depth-1))
	case "anyOf":
		s = NewAnyOfSchema(genSchema(t, depth-1), genSchema(t, depth-1))
	case "allOf":
		n := rapid.IntRange(1, 2).Draw(t, "members")
		members := make([]*JSONSchema, n)
		for i := range members {
			members[i] = genSchema(t, depth-1)
		}
		s = NewAllOfSchema(members...)
	}
	if rapid.Bool().Draw(t, "nullDefault") {
		s.Default = NullDefault
	}
	if rapid.Bool().Draw(t, "describe") {
		s.Description = "d"
	}
	return s
}

// checkClosed reports the first node violating the strict-form invariants.
func checkClosed(s *JSONSchema, path string) error {
	if s == nil {
		return nil
	}
	if s.IsObject() && s.AdditionalProperties == nil {
		return fmt.Errorf("%s: object without additionalProperties", path)
	}
	if s.Properties != nil && !reflect.DeepEqual(cloneOrEmpty(s.Required), s.OrderedPropertyNames()) {
		return fmt.Errorf("%s: required %v does not match properties %v", path, s.Required, s.OrderedPropertyNames())
	}
	if len(s.AllOf) == 1 {
		return fmt.Errorf("%s: single-member allOf left in place", path)
	}
	if isNullDefault(s.Default) {
		return fmt.Errorf("%s: null default left in place", path)
	}
	children := map[string]*JSONSchema{"items": s.Items}
	if s.AdditionalProperties != nil {
		children["additionalProperties"] = s.AdditionalProperties.Schema
	}
	for k, v := range s.Properties {
		children["properties/"+k] = v
	}
	for k, v := range s.Defs {
		children["$defs/"+k] = v
	}
	for i, v := range s.AnyOf {
		children[fmt.Sprintf("anyOf/%d", i)] = v
	}
	for i, v := range s.AllOf {
		children[fmt.Sprintf("allOf/%d", i)] = v
	}
	for k, v := range children {
		if err := checkClosed(v, path+"/"+k); err != nil {
			return err
		}
	}
	return nil
}

func cloneOrEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func TestProperty_StrictifyIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		in := genSchema(rt, 3)

		once, err := Strictify(in)
		require.NoError(rt, err)
		twice, err := Strictify(once)
		require.NoError(rt, err)

		a, err := once.ToJSON()
		require.NoError(rt, err)
		b, err := twice.ToJSON()
		require.NoError(rt, err)
		assert.Equal(rt, string(a), string(b))
	})
}

func TestProperty_StrictifyClosesEveryObject(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		out, err := Strictify(genSchema(rt, 4))
		require.NoError(rt, err)
		if err := checkClosed(out, "#"); err != nil {
			rt.Fatal(err)
		}
	})
}

func TestProperty_StrictifyRequiresAllProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("required equals declared properties in order", prop.ForAll(
		func(names []string) bool {
			s := NewObjectSchema()
			for _, n := range names {
				s.AddProperty(n, NewStringSchema())
			}
			out, err := Strictify(s)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(out.Required, out.OrderedPropertyNames()) &&
				out.AdditionalProperties != nil && !out.AdditionalProperties.Allowed
		},
		gen.SliceOfN(5, gen.Identifier()).SuchThat(func(v []string) bool { return len(v) > 0 }),
	))

	properties.TestingRun(t)
}
