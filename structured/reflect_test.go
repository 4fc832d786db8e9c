package structured

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/structflow/types"
)

type testAddress struct {
	Street string `json:"street"`
	City   string `json:"city"`
}

type testPerson struct {
	Name    string       `json:"name" jsonschema:"description=full name"`
	Age     int          `json:"age,omitempty"`
	Home    testAddress  `json:"home"`
	Work    *testAddress `json:"work,omitempty"`
	Tags    []string     `json:"tags"`
	private string
}

func TestSchemaFor_Struct(t *testing.T) {
	s, err := SchemaFor[testPerson]()
	require.NoError(t, err)

	assert.Equal(t, "testPerson", s.Title)
	assert.Empty(t, s.Schema)
	assert.Empty(t, s.ID)
	assert.Equal(t, TypeObject, s.Type)
	assert.Equal(t, []string{"name", "age", "home", "work", "tags"}, s.OrderedPropertyNames())
	assert.Equal(t, "full name", s.Properties["name"].Description)
	assert.NotEmpty(t, s.Properties["home"].Ref)
	assert.Contains(t, s.Defs, "testAddress")
}

type testProfile struct {
	Name     string       `json:"name"`
	Nickname *string      `json:"nickname,omitempty" jsonschema:"description=what friends call them"`
	Home     *testAddress `json:"home"`
	Score    int          `json:"score,omitempty"`
}

func TestReflectSchema_OptionalFieldsNullable(t *testing.T) {
	s, err := SchemaFor[testProfile]()
	require.NoError(t, err)

	nick := s.Properties["nickname"]
	require.Len(t, nick.AnyOf, 2)
	assert.Equal(t, TypeString, nick.AnyOf[0].Type)
	assert.Equal(t, TypeNull, nick.AnyOf[1].Type)
	assert.Equal(t, "what friends call them", nick.Description)
	assert.Empty(t, nick.AnyOf[0].Description)

	require.Len(t, s.Properties["home"].AnyOf, 2)
	assert.NotEmpty(t, s.Properties["home"].AnyOf[0].Ref)
	require.Len(t, s.Properties["score"].AnyOf, 2)
	assert.Equal(t, TypeString, s.Properties["name"].Type)
	assert.Empty(t, s.Properties["name"].AnyOf)

	strict, err := Strictify(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "nickname", "home", "score"}, strict.Required)

	v := NewValidator()
	assert.NoError(t, v.Validate([]byte(`{"name":"a","nickname":null,"home":null,"score":null}`), strict))
	assert.NoError(t, v.Validate([]byte(`{"name":"a","nickname":"b","home":{"street":"s","city":"c"},"score":3}`), strict))
	assert.Error(t, v.Validate([]byte(`{"name":"a","home":null,"score":null}`), strict))
	assert.Error(t, v.Validate([]byte(`{"name":null,"nickname":null,"home":null,"score":null}`), strict))
}

func TestReflectSchema_Pointer(t *testing.T) {
	s, err := ReflectSchema(reflect.TypeOf(&testPerson{}))
	require.NoError(t, err)
	assert.Equal(t, "testPerson", s.Title)
}

func TestReflectSchema_NonStruct(t *testing.T) {
	_, err := ReflectSchema(reflect.TypeOf(42))
	assert.True(t, types.IsErrorCode(err, types.ErrUnsupportedSchema))
}

func TestSchemaCache_StrictForType(t *testing.T) {
	c := NewSchemaCache()

	s, err := StrictFor[testPerson](c)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age", "home", "work", "tags"}, s.Required)
	assert.False(t, s.AdditionalProperties.Allowed)
	assert.Equal(t, []string{"street", "city"}, s.Defs["testAddress"].Required)
	assert.Equal(t, 1, c.Len())

	// callers own their copy
	s.Title = "changed"
	again, err := StrictFor[testPerson](c)
	require.NoError(t, err)
	assert.Equal(t, "testPerson", again.Title)

	_, err = StrictFor[testAddress](c)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestSchemaCache_Concurrent(t *testing.T) {
	c := NewSchemaCache()
	var wg sync.WaitGroup
	results := make([]*JSONSchema, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := StrictFor[testPerson](c)
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, c.Len())
	want, err := results[0].ToJSON()
	require.NoError(t, err)
	for _, s := range results[1:] {
		got, err := s.ToJSON()
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
	}
}

func TestSchemaCache_Error(t *testing.T) {
	c := NewSchemaCache()
	_, err := c.Strict(reflect.TypeOf(""))
	assert.True(t, types.IsErrorCode(err, types.ErrUnsupportedSchema))
	assert.Zero(t, c.Len())
}
