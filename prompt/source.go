package prompt

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/structflow/types"
)

// Source resolves a prompt template by key.
type Source interface {
	GetTemplate(ctx context.Context, key string) (string, error)
}

// Definition is one catalogue entry. Template is the local fallback;
// RegistryPrompt names the prompt in the remote registry.
type Definition struct {
	Template       string `yaml:"template" json:"template"`
	RegistryPrompt string `yaml:"registry_prompt,omitempty" json:"registry_prompt,omitempty"`
}

// Catalog maps prompt keys to definitions.
type Catalog map[string]Definition

// ParseCatalog decodes a YAML catalogue. An empty document yields an empty catalogue.
func ParseCatalog(data []byte) (Catalog, error) {
	cat := Catalog{}
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, types.NewError(types.ErrPromptInvalid, "failed to parse prompt catalogue").WithCause(err)
	}
	if cat == nil {
		cat = Catalog{}
	}
	return cat, nil
}

// Keys returns the catalogue keys in sorted order.
func (c Catalog) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy; Definition is a value type.
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// lookup returns the definition for key, or PROMPT_NOT_FOUND / PROMPT_INVALID.
func (c Catalog) lookup(key, origin string) (Definition, error) {
	def, ok := c[key]
	if !ok {
		return Definition{}, types.Errorf(types.ErrPromptNotFound, "prompt %q not defined in %s", key, origin)
	}
	if def.Template == "" {
		return Definition{}, types.Errorf(types.ErrPromptInvalid, "prompt %q does not define a template", key)
	}
	return def, nil
}

// StaticSource serves templates from a fixed map.
type StaticSource map[string]string

// GetTemplate implements Source.
func (s StaticSource) GetTemplate(_ context.Context, key string) (string, error) {
	t, ok := s[key]
	if !ok {
		return "", types.Errorf(types.ErrPromptNotFound, "prompt %q not defined", key)
	}
	return t, nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, key string) (string, error)

func (f SourceFunc) GetTemplate(ctx context.Context, key string) (string, error) {
	return f(ctx, key)
}

func describe(path string) string {
	if path == "" {
		return "embedded catalogue"
	}
	return fmt.Sprintf("%q", path)
}
