package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/BaSui01/structflow/types"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// DefaultCatalog returns the catalogue compiled into the binary.
func DefaultCatalog() Catalog {
	cat, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded prompt catalogue is invalid: %v", err))
	}
	return cat
}

// FileSource serves templates from a YAML catalogue on disk, or from the
// embedded catalogue when no path is given.
type FileSource struct {
	path string

	mu      sync.RWMutex
	catalog Catalog
}

// NewFileSource loads the catalogue at path. An empty path selects the
// embedded catalogue.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the catalogue. The previous catalogue stays in place on error.
func (s *FileSource) Reload() error {
	data := defaultCatalog
	if s.path != "" {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return types.Errorf(types.ErrPromptNotFound, "prompt file not found at %s", s.path).WithCause(err)
		}
		data = b
	}
	cat, err := ParseCatalog(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.catalog = cat
	s.mu.Unlock()
	return nil
}

// Path returns the catalogue path, empty for the embedded catalogue.
func (s *FileSource) Path() string { return s.path }

// Catalog returns a copy of the loaded catalogue.
func (s *FileSource) Catalog() Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Clone()
}

// Definition returns the entry for key.
func (s *FileSource) Definition(key string) (Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.lookup(key, describe(s.path))
}

// GetTemplate implements Source.
func (s *FileSource) GetTemplate(_ context.Context, key string) (string, error) {
	def, err := s.Definition(key)
	if err != nil {
		return "", err
	}
	return def.Template, nil
}
