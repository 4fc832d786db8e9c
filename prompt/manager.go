package prompt

import (
	"context"

	"go.uber.org/zap"
)

// Manager resolves prompts from the local catalogue, preferring the remote
// registry for entries that name a registry prompt. Remote failures fall back
// to the local template.
type Manager struct {
	local        *FileSource
	remote       Registry
	preferRemote bool
	logger       *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRegistry sets the remote registry.
func WithRegistry(r Registry) ManagerOption {
	return func(m *Manager) { m.remote = r }
}

// WithPreferRemote toggles remote-first lookup. Enabled by default.
func WithPreferRemote(prefer bool) ManagerOption {
	return func(m *Manager) { m.preferRemote = prefer }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager over the local catalogue.
func NewManager(local *FileSource, opts ...ManagerOption) *Manager {
	m := &Manager{local: local, preferRemote: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "prompt_manager"))
	return m
}

// GetTemplate implements Source. The key must exist locally even when the
// remote registry serves the template.
func (m *Manager) GetTemplate(ctx context.Context, key string) (string, error) {
	def, err := m.local.Definition(key)
	if err != nil {
		m.logger.Error("prompt lookup failed", zap.String("key", key), zap.Error(err))
		return "", err
	}

	if !m.preferRemote || m.remote == nil || def.RegistryPrompt == "" {
		return def.Template, nil
	}

	m.logger.Debug("fetching registry prompt",
		zap.String("key", key),
		zap.String("registry_prompt", def.RegistryPrompt),
	)
	tpl, err := m.remote.Fetch(ctx, def.RegistryPrompt)
	if err != nil {
		m.logger.Warn("failed to fetch registry prompt, falling back to local template",
			zap.String("registry_prompt", def.RegistryPrompt),
			zap.Error(err),
		)
		return def.Template, nil
	}
	return tpl, nil
}

// List exposes the loaded catalogue for diagnostics.
func (m *Manager) List() Catalog {
	cat := m.local.Catalog()
	m.logger.Debug("loaded prompt definitions", zap.Int("count", len(cat)))
	return cat
}
