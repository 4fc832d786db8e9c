// 配置加载器测试。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 2, cfg.Structured.MaxRetries)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "structflow.yaml")
	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  jwt_secret: s3cret

llm:
  provider: deepseek
  model: deepseek-chat
  temperature: 0.2
  max_retries: 4

structured:
  max_retries: 5
  repair: false

prompts:
  path: ./prompts.yaml
  remote: true

database:
  enabled: true
  driver: postgres
  name: audit

log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)

	assert.Equal(t, "deepseek", cfg.LLM.Provider)
	assert.Equal(t, "deepseek-chat", cfg.LLM.Model)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 4, cfg.LLM.MaxRetries)

	assert.Equal(t, 5, cfg.Structured.MaxRetries)
	assert.False(t, cfg.Structured.Repair)
	// 未出现的字段保留默认值
	assert.Equal(t, 128, cfg.Structured.ValidatorCacheSize)

	assert.Equal(t, "./prompts.yaml", cfg.Prompts.Path)
	assert.True(t, cfg.Prompts.Remote)
	assert.Equal(t, "structflow:prompt:", cfg.Prompts.RemotePrefix)

	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("STRUCTFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("STRUCTFLOW_LLM_API_KEY", "sk-env")
	t.Setenv("STRUCTFLOW_LLM_TEMPERATURE", "0.9")
	t.Setenv("STRUCTFLOW_LLM_TIMEOUT", "45s")
	t.Setenv("STRUCTFLOW_STRUCTURED_MAX_RETRIES", "0")
	t.Setenv("STRUCTFLOW_TELEMETRY_ENABLED", "true")
	t.Setenv("STRUCTFLOW_LOG_OUTPUT_PATHS", "stdout, /tmp/structflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.InDelta(t, 0.9, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 0, cfg.Structured.MaxRetries)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, []string{"stdout", "/tmp/structflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "structflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  model: yaml-model\n  provider: qwen\n"), 0o644))
	t.Setenv("STRUCTFLOW_LLM_MODEL", "env-model")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "qwen", cfg.LLM.Provider)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_Errors(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o644))
	_, err := NewLoader().WithConfigPath(bad).Load()
	assert.ErrorContains(t, err, "failed to load config from file")

	t.Setenv("STRUCTFLOW_SERVER_HTTP_PORT", "not-a-number")
	_, err = NewLoader().Load()
	assert.ErrorContains(t, err, "STRUCTFLOW_SERVER_HTTP_PORT")
}

func TestLoader_Validators(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewLoader().WithValidator(func(*Config) error { return boom }).Load()
	assert.ErrorIs(t, err, boom)

	cfg, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestMustLoad(t *testing.T) {
	assert.NotPanics(t, func() { MustLoad("") })

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log: [unclosed"), 0o644))
	assert.Panics(t, func() { MustLoad(bad) })
}

// --- Merge / Validate / DSN ---

func TestConfig_Merge(t *testing.T) {
	cfg := DefaultConfig()
	override := &Config{
		LLM:        LLMConfig{Model: "gpt-4o-mini", APIKey: "sk-flag"},
		Structured: StructuredConfig{MaxRetries: 4},
		Log:        LogConfig{Level: "debug"},
	}
	require.NoError(t, cfg.Merge(override))

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "sk-flag", cfg.LLM.APIKey)
	assert.Equal(t, 4, cfg.Structured.MaxRetries)
	assert.Equal(t, "debug", cfg.Log.Level)
	// 零值字段不覆盖
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Structured.Repair)

	assert.NoError(t, cfg.Merge(nil))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 70000 }, "invalid HTTP port"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "temperature"},
		{"negative retries", func(c *Config) { c.Structured.MaxRetries = -1 }, "structured.max_retries"},
		{"driver", func(c *Config) { c.Database.Enabled = true; c.Database.Driver = "oracle" }, "oracle"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	// 未启用审计时不检查驱动
	cfg := DefaultConfig()
	cfg.Database.Driver = "oracle"
	assert.NoError(t, cfg.Validate())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())

	d.Driver, d.Port = "mysql", 3306
	assert.Equal(t, "u:p@tcp(db:3306)/n?parseTime=true", d.DSN())

	d.Driver = "sqlite"
	assert.Equal(t, "n", d.DSN())

	d.Driver = "other"
	assert.Empty(t, d.DSN())
}
