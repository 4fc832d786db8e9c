package openaicompat

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Preset is the endpoint layout of a known OpenAI-compatible vendor.
type Preset struct {
	BaseURL        string
	EndpointPath   string
	FallbackModel  string
	JSONObjectOnly bool
}

var presets = map[string]Preset{
	"openai":   {BaseURL: "https://api.openai.com", FallbackModel: "gpt-4o-mini"},
	"deepseek": {BaseURL: "https://api.deepseek.com", EndpointPath: "/chat/completions", FallbackModel: "deepseek-chat", JSONObjectOnly: true},
	"qwen":     {BaseURL: "https://dashscope.aliyuncs.com", EndpointPath: "/compatible-mode/v1/chat/completions", FallbackModel: "qwen-plus"},
	"kimi":     {BaseURL: "https://api.moonshot.cn", FallbackModel: "moonshot-v1-8k", JSONObjectOnly: true},
	"grok":     {BaseURL: "https://api.x.ai", FallbackModel: "grok-beta"},
	"doubao":   {BaseURL: "https://ark.cn-beijing.volces.com", EndpointPath: "/api/v3/chat/completions", FallbackModel: "Doubao-1.5-pro-32k", JSONObjectOnly: true},
	"glm":      {BaseURL: "https://open.bigmodel.cn", EndpointPath: "/api/paas/v4/chat/completions", FallbackModel: "glm-4-plus", JSONObjectOnly: true},
}

// Presets lists the known vendor names.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options are the per-deployment settings layered over a preset.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewFromPreset builds a provider for a known vendor. An explicit BaseURL
// overrides the preset's; an unknown name with a BaseURL is treated as a
// generic OpenAI-compatible endpoint.
func NewFromPreset(name string, opts Options, logger *zap.Logger) (*Provider, error) {
	p, ok := presets[name]
	if !ok && opts.BaseURL == "" {
		return nil, fmt.Errorf("unknown provider %q and no base url given", name)
	}
	cfg := Config{
		ProviderName:   name,
		APIKey:         opts.APIKey,
		BaseURL:        p.BaseURL,
		DefaultModel:   opts.Model,
		FallbackModel:  p.FallbackModel,
		Timeout:        opts.Timeout,
		EndpointPath:   p.EndpointPath,
		JSONObjectOnly: p.JSONObjectOnly,
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return New(cfg, logger), nil
}
