// Package openaicompat implements llm.Provider over the OpenAI Chat
// Completions wire format, including the response_format constraint used
// for schema-enforced output.
//
// Vendors that speak the same format (DeepSeek, Qwen, Kimi, Grok, Doubao,
// GLM) are available as presets:
//
//	p, err := openaicompat.NewFromPreset("deepseek", openaicompat.Options{
//	    APIKey: cfg.APIKey,
//	    Model:  "deepseek-chat",
//	}, logger)
//
// Endpoints that only accept json_object get the json_schema constraint
// downgraded automatically.
package openaicompat
