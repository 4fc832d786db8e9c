package llm

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/BaSui01/structflow/types"
)

// MessageTemplate is one message of a chat prompt; Template is a text/template
// body rendered against the invocation input.
type MessageTemplate struct {
	Role     Role   `json:"role" yaml:"role"`
	Template string `json:"template" yaml:"template"`
}

// ChainConfig configures a Chain.
type ChainConfig struct {
	Name        string
	Model       string
	Temperature float32
	MaxTokens   int
	Prompt      []MessageTemplate
}

// Chain binds a prompt to a provider and owns a response-format slot.
// The slot is guarded so concurrent readers never observe a torn value, but
// callers that need exclusive use of the slot for a whole invocation should
// work on a Fork.
type Chain struct {
	provider Provider
	cfg      ChainConfig

	mu             sync.RWMutex
	responseFormat *ResponseFormat
}

// NewChain creates a chain over provider.
func NewChain(provider Provider, cfg ChainConfig) *Chain {
	if cfg.Name == "" {
		cfg.Name = "chain"
	}
	return &Chain{provider: provider, cfg: cfg}
}

func (c *Chain) Name() string { return c.cfg.Name }

func (c *Chain) ResponseFormat() *ResponseFormat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.responseFormat
}

func (c *Chain) SetResponseFormat(f *ResponseFormat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseFormat = f
}

// Fork returns an independent chain sharing the provider and prompt but with
// its own copy of the response-format slot.
func (c *Chain) Fork() *Chain {
	cfg := c.cfg
	cfg.Prompt = append([]MessageTemplate(nil), c.cfg.Prompt...)
	return &Chain{
		provider:       c.provider,
		cfg:            cfg,
		responseFormat: c.ResponseFormat().Clone(),
	}
}

// Render executes every message template against input.
func (c *Chain) Render(input map[string]any) ([]Message, error) {
	msgs := make([]Message, 0, len(c.cfg.Prompt))
	for i, mt := range c.cfg.Prompt {
		text, err := RenderTemplate(fmt.Sprintf("%s[%d]", c.cfg.Name, i), mt.Template, input)
		if err != nil {
			return nil, err
		}
		role := mt.Role
		if role == "" {
			role = RoleUser
		}
		msgs = append(msgs, Message{Role: role, Content: text})
	}
	return msgs, nil
}

// Call sends msgs with the current response format and returns the text of
// the first choice. A response without choices yields "".
func (c *Chain) Call(ctx context.Context, msgs []Message) (string, error) {
	req := &ChatRequest{
		Model:          c.cfg.Model,
		Messages:       msgs,
		MaxTokens:      c.cfg.MaxTokens,
		Temperature:    c.cfg.Temperature,
		ResponseFormat: c.ResponseFormat().Clone(),
	}
	if traceID, ok := types.TraceID(ctx); ok {
		req.TraceID = traceID
	}
	resp, err := c.provider.Completion(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// RenderTemplate renders a text/template body with the sprig function map.
func RenderTemplate(name, body string, data map[string]any) (string, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}
