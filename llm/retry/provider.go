package retry

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/structflow/llm"
)

// Provider wraps an llm.Provider and retries transient Completion failures.
// HealthCheck is passed through untouched.
type Provider struct {
	inner   llm.Provider
	retryer *Retryer
}

var _ llm.Provider = (*Provider)(nil)

// WrapProvider returns inner unchanged when the policy allows no retries.
func WrapProvider(inner llm.Provider, policy Policy, logger *zap.Logger) llm.Provider {
	if policy.MaxRetries <= 0 {
		return inner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		inner:   inner,
		retryer: NewRetryer(policy, logger.With(zap.String("provider", inner.Name()))),
	}
}

func (p *Provider) Name() string { return p.inner.Name() }

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return Do(ctx, p.retryer, func(ctx context.Context) (*llm.ChatResponse, error) {
		return p.inner.Completion(ctx, req)
	})
}
