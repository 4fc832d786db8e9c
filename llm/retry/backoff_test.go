package retry

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/structflow/llm"
	"github.com/BaSui01/structflow/testutil/mocks"
)

var errTransient = &llm.Error{Code: llm.ErrUpstreamError, Message: "bad gateway", HTTPStatus: http.StatusBadGateway, Retryable: true}

func fastRetryer(policy Policy) (*Retryer, *[]time.Duration) {
	r := NewRetryer(policy, zap.NewNop())
	var delays []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return r, &delays
}

func TestRetryer_SucceedsFirstTime(t *testing.T) {
	r, delays := fastRetryer(Policy{MaxRetries: 3})

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestRetryer_RetriesTransientErrors(t *testing.T) {
	r, delays := fastRetryer(Policy{MaxRetries: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2})

	calls := 0
	v, err := Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *delays)
}

func TestRetryer_Exhausted(t *testing.T) {
	r, _ := fastRetryer(Policy{MaxRetries: 2})

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryer_NonRetryableReturnsImmediately(t *testing.T) {
	r, _ := fastRetryer(Policy{MaxRetries: 5})

	tests := []struct {
		name string
		err  error
	}{
		{"unauthorized", &llm.Error{Code: llm.ErrUnauthorized, HTTPStatus: 401}},
		{"plain error", errors.New("boom")},
		{"canceled", context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := r.Do(context.Background(), func(context.Context) error {
				calls++
				return tt.err
			})
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetryer_CustomClassifier(t *testing.T) {
	sentinel := errors.New("flaky")
	r, _ := fastRetryer(Policy{MaxRetries: 1, ShouldRetry: func(err error) bool { return errors.Is(err, sentinel) }})

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryer_ContextCanceled(t *testing.T) {
	r := NewRetryer(Policy{MaxRetries: 5, InitialDelay: time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry canceled")
	assert.Equal(t, 1, calls)
}

func TestRetryer_DelayBounds(t *testing.T) {
	r := NewRetryer(Policy{MaxRetries: 10, InitialDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond, Multiplier: 2, Jitter: true}, nil)
	for attempt := 1; attempt <= 10; attempt++ {
		d := r.delay(attempt)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
}

func TestPolicy_Normalized(t *testing.T) {
	p := Policy{MaxRetries: -1, Multiplier: 0.5}.normalized()
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.NotNil(t, p.ShouldRetry)
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	var seen atomic.Int32
	r, _ := fastRetryer(Policy{MaxRetries: 2, OnRetry: func(int, error, time.Duration) { seen.Add(1) }})
	_ = r.Do(context.Background(), func(context.Context) error { return errTransient })
	assert.Equal(t, int32(2), seen.Load())
}

func TestWrapProvider(t *testing.T) {
	inner := mocks.NewMockProvider()
	assert.Same(t, llm.Provider(inner), WrapProvider(inner, Policy{MaxRetries: 0}, nil))

	p := WrapProvider(inner, Policy{MaxRetries: 2, InitialDelay: time.Millisecond}, nil)
	assert.Equal(t, inner.Name(), p.Name())

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Mock response", resp.Choices[0].Message.Content)

	failing := mocks.NewErrorProvider(errTransient)
	_, err = WrapProvider(failing, Policy{MaxRetries: 2, InitialDelay: time.Millisecond}, nil).
		Completion(context.Background(), &llm.ChatRequest{})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, failing.GetCallCount())
}
