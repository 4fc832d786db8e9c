package observability

import (
	"math"
	"testing"
)

func TestCostCalculator_Calculate(t *testing.T) {
	calc := NewCostCalculator()

	tests := []struct {
		name         string
		provider     string
		model        string
		tokensInput  int
		tokensOutput int
		wantMin      float64
		wantMax      float64
	}{
		{
			name:         "gpt-4o",
			provider:     "openai",
			model:        "gpt-4o",
			tokensInput:  1000,
			tokensOutput: 500,
			wantMin:      0.01,
			wantMax:      0.02,
		},
		{
			name:         "gpt-3.5-turbo",
			provider:     "openai",
			model:        "gpt-3.5-turbo",
			tokensInput:  1000,
			tokensOutput: 500,
			wantMin:      0.0001,
			wantMax:      0.002,
		},
		{
			name:         "unknown model",
			provider:     "unknown",
			model:        "unknown",
			tokensInput:  1000,
			tokensOutput: 500,
			wantMin:      0,
			wantMax:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost := calc.Calculate(tt.provider, tt.model, tt.tokensInput, tt.tokensOutput)
			if cost < tt.wantMin || cost > tt.wantMax {
				t.Errorf("Calculate() = %v, want between %v and %v", cost, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestCostCalculator_SetPrice(t *testing.T) {
	calc := NewCostCalculator()

	// 设置自定义价格
	calc.SetPrice("custom", "custom-model", 0.01, 0.02)

	cost := calc.Calculate("custom", "custom-model", 1000, 1000)
	expected := 0.01 + 0.02 // 1K input + 1K output
	if cost != expected {
		t.Errorf("Calculate() = %v, want %v", cost, expected)
	}
}

func TestCostCalculator_UpdatePrices(t *testing.T) {
	calc := NewCostCalculator()
	calc.UpdatePrices([]ModelPrice{
		{Provider: "kimi", Model: "moonshot-v1-8k", PriceInput: 0.002, PriceOutput: 0.002},
		{Provider: "openai", Model: "gpt-4o", PriceInput: 0.0025, PriceOutput: 0.01},
	})

	if got := calc.Calculate("kimi", "moonshot-v1-8k", 2000, 0); got != 0.004 {
		t.Errorf("Calculate(kimi) = %v, want 0.004", got)
	}
	if got := calc.Calculate("openai", "gpt-4o", 1000, 1000); math.Abs(got-0.0125) > 1e-12 {
		t.Errorf("Calculate(gpt-4o) = %v, want 0.0125", got)
	}
	if p := calc.GetPrice("deepseek", "deepseek-chat"); p == nil {
		t.Error("UpdatePrices should keep untouched defaults")
	}
}
