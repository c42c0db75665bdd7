package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/hmorven/clarivox/pkg/provider/llm"
	llmmock "github.com/hmorven/clarivox/pkg/provider/llm/mock"
)

func TestLLMFallback_PrimaryHealthy(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "primary"},
	}
	fallback := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "fallback"},
	}

	f := NewLLMFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("fallback", fallback)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "primary" {
		t.Errorf("Content = %q, want primary", resp.Content)
	}
	if len(fallback.CompleteCalls) != 0 {
		t.Errorf("fallback called %d times, want 0", len(fallback.CompleteCalls))
	}
}

func TestLLMFallback_FailsOverToSecondary(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	fallback := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "fallback"},
	}

	f := NewLLMFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("fallback", fallback)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "fallback" {
		t.Errorf("Content = %q, want fallback", resp.Content)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	fallback := &llmmock.Provider{CompleteErr: errors.New("also down")}

	f := NewLLMFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("fallback", fallback)

	_, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("error = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	fallback := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "fallback"},
	}

	f := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	f.AddFallback("fallback", fallback)

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "hi"}}}
	for range 3 {
		if _, err := f.Complete(context.Background(), req); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
	}

	// The primary's breaker opened after two failures; the third request
	// must not have reached it.
	if got := len(primary.CompleteCalls); got != 2 {
		t.Errorf("primary called %d times, want 2", got)
	}
	if got := len(fallback.CompleteCalls); got != 3 {
		t.Errorf("fallback called %d times, want 3", got)
	}
}
