package anyllm_test

import (
	"strings"
	"testing"

	"github.com/hmorven/clarivox/pkg/provider/llm/anyllm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := anyllm.New("", "gpt-4o-mini"); err == nil {
		t.Error("New with empty providerName: error = nil, want error")
	}
	if _, err := anyllm.New("openai", ""); err == nil {
		t.Error("New with empty model: error = nil, want error")
	}

	_, err := anyllm.New("bogus", "gpt-4o-mini")
	if err == nil || !strings.Contains(err.Error(), "unsupported provider") {
		t.Errorf("New with unknown provider: error = %v, want unsupported provider error", err)
	}
}
