package app

import (
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hmorven/clarivox/internal/config"
	"github.com/hmorven/clarivox/internal/resilience"
	"github.com/hmorven/clarivox/pkg/provider/llm"
	"github.com/hmorven/clarivox/pkg/provider/llm/anyllm"
	"github.com/hmorven/clarivox/pkg/provider/llm/openai"
	"github.com/hmorven/clarivox/pkg/provider/ner"
	"github.com/hmorven/clarivox/pkg/provider/ner/llmner"
	nermock "github.com/hmorven/clarivox/pkg/provider/ner/mock"
	"github.com/hmorven/clarivox/pkg/provider/ner/rulebased"
)

// NewRegistry returns a provider registry with all built-in factories
// registered. main.go uses it to turn the config's provider names into
// running providers; tests can register additional factories on top.
//
// The rule-based recognizer shares the config's gazetteer term lists so
// that recognizer-only terms and gazetteer terms stay in sync.
func NewRegistry(cfg *config.Config) *config.Registry {
	reg := config.NewRegistry()

	reg.RegisterRecognizer("", func(rc config.RecognizerConfig) (ner.Recognizer, error) {
		return rulebased.New(gazetteerLabels(cfg)), nil
	})
	reg.RegisterRecognizer("rulebased", func(rc config.RecognizerConfig) (ner.Recognizer, error) {
		return rulebased.New(gazetteerLabels(cfg)), nil
	})
	reg.RegisterRecognizer("llm", func(rc config.RecognizerConfig) (ner.Recognizer, error) {
		primary, err := reg.CreateLLM(rc.LLM)
		if err != nil {
			return nil, fmt.Errorf("llm recognizer backend: %w", err)
		}

		backend := primary
		if len(rc.FallbackLLMs) > 0 {
			group := resilience.NewLLMFallback(primary, rc.LLM.Name, resilience.FallbackConfig{})
			for _, entry := range rc.FallbackLLMs {
				p, err := reg.CreateLLM(entry)
				if err != nil {
					return nil, fmt.Errorf("fallback llm %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, p)
			}
			backend = group
		}

		// The rule-based recognizer backstops the model: when every LLM
		// backend is down, extraction continues at reduced recall instead
		// of degrading the turn outright.
		rec := resilience.NewRecognizerFallback(llmner.New(backend), "llm", resilience.FallbackConfig{})
		rec.AddFallback("rulebased", rulebased.New(gazetteerLabels(cfg)))
		return rec, nil
	})
	reg.RegisterRecognizer("mock", func(rc config.RecognizerConfig) (ner.Recognizer, error) {
		return &nermock.Recognizer{}, nil
	})

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterLLM("anyllm", func(e config.ProviderEntry) (llm.Provider, error) {
		backend := "openai"
		if v, ok := e.Options["provider"].(string); ok && v != "" {
			backend = v
		}
		var opts []anyllmlib.Option
		if e.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
		}
		if e.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
		}
		return anyllm.New(backend, e.Model, opts...)
	})

	return reg
}

// gazetteerLabels converts the gazetteer term lists into the label-keyed
// form the rule-based recognizer expects.
func gazetteerLabels(cfg *config.Config) map[string][]string {
	terms := cfg.Lexicons.Gazetteer.Terms()
	labels := make(map[string][]string, len(terms))
	for typ, list := range terms {
		labels[string(typ)] = list
	}
	return labels
}
