// Package safety implements the rule engine that flags high-risk patient
// questions: asking about changing a medication, or asking about a
// dangerous symptom. The engine is pure and stateless per turn, carries no
// cross-turn memory, and is deliberately high-precision/low-recall: a
// symptom mention without an explicit question never flags.
package safety

import (
	"strings"

	"github.com/hmorven/clarivox/pkg/dialogue"
)

// Rule names carried on emitted flags.
const (
	RuleMedicationChange = "medication-change"
	RuleDangerousSymptom = "dangerous-symptom"
)

// DefaultQuestionPatterns are the modal/pronoun forms that mark a turn as
// a question. A trailing "?" counts independently of this list.
var DefaultQuestionPatterns = []string{
	"should i", "can i", "is it safe", "is it dangerous", "what do i",
}

// DefaultMedChangeVerbs are the medication-change verbs that, together
// with a MEDICATION entity, form the medication-change risk signal.
var DefaultMedChangeVerbs = []string{
	"stop", "double", "increase", "skip", "quit",
}

// DefaultDangerPhrases are dangerous-symptom phrases that form a risk
// signal on their own, independent of entity extraction.
var DefaultDangerPhrases = []string{
	"chest pain", "can't breathe", "severe",
}

// Config overrides the built-in pattern lists. Empty lists fall back to
// the defaults.
type Config struct {
	QuestionPatterns []string
	MedChangeVerbs   []string
	DangerPhrases    []string
}

// Engine evaluates patient turns against the risk-composition rules. It
// is read-only after construction and safe for concurrent use.
type Engine struct {
	questions []string
	verbs     []string
	dangers   []string
}

// New returns an Engine for the given configuration.
func New(cfg Config) *Engine {
	e := &Engine{
		questions: lower(cfg.QuestionPatterns, DefaultQuestionPatterns),
		verbs:     lower(cfg.MedChangeVerbs, DefaultMedChangeVerbs),
		dangers:   lower(cfg.DangerPhrases, DefaultDangerPhrases),
	}
	return e
}

func lower(vs, fallback []string) []string {
	if len(vs) == 0 {
		vs = fallback
	}
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = strings.ToLower(v)
	}
	return out
}

// Check evaluates one cleaned patient turn. It returns a flag when the
// turn is a question AND carries a risk signal: a medication-change verb
// co-occurring with a MEDICATION entity, or a dangerous-symptom phrase.
// The symptom branch needs no entities, so it still works on degraded
// turns. At most one flag is emitted per turn.
func (e *Engine) Check(turnIndex int, text string, entities []dialogue.Entity) *dialogue.SafetyFlag {
	lowered := strings.ToLower(text)

	question := e.questionPattern(lowered)
	if question == "" {
		return nil
	}

	if verb := containsAny(lowered, e.verbs); verb != "" && hasMedication(entities) {
		return &dialogue.SafetyFlag{
			Rule:            RuleMedicationChange,
			QuestionPattern: question,
			RiskPattern:     verb,
			Turn:            turnIndex,
		}
	}
	if danger := containsAny(lowered, e.dangers); danger != "" {
		return &dialogue.SafetyFlag{
			Rule:            RuleDangerousSymptom,
			QuestionPattern: question,
			RiskPattern:     danger,
			Turn:            turnIndex,
		}
	}
	return nil
}

func (e *Engine) questionPattern(lowered string) string {
	if p := containsAny(lowered, e.questions); p != "" {
		return p
	}
	if strings.HasSuffix(strings.TrimSpace(lowered), "?") {
		return "?"
	}
	return ""
}

func containsAny(text string, patterns []string) string {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return p
		}
	}
	return ""
}

func hasMedication(entities []dialogue.Entity) bool {
	for _, e := range entities {
		if e.Type == dialogue.EntityMedication {
			return true
		}
	}
	return false
}
