// Package dialogue defines the shared types used across all Clarivox packages.
//
// These types form the lingua franca between the normalizer, extractor,
// resolver, safety engine, and the conversation orchestrator. They are
// intentionally minimal — each package defines its own working types, but
// cross-cutting data structures live here to avoid circular imports.
package dialogue

// Speaker identifies who produced a transcript turn. Exactly two labels are
// valid; anything else is a structural input error.
type Speaker string

const (
	SpeakerClinician Speaker = "clinician"
	SpeakerPatient   Speaker = "patient"
)

// IsValid reports whether s is a recognised speaker label.
func (s Speaker) IsValid() bool {
	return s == SpeakerClinician || s == SpeakerPatient
}

// EntityType classifies a clinically relevant span.
type EntityType string

const (
	EntityMedication EntityType = "MEDICATION"
	EntitySymptom    EntityType = "SYMPTOM"
	EntityBodyPart   EntityType = "BODY_PART"
	EntityCondition  EntityType = "CONDITION"

	// EntityOther is used for recognizer output whose label does not map to
	// any of the clinical types above. Such spans still participate in
	// correction resolution but are never consulted by the safety engine.
	EntityOther EntityType = "OTHER"
)

// Provenance records what happened to a token during processing. Cleaned
// text is always derivable by replaying tokens with their provenance flags;
// nothing is ever dropped outright, only marked.
type Provenance string

const (
	// TokenKept means the token survives into the cleaned text unchanged.
	TokenKept Provenance = "kept"

	// TokenRemoved means the token was a disfluency, noise marker, or
	// correction marker and is excluded from the cleaned text.
	TokenRemoved Provenance = "removed"

	// TokenSuperseded means the token belonged to the target of a
	// self-correction and was replaced by substituted tokens.
	TokenSuperseded Provenance = "superseded"

	// TokenSubstituted means the token was introduced as replacement content
	// by a self-correction.
	TokenSubstituted Provenance = "substituted"
)

// Token is a single word or punctuation unit of a turn.
type Token struct {
	// Text is the surface form as it appeared in the normalized turn text.
	Text string `json:"text"`

	// Norm is the lowercased, punctuation-trimmed form used for lexicon
	// lookups. May equal Text.
	Norm string `json:"norm"`

	// Index is the token's position within the turn, starting at 0.
	Index int `json:"index"`

	// Provenance records the token's fate. Defaults to [TokenKept].
	Provenance Provenance `json:"provenance"`
}

// EntitySource records which mechanism produced an entity.
type EntitySource string

const (
	// SourceGazetteer marks spans matched by the domain gazetteer
	// (exact or phonetic).
	SourceGazetteer EntitySource = "gazetteer"

	// SourceRecognizer marks spans produced by the external recognizer.
	SourceRecognizer EntitySource = "recognizer"

	// SourceCorrection marks entities introduced as the replacement side of
	// a resolved self-correction.
	SourceCorrection EntitySource = "correction"
)

// Entity is a typed span within a turn. Entities are immutable once created:
// a correction produces a new Entity superseding an old one, never a
// mutation in place.
type Entity struct {
	// ID uniquely identifies the entity within one conversation.
	ID int `json:"id"`

	// Type classifies the span.
	Type EntityType `json:"type"`

	// Surface is the span text as it appears in the turn.
	Surface string `json:"surface"`

	// StartToken and EndToken delimit the span's token range within the
	// turn (EndToken exclusive).
	StartToken int `json:"start_token"`
	EndToken   int `json:"end_token"`

	// Turn is the sequence index of the turn the entity was extracted from.
	Turn int `json:"turn"`

	// Rank is the global extraction order across the conversation. Recency
	// is strictly ordered by turn, then token offset, then Rank.
	Rank int `json:"rank"`

	// Source records which mechanism produced the entity.
	Source EntitySource `json:"source"`

	// SupersededBy is the ID of the entity that replaced this one via a
	// self-correction, or 0 when the entity is still current.
	SupersededBy int `json:"superseded_by,omitempty"`
}

// Superseded reports whether the entity has been replaced by a correction.
func (e Entity) Superseded() bool { return e.SupersededBy != 0 }

// ResolutionStrategy names the policy step that resolved a self-correction.
type ResolutionStrategy string

const (
	// StrategySameTypeRecency means the correction target was the most
	// recent entity of the hinted type.
	StrategySameTypeRecency ResolutionStrategy = "same-type-recency"

	// StrategyPrecedingToken means no type-matching entity existed and the
	// nearest preceding content token was replaced instead.
	StrategyPrecedingToken ResolutionStrategy = "preceding-token-fallback"

	// StrategyUnresolved means no target could be determined. The original
	// text is left intact and the event serves as a reviewable warning.
	StrategyUnresolved ResolutionStrategy = "unresolved"
)

// CorrectionEvent is the append-only audit record of a single
// self-correction. Every resolution, regardless of strategy, preserves both
// the original and the replacement surface text.
type CorrectionEvent struct {
	// Seq is the global sequence number of the event within the
	// conversation, starting at 1.
	Seq int `json:"seq"`

	// Turn is the sequence index of the turn the marker appeared in.
	Turn int `json:"turn"`

	// Marker is the correction-marker phrase that triggered the event.
	Marker string `json:"marker"`

	// Strategy is the resolution policy step that produced the event.
	Strategy ResolutionStrategy `json:"strategy"`

	// Original is the surface text that was superseded. Empty only for
	// unresolved events.
	Original string `json:"original,omitempty"`

	// Replacement is the text that substitutes Original. Empty only for
	// unresolved events.
	Replacement string `json:"replacement,omitempty"`

	// TargetEntity is the ID of the superseded entity, when the strategy
	// was [StrategySameTypeRecency].
	TargetEntity int `json:"target_entity,omitempty"`

	// NewEntity is the ID of the entity introduced by the replacement,
	// when one was created.
	NewEntity int `json:"new_entity,omitempty"`

	// Edits are the text rewrites this event performed, expressed against
	// the single-spaced turn text as it was immediately before the event.
	// They are stored in descending Start order so they can be applied
	// sequentially without offset fixups. Replaying events in Seq order
	// over the normalized turn text — collapsing whitespace runs to single
	// spaces after each event — reproduces the cleaned text. Empty for
	// unresolved events.
	Edits []TextEdit `json:"edits,omitempty"`
}

// TextEdit is a single contiguous rewrite: the byte range [Start, End) is
// replaced by Text.
type TextEdit struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// PhoneticFix records a gazetteer alignment: a misheard surface form
// rewritten to its canonical gazetteer term before extraction
// ("propanol" → "propranolol"). Kept separate from [CorrectionEvent]
// because the speaker did not self-correct — the transcriber misheard.
type PhoneticFix struct {
	// Original is the surface form as transcribed.
	Original string `json:"original"`

	// Canonical is the gazetteer term it was aligned to.
	Canonical string `json:"canonical"`

	// Confidence is the string-similarity score of the alignment (0.0–1.0).
	Confidence float64 `json:"confidence"`
}

// SafetyFlag marks a patient turn that combined a question with a clinical
// risk signal.
type SafetyFlag struct {
	// Rule is the name of the rule that fired.
	Rule string `json:"rule"`

	// QuestionPattern is the question phrase that matched.
	QuestionPattern string `json:"question_pattern"`

	// RiskPattern is the risk phrase or verb that matched.
	RiskPattern string `json:"risk_pattern"`

	// Turn is the sequence index of the flagged turn.
	Turn int `json:"turn"`
}

// Turn is one processed utterance of a conversation.
type Turn struct {
	// Speaker labels who produced the turn.
	Speaker Speaker `json:"speaker"`

	// Index is the turn's position in the transcript, starting at 0.
	Index int `json:"index"`

	// Raw is the turn text exactly as received.
	Raw string `json:"raw"`

	// Normalized is the turn text after disfluency and noise-marker
	// removal and phonetic gazetteer alignment, before correction
	// resolution. Replaying Corrections over it reproduces Cleaned.
	Normalized string `json:"normalized"`

	// Cleaned is the final turn text with all corrections applied.
	Cleaned string `json:"cleaned"`

	// Tokens is the provenance-annotated token stream of the normalized
	// text plus any substituted replacement tokens.
	Tokens []Token `json:"tokens"`

	// Entities lists every entity extracted from or introduced into the
	// turn, including superseded ones.
	Entities []Entity `json:"entities"`

	// Corrections lists the correction events resolved within the turn.
	Corrections []CorrectionEvent `json:"corrections"`

	// Flag is set when the safety engine fired for this turn. Only patient
	// turns ever carry a flag.
	Flag *SafetyFlag `json:"flag,omitempty"`

	// Degraded is true when entity extraction failed for the turn and
	// processing continued with reduced capability.
	Degraded bool `json:"degraded,omitempty"`

	// RemovedFillers lists the disfluencies stripped by the normalizer.
	RemovedFillers []string `json:"removed_fillers,omitempty"`

	// PhoneticFixes lists gazetteer alignments applied to the turn before
	// extraction.
	PhoneticFixes []PhoneticFix `json:"phonetic_fixes,omitempty"`

	// NoiseRemoved is true when bracketed noise markers were stripped.
	NoiseRemoved bool `json:"noise_removed,omitempty"`
}

// TurnInput is a single raw utterance of an incoming transcript.
type TurnInput struct {
	Speaker Speaker `json:"speaker" yaml:"speaker"`
	Text    string  `json:"text" yaml:"text"`
}

// Transcript is the raw input to the pipeline: an ordered sequence of
// speaker-labeled utterances.
type Transcript struct {
	// ID identifies the transcript in logs, metrics, and stored results.
	ID string `json:"id" yaml:"id"`

	// Turns is the ordered utterance list.
	Turns []TurnInput `json:"turns" yaml:"turns"`
}

// Result is the complete per-transcript output. Every field of the data
// model is represented losslessly; the original raw text of each turn is
// always reconstructable.
type Result struct {
	// TranscriptID echoes the input transcript's ID.
	TranscriptID string `json:"transcript_id"`

	// Turns is the ordered list of processed turns.
	Turns []Turn `json:"turns"`

	// Events is the conversation-level audit log: every correction event
	// across all turns, in Seq order.
	Events []CorrectionEvent `json:"events"`

	// Flags summarises every safety flag raised during the conversation.
	Flags []SafetyFlag `json:"flags"`
}
