package dialogue

import (
	"errors"
	"fmt"
)

// ErrMalformedTranscript is matched by [errors.Is] for any
// [MalformedTranscriptError].
var ErrMalformedTranscript = errors.New("malformed transcript")

// ErrExtraction is matched by [errors.Is] for any [ExtractionError].
var ErrExtraction = errors.New("entity extraction failed")

// MalformedTranscriptError reports a structural input violation: an unknown
// speaker label or an empty turn. It is fatal for the transcript it occurs
// in — no partial output is produced.
type MalformedTranscriptError struct {
	// TranscriptID identifies the offending transcript. May be empty when
	// the transcript carried no ID.
	TranscriptID string

	// Turn is the index of the offending turn, or -1 when the problem is
	// transcript-level (e.g., no turns at all).
	Turn int

	// Reason describes the violation.
	Reason string
}

func (e *MalformedTranscriptError) Error() string {
	if e.Turn < 0 {
		return fmt.Sprintf("transcript %q: %s", e.TranscriptID, e.Reason)
	}
	return fmt.Sprintf("transcript %q: turn %d: %s", e.TranscriptID, e.Turn, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedTranscript) succeed.
func (e *MalformedTranscriptError) Is(target error) bool {
	return target == ErrMalformedTranscript
}

// ExtractionError reports that the external entity recognizer failed or
// exceeded its deadline for one turn. It is recoverable: the orchestrator
// marks the turn degraded and continues with reduced capability.
type ExtractionError struct {
	// Turn is the index of the turn whose extraction failed.
	Turn int

	// Err is the underlying recognizer error.
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract entities for turn %d: %v", e.Turn, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrExtraction) succeed.
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}
