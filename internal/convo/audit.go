package convo

import (
	"strings"

	"github.com/hmorven/clarivox/internal/normalize"
	"github.com/hmorven/clarivox/pkg/dialogue"
)

// ReplayTurn reproduces a turn's cleaned text from its normalized text and
// its correction events. Events must be in Seq order (as stored in
// [dialogue.Turn.Corrections]).
//
// Each event's edits are expressed against the single-spaced text as it was
// immediately before the event and stored in descending start order, so they
// apply sequentially without offset fixups. Deletions leave whitespace runs
// behind; those are collapsed after each event, and the final text gets the
// same punctuation cleanup the resolver applies.
//
// The identity ReplayTurn(t.Normalized, t.Corrections) == t.Cleaned holds
// for every processed turn and is what makes the audit trail a complete
// record: nothing in the cleaned text is unaccounted for.
func ReplayTurn(normalized string, events []dialogue.CorrectionEvent) string {
	text := normalized
	for _, ev := range events {
		for _, ed := range ev.Edits {
			text = text[:ed.Start] + ed.Text + text[ed.End:]
		}
		text = strings.Join(strings.Fields(text), " ")
	}
	return normalize.CleanWhitespace(text)
}
