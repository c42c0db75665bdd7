// Package convo implements the conversation orchestrator: it sequences the
// normalizer, extractor, resolver, and safety engine per turn, threads the
// cross-turn entity history through the resolver, and assembles the final
// per-transcript result.
//
// State is exclusively owned: one [ConversationState] per transcript, created
// by [Orchestrator.Process] and discarded with it. Nothing is shared across
// transcripts, so independent transcripts can be processed in parallel
// without locks.
package convo

import (
	"github.com/hmorven/clarivox/pkg/dialogue"
)

// ConversationState is the cross-turn memory of one transcript: every entity
// committed so far, in global recency order, plus the conversation-wide ID
// and event-sequence allocators.
//
// Entities are committed transactionally per turn — the resolver sees either
// all of a prior turn's entities or none of them, never a partial turn. The
// history never regresses: superseding an entity marks it, it is never
// removed.
type ConversationState struct {
	// entities in commit order: turn ascending, then token offset ascending.
	// Recency scans walk backwards from the end.
	entities []dialogue.Entity

	// byID maps entity ID to its index in entities.
	byID map[int]int

	nextEntityID int
	nextEventSeq int
	nextRank     int
}

// NewConversationState returns an empty state with ID and sequence counters
// starting at 1.
func NewConversationState() *ConversationState {
	return &ConversationState{
		byID:         make(map[int]int),
		nextEntityID: 1,
		nextEventSeq: 1,
		nextRank:     1,
	}
}

// AllocEntityID returns the next conversation-unique entity ID.
func (cs *ConversationState) AllocEntityID() int {
	id := cs.nextEntityID
	cs.nextEntityID++
	return id
}

// AllocEventSeq returns the next conversation-unique correction-event
// sequence number.
func (cs *ConversationState) AllocEventSeq() int {
	seq := cs.nextEventSeq
	cs.nextEventSeq++
	return seq
}

// MostRecent returns the most recently committed entity of the given type.
// Superseded entities are skipped unless includeSuperseded is set.
func (cs *ConversationState) MostRecent(typ dialogue.EntityType, includeSuperseded bool) (dialogue.Entity, bool) {
	for i := len(cs.entities) - 1; i >= 0; i-- {
		e := cs.entities[i]
		if e.Type != typ {
			continue
		}
		if e.Superseded() && !includeSuperseded {
			continue
		}
		return e, true
	}
	return dialogue.Entity{}, false
}

// MostRecentAny is [ConversationState.MostRecent] without the type filter.
func (cs *ConversationState) MostRecentAny(includeSuperseded bool) (dialogue.Entity, bool) {
	for i := len(cs.entities) - 1; i >= 0; i-- {
		e := cs.entities[i]
		if e.Superseded() && !includeSuperseded {
			continue
		}
		return e, true
	}
	return dialogue.Entity{}, false
}

// Commit appends one turn's entities to the history as a single transaction
// and applies the turn's cross-turn supersessions. Entities must be ordered
// by token offset (the resolver guarantees this); Commit assigns each its
// global Rank and returns the ranked copies.
func (cs *ConversationState) Commit(entities []dialogue.Entity, supersededPrior map[int]int) []dialogue.Entity {
	for oldID, newID := range supersededPrior {
		if idx, ok := cs.byID[oldID]; ok {
			cs.entities[idx].SupersededBy = newID
		}
	}
	ranked := make([]dialogue.Entity, len(entities))
	for i, e := range entities {
		e.Rank = cs.nextRank
		cs.nextRank++
		cs.byID[e.ID] = len(cs.entities)
		cs.entities = append(cs.entities, e)
		ranked[i] = e
	}
	return ranked
}

// Entities returns a copy of the full committed history in commit order.
// Used by tests and the audit trail; callers must not rely on aliasing.
func (cs *ConversationState) Entities() []dialogue.Entity {
	out := make([]dialogue.Entity, len(cs.entities))
	copy(out, cs.entities)
	return out
}
