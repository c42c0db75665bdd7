package convo_test

import (
	"testing"

	"github.com/hmorven/clarivox/internal/convo"
	"github.com/hmorven/clarivox/pkg/dialogue"
)

func TestConversationState_MostRecentByType(t *testing.T) {
	t.Parallel()
	cs := convo.NewConversationState()

	cs.Commit([]dialogue.Entity{
		{ID: 1, Type: dialogue.EntityMedication, Surface: "aspirin", Turn: 0},
		{ID: 2, Type: dialogue.EntitySymptom, Surface: "headache", Turn: 0},
	}, nil)
	cs.Commit([]dialogue.Entity{
		{ID: 3, Type: dialogue.EntityMedication, Surface: "ibuprofen", Turn: 1},
	}, nil)

	med, ok := cs.MostRecent(dialogue.EntityMedication, false)
	if !ok {
		t.Fatal("MostRecent(MEDICATION) not found")
	}
	if med.Surface != "ibuprofen" {
		t.Errorf("MostRecent(MEDICATION) = %q, want %q", med.Surface, "ibuprofen")
	}

	sym, ok := cs.MostRecent(dialogue.EntitySymptom, false)
	if !ok || sym.Surface != "headache" {
		t.Errorf("MostRecent(SYMPTOM) = %q, %v, want headache", sym.Surface, ok)
	}

	if _, ok := cs.MostRecent(dialogue.EntityCondition, false); ok {
		t.Error("MostRecent(CONDITION) found an entity in empty type history")
	}

	any, ok := cs.MostRecentAny(false)
	if !ok || any.ID != 3 {
		t.Errorf("MostRecentAny() = ID %d, %v, want ID 3", any.ID, ok)
	}
}

func TestConversationState_SupersededExcludedFromRecency(t *testing.T) {
	t.Parallel()
	cs := convo.NewConversationState()

	cs.Commit([]dialogue.Entity{
		{ID: 1, Type: dialogue.EntityMedication, Surface: "aspirin", Turn: 0},
	}, nil)
	// The next turn supersedes aspirin with a minted replacement.
	cs.Commit([]dialogue.Entity{
		{ID: 2, Type: dialogue.EntityMedication, Surface: "ibuprofen", Turn: 1, Source: dialogue.SourceCorrection},
	}, map[int]int{1: 2})

	med, ok := cs.MostRecent(dialogue.EntityMedication, false)
	if !ok || med.ID != 2 {
		t.Fatalf("MostRecent(MEDICATION) = ID %d, %v, want ID 2", med.ID, ok)
	}

	// The superseded entity stays in the history and is searchable only on
	// request.
	all := cs.Entities()
	if len(all) != 2 {
		t.Fatalf("len(Entities()) = %d, want 2", len(all))
	}
	if all[0].SupersededBy != 2 {
		t.Errorf("aspirin SupersededBy = %d, want 2", all[0].SupersededBy)
	}

	// With includeSuperseded the older entity is visible again behind the
	// current one.
	cs.Commit([]dialogue.Entity{
		{ID: 3, Type: dialogue.EntitySymptom, Surface: "nausea", Turn: 2},
	}, map[int]int{2: 3})
	med, ok = cs.MostRecent(dialogue.EntityMedication, true)
	if !ok || med.ID != 2 {
		t.Errorf("MostRecent(MEDICATION, superseded) = ID %d, %v, want ID 2", med.ID, ok)
	}
	if _, ok := cs.MostRecent(dialogue.EntityMedication, false); ok {
		t.Error("MostRecent(MEDICATION) found an entity although all are superseded")
	}
}

func TestConversationState_CommitAssignsGlobalRanks(t *testing.T) {
	t.Parallel()
	cs := convo.NewConversationState()

	first := cs.Commit([]dialogue.Entity{
		{ID: 1, Type: dialogue.EntityMedication, Surface: "aspirin", Turn: 0},
		{ID: 2, Type: dialogue.EntityBodyPart, Surface: "knee", Turn: 0},
	}, nil)
	second := cs.Commit([]dialogue.Entity{
		{ID: 3, Type: dialogue.EntitySymptom, Surface: "dizzy", Turn: 1},
	}, nil)

	wantRanks := []int{1, 2}
	for i, e := range first {
		if e.Rank != wantRanks[i] {
			t.Errorf("first[%d].Rank = %d, want %d", i, e.Rank, wantRanks[i])
		}
	}
	if second[0].Rank != 3 {
		t.Errorf("second[0].Rank = %d, want 3", second[0].Rank)
	}
}

func TestConversationState_Allocators(t *testing.T) {
	t.Parallel()
	cs := convo.NewConversationState()

	if got := cs.AllocEntityID(); got != 1 {
		t.Errorf("first AllocEntityID() = %d, want 1", got)
	}
	if got := cs.AllocEntityID(); got != 2 {
		t.Errorf("second AllocEntityID() = %d, want 2", got)
	}
	if got := cs.AllocEventSeq(); got != 1 {
		t.Errorf("first AllocEventSeq() = %d, want 1", got)
	}
	if got := cs.AllocEventSeq(); got != 2 {
		t.Errorf("second AllocEventSeq() = %d, want 2", got)
	}
}
