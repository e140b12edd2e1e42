package chat

import (
	"encoding/json"
	"reflect"
	"testing"
)

func convWithResults(callIDs []string, resultIDs []string) Conversation {
	conv := NewConversation("c1")
	conv = conv.Append(UserTurn("do the thing"))

	var callParts []Part
	for _, id := range callIDs {
		callParts = append(callParts, ToolCallPart(id, "run", json.RawMessage(`{}`)))
	}
	if len(callParts) > 0 {
		conv = conv.Append(AssistantTurn(callParts...))
	}

	var resultParts []Part
	for _, id := range resultIDs {
		resultParts = append(resultParts, ToolResultPart(id, json.RawMessage(`"ok"`)))
	}
	if len(resultParts) > 0 {
		conv = conv.Append(Turn{Role: RoleUser, Parts: resultParts})
	}
	return conv
}

func TestRepairCleanConversationUnchanged(t *testing.T) {
	conv := convWithResults([]string{"t1", "t2"}, []string{"t1", "t2"})

	got := Repair(conv, DefaultRepairPolicy())
	if got.DiscardHistory {
		t.Fatal("clean conversation must not be discarded")
	}
	if len(got.OrphanIDs) != 0 {
		t.Fatalf("expected no orphans, got %v", got.OrphanIDs)
	}
	if !reflect.DeepEqual(got.Conversation, conv) {
		t.Fatal("clean conversation must be returned unchanged")
	}
}

func TestRepairIsolatedOrphanKeepsTurns(t *testing.T) {
	conv := convWithResults([]string{"t1", "t2"}, []string{"t1", "t2", "orphan-9"})

	got := Repair(conv, DefaultRepairPolicy())
	if got.DiscardHistory {
		t.Fatal("isolated orphan must not discard history")
	}
	if len(got.OrphanIDs) != 1 || got.OrphanIDs[0] != "orphan-9" {
		t.Fatalf("expected orphan-9, got %v", got.OrphanIDs)
	}
	if len(got.Conversation.Turns) != len(conv.Turns) {
		t.Fatal("turns must be left intact for translators to filter")
	}
}

func TestRepairThresholdTwoOfTwo(t *testing.T) {
	// 2 orphans out of 2 results: ratio 1.0 but below the orphan count floor.
	conv := convWithResults(nil, []string{"x1", "x2"})

	got := Repair(conv, DefaultRepairPolicy())
	if got.DiscardHistory {
		t.Fatal("two orphans must not trigger discard")
	}
}

func TestRepairThresholdThreeOfThree(t *testing.T) {
	// 3 orphans out of 3 results: ratio 1.0 at the count floor.
	conv := convWithResults(nil, []string{"x1", "x2", "x3"})

	got := Repair(conv, DefaultRepairPolicy())
	if !got.DiscardHistory {
		t.Fatal("three fully orphaned results must trigger discard")
	}
}

func TestRepairRatioBelowThreshold(t *testing.T) {
	// 3 orphans out of 10 results: count floor met but ratio 0.3 < 0.8.
	calls := []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"}
	results := append([]string{"x1", "x2", "x3"}, calls...)
	conv := convWithResults(calls, results)

	got := Repair(conv, DefaultRepairPolicy())
	if got.DiscardHistory {
		t.Fatal("low orphan ratio must not trigger discard")
	}
	if len(got.OrphanIDs) != 3 {
		t.Fatalf("expected 3 orphans, got %d", len(got.OrphanIDs))
	}
}

func TestRepairIdempotent(t *testing.T) {
	conv := convWithResults([]string{"t1"}, []string{"t1", "stray"})

	first := Repair(conv, DefaultRepairPolicy())
	second := Repair(first.Conversation, DefaultRepairPolicy())
	if !reflect.DeepEqual(first.Conversation, second.Conversation) {
		t.Fatal("repairing a repaired conversation must produce no further change")
	}
	if first.DiscardHistory != second.DiscardHistory {
		t.Fatal("repair outcome must be stable across passes")
	}
}

func TestRepairNeverMutatesInput(t *testing.T) {
	conv := convWithResults(nil, []string{"x1", "x2", "x3"})
	before := conv.Clone()

	Repair(conv, DefaultRepairPolicy())
	if !reflect.DeepEqual(conv, before) {
		t.Fatal("repair must not mutate the input conversation")
	}
}

func TestLatestUserRequestSkipsInternalTurns(t *testing.T) {
	conv := NewConversation("c1")
	conv = conv.Append(UserTurn("real question"))
	conv = conv.Append(AssistantTurn(TextPart("answer")))
	analysis := UserTurn("summarize the above for context compression")
	analysis.Internal = true
	conv = conv.Append(analysis)

	latest, ok := conv.LatestUserRequest()
	if !ok {
		t.Fatal("expected a user request")
	}
	if latest.Text() != "real question" {
		t.Fatalf("expected the genuine request, got %q", latest.Text())
	}
}

func TestReduceToLatestRequestKeepsSystemInstruction(t *testing.T) {
	conv := NewConversation("c1")
	conv = conv.Append(SystemTurn("be terse"))
	conv = conv.Append(UserTurn("first question"))
	conv = conv.Append(AssistantTurn(TextPart("answer")))
	conv = conv.Append(UserTurn("second question"))

	reduced, ok := conv.ReduceToLatestRequest()
	if !ok {
		t.Fatal("expected a reduced conversation")
	}
	if len(reduced.Turns) != 2 {
		t.Fatalf("got %d turns, want system plus latest request", len(reduced.Turns))
	}
	if reduced.Turns[0].Role != RoleSystem || reduced.Turns[0].Text() != "be terse" {
		t.Fatalf("system instruction lost: %+v", reduced.Turns[0])
	}
	if reduced.Turns[1].Role != RoleUser || reduced.Turns[1].Text() != "second question" {
		t.Fatalf("latest request = %+v", reduced.Turns[1])
	}
}

func TestReduceToLatestRequestWithoutSystemTurn(t *testing.T) {
	conv := NewConversation("c1")
	conv = conv.Append(UserTurn("only question"))

	reduced, ok := conv.ReduceToLatestRequest()
	if !ok || len(reduced.Turns) != 1 {
		t.Fatalf("reduced = %+v ok = %v", reduced, ok)
	}

	empty := NewConversation("c2")
	if _, ok := empty.ReduceToLatestRequest(); ok {
		t.Fatal("a conversation with no user request cannot be reduced")
	}
}

func TestAssistantTurnFillerSentinel(t *testing.T) {
	turn := AssistantTurn()
	if len(turn.Parts) != 1 {
		t.Fatalf("expected one filler part, got %d", len(turn.Parts))
	}
	if turn.Parts[0].Kind != PartText || turn.Parts[0].Text != "" {
		t.Fatal("filler part must be an empty text part")
	}
}
