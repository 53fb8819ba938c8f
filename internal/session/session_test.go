package session

import (
	"testing"

	"github.com/lucyd-ai/lucyd/internal/types"
)

func TestMergeConsecutiveUserMessages(t *testing.T) {
	sess := &Session{Messages: []types.Message{
		types.UserMessage("first"),
		types.UserMessage("second"),
		types.AssistantMessage("reply"),
		types.UserMessage("third"),
	}}

	if !sess.MergeConsecutiveUserMessages() {
		t.Fatal("expected a merge")
	}
	if len(sess.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(sess.Messages))
	}
	if got := sess.Messages[0].Content.Text(); got != "first\nsecond" {
		t.Errorf("merged text = %q", got)
	}

	// invariant: no two consecutive user messages remain
	for i := 1; i < len(sess.Messages); i++ {
		if sess.Messages[i-1].Role == types.RoleUser && sess.Messages[i].Role == types.RoleUser {
			t.Fatal("consecutive user messages remain after merge")
		}
	}

	if sess.MergeConsecutiveUserMessages() {
		t.Error("second merge pass should be a no-op")
	}
}

func TestMergeThreeInARow(t *testing.T) {
	sess := &Session{Messages: []types.Message{
		types.UserMessage("a"),
		types.UserMessage("b"),
		types.UserMessage("c"),
	}}
	sess.MergeConsecutiveUserMessages()
	if len(sess.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(sess.Messages))
	}
	if got := sess.Messages[0].Content.Text(); got != "a\nb\nc" {
		t.Errorf("merged text = %q", got)
	}
}

func TestRemoveOrphanedUserTail(t *testing.T) {
	sess := &Session{Messages: []types.Message{
		types.UserMessage("hello"),
		types.AssistantMessage("hi"),
		types.UserMessage("orphan"),
	}}
	if !sess.RemoveOrphanedUserTail() {
		t.Fatal("expected orphan removal")
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(sess.Messages))
	}
	if sess.RemoveOrphanedUserTail() {
		t.Error("tail is assistant, nothing to remove")
	}

	empty := &Session{}
	if empty.RemoveOrphanedUserTail() {
		t.Error("empty session has no orphan")
	}
}

func TestInjectWarning(t *testing.T) {
	text, injected := InjectWarning("hello", "")
	if injected || text != "hello" {
		t.Errorf("empty warning: %q, %v", text, injected)
	}

	text, injected = InjectWarning("hello", "context is filling up")
	if !injected {
		t.Fatal("expected injection")
	}
	if text != "[system: context is filling up]\n\nhello" {
		t.Errorf("injected text = %q", text)
	}
}

func TestNeedsCompaction(t *testing.T) {
	sess := &Session{LastInputTokens: 90_000}
	if !sess.NeedsCompaction(80_000) {
		t.Error("90k over 80k threshold should compact")
	}
	if sess.NeedsCompaction(100_000) {
		t.Error("90k under 100k threshold should not compact")
	}
	if sess.NeedsCompaction(0) {
		t.Error("zero threshold disables compaction")
	}
}

func TestTakeWarning(t *testing.T) {
	sess := &Session{PendingWarning: "approaching limit"}
	if got := sess.TakeWarning(); got != "approaching limit" {
		t.Errorf("TakeWarning = %q", got)
	}
	if got := sess.TakeWarning(); got != "" {
		t.Errorf("second TakeWarning = %q, want empty", got)
	}
}
