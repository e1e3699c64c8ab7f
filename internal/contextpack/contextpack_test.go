package contextpack

import (
	"context"
	"strings"
	"testing"

	"github.com/agentcore/agentcore/internal/models"
)

func makeMessages(n int) []models.Message {
	msgs := make([]models.Message, n)
	for i := range msgs {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs[i] = models.Message{Role: role, Content: strings.Repeat("word ", 20)}
	}
	return msgs
}

func TestCompressKeepsHeadAndTailProtected(t *testing.T) {
	msgs := makeMessages(30)
	c := New(nil, "", nil)

	result := c.Compress(context.Background(), msgs, 10000, nil)

	if result.Stats.CompressedMessages == 0 {
		t.Fatal("expected some messages kept")
	}
	if result.Stats.DroppedMessages != 0 {
		t.Fatalf("expected no drops with a generous budget, dropped %d", result.Stats.DroppedMessages)
	}
}

func TestCompressRespectsTokenBudget(t *testing.T) {
	msgs := makeMessages(50)
	c := New(nil, "", nil)

	budget := 200
	result := c.Compress(context.Background(), msgs, budget, nil)

	if result.Stats.CompressedTokens > budget && result.Stats.CompressedMessages > protectFirstN+protectLastN {
		t.Fatalf("compressed tokens %d exceed budget %d beyond protected minimum", result.Stats.CompressedTokens, budget)
	}
}

func TestCompressIsDeterministic(t *testing.T) {
	msgs := makeMessages(20)
	c := New(nil, "", nil)

	r1 := c.Compress(context.Background(), msgs, 500, nil)
	r2 := c.Compress(context.Background(), msgs, 500, nil)

	if len(r1.Messages) != len(r2.Messages) {
		t.Fatalf("expected deterministic output, got %d vs %d messages", len(r1.Messages), len(r2.Messages))
	}
}

func TestImportanceOfThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  Importance
	}{
		{55, Critical},
		{40, High},
		{25, Medium},
		{15, Low},
		{5, Trivial},
	}
	for _, tc := range cases {
		if got := importanceOf(tc.score); got != tc.want {
			t.Errorf("importanceOf(%v) = %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestMemoryOverlapPenalizesScore(t *testing.T) {
	msg := models.Message{Role: models.RoleUser, Content: "the user prefers dark mode in settings"}
	memories := []models.Memory{{Content: "the user prefers dark mode in settings panel always"}}

	withoutMemory := score(10, 20, msg, nil)
	withMemory := score(10, 20, msg, memories)

	if withMemory >= withoutMemory {
		t.Fatalf("expected overlap penalty to reduce score: without=%f with=%f", withoutMemory, withMemory)
	}
}
