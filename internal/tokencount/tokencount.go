// Package tokencount provides a fast, provider-agnostic token estimator
// used to budget prompts (internal/contextpack) without depending on any
// one provider's tokenizer.
package tokencount

import (
	"strings"
	"unicode"

	"github.com/agentcore/agentcore/internal/models"
)

// CharsPerToken is the heuristic ratio used across the core: counts need
// only be additive across concatenation to within ±5% and stable across
// runs, not exact relative to any specific provider's BPE tokenizer.
const CharsPerToken = 4

// Count estimates the token count of text. It is pure and safe for
// concurrent use from any goroutine.
func Count(text string) int {
	if text == "" {
		return 0
	}
	// Blend a char/4 estimate with a whitespace-word count so that both
	// very long unbroken tokens (URLs, base64) and normal prose land close
	// to what a real BPE tokenizer would produce.
	chars := len([]rune(text))
	words := countWords(text)
	charEstimate := ceilDiv(chars, CharsPerToken)
	if words == 0 {
		return charEstimate
	}
	wordEstimate := int(float64(words) * 1.3)
	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}

func countWords(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// CountMessage estimates the tokens a Message will contribute to a prompt,
// including its tool calls and tool results, for C8's prompt budget.
func CountMessage(msg models.Message) int {
	total := Count(msg.Content) + Count(msg.ReasoningContent)
	for _, tc := range msg.ToolCalls {
		total += Count(tc.Name) + estimateArgs(tc.Arguments)
	}
	for _, tr := range msg.ToolResults {
		total += Count(tr.Content) + Count(tr.Error)
	}
	return total
}

// CountMessages sums CountMessage across a slice, plus a constant overhead
// per message for role/metadata framing.
func CountMessages(msgs []models.Message) int {
	const perMessageOverhead = 4
	total := 0
	for _, m := range msgs {
		total += CountMessage(m) + perMessageOverhead
	}
	return total
}

func estimateArgs(args map[string]any) int {
	if len(args) == 0 {
		return 0
	}
	var b strings.Builder
	for k, v := range args {
		b.WriteString(k)
		switch t := v.(type) {
		case string:
			b.WriteString(t)
		default:
			b.WriteString("x")
		}
	}
	return Count(b.String())
}
