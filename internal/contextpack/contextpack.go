// Package contextpack implements the Context Compressor (C8): scores
// messages, protects head/tail regions, greedily selects within a token
// budget, and optionally asks the LLM Gateway for a middle-section
// summary. Grounded on the teacher's internal/agent/context packer and
// pruning passes, generalized with the spec's explicit additive scoring
// model (the teacher's packer is recency-only and has no scoring layer).
package contextpack

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/models"
	"github.com/agentcore/agentcore/internal/tokencount"
)

const (
	protectFirstN        = 4
	protectLastN         = 6
	summaryTrigger       = 0.7
	summaryMinCandidates = 3
	summaryMaxTokens     = 500
)

// Importance is the compressor's promoted tier for a message.
type Importance int

const (
	Trivial Importance = iota
	Low
	Medium
	High
	Critical
)

// Stats reports what Compress did, for diagnostics/telemetry.
type Stats struct {
	OriginalMessages    int
	CompressedMessages  int
	OriginalTokens      int
	CompressedTokens    int
	DroppedMessages     int
	SummarizedMessages  int
	CompressionRatio    float64
	CompressionDegraded bool
}

// Result is the output of Compress.
type Result struct {
	Messages []models.Message
	Summary  string
	Stats    Stats
}

// Compressor is the Context Compressor component.
type Compressor struct {
	gateway *llm.Gateway
	model   string
	log     *slog.Logger
}

// New constructs a Compressor. gateway may be nil, in which case summary
// generation is always skipped.
func New(gateway *llm.Gateway, summaryModel string, log *slog.Logger) *Compressor {
	if log == nil {
		log = slog.Default()
	}
	return &Compressor{gateway: gateway, model: summaryModel, log: log.With("component", "contextpack")}
}

type scored struct {
	index      int
	msg        models.Message
	score      float64
	importance Importance
	tokens     int
}

// score computes the additive per-message score described in the design.
func score(idx, total int, msg models.Message, memories []models.Memory) float64 {
	var s float64

	if idx < protectFirstN {
		s += 30
	}
	if idx >= total-protectLastN {
		s += 25
	}

	switch msg.Role {
	case models.RoleUser:
		s += 10
	case models.RoleAssistant:
		s += 8
	}
	if len(msg.ToolCalls) > 0 {
		s += 20
	}
	if len(msg.ToolResults) > 0 {
		s += 15
	}

	lower := strings.ToLower(msg.Content)
	if containsAny(lower, "decision", "must-remember", "conclusion") {
		s += 15
	} else if containsAny(lower, "plan", "reason", "because", "prefer") {
		s += 8
	}

	if strings.Contains(msg.Content, "```") {
		s += 12
	}
	if startsMarkdownList(msg.Content) {
		s += 8
	}
	if strings.Contains(msg.Content, "?") {
		s += 5
	}

	n := len(msg.Content)
	if n < 20 {
		s -= 10
	} else if n > 500 {
		s += 5
	}

	if len(memories) > 0 {
		overlap := maxJaccardOverlap(msg.Content, memories)
		if overlap > 0.5 {
			s -= 15 * overlap
		}
	}

	return s
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func startsMarkdownList(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "1. ")
}

func maxJaccardOverlap(content string, memories []models.Memory) float64 {
	words := wordSet(content)
	if len(words) == 0 {
		return 0
	}
	var best float64
	for _, m := range memories {
		mw := wordSet(m.Content)
		if len(mw) == 0 {
			continue
		}
		j := jaccard(words, mw)
		if j > best {
			best = j
		}
	}
	return best
}

func wordSet(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		out[w] = true
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func importanceOf(s float64) Importance {
	switch {
	case s >= 50:
		return Critical
	case s >= 35:
		return High
	case s >= 20:
		return Medium
	case s >= 10:
		return Low
	default:
		return Trivial
	}
}

// Compress scores, protects, and greedily selects messages to fit within
// budgetTokens, optionally summarizing the dropped middle section.
func (c *Compressor) Compress(ctx context.Context, messages []models.Message, budgetTokens int, recalledMemories []models.Memory) Result {
	total := len(messages)
	originalTokens := tokencount.CountMessages(messages)

	items := make([]scored, total)
	for i, m := range messages {
		sc := score(i, total, m, recalledMemories)
		imp := importanceOf(sc)
		if i < protectFirstN {
			imp = Critical
		}
		if i >= total-protectLastN && imp < High {
			imp = High
		}
		items[i] = scored{index: i, msg: m, score: sc, importance: imp, tokens: tokencount.CountMessage(m)}
	}

	must := 0
	for _, it := range items {
		if it.importance == Critical || it.importance == High {
			must += it.tokens
		}
	}
	if must > budgetTokens {
		for i := range items {
			if items[i].importance == High {
				items[i].importance = Medium
			}
		}
	}

	var kept []scored
	var optional []scored
	usedTokens := 0
	for _, it := range items {
		if it.importance == Critical || it.importance == High {
			kept = append(kept, it)
			usedTokens += it.tokens
		} else {
			optional = append(optional, it)
		}
	}

	sort.SliceStable(optional, func(i, j int) bool { return optional[i].score > optional[j].score })
	var dropped []scored
	for _, it := range optional {
		if usedTokens+it.tokens <= budgetTokens {
			kept = append(kept, it)
			usedTokens += it.tokens
		} else {
			dropped = append(dropped, it)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].index < kept[j].index })

	result := Result{
		Stats: Stats{
			OriginalMessages: total,
			DroppedMessages:  len(dropped),
		},
	}

	summary, summarized, degraded := c.maybeSummarize(ctx, dropped, originalTokens, budgetTokens)
	result.Stats.SummarizedMessages = summarized
	result.Stats.CompressionDegraded = degraded
	if summary != "" {
		result.Summary = summary
		summaryMsg := models.Message{Role: models.RoleSystem, Content: summary, Summary: true}
		result.Messages = append([]models.Message{summaryMsg}, messagesOf(kept)...)
	} else {
		result.Messages = messagesOf(kept)
	}

	result.Stats.CompressedMessages = len(result.Messages)
	result.Stats.CompressedTokens = tokencount.CountMessages(result.Messages)
	result.Stats.OriginalTokens = originalTokens
	if total > 0 {
		result.Stats.CompressionRatio = 1 - float64(result.Stats.CompressedMessages)/float64(total)
	}
	return result
}

func messagesOf(items []scored) []models.Message {
	out := make([]models.Message, len(items))
	for i, it := range items {
		out[i] = it.msg
	}
	return out
}

// maybeSummarize asks the Gateway to summarize the dropped, low-importance
// middle section when total usage exceeds summaryTrigger*budget and there
// are enough eligible candidates. Any LLM failure degrades gracefully
// (returns no summary, sets the degraded flag) rather than failing Compress.
func (c *Compressor) maybeSummarize(ctx context.Context, dropped []scored, originalTokens, budget int) (summary string, count int, degraded bool) {
	if c.gateway == nil || budget <= 0 {
		return "", 0, false
	}
	if float64(originalTokens) <= summaryTrigger*float64(budget) {
		return "", 0, false
	}

	var eligible []scored
	for _, it := range dropped {
		if it.importance <= Medium {
			eligible = append(eligible, it)
		}
	}
	if len(eligible) < summaryMinCandidates {
		return "", 0, false
	}

	var b strings.Builder
	for _, it := range eligible {
		b.WriteString(string(it.msg.Role))
		b.WriteString(": ")
		b.WriteString(it.msg.Content)
		b.WriteString("\n")
	}

	resp, err := c.gateway.Chat(ctx, &llm.Request{
		Model:       c.model,
		System:      "Summarize the following conversation excerpt in 200 characters or fewer, preserving decisions and facts.",
		Messages:    []models.Message{{Role: models.RoleUser, Content: b.String()}},
		MaxTokens:   summaryMaxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		c.log.Warn("summary generation failed, proceeding without summary", "error", err)
		return "", 0, true
	}
	return resp.Content, len(eligible), false
}
