// Package simplemem implements the SimpleMem Ingestor (C7): a sliding
// window novelty filter over conversation messages, LLM-driven atom
// extraction, a per-session BM25 index, and adaptive-k retrieval fusing
// semantic (C6) and lexical (BM25) hits via Reciprocal Rank Fusion.
package simplemem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/ltm"
	"github.com/agentcore/agentcore/internal/models"
)

const (
	windowSize            = 10
	strideSize            = 5
	defaultNoveltyThresh  = 0.35
	minContentChars       = 20
	consolidationInterval = 50
	rrfK                  = 60
)

// Config tunes the ingestor's thresholds and models.
type Config struct {
	NoveltyThreshold float64
	ExtractionModel  string
}

func (c Config) noveltyThreshold() float64 {
	if c.NoveltyThreshold > 0 {
		return c.NoveltyThreshold
	}
	return defaultNoveltyThresh
}

// Ingestor is the SimpleMem component (C7).
type Ingestor struct {
	gateway *llm.Gateway
	memory  *ltm.Store
	cfg     Config
	log     *slog.Logger

	mu      sync.Mutex
	indexes map[string]*bm25Index // session_id -> index
	counts  map[string]int        // session_id -> atoms since last consolidation
}

// New constructs the ingestor.
func New(gateway *llm.Gateway, memory *ltm.Store, cfg Config, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		gateway: gateway,
		memory:  memory,
		cfg:     cfg,
		log:     log.With("component", "simplemem"),
		indexes: make(map[string]*bm25Index),
		counts:  make(map[string]int),
	}
}

func (ing *Ingestor) indexFor(sessionID string) *bm25Index {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	idx, ok := ing.indexes[sessionID]
	if !ok {
		idx = newBM25Index()
		ing.indexes[sessionID] = idx
	}
	return idx
}

// ProcessAndStore slides a window across messages, filters by novelty,
// extracts an atom per surviving window via the LLM gateway, and persists
// each atom through the Long-Term Memory store and the session's BM25
// index. Extraction failures drop that window's atom rather than retry.
func (ing *Ingestor) ProcessAndStore(ctx context.Context, sessionID string, messages []models.Message) ([]models.MemoryAtom, error) {
	var atoms []models.MemoryAtom
	for start := 0; start < len(messages); start += strideSize {
		end := start + windowSize
		if end > len(messages) {
			end = len(messages)
		}
		window := messages[start:end]
		if len(window) == 0 {
			break
		}

		content := joinContent(window)
		if len(content) < minContentChars {
			if end == len(messages) {
				break
			}
			continue
		}

		novelty := noveltyScore(window, content)
		if novelty < ing.cfg.noveltyThreshold() {
			if end == len(messages) {
				break
			}
			continue
		}

		atom, ok := ing.extractAtom(ctx, sessionID, content)
		if ok {
			atoms = append(atoms, atom)
			ing.persistAtom(ctx, sessionID, atom)
		}

		if end == len(messages) {
			break
		}
	}
	return atoms, nil
}

func joinContent(window []models.Message) string {
	var b strings.Builder
	for _, m := range window {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// noveltyScore implements 0.4*unique_word_ratio + 0.6*min(1, unique_entity_count/10).
func noveltyScore(window []models.Message, content string) float64 {
	words := tokenize(content)
	if len(words) == 0 {
		return 0
	}
	uniqueWords := uniqueTerms(words)
	uniqueWordRatio := float64(len(uniqueWords)) / float64(len(words))

	entities := extractEntities(content)
	entityComponent := float64(len(entities)) / 10.0
	if entityComponent > 1 {
		entityComponent = 1
	}

	return 0.4*uniqueWordRatio + 0.6*entityComponent
}

var entityPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]{2,}\b`)

func extractEntities(content string) []string {
	matches := entityPattern.FindAllString(content, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

type extractionResult struct {
	Summary    string   `json:"summary"`
	Entities   []string `json:"entities"`
	Importance float64  `json:"importance"`
}

// extractAtom calls the LLM gateway with a compact extraction prompt and
// parses the resulting JSON object. The atom id is content-hash based so
// re-running on the same window is idempotent.
func (ing *Ingestor) extractAtom(ctx context.Context, sessionID, content string) (models.MemoryAtom, bool) {
	model := ing.cfg.ExtractionModel
	if model == "" {
		model = "default"
	}
	resp, err := ing.gateway.Chat(ctx, &llm.Request{
		Model: model,
		System: "Extract a single JSON object {\"summary\": string, \"entities\": [string], \"importance\": number 1-10} " +
			"summarizing the key fact(s) in the following conversation window. Output only the JSON object.",
		Messages: []models.Message{{Role: models.RoleUser, Content: content}},
	})
	if err != nil {
		ing.log.Warn("atom extraction call failed", "session_id", sessionID, "error", err)
		return models.MemoryAtom{}, false
	}

	var parsed extractionResult
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &parsed); err != nil {
		ing.log.Warn("atom extraction parse failed, dropping window", "session_id", sessionID, "error", err)
		return models.MemoryAtom{}, false
	}
	if parsed.Summary == "" {
		return models.MemoryAtom{}, false
	}

	return models.MemoryAtom{
		ID:            contentHashID(content),
		Content:       parsed.Summary,
		Entities:      parsed.Entities,
		Timestamp:     time.Now(),
		SourceSession: sessionID,
		Importance:    parsed.Importance,
	}, true
}

// extractJSONObject trims surrounding prose/fencing a model might add
// despite being asked to output only JSON.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return text[start : end+1]
}

func contentHashID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:16])
}

func (ing *Ingestor) persistAtom(ctx context.Context, sessionID string, atom models.MemoryAtom) {
	_, err := ing.memory.Put(ctx, sessionID, "simplemem_atom", atom.Content, atom.Importance, map[string]any{
		"atom_id":   atom.ID,
		"entities":  atom.Entities,
		"user_id":   sessionID,
		"timestamp": atom.Timestamp,
	})
	if err != nil {
		ing.log.Warn("failed to persist atom", "session_id", sessionID, "error", err)
		return
	}

	ing.indexFor(sessionID).Add(atom.ID, atom.Content)

	ing.mu.Lock()
	ing.counts[sessionID]++
	if ing.counts[sessionID] >= consolidationInterval {
		ing.counts[sessionID] = 0
		// Hook point for future atom merging/consolidation; currently a
		// no-op beyond resetting the counter.
	}
	ing.mu.Unlock()
}

var whWords = []string{"why", "how", "what", "when", "where", "who", "which"}
var timeWords = []string{"today", "yesterday", "tomorrow", "week", "month", "year", "ago", "later"}

// queryComplexity scores a query in [0,1] per the adaptive-k formula.
func queryComplexity(query string) float64 {
	words := tokenize(query)
	var score float64
	switch {
	case len(words) >= 15:
		score += 0.3
	case len(words) >= 8:
		score += 0.15
	}

	capEntities := 0
	for _, w := range strings.Fields(query) {
		if len(w) > 0 && unicode.IsUpper(rune(w[0])) {
			capEntities++
		}
	}
	entityBonus := float64(capEntities) * 0.1
	if entityBonus > 0.3 {
		entityBonus = 0.3
	}
	score += entityBonus

	lower := strings.ToLower(query)
	for _, tw := range timeWords {
		if strings.Contains(lower, tw) {
			score += 0.2
			break
		}
	}
	for _, ww := range whWords {
		if strings.Contains(lower, ww) {
			score += 0.15
			break
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// adaptiveK picks a retrieval depth from query complexity: simple queries
// use k_min=3, complex ones interpolate linearly up to k_max=15.
func adaptiveK(complexity float64) int {
	const kMin, kMax = 3, 15
	if complexity < 0.5 {
		return kMin
	}
	k := kMin + int((complexity-0.5)/0.5*float64(kMax-kMin))
	if k > kMax {
		k = kMax
	}
	if k < kMin {
		k = kMin
	}
	return k
}

// AdaptiveRetrieve fuses a semantic (C6) and lexical (BM25) retrieval via
// Reciprocal Rank Fusion, scaling k to the query's estimated complexity
// when the caller doesn't pin one.
func (ing *Ingestor) AdaptiveRetrieve(ctx context.Context, sessionID, query string, k int) ([]models.Memory, error) {
	if k <= 0 {
		k = adaptiveK(queryComplexity(query))
	}

	semantic, err := ing.memory.Search(ctx, sessionID, query, k, "simplemem_atom")
	if err != nil {
		return nil, err
	}
	lexicalHits := ing.indexFor(sessionID).Search(query, k)

	return fuseRRF(semantic, lexicalHits, k), nil
}

// fuseRRF merges the two ranked lists by Reciprocal Rank Fusion: a document
// at rank r (0-based) in a list contributes 1/(60+r+1) to its score. Ties
// are broken by the semantic list's original order.
func fuseRRF(semantic []models.Memory, lexical []scoredDoc, k int) []models.Memory {
	scores := make(map[string]float64)
	byID := make(map[string]models.Memory)
	semanticOrder := make(map[string]int)

	for r, m := range semantic {
		scores[m.ID] += 1.0 / float64(rrfK+r+1)
		byID[m.ID] = m
		semanticOrder[m.ID] = r
	}
	for r, d := range lexical {
		scores[d.ID] += 1.0 / float64(rrfK+r+1)
		if _, ok := byID[d.ID]; !ok {
			byID[d.ID] = models.Memory{ID: d.ID}
		}
		if _, ok := semanticOrder[d.ID]; !ok {
			semanticOrder[d.ID] = len(semantic) + r
		}
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sortByScoreThenOrder(ids, scores, semanticOrder)

	if len(ids) > k {
		ids = ids[:k]
	}
	out := make([]models.Memory, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

func sortByScoreThenOrder(ids []string, scores map[string]float64, order map[string]int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0; j-- {
			a, b := ids[j-1], ids[j]
			swap := scores[a] < scores[b] || (scores[a] == scores[b] && order[a] > order[b])
			if !swap {
				break
			}
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
