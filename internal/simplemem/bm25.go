package simplemem

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// bm25Index is a small in-process BM25 index over one session's atom
// summaries. It is reimplemented here rather than ported from any FTS5
// virtual table so the ingestor stays embeddable without cgo; the ranking
// formula follows the standard BM25 definition used by the pack's
// sqlite-FTS5-backed session stores.
type bm25Index struct {
	mu sync.RWMutex

	k1, b      float64
	docs       map[string][]string // doc id -> terms
	docLengths map[string]int
	totalLen   int
	df         map[string]int // term -> doc frequency
	order      []string       // insertion order, for stable tie-breaking
}

func newBM25Index() *bm25Index {
	return &bm25Index{
		k1:         1.2,
		b:          0.75,
		docs:       make(map[string][]string),
		docLengths: make(map[string]int),
		df:         make(map[string]int),
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// Add indexes a document (atom summary) under id, replacing any prior
// content for the same id.
func (idx *bm25Index) Add(id, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.docs[id]; ok {
		idx.totalLen -= len(old)
		for _, t := range uniqueTerms(old) {
			idx.df[t]--
			if idx.df[t] <= 0 {
				delete(idx.df, t)
			}
		}
	} else {
		idx.order = append(idx.order, id)
	}

	terms := tokenize(text)
	idx.docs[id] = terms
	idx.docLengths[id] = len(terms)
	idx.totalLen += len(terms)
	for _, t := range uniqueTerms(terms) {
		idx.df[t]++
	}
}

func uniqueTerms(terms []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// scoredDoc is one BM25 search hit.
type scoredDoc struct {
	ID    string
	Score float64
}

// Search returns the top-k documents for query by BM25 score, descending,
// ties broken by index-insertion order.
func (idx *bm25Index) Search(query string, k int) []scoredDoc {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.docs) == 0 {
		return nil
	}
	queryTerms := uniqueTerms(tokenize(query))
	if len(queryTerms) == 0 {
		return nil
	}
	n := float64(len(idx.docs))
	avgLen := float64(idx.totalLen) / n

	scores := make(map[string]float64, len(idx.docs))
	for _, qt := range queryTerms {
		df := idx.df[qt]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		for id, terms := range idx.docs {
			tf := termFreq(terms, qt)
			if tf == 0 {
				continue
			}
			dl := float64(idx.docLengths[id])
			denom := tf + idx.k1*(1-idx.b+idx.b*dl/avgLen)
			scores[id] += idf * (tf * (idx.k1 + 1) / denom)
		}
	}

	out := make([]scoredDoc, 0, len(scores))
	for id, s := range scores {
		out = append(out, scoredDoc{ID: id, Score: s})
	}
	rank := make(map[string]int, len(idx.order))
	for i, id := range idx.order {
		rank[id] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return rank[out[i].ID] < rank[out[j].ID]
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func termFreq(terms []string, target string) float64 {
	n := 0.0
	for _, t := range terms {
		if t == target {
			n++
		}
	}
	return n
}
