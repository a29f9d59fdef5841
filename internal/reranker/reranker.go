// Package reranker re-scores record store candidates against the query vector.
//
// Stores order candidates by their own native distance (L2 for pgvector,
// cosine for Qdrant, L2 for SQLite), which is not comparable across backends.
// The ranker recomputes cosine similarity for every candidate so callers get
// the same interpretable score whatever the backend, then filters by a
// minimum similarity and truncates to top-k.
//
// # Ordering
//
// With OrderStore (the default) accepted candidates keep the store's order,
// so the top-k slice is the first k candidates above the threshold in store
// order. When the store metric disagrees with cosine this need not be the
// true cosine top-k. OrderCosine sorts the accepted pool by similarity
// before truncating; ties keep store order.
package reranker

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/knoguchi/supportrag/internal/repository"
)

// DefaultMinSimilarity is the similarity below which candidates are dropped.
const DefaultMinSimilarity = 0.3

// Order selects how accepted candidates are ordered before truncation.
type Order int

const (
	OrderStore Order = iota
	OrderCosine
)

func (o Order) String() string {
	switch o {
	case OrderStore:
		return "store"
	case OrderCosine:
		return "cosine"
	default:
		return "unknown"
	}
}

// RankedResult is a retrieved ticket as presented to callers.
type RankedResult struct {
	Question   string  `json:"question"`
	Similarity float64 `json:"similarity"`
	Answer     string  `json:"answer"`
}

// MarshalJSON renders an empty Answer as null.
func (r RankedResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Question   string  `json:"question"`
		Similarity float64 `json:"similarity"`
		Answer     *string `json:"answer"`
	}{Question: r.Question, Similarity: r.Similarity}
	if r.Answer != "" {
		out.Answer = &r.Answer
	}
	return json.Marshal(out)
}

// Ranker filters and truncates candidates by cosine similarity.
// It holds no per-request state and is safe for concurrent use.
type Ranker struct {
	minSimilarity float64
	order         Order
}

// Option is a functional option for configuring Ranker.
type Option func(*Ranker)

// WithMinSimilarity sets the similarity threshold.
func WithMinSimilarity(min float64) Option {
	return func(r *Ranker) {
		r.minSimilarity = min
	}
}

// WithOrder sets the ordering applied before truncation.
func WithOrder(order Order) Option {
	return func(r *Ranker) {
		r.order = order
	}
}

// NewRanker creates a ranker with the default threshold and store ordering.
func NewRanker(opts ...Option) *Ranker {
	r := &Ranker{
		minSimilarity: DefaultMinSimilarity,
		order:         OrderStore,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MinSimilarity returns the configured threshold.
func (r *Ranker) MinSimilarity() float64 {
	return r.minSimilarity
}

// Rank scores candidates against query and returns at most topK results with
// similarity >= the threshold. Fewer results are returned when fewer pass;
// the result is never padded. Candidates whose embedding width differs from
// the query are skipped.
func (r *Ranker) Rank(query []float32, candidates []repository.Candidate, topK int) []RankedResult {
	if topK <= 0 {
		return []RankedResult{}
	}
	results := make([]RankedResult, 0, min(topK, len(candidates)))

	type scored struct {
		rec repository.SupportRecord
		sim float64
	}
	accepted := make([]scored, 0, len(candidates))

	for _, c := range candidates {
		if len(c.Record.Embedding) != len(query) {
			continue
		}
		sim := CosineSimilarity(query, c.Record.Embedding)
		if sim < r.minSimilarity {
			continue
		}
		accepted = append(accepted, scored{rec: c.Record, sim: sim})
		if r.order == OrderStore && len(accepted) == topK {
			break
		}
	}

	if r.order == OrderCosine {
		sort.SliceStable(accepted, func(i, j int) bool {
			return accepted[i].sim > accepted[j].sim
		})
	}
	if len(accepted) > topK {
		accepted = accepted[:topK]
	}

	for _, a := range accepted {
		results = append(results, RankedResult{
			Question:   a.rec.Body,
			Similarity: Round(a.sim, 4),
			Answer:     a.rec.Answer,
		})
	}
	return results
}

// CosineSimilarity returns dot(a,b)/(|a||b|). It returns 0 when either vector
// has zero norm or the widths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Round rounds v to the given number of decimal digits.
func Round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
