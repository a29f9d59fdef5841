package reranker

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/knoguchi/supportrag/internal/repository"
)

// unitAt returns a 2-d unit vector whose cosine with (1, 0) is sim.
func unitAt(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func candidate(body string, sim float64) repository.Candidate {
	return repository.Candidate{
		Record: repository.SupportRecord{
			ID:        body,
			Body:      body,
			Embedding: unitAt(sim),
			Answer:    "answer to " + body,
		},
	}
}

var query = []float32{1, 0}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"scale invariant", []float32{1, 1}, []float32{5, 5}, 1},
		{"zero query", []float32{0, 0}, []float32{1, 1}, 0},
		{"zero record", []float32{1, 1}, []float32{0, 0}, 0},
		{"width mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRound(t *testing.T) {
	if got := Round(0.923456, 4); got != 0.9235 {
		t.Errorf("expected 0.9235, got %v", got)
	}
	if got := Round(-0.12344, 4); got != -0.1234 {
		t.Errorf("expected -0.1234, got %v", got)
	}
}

func TestRank_PasswordResetScenario(t *testing.T) {
	r := NewRanker()
	candidates := []repository.Candidate{{
		Record: repository.SupportRecord{
			ID:        "1",
			Body:      "I can't reset my password",
			Embedding: unitAt(0.92),
			Answer:    "Use the forgot-password link and check spam folder.",
		},
	}}

	got := r.Rank(query, candidates, 3)

	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if got[0].Question != "I can't reset my password" {
		t.Errorf("unexpected question %q", got[0].Question)
	}
	if got[0].Similarity != 0.92 {
		t.Errorf("expected similarity 0.92, got %v", got[0].Similarity)
	}
	if got[0].Answer != "Use the forgot-password link and check spam folder." {
		t.Errorf("unexpected answer %q", got[0].Answer)
	}
}

func TestRank_ThresholdIsInclusive(t *testing.T) {
	r := NewRanker(WithMinSimilarity(0.5))
	candidates := []repository.Candidate{
		{Record: repository.SupportRecord{Body: "exact", Embedding: []float32{1, 1}}},   // cos 0.7071
		{Record: repository.SupportRecord{Body: "below", Embedding: []float32{1, 1.8}}}, // cos ~0.4856
	}

	got := r.Rank([]float32{1, 0}, candidates, 5)
	if len(got) != 1 || got[0].Question != "exact" {
		t.Fatalf("expected only the candidate above threshold, got %+v", got)
	}

	atThreshold := NewRanker(WithMinSimilarity(1))
	got = atThreshold.Rank([]float32{2, 0}, []repository.Candidate{
		{Record: repository.SupportRecord{Body: "same direction", Embedding: []float32{3, 0}}},
	}, 1)
	if len(got) != 1 {
		t.Errorf("similarity equal to threshold should be kept, got %+v", got)
	}
}

func TestRank_AllBelowThreshold(t *testing.T) {
	r := NewRanker()
	candidates := []repository.Candidate{
		candidate("a", 0.29),
		candidate("b", 0.1),
		candidate("c", -0.5),
	}

	got := r.Rank(query, candidates, 3)
	if got == nil {
		t.Fatal("expected an empty, non-nil slice")
	}
	if len(got) != 0 {
		t.Errorf("expected no results, got %+v", got)
	}
}

func TestRank_TruncatesToTopK(t *testing.T) {
	r := NewRanker()
	var candidates []repository.Candidate
	for i := 0; i < 9; i++ {
		candidates = append(candidates, candidate(fmt.Sprintf("q%d", i), 0.9-float64(i)*0.05))
	}

	for _, topK := range []int{1, 3, 5} {
		got := r.Rank(query, candidates, topK)
		if len(got) != topK {
			t.Errorf("topK=%d: expected %d results, got %d", topK, topK, len(got))
		}
		for _, res := range got {
			if res.Similarity < DefaultMinSimilarity {
				t.Errorf("result below threshold: %+v", res)
			}
		}
	}
}

func TestRank_NeverPads(t *testing.T) {
	r := NewRanker()
	candidates := []repository.Candidate{
		candidate("keep", 0.8),
		candidate("drop", 0.2),
	}

	got := r.Rank(query, candidates, 5)
	if len(got) != 1 {
		t.Errorf("expected 1 result, got %d", len(got))
	}
}

func TestRank_StoreOrderIsPreserved(t *testing.T) {
	r := NewRanker()
	// Store returned these in its own distance order, which disagrees with cosine
	candidates := []repository.Candidate{
		candidate("first", 0.5),
		candidate("second", 0.2), // filtered
		candidate("third", 0.95),
		candidate("fourth", 0.7),
	}

	got := r.Rank(query, candidates, 2)

	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Question != "first" || got[1].Question != "third" {
		t.Errorf("expected store order [first third], got [%s %s]", got[0].Question, got[1].Question)
	}
}

func TestRank_CosineOrderSortsBeforeTruncation(t *testing.T) {
	r := NewRanker(WithOrder(OrderCosine))
	candidates := []repository.Candidate{
		candidate("first", 0.5),
		candidate("second", 0.2),
		candidate("third", 0.95),
		candidate("fourth", 0.7),
	}

	got := r.Rank(query, candidates, 2)

	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Question != "third" || got[1].Question != "fourth" {
		t.Errorf("expected cosine order [third fourth], got [%s %s]", got[0].Question, got[1].Question)
	}
}

func TestRank_CosineOrderTiesKeepStoreOrder(t *testing.T) {
	r := NewRanker(WithOrder(OrderCosine))
	candidates := []repository.Candidate{
		candidate("a", 0.8),
		candidate("b", 0.8),
		candidate("c", 0.8),
	}

	got := r.Rank(query, candidates, 3)
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Question != want {
			t.Errorf("position %d: expected %s, got %s", i, want, got[i].Question)
		}
	}
}

func TestRank_ZeroNormExcluded(t *testing.T) {
	r := NewRanker()
	candidates := []repository.Candidate{
		{Record: repository.SupportRecord{Body: "zero", Embedding: []float32{0, 0}}},
		candidate("ok", 0.9),
	}

	got := r.Rank(query, candidates, 3)
	if len(got) != 1 || got[0].Question != "ok" {
		t.Errorf("expected zero-norm record to be excluded, got %+v", got)
	}

	got = r.Rank([]float32{0, 0}, candidates, 3)
	if len(got) != 0 {
		t.Errorf("zero query should match nothing, got %+v", got)
	}
}

func TestRank_SkipsWidthMismatch(t *testing.T) {
	r := NewRanker(WithMinSimilarity(-1))
	candidates := []repository.Candidate{
		{Record: repository.SupportRecord{Body: "wide", Embedding: []float32{1, 0, 0}}},
	}

	if got := r.Rank(query, candidates, 3); len(got) != 0 {
		t.Errorf("expected mismatched record to be skipped, got %+v", got)
	}
}

func TestRank_NonPositiveTopK(t *testing.T) {
	r := NewRanker()
	for _, k := range []int{0, -1} {
		if got := r.Rank(query, []repository.Candidate{candidate("a", 0.9)}, k); len(got) != 0 {
			t.Errorf("expected no results for topK=%d, got %+v", k, got)
		}
	}
}

func TestRankedResult_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   RankedResult
		want string
	}{
		{
			"with answer",
			RankedResult{Question: "Printer offline", Similarity: 0.92, Answer: "Restart it."},
			`{"question":"Printer offline","similarity":0.92,"answer":"Restart it."}`,
		},
		{
			"missing answer",
			RankedResult{Question: "Where is my invoice?", Similarity: 0.5},
			`{"question":"Where is my invoice?","similarity":0.5,"answer":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal([]RankedResult{tt.in})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != "["+tt.want+"]" {
				t.Errorf("expected [%s], got %s", tt.want, got)
			}
		})
	}
}
