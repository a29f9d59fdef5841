// Package service coordinates the support ticket search pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/knoguchi/supportrag/internal/embedder"
	"github.com/knoguchi/supportrag/internal/repository"
	"github.com/knoguchi/supportrag/internal/reranker"
	"github.com/knoguchi/supportrag/internal/synthesis"
)

const (
	DefaultTopK                = 3
	DefaultCandidateMultiplier = 3

	// StoreUnavailableMessage is returned in degraded responses.
	StoreUnavailableMessage = "Database connection is not available. Please check your environment variables."
)

var tracer = otel.Tracer("github.com/knoguchi/supportrag/internal/service")

// QueryRequest is a support question. A nil TopK selects the default.
type QueryRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

// QueryResponse is the search outcome. Results is never nil so it always
// encodes as a JSON array.
type QueryResponse struct {
	Query     string                  `json:"query"`
	Results   []reranker.RankedResult `json:"results"`
	GPTAnswer *synthesis.Answer       `json:"gpt_answer,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// Synthesizer produces an answer from a query and its assembled context.
type Synthesizer interface {
	Synthesize(ctx context.Context, query, contextText string) (*synthesis.Answer, error)
}

// Availability reports whether the record store is known to be reachable.
type Availability interface {
	Available() bool
}

// SearchService runs a query through encode, retrieve, rank, assemble and
// synthesize. It holds no per-request state.
type SearchService struct {
	embedder     embedder.Embedder
	store        repository.RecordStore
	ranker       *reranker.Ranker
	synthesizer  Synthesizer
	availability Availability
	defaultTopK  int
	multiplier   int
	logger       *slog.Logger
}

// SearchServiceOption is a functional option for configuring SearchService.
type SearchServiceOption func(*SearchService)

// WithAvailability short-circuits requests to a degraded response while the
// store is reported unavailable.
func WithAvailability(a Availability) SearchServiceOption {
	return func(s *SearchService) {
		s.availability = a
	}
}

// WithDefaultTopK sets the result count used when a request omits top_k.
func WithDefaultTopK(k int) SearchServiceOption {
	return func(s *SearchService) {
		if k > 0 {
			s.defaultTopK = k
		}
	}
}

// WithCandidateMultiplier sets how many candidates per requested result are
// drawn from the store.
func WithCandidateMultiplier(m int) SearchServiceOption {
	return func(s *SearchService) {
		if m > 0 {
			s.multiplier = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SearchServiceOption {
	return func(s *SearchService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSearchService creates a SearchService.
func NewSearchService(
	emb embedder.Embedder,
	store repository.RecordStore,
	ranker *reranker.Ranker,
	synth Synthesizer,
	opts ...SearchServiceOption,
) *SearchService {
	s := &SearchService{
		embedder:    emb,
		store:       store,
		ranker:      ranker,
		synthesizer: synth,
		defaultTopK: DefaultTopK,
		multiplier:  DefaultCandidateMultiplier,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Search answers a support question.
//
// On success the response carries ranked results and a synthesized answer.
// When the store is unavailable, Search returns a degraded response (empty
// results, Error set) together with an *Error of KindStoreUnavailable; the
// response is still meant to be delivered. Every other failure returns a nil
// response and an *Error.
func (s *SearchService) Search(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()

	stage := StageReceived
	advance := func(next Stage) {
		stage = next
		span.AddEvent(next.String())
	}
	fail := func(kind Kind, err error) error {
		e := &Error{Kind: kind, Stage: stage, Err: err}
		span.RecordError(e)
		span.SetStatus(otelcodes.Error, kind.String())
		s.logger.Error("search failed",
			"query", req.Query,
			"kind", kind.String(),
			"stage", stage.String(),
			"error", err,
		)
		return e
	}

	topK, err := s.validate(req)
	if err != nil {
		return nil, fail(KindInvalidRequest, err)
	}
	span.SetAttributes(attribute.Int("search.top_k", topK))

	if s.availability != nil && !s.availability.Available() {
		return s.degraded(req, fail(KindStoreUnavailable, repository.ErrUnavailable))
	}

	vector, err := s.encode(ctx, req.Query)
	if err != nil {
		return nil, fail(KindEncodingUnavailable, err)
	}
	advance(StageEncoded)

	candidates, err := s.retrieve(ctx, vector, s.candidateLimit(topK))
	if err != nil {
		return s.degraded(req, fail(KindStoreUnavailable, err))
	}
	advance(StageRetrieved)

	results := s.rank(ctx, vector, candidates, topK)
	advance(StageRanked)

	contextText := synthesis.AssembleContext(results)
	advance(StageContextBuilt)

	answer, err := s.synthesize(ctx, req.Query, contextText)
	if err != nil {
		kind := KindSynthesisUnavailable
		if errors.Is(err, synthesis.ErrContractViolation) {
			kind = KindSynthesisContractViolation
		}
		return nil, fail(kind, err)
	}
	advance(StageSynthesized)
	advance(StageCompleted)
	s.logger.Info("search completed",
		"stage", stage.String(),
		"top_k", topK,
		"candidates", len(candidates),
		"results", len(results),
		"duration", time.Since(start),
	)

	return &QueryResponse{
		Query:     req.Query,
		Results:   results,
		GPTAnswer: answer,
	}, nil
}

func (s *SearchService) validate(req QueryRequest) (int, error) {
	if strings.TrimSpace(req.Query) == "" {
		return 0, errors.New("query is required")
	}
	if req.TopK == nil {
		return s.defaultTopK, nil
	}
	if *req.TopK <= 0 {
		return 0, fmt.Errorf("top_k must be positive, got %d", *req.TopK)
	}
	return *req.TopK, nil
}

// candidateLimit is topK times the multiplier, saturating at math.MaxInt.
func (s *SearchService) candidateLimit(topK int) int {
	if topK > math.MaxInt/s.multiplier {
		return math.MaxInt
	}
	return topK * s.multiplier
}

func (s *SearchService) degraded(req QueryRequest, err error) (*QueryResponse, error) {
	return &QueryResponse{
		Query:   req.Query,
		Results: []reranker.RankedResult{},
		Error:   StoreUnavailableMessage,
	}, err
}

func (s *SearchService) encode(ctx context.Context, query string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "encode")
	defer span.End()

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to embed query: %w", err))
	}
	span.SetAttributes(attribute.Int("embedding.dimension", len(vector)))
	return vector, nil
}

func (s *SearchService) retrieve(ctx context.Context, vector []float32, limit int) ([]repository.Candidate, error) {
	ctx, span := tracer.Start(ctx, "retrieve", trace.WithAttributes(attribute.Int("store.limit", limit)))
	defer span.End()

	candidates, err := s.store.NearestNeighbors(ctx, vector, limit)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to query record store: %w", err))
	}
	span.SetAttributes(attribute.Int("store.candidates", len(candidates)))
	return candidates, nil
}

func (s *SearchService) rank(ctx context.Context, vector []float32, candidates []repository.Candidate, topK int) []reranker.RankedResult {
	_, span := tracer.Start(ctx, "rank")
	defer span.End()

	for _, c := range candidates {
		if len(c.Record.Embedding) != len(vector) {
			s.logger.Warn("skipping record with mismatched embedding width",
				"record_id", c.Record.ID,
				"width", len(c.Record.Embedding),
				"expected", len(vector),
			)
		}
	}

	results := s.ranker.Rank(vector, candidates, topK)
	span.SetAttributes(attribute.Int("rank.results", len(results)))
	return results
}

func (s *SearchService) synthesize(ctx context.Context, query, contextText string) (*synthesis.Answer, error) {
	ctx, span := tracer.Start(ctx, "synthesize")
	defer span.End()

	answer, err := s.synthesizer.Synthesize(ctx, query, contextText)
	if err != nil {
		return nil, spanError(span, err)
	}
	return answer, nil
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	return err
}
