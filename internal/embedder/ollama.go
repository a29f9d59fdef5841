package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultOllamaBaseURL is where a local Ollama listens.
	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultOllamaModel is the Ollama build of all-MiniLM-L6-v2.
	DefaultOllamaModel = "all-minilm"

	// DefaultBatchConcurrency bounds in-flight requests during EmbedBatch.
	DefaultBatchConcurrency = 4
)

// OllamaConfig configures an OllamaEmbedder. Zero fields take defaults;
// Dimension defaults to the KnownModels entry for Model.
type OllamaConfig struct {
	BaseURL          string
	Model            string
	Dimension        int
	BatchConcurrency int
	HTTPClient       *http.Client
}

// OllamaEmbedder encodes text through the Ollama embeddings endpoint.
//
// Empty input is sent to the model unchanged. Ollama answers an empty prompt
// with an empty vector; in that case Embed returns a zero vector of the
// configured dimension, which has no similarity to any stored record.
type OllamaEmbedder struct {
	endpoint    string
	model       string
	dimension   int
	concurrency int
	client      *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

var errEmptyEmbedding = errors.New("empty embedding returned from Ollama")

// NewOllamaEmbedder creates an embedder from cfg.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	e := &OllamaEmbedder{
		endpoint:    cfg.BaseURL,
		model:       cfg.Model,
		dimension:   cfg.Dimension,
		concurrency: cfg.BatchConcurrency,
		client:      cfg.HTTPClient,
	}
	if e.endpoint == "" {
		e.endpoint = DefaultOllamaBaseURL
	}
	e.endpoint += "/api/embeddings"
	if e.model == "" {
		e.model = DefaultOllamaModel
	}
	if e.dimension <= 0 {
		e.dimension = GetModelConfig(e.model).Dimension
	}
	if e.concurrency <= 0 {
		e.concurrency = DefaultBatchConcurrency
	}
	if e.client == nil {
		e.client = http.DefaultClient
	}
	return e
}

// Embed encodes a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	raw, err := e.call(ctx, text)
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		if text == "" {
			return make([]float32, e.dimension), nil
		}
		return nil, errEmptyEmbedding
	}

	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	if err := checkDimension(vec, e.dimension); err != nil {
		return nil, fmt.Errorf("model %s: %w", e.model, err)
	}
	return vec, nil
}

// call posts one prompt and returns the raw vector.
func (e *OllamaEmbedder) call(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, msg)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Embedding, nil
}

// EmbedBatch encodes texts with at most BatchConcurrency requests in flight.
// The first failure cancels the remaining requests.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("batch embedding failed at index %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Dimension returns the configured vector width.
func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the Ollama model tag.
func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

var _ Embedder = (*OllamaEmbedder)(nil)
