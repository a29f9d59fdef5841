package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is the default OpenAI embedding model.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig holds configuration for the OpenAI embedder.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint (OpenAI-compatible servers).
	BaseURL string

	// Model is the embedding model (default: text-embedding-3-small).
	Model string

	// Dimension is the embedding width. text-embedding-3 models are asked to
	// shorten their output to this width; other models must match it natively.
	Dimension int

	HTTPClient *http.Client
}

// OpenAIEmbedder implements Embedder with the OpenAI embeddings API.
//
// The API rejects empty input, so empty texts are answered locally with a
// zero vector of the configured dimension.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	shorten   bool
}

// NewOpenAIEmbedder creates an OpenAI embedder
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = GetModelConfig(model).Dimension
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: dimension,
		shorten:   strings.HasPrefix(model, "text-embedding-3"),
	}
}

// Embed generates an embedding for a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all non-empty texts in one API call
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	var (
		inputs  []string
		indexes []int
	)
	for i, t := range texts {
		if t == "" {
			results[i] = make([]float32, e.dimension)
			continue
		}
		inputs = append(inputs, t)
		indexes = append(indexes, i)
	}
	if len(inputs) == 0 {
		return results, nil
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: inputs,
	}
	if e.shorten {
		req.Dimensions = e.dimension
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(inputs))
	}

	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(inputs) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		if err := checkDimension(vec, e.dimension); err != nil {
			return nil, fmt.Errorf("model %s: %w", e.model, err)
		}
		results[indexes[d.Index]] = vec
	}

	return results, nil
}

// Dimension returns the embedding dimension
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the embedding model name
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

var _ Embedder = (*OpenAIEmbedder)(nil)
