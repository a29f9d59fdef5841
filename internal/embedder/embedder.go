// Package embedder provides interfaces and implementations for text embedding.
package embedder

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a model produces a vector whose width
// differs from the configured dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder defines the interface for text embedding services.
//
// Embed is deterministic for a fixed model version and has no side effects.
// Empty input is not an error; each implementation documents what it returns.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs.
	// Returns a slice of embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// ModelConfig holds configuration for a specific embedding model.
type ModelConfig struct {
	Dimension     int // Embedding dimension
	ContextLength int // Max tokens the model can process
}

// KnownModels maps embedding model names to their configurations.
var KnownModels = map[string]ModelConfig{
	"all-minilm":             {Dimension: 384, ContextLength: 256},
	"nomic-embed-text":       {Dimension: 768, ContextLength: 8192},
	"mxbai-embed-large":      {Dimension: 1024, ContextLength: 512},
	"text-embedding-3-small": {Dimension: 1536, ContextLength: 8191},
	"text-embedding-3-large": {Dimension: 3072, ContextLength: 8191},
	"text-embedding-ada-002": {Dimension: 1536, ContextLength: 8191},
}

// GetModelConfig returns the configuration for a model, or defaults if unknown.
func GetModelConfig(modelName string) ModelConfig {
	if cfg, ok := KnownModels[modelName]; ok {
		return cfg
	}
	return ModelConfig{
		Dimension:     384,
		ContextLength: 256,
	}
}

func checkDimension(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}
