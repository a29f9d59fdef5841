package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/knoguchi/supportrag/internal/config"
	"github.com/knoguchi/supportrag/internal/embedder"
	"github.com/knoguchi/supportrag/internal/llm"
	"github.com/knoguchi/supportrag/internal/repository"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StoreBackend:         config.StoreSQLite,
		SQLitePath:           filepath.Join(t.TempDir(), "support.db"),
		EmbedderProvider:     config.ProviderOllama,
		OllamaURL:            "http://localhost:11434",
		OllamaEmbeddingModel: "all-minilm",
		EmbeddingDimension:   384,
		LLMProvider:          config.ProviderOllama,
		OllamaLLMModel:       "llama3.2",
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := OpenStore(ctx, testConfig(t), logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestOpenStore_Unknown(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreBackend = "mongo"
	if _, err := OpenStore(context.Background(), cfg, slog.Default()); err == nil {
		t.Error("expected error")
	}
}

func TestNewEmbedder(t *testing.T) {
	cfg := testConfig(t)

	emb, err := NewEmbedder(cfg)
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if _, ok := emb.(*embedder.OllamaEmbedder); !ok {
		t.Errorf("expected Ollama embedder, got %T", emb)
	}
	if emb.Dimension() != 384 {
		t.Errorf("expected dimension 384, got %d", emb.Dimension())
	}

	cfg.EmbedderProvider = config.ProviderOpenAI
	if _, err := NewEmbedder(cfg); err == nil {
		t.Error("expected missing API key error")
	}

	cfg.OpenAIAPIKey = "sk-test"
	emb, err = NewEmbedder(cfg)
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, ok := emb.(*embedder.OpenAIEmbedder); !ok {
		t.Errorf("expected OpenAI embedder, got %T", emb)
	}
}

func TestNewLLM(t *testing.T) {
	cfg := testConfig(t)

	client, err := NewLLM(cfg)
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if _, ok := client.(*llm.OllamaClient); !ok {
		t.Errorf("expected Ollama client, got %T", client)
	}

	cfg.LLMProvider = config.ProviderOpenAI
	cfg.OpenAIAPIKey = "sk-test"
	client, err = NewLLM(cfg)
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, ok := client.(*llm.OpenAIClient); !ok {
		t.Errorf("expected OpenAI client, got %T", client)
	}
}

type dimStore struct {
	repository.RecordRepository
	dim int
}

func (d dimStore) Dimension(context.Context) (int, error) { return d.dim, nil }

func TestCheckDimension(t *testing.T) {
	emb := embedder.NewOllamaEmbedder(embedder.OllamaConfig{Dimension: 384})
	ctx := context.Background()

	if err := CheckDimension(ctx, dimStore{dim: 0}, emb); err != nil {
		t.Errorf("empty store should pass: %v", err)
	}
	if err := CheckDimension(ctx, dimStore{dim: 384}, emb); err != nil {
		t.Errorf("matching store should pass: %v", err)
	}
	if err := CheckDimension(ctx, dimStore{dim: 768}, emb); !errors.Is(err, embedder.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}
