// Package bootstrap builds the configured store and model clients shared by
// the server and the ingestion command.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/knoguchi/supportrag/internal/config"
	"github.com/knoguchi/supportrag/internal/embedder"
	"github.com/knoguchi/supportrag/internal/llm"
	"github.com/knoguchi/supportrag/internal/repository"
	"github.com/knoguchi/supportrag/internal/repository/postgres"
	"github.com/knoguchi/supportrag/internal/repository/sqlite"
	"github.com/knoguchi/supportrag/internal/vectorstore"
)

// Store is an open record store and the function that releases it.
type Store struct {
	repository.RecordRepository
	Close func()
}

// OpenStore opens the backend selected by STORE_BACKEND. Opening does not
// require the backend to be reachable; use Ping for that.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := postgres.New(ctx, cfg.PostgresURL(), postgres.Options{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, err
		}
		logger.Info("opened PostgreSQL record store",
			"url", cfg.RedactedPostgresURL(),
			"table", cfg.SupportTable,
		)
		return &Store{
			RecordRepository: postgres.NewSupportRepo(db, cfg.SupportTable),
			Close:            db.Close,
		}, nil

	case config.StoreQdrant:
		qs, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.QdrantCollection)
		if err != nil {
			return nil, err
		}
		logger.Info("opened Qdrant record store",
			"url", cfg.QdrantGRPCURL,
			"collection", cfg.QdrantCollection,
		)
		return &Store{
			RecordRepository: qs,
			Close: func() {
				if err := qs.Close(); err != nil {
					logger.Warn("error closing Qdrant client", "error", err)
				}
			},
		}, nil

	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("opened SQLite record store", "path", cfg.SQLitePath)
		return &Store{
			RecordRepository: s,
			Close: func() {
				if err := s.Close(); err != nil {
					logger.Warn("error closing SQLite database", "error", err)
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// NewEmbedder builds the encoder selected by EMBEDDER_PROVIDER.
func NewEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch cfg.EmbedderProvider {
	case config.ProviderOllama:
		return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL:   cfg.OllamaURL,
			Model:     cfg.OllamaEmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		}), nil
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai embedder")
		}
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.OpenAIEmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.EmbedderProvider)
	}
}

// NewLLM builds the generative model client selected by LLM_PROVIDER.
func NewLLM(cfg *config.Config) (llm.LLM, error) {
	httpClient := &http.Client{Timeout: cfg.LLMTimeout}

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		return llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.OllamaLLMModel),
			llm.WithHTTPClient(httpClient),
		), nil
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai model client")
		}
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			HTTPClient: httpClient,
		}), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// CheckDimension compares the store's embedding width with the encoder's.
// An empty store reports 0 and passes.
func CheckDimension(ctx context.Context, store repository.RecordRepository, emb embedder.Embedder) error {
	dim, err := store.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("reading store dimension: %w", err)
	}
	if dim != 0 && dim != emb.Dimension() {
		return fmt.Errorf("%w: store holds %d-dimensional embeddings, encoder %s produces %d",
			embedder.ErrDimensionMismatch, dim, emb.ModelName(), emb.Dimension())
	}
	return nil
}
