package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knoguchi/supportrag/internal/bootstrap"
	"github.com/knoguchi/supportrag/internal/config"
	"github.com/knoguchi/supportrag/internal/health"
	"github.com/knoguchi/supportrag/internal/reranker"
	"github.com/knoguchi/supportrag/internal/resilience"
	"github.com/knoguchi/supportrag/internal/server"
	"github.com/knoguchi/supportrag/internal/service"
	"github.com/knoguchi/supportrag/internal/synthesis"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Set up structured logging
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(strings.ToLower(os.Getenv("LOG_LEVEL")))); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting support search service",
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"store", cfg.StoreBackend,
		"embedder", cfg.EmbedderProvider,
		"llm", cfg.LLMProvider,
	)

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer store.Close()

	embed, err := bootstrap.NewEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	logger.Info("initialized embedder", "model", embed.ModelName(), "dimension", embed.Dimension())

	llmClient, err := bootstrap.NewLLM(cfg)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	llmClient = resilience.NewRateLimitedLLM(llmClient, cfg.LLMRateLimit, cfg.LLMRateBurst)

	guarded := resilience.NewGuardedStore(store, resilience.StoreOptions{
		Timeout:     cfg.StoreTimeout,
		Failures:    cfg.BreakerFailures,
		OpenTimeout: cfg.BreakerTimeout,
		Logger:      logger,
	})

	grpcServer := server.NewGRPCServer(server.GRPCServerConfig{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})

	monitor := health.NewMonitor(guarded,
		health.WithBreaker(guarded),
		health.WithInterval(cfg.HealthInterval),
		health.WithTimeout(cfg.StoreTimeout),
		health.WithGRPCHealth(grpcServer.Health()),
		health.WithLogger(logger),
	)

	// An unreachable store starts the service in limited mode rather than failing.
	if monitor.Check(ctx) {
		dimCtx, dimCancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		err := bootstrap.CheckDimension(dimCtx, store, embed)
		dimCancel()
		if err != nil {
			return err
		}
	} else {
		logger.Warn("record store unreachable, starting in limited mode")
	}
	go monitor.Run(ctx)

	ranker := reranker.NewRanker(
		reranker.WithMinSimilarity(cfg.MinSimilarity),
		reranker.WithOrder(rankOrder(cfg.RankOrder)),
	)
	synthesizer := synthesis.NewSynthesizer(llmClient,
		synthesis.WithTemperature(cfg.LLMTemperature),
		synthesis.WithMaxTokens(cfg.LLMMaxTokens),
	)
	searchSvc := service.NewSearchService(embed, guarded, ranker, synthesizer,
		service.WithAvailability(monitor),
		service.WithDefaultTopK(cfg.DefaultTopK),
		service.WithCandidateMultiplier(cfg.CandidateMultiplier),
		service.WithLogger(logger),
	)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	}, searchSvc, monitor)

	// Start servers
	errCh := make(chan error, 2)

	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown gRPC server", "error", err)
	}

	logger.Info("servers stopped")
	return nil
}

func rankOrder(s string) reranker.Order {
	if s == config.RankOrderCosine {
		return reranker.OrderCosine
	}
	return reranker.OrderStore
}
