// Command ingest loads a support ticket CSV into the configured record store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/knoguchi/supportrag/internal/bootstrap"
	"github.com/knoguchi/supportrag/internal/config"
	"github.com/knoguchi/supportrag/internal/ingestion"
	"github.com/knoguchi/supportrag/internal/vectorstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("ingestion failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	csvPath := flag.String("csv", "dataset-tickets-multi-lang3-4k.csv", "path to the ticket CSV")
	language := flag.String("language", cfg.IngestLanguage, "ticket language to keep")
	batchSize := flag.Int("batch", cfg.IngestBatchSize, "tickets per embed/insert batch")
	dedupe := flag.Bool("dedupe", false, "skip tickets whose body and answer repeat")
	dryRun := flag.Bool("dry-run", false, "parse and report without embedding or inserting")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("failed to open CSV: %w", err)
	}
	defer f.Close()

	tickets, parseStats, err := ingestion.ParseCSV(f, *language)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", *csvPath, err)
	}
	logger.Info("parsed tickets",
		"file", *csvPath,
		"language", *language,
		"rows", parseStats.Rows,
		"kept", parseStats.Kept,
		"skipped_language", parseStats.SkippedLanguage,
		"skipped_empty", parseStats.SkippedEmpty,
	)
	if *dryRun {
		return nil
	}

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("record store unreachable: %w", err)
	}

	embed, err := bootstrap.NewEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	// Qdrant collections are created on first ingest; the SQL backends expect their schema to exist.
	if qs, ok := store.RecordRepository.(*vectorstore.QdrantStore); ok {
		if err := qs.EnsureCollection(ctx, embed.Dimension()); err != nil {
			return err
		}
	}
	if err := bootstrap.CheckDimension(ctx, store, embed); err != nil {
		return err
	}

	pipeline := ingestion.NewPipeline(embed, store, ingestion.PipelineConfig{
		BatchSize: *batchSize,
		Dedupe:    *dedupe,
		Logger:    logger,
	})

	stats, err := pipeline.Run(ctx, tickets)
	if err != nil {
		return fmt.Errorf("ingested %d of %d tickets: %w", stats.Inserted, len(tickets), err)
	}

	total, err := store.Count(ctx)
	if err != nil {
		logger.Warn("failed to count records", "error", err)
	}
	logger.Info("ingestion complete",
		"inserted", stats.Inserted,
		"duplicates", stats.Duplicates,
		"batches", stats.Batches,
		"duration", stats.ProcessingTime,
		"store_total", total,
	)
	return nil
}
