package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/supportrag/internal/embedder"
	"github.com/knoguchi/supportrag/internal/repository"
)

// DefaultBatchSize is the number of tickets embedded and inserted together.
const DefaultBatchSize = 64

// PipelineConfig holds configuration for the ingestion pipeline
type PipelineConfig struct {
	// BatchSize is the number of tickets per embed/insert round trip
	BatchSize int

	// Dedupe drops tickets whose body and answer repeat an earlier ticket in the same run
	Dedupe bool

	Logger *slog.Logger
}

// PipelineStats contains statistics about the pipeline execution
type PipelineStats struct {
	// Tickets is the number of tickets handed to Run
	Tickets int

	// Inserted is the number of records written to the store
	Inserted int

	// Duplicates is the number of tickets dropped by deduplication
	Duplicates int

	// Batches is the number of insert batches written
	Batches int

	// ProcessingTime is how long the run took
	ProcessingTime time.Duration
}

// Pipeline embeds tickets and writes them as support records
type Pipeline struct {
	config   PipelineConfig
	embedder embedder.Embedder
	writer   repository.RecordWriter
	logger   *slog.Logger
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(emb embedder.Embedder, writer repository.RecordWriter, config PipelineConfig) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		config:   config,
		embedder: emb,
		writer:   writer,
		logger:   logger,
	}
}

// Run embeds ticket bodies in batches and inserts each batch with fresh IDs.
// Batches already written stay written when a later batch fails.
func (p *Pipeline) Run(ctx context.Context, tickets []Ticket) (PipelineStats, error) {
	startTime := time.Now()
	stats := PipelineStats{Tickets: len(tickets)}

	if p.config.Dedupe {
		var dropped int
		tickets, dropped = dedupe(tickets)
		stats.Duplicates = dropped
	}

	dim := p.embedder.Dimension()

	for start := 0; start < len(tickets); start += p.config.BatchSize {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			stats.ProcessingTime = time.Since(startTime)
			return stats, ctx.Err()
		default:
		}

		end := min(start+p.config.BatchSize, len(tickets))
		batch := tickets[start:end]

		bodies := make([]string, len(batch))
		for i, t := range batch {
			bodies[i] = t.Body
		}

		vectors, err := p.embedder.EmbedBatch(ctx, bodies)
		if err != nil {
			stats.ProcessingTime = time.Since(startTime)
			return stats, fmt.Errorf("embedding batch at ticket %d: %w", start, err)
		}

		records := make([]repository.SupportRecord, len(batch))
		for i, t := range batch {
			if dim > 0 && len(vectors[i]) != dim {
				stats.ProcessingTime = time.Since(startTime)
				return stats, fmt.Errorf("ticket %d: %w: got %d, want %d", start+i, embedder.ErrDimensionMismatch, len(vectors[i]), dim)
			}
			records[i] = repository.SupportRecord{
				ID:        uuid.NewString(),
				Body:      t.Body,
				Embedding: vectors[i],
				Answer:    t.Answer,
			}
		}

		if err := p.writer.InsertBatch(ctx, records); err != nil {
			stats.ProcessingTime = time.Since(startTime)
			return stats, fmt.Errorf("inserting batch at ticket %d: %w", start, err)
		}

		stats.Inserted += len(records)
		stats.Batches++
		p.logger.Info("inserted batch",
			"batch", stats.Batches,
			"records", len(records),
			"inserted", stats.Inserted,
			"total", len(tickets),
		)
	}

	stats.ProcessingTime = time.Since(startTime)
	return stats, nil
}

func dedupe(tickets []Ticket) ([]Ticket, int) {
	seen := make(map[string]struct{}, len(tickets))
	out := make([]Ticket, 0, len(tickets))
	for _, t := range tickets {
		h := hashTicket(t)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, t)
	}
	return out, len(tickets) - len(out)
}

// hashTicket generates a SHA-256 hash of the ticket content
func hashTicket(t Ticket) string {
	hash := sha256.New()
	hash.Write([]byte(t.Body))
	hash.Write([]byte{0})
	hash.Write([]byte(t.Answer))
	return hex.EncodeToString(hash.Sum(nil))
}
