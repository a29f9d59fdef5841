package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/supportrag/internal/repository"
	"github.com/pgvector/pgvector-go"
)

// DefaultTable is the table ingestion writes support tickets to
const DefaultTable = "support_bodies"

// SupportRepo implements repository.RecordRepository on a pgvector table
//
//	CREATE TABLE support_bodies (
//	    id        TEXT PRIMARY KEY,
//	    body      TEXT NOT NULL,
//	    embedding vector(384) NOT NULL,
//	    answer    TEXT
//	);
type SupportRepo struct {
	db    *DB
	table string
}

// NewSupportRepo creates a new support record repository over the given table
func NewSupportRepo(db *DB, table string) *SupportRepo {
	if table == "" {
		table = DefaultTable
	}
	return &SupportRepo{
		db:    db,
		table: pgx.Identifier{table}.Sanitize(),
	}
}

// NearestNeighbors returns the closest records by L2 distance (pgvector <->)
func (r *SupportRepo) NearestNeighbors(ctx context.Context, vector []float32, limit int) ([]repository.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id::text, body, embedding, answer, embedding <-> $1 AS distance
		FROM %s
		ORDER BY embedding <-> $1
		LIMIT $2
	`, r.table)

	rows, err := r.db.Pool.Query(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest neighbors: %w", err)
	}
	defer rows.Close()

	var candidates []repository.Candidate
	for rows.Next() {
		var (
			id, body  string
			embedding pgvector.Vector
			answer    *string
			distance  float64
		)
		if err := rows.Scan(&id, &body, &embedding, &answer, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan support record: %w", err)
		}
		candidates = append(candidates, candidateFromRow(id, body, embedding, answer, distance))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read nearest neighbors: %w", err)
	}

	return candidates, nil
}

// candidateFromRow maps a scanned row to a candidate. A NULL answer becomes
// the empty string.
func candidateFromRow(id, body string, embedding pgvector.Vector, answer *string, distance float64) repository.Candidate {
	c := repository.Candidate{
		Record: repository.SupportRecord{
			ID:        id,
			Body:      body,
			Embedding: embedding.Slice(),
		},
		Distance: distance,
	}
	if answer != nil {
		c.Record.Answer = *answer
	}
	return c
}

// Ping reports database connectivity
func (r *SupportRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// InsertBatch inserts records in a single round trip
func (r *SupportRepo) InsertBatch(ctx context.Context, records []repository.SupportRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, body, embedding, answer)
		VALUES ($1, $2, $3, $4)
	`, r.table)

	batch := &pgx.Batch{}
	for _, rec := range records {
		var answer *string
		if rec.Answer != "" {
			answer = &rec.Answer
		}
		batch.Queue(query, rec.ID, rec.Body, pgvector.NewVector(rec.Embedding), answer)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert support record: %w", err)
		}
	}

	return nil
}

// Count returns the number of stored records
func (r *SupportRepo) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.Pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count support records: %w", err)
	}
	return total, nil
}

// Dimension returns the embedding width of the stored records
func (r *SupportRepo) Dimension(ctx context.Context) (int, error) {
	var dims int
	err := r.db.Pool.QueryRow(ctx, fmt.Sprintf(`SELECT vector_dims(embedding) FROM %s LIMIT 1`, r.table)).Scan(&dims)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	return dims, nil
}

// Ensure SupportRepo implements the interface
var _ repository.RecordRepository = (*SupportRepo)(nil)
