// Package sqlite implements a single-file record store for local development.
// It has no vector index: nearest neighbors are found by scanning every record.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/knoguchi/supportrag/internal/repository"
	_ "modernc.org/sqlite"
)

// Store implements repository.RecordRepository on SQLite
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS support_bodies (
		id        TEXT PRIMARY KEY,
		body      TEXT NOT NULL,
		embedding TEXT NOT NULL,
		answer    TEXT
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create support_bodies table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// NearestNeighbors ranks every stored record by Euclidean distance.
// Records whose embedding width differs from vector are skipped.
func (s *Store) NearestNeighbors(ctx context.Context, vector []float32, limit int) ([]repository.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, body, embedding, answer FROM support_bodies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query support records: %w", err)
	}
	defer rows.Close()

	var candidates []repository.Candidate
	for rows.Next() {
		var (
			rec     repository.SupportRecord
			vecJSON string
			answer  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Body, &vecJSON, &answer); err != nil {
			return nil, fmt.Errorf("failed to scan support record: %w", err)
		}
		if err := json.Unmarshal([]byte(vecJSON), &rec.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding of %s: %w", rec.ID, err)
		}
		if len(rec.Embedding) != len(vector) {
			continue
		}
		rec.Answer = answer.String
		candidates = append(candidates, repository.Candidate{
			Record:   rec,
			Distance: euclidean(vector, rec.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read support records: %w", err)
	}

	// Rows come out in id order, so equal distances break ties deterministically
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// Ping reports whether the database file is usable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertBatch inserts records inside one transaction
func (s *Store) InsertBatch(ctx context.Context, records []repository.SupportRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		vecJSON, err := json.Marshal(rec.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}
		var answer sql.NullString
		if rec.Answer != "" {
			answer = sql.NullString{String: rec.Answer, Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO support_bodies (id, body, embedding, answer) VALUES (?, ?, ?, ?)`,
			rec.ID, rec.Body, string(vecJSON), answer)
		if err != nil {
			return fmt.Errorf("failed to insert support record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit support records: %w", err)
	}
	return nil
}

// Count returns the number of stored records
func (s *Store) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM support_bodies`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count support records: %w", err)
	}
	return total, nil
}

// Dimension returns the embedding width of the first stored record
func (s *Store) Dimension(ctx context.Context) (int, error) {
	var vecJSON string
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM support_bodies LIMIT 1`).Scan(&vecJSON)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
		return 0, fmt.Errorf("failed to decode embedding: %w", err)
	}
	return len(vec), nil
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

var _ repository.RecordRepository = (*Store)(nil)
