// Package repository defines the support record model and the record store contracts.
package repository

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the record store cannot be reached or did not answer in time
var ErrUnavailable = errors.New("record store unavailable")

// SupportRecord is a historical support ticket with its embedding.
// Records are written once by ingestion and never modified by the search path.
type SupportRecord struct {
	ID        string
	Body      string
	Embedding []float32
	Answer    string // empty when the ticket was ingested without an answer
}

// Candidate is a record returned by a nearest-neighbor query together with
// the store-native distance (smaller is closer).
type Candidate struct {
	Record   SupportRecord
	Distance float64
}

// RecordStore is the read side used by the search pipeline
type RecordStore interface {
	// NearestNeighbors returns up to limit records ordered ascending by the
	// store's native distance to vector.
	NearestNeighbors(ctx context.Context, vector []float32, limit int) ([]Candidate, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// RecordWriter is the write side used by ingestion
type RecordWriter interface {
	InsertBatch(ctx context.Context, records []SupportRecord) error
}

// RecordRepository is implemented by every record store backend
type RecordRepository interface {
	RecordStore
	RecordWriter

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// Dimension returns the embedding width of stored records, or 0 when the
	// store holds no records yet.
	Dimension(ctx context.Context) (int, error)
}
