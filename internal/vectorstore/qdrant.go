package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/knoguchi/supportrag/internal/repository"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore implements repository.RecordRepository using Qdrant
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore creates a new Qdrant record store client
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantStore(ctx context.Context, url, collection string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	if collection == "" {
		collection = DefaultCollection
	}

	return &QdrantStore{client: client, collection: collection}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the collection with cosine distance if it does not exist
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// NearestNeighbors queries the closest points and returns them with their vectors,
// which the ranker needs to recompute similarity.
func (s *QdrantStore) NearestNeighbors(ctx context.Context, vector []float32, limit int) ([]repository.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	candidates := make([]repository.Candidate, 0, len(response))
	for _, point := range response {
		candidates = append(candidates, candidateFromPoint(point))
	}

	return candidates, nil
}

// candidateFromPoint maps a scored point and its payload back to a record.
// A point without an answer payload yields an empty Answer.
func candidateFromPoint(point *qdrant.ScoredPoint) repository.Candidate {
	rec := repository.SupportRecord{ID: point.GetId().GetUuid()}
	vec := point.GetVectors().GetVector()
	if dense := vec.GetDense(); dense != nil {
		rec.Embedding = dense.GetData()
	} else {
		// Older servers fill only the flat data field
		rec.Embedding = vec.GetData()
	}
	payload := point.GetPayload()
	if body, ok := payload[payloadBody]; ok {
		rec.Body = body.GetStringValue()
	}
	if answer, ok := payload[payloadAnswer]; ok {
		rec.Answer = answer.GetStringValue()
	}

	return repository.Candidate{
		Record:   rec,
		Distance: scoreToDistance(point.GetScore()),
	}
}

// Ping runs a Qdrant health check
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

// InsertBatch upserts records as points keyed by their UUID
func (s *QdrantStore) InsertBatch(ctx context.Context, records []repository.SupportRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		points[i] = pointFromRecord(rec)
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// Count returns the exact number of points in the collection
func (s *QdrantStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int64(n), nil
}

// Dimension returns the configured vector size of the collection, or 0 if it does not exist
func (s *QdrantStore) Dimension(ctx context.Context) (int, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return 0, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return 0, nil
	}

	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection info: %w", err)
	}
	return int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()), nil
}

// Ensure QdrantStore implements the record repository
var _ repository.RecordRepository = (*QdrantStore)(nil)

// pointFromRecord builds the point stored for rec. An empty answer is left
// out of the payload.
func pointFromRecord(rec repository.SupportRecord) *qdrant.PointStruct {
	payload := map[string]*qdrant.Value{
		payloadBody: qdrant.NewValueString(rec.Body),
	}
	if rec.Answer != "" {
		payload[payloadAnswer] = qdrant.NewValueString(rec.Answer)
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(rec.ID),
		Vectors: qdrant.NewVectors(rec.Embedding...),
		Payload: payload,
	}
}
