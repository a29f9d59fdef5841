// Package vectorstore provides a Qdrant-backed record store for support tickets.
package vectorstore

// Payload fields stored with every point
const (
	payloadBody   = "body"
	payloadAnswer = "answer"
)

// DefaultCollection is the collection ingestion writes support tickets to
const DefaultCollection = "support_bodies"

// scoreToDistance converts a cosine score (larger is closer) into a distance
// (smaller is closer) so candidates keep the ascending-distance contract.
func scoreToDistance(score float32) float64 {
	return 1 - float64(score)
}
