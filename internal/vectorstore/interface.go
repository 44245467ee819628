package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_index.go -package=mocks chatvault/internal/vectorstore VectorIndex

import "context"

// Point represents a message embedding with its payload metadata.
type Point struct {
	ID   string
	Vec  []float32
	Meta map[string]any
}

// SearchResult represents a single hit from a similarity search.
type SearchResult struct {
	PointID string
	Score   float32
	Meta    map[string]any
}

// VectorIndex is an optional mirror of the message embedding store. The
// background scheduler upserts points as it embeds, maintenance deletes them
// with their records, and message-level retrieval searches through the index
// when one is configured.
type VectorIndex interface {
	// Upsert inserts or updates points in the index.
	Upsert(ctx context.Context, points []Point) error

	// Search returns the k nearest points. excludeConversationID, if
	// non-empty, filters out points of that conversation.
	Search(ctx context.Context, query []float32, k int, excludeConversationID string) ([]SearchResult, error)

	// Delete removes points by their IDs.
	Delete(ctx context.Context, ids []string) error
}
