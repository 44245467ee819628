package vectorstore

import "context"

// NoopIndex is the default VectorIndex when no Qdrant mirror is configured.
// Upserts and deletes succeed without effect; searches return nothing, which
// callers treat as "fall back to the in-process scan".
type NoopIndex struct{}

// NewNoopIndex creates a NoopIndex.
func NewNoopIndex() *NoopIndex {
	return &NoopIndex{}
}

// Upsert implements VectorIndex.
func (*NoopIndex) Upsert(ctx context.Context, points []Point) error {
	return nil
}

// Search implements VectorIndex.
func (*NoopIndex) Search(ctx context.Context, query []float32, k int, excludeConversationID string) ([]SearchResult, error) {
	return nil, nil
}

// Delete implements VectorIndex.
func (*NoopIndex) Delete(ctx context.Context, ids []string) error {
	return nil
}
