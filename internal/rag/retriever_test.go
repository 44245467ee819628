package rag

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"chatvault/internal/llm/mocks"
	"chatvault/internal/store"
	"chatvault/internal/vectorstore"
	vectorstoremocks "chatvault/internal/vectorstore/mocks"
)

func newTestStore(t *testing.T) *store.SQLite {
	t.Helper()

	db, err := store.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err := store.Migrate(db); err != nil {
		t.Fatalf("store.Migrate() error = %v", err)
	}
	return store.NewSQLite(db)
}

// seedEmbedded inserts a one-message conversation whose embedding is the
// given vector, and returns the conversation id.
func seedEmbedded(t *testing.T, st *store.SQLite, title, text, summary string, vec []float32) uuid.UUID {
	t.Helper()

	base := time.Unix(1700000000, 0).UTC()
	msg := &store.MessageRecord{
		ID:        uuid.New(),
		Position:  0,
		Role:      "assistant",
		Text:      text,
		Summary:   summary,
		CreatedAt: base,
	}
	conv := &store.ConversationRecord{
		ID: uuid.New(), Title: title, CreatedAt: base, UpdatedAt: base,
		Messages: []*store.MessageRecord{msg},
	}
	ctx := context.Background()
	if err := st.Insert(ctx, conv); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := st.SetEmbedding(ctx, msg.ID, vec); err != nil {
		t.Fatalf("SetEmbedding() error = %v", err)
	}
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	return conv.ID
}

func queryEmbedder(t *testing.T, vec []float32) *mocks.MockEmbedder {
	t.Helper()
	ctrl := gomock.NewController(t)
	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).
		Return([][]float32{vec}, nil).AnyTimes()
	return embedder
}

func TestRetriever_Retrieve_OrdersAndFilters(t *testing.T) {
	st := newTestStore(t)

	// Against query vector (1, 0): strong 1.0, weak ~0.707, noise 0.0.
	strong := seedEmbedded(t, st, "Strong match", "about the exact topic", "", []float32{1, 0})
	seedEmbedded(t, st, "Weak match", "loosely related", "", []float32{1, 1})
	seedEmbedded(t, st, "Noise", "unrelated chatter", "", []float32{0, 1})

	r := NewRetriever(st, queryEmbedder(t, []float32{1, 0}), vectorstore.NewNoopIndex(), 0.3, 5)
	result, err := r.Retrieve(context.Background(), ContextRequest{
		ConversationID: uuid.New(),
		Query:          "the exact topic",
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(result.Snippets) != 2 {
		t.Fatalf("Retrieve() returned %d snippets, want 2 above the floor", len(result.Snippets))
	}
	if result.Snippets[0].ConversationID != strong {
		t.Errorf("first snippet from %v, want the strongest match", result.Snippets[0].ConversationID)
	}
	for i := 1; i < len(result.Snippets); i++ {
		if result.Snippets[i].Similarity > result.Snippets[i-1].Similarity {
			t.Error("snippets not in non-increasing similarity order")
		}
	}
	if !strings.Contains(result.Block, "Strong match") {
		t.Errorf("block %q missing conversation title", result.Block)
	}
}

func TestRetriever_Retrieve_ExcludesCurrentConversation(t *testing.T) {
	st := newTestStore(t)

	current := seedEmbedded(t, st, "Current", "the topic itself", "", []float32{1, 0})
	other := seedEmbedded(t, st, "Other", "also about the topic", "", []float32{1, 0})

	r := NewRetriever(st, queryEmbedder(t, []float32{1, 0}), vectorstore.NewNoopIndex(), 0.3, 5)
	result, err := r.Retrieve(context.Background(), ContextRequest{
		ConversationID: current,
		Query:          "topic",
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(result.Snippets) != 1 || result.Snippets[0].ConversationID != other {
		t.Errorf("Retrieve() = %v, want only the other conversation", result.Snippets)
	}
}

func TestRetriever_Retrieve_TopKLimit(t *testing.T) {
	st := newTestStore(t)
	for i := 0; i < 8; i++ {
		seedEmbedded(t, st, "Chat", "text", "", []float32{1, 0})
	}

	r := NewRetriever(st, queryEmbedder(t, []float32{1, 0}), vectorstore.NewNoopIndex(), 0.3, 5)
	result, err := r.Retrieve(context.Background(), ContextRequest{ConversationID: uuid.New(), Query: "q"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(result.Snippets) != 5 {
		t.Errorf("Retrieve() returned %d snippets, want capped at 5", len(result.Snippets))
	}
}

func TestRetriever_Retrieve_PrefersSummary(t *testing.T) {
	st := newTestStore(t)
	seedEmbedded(t, st, "Summarized", "# Long markdown body\n\nwith **details**", "short summary", []float32{1, 0})

	r := NewRetriever(st, queryEmbedder(t, []float32{1, 0}), vectorstore.NewNoopIndex(), 0.3, 5)
	result, err := r.Retrieve(context.Background(), ContextRequest{ConversationID: uuid.New(), Query: "q"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(result.Snippets) != 1 || result.Snippets[0].Text != "short summary" {
		t.Errorf("Retrieve() text = %q, want the stored summary", result.Snippets[0].Text)
	}
}

func TestRetriever_Retrieve_FlattensExcerpt(t *testing.T) {
	st := newTestStore(t)
	seedEmbedded(t, st, "Markdown", "Some **bold** claim", "", []float32{1, 0})

	r := NewRetriever(st, queryEmbedder(t, []float32{1, 0}), vectorstore.NewNoopIndex(), 0.3, 5)
	result, err := r.Retrieve(context.Background(), ContextRequest{ConversationID: uuid.New(), Query: "q"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(result.Snippets) != 1 {
		t.Fatalf("Retrieve() returned %d snippets, want 1", len(result.Snippets))
	}
	if got := result.Snippets[0].Text; got != "Some bold claim" {
		t.Errorf("Retrieve() excerpt = %q, want markdown flattened", got)
	}
}

func TestRetriever_Retrieve_BlankQuery(t *testing.T) {
	st := newTestStore(t)

	ctrl := gomock.NewController(t)
	embedder := mocks.NewMockEmbedder(ctrl)
	// Never called for a blank query.

	r := NewRetriever(st, embedder, vectorstore.NewNoopIndex(), 0.3, 5)
	result, err := r.Retrieve(context.Background(), ContextRequest{ConversationID: uuid.New(), Query: "  "})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(result.Snippets) != 0 || result.Block != "" {
		t.Errorf("Retrieve(blank) = %+v, want empty result", result)
	}
}

func TestRetriever_Retrieve_EmptyCorpus(t *testing.T) {
	st := newTestStore(t)

	r := NewRetriever(st, queryEmbedder(t, []float32{1, 0}), vectorstore.NewNoopIndex(), 0.3, 5)
	result, err := r.Retrieve(context.Background(), ContextRequest{ConversationID: uuid.New(), Query: "anything"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(result.Snippets) != 0 || result.Block != "" {
		t.Errorf("Retrieve() on empty corpus = %+v, want empty result", result)
	}
}

func TestRetriever_Retrieve_UsesMirrorIndexHits(t *testing.T) {
	st := newTestStore(t)
	convID := seedEmbedded(t, st, "Indexed", "index-served text", "", []float32{1, 0})

	conv, err := st.GetByID(context.Background(), convID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	msgID := conv.Messages[0].ID

	ctrl := gomock.NewController(t)
	index := newMockIndexWithHit(ctrl, msgID.String(), 0.9)

	r := NewRetriever(st, queryEmbedder(t, []float32{1, 0}), index, 0.3, 5)
	result, err := r.Retrieve(context.Background(), ContextRequest{ConversationID: uuid.New(), Query: "q"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(result.Snippets) != 1 || result.Snippets[0].MessageID != msgID {
		t.Fatalf("Retrieve() = %v, want the index hit resolved", result.Snippets)
	}
	if result.Snippets[0].ConversationTitle != "Indexed" {
		t.Errorf("snippet title = %q, want resolved from the store", result.Snippets[0].ConversationTitle)
	}
}

func newMockIndexWithHit(ctrl *gomock.Controller, pointID string, score float32) vectorstore.VectorIndex {
	index := vectorstoremocks.NewMockVectorIndex(ctrl)
	index.EXPECT().Search(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]vectorstore.SearchResult{{PointID: pointID, Score: score}}, nil)
	return index
}
