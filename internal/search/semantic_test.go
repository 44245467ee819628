package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"chatvault/internal/llm/mocks"
	"chatvault/internal/store"
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

// seedConversation inserts a conversation whose messages carry the given
// embeddings, updated at the given time.
func seedConversation(t *testing.T, st *store.SQLite, title string, updatedAt time.Time, vectors ...[]float32) uuid.UUID {
	t.Helper()

	conv := &store.ConversationRecord{
		ID: uuid.New(), Title: title, CreatedAt: updatedAt, UpdatedAt: updatedAt,
	}
	for i := range vectors {
		conv.Messages = append(conv.Messages, &store.MessageRecord{
			ID:        uuid.New(),
			Position:  i,
			Role:      "assistant",
			Text:      "text",
			CreatedAt: updatedAt.Add(time.Duration(i) * time.Second),
		})
	}
	ctx := context.Background()
	if err := st.Insert(ctx, conv); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	for i, vec := range vectors {
		if err := st.SetEmbedding(ctx, conv.Messages[i].ID, vec); err != nil {
			t.Fatalf("SetEmbedding() error = %v", err)
		}
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

func TestSearcher_Search_RanksByBestMessage(t *testing.T) {
	st := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()

	// One strong message outranks several mediocre ones.
	strong := seedConversation(t, st, "Strong", base,
		[]float32{0, 1}, []float32{1, 0})
	mid := seedConversation(t, st, "Mid", base.Add(time.Minute),
		[]float32{0.8, 0.6})
	seedConversation(t, st, "Below floor", base.Add(2*time.Minute),
		[]float32{0, 1})

	s := New(st, queryEmbedder(t, []float32{1, 0}), 0.5, 10, 200, 10, time.Millisecond)
	matches, err := s.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(matches) != 2 {
		t.Fatalf("Search() returned %d matches, want 2 above the floor", len(matches))
	}
	if matches[0].ConversationID != strong || matches[1].ConversationID != mid {
		t.Errorf("Search() order = %v, %v; want strong then mid", matches[0].Title, matches[1].Title)
	}
	if matches[0].Similarity <= matches[1].Similarity {
		t.Errorf("similarities = %v, %v; want descending", matches[0].Similarity, matches[1].Similarity)
	}
}

func TestSearcher_Search_BreaksTiesByRecency(t *testing.T) {
	st := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()

	seedConversation(t, st, "Older", base, []float32{1, 0})
	newer := seedConversation(t, st, "Newer", base.Add(time.Hour), []float32{1, 0})

	s := New(st, queryEmbedder(t, []float32{1, 0}), 0.5, 10, 200, 10, time.Millisecond)
	matches, err := s.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(matches) != 2 || matches[0].ConversationID != newer {
		t.Errorf("Search() = %v, want the newer conversation first on a tie", matches)
	}
}

func TestSearcher_Search_TopKLimit(t *testing.T) {
	st := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 5; i++ {
		seedConversation(t, st, "Chat", base.Add(time.Duration(i)*time.Minute), []float32{1, 0})
	}

	s := New(st, queryEmbedder(t, []float32{1, 0}), 0.5, 3, 200, 10, time.Millisecond)
	matches, err := s.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 3 {
		t.Errorf("Search() returned %d matches, want capped at 3", len(matches))
	}
}

func TestSearcher_Search_BlankQuery(t *testing.T) {
	st := newTestStore(t)

	ctrl := gomock.NewController(t)
	embedder := mocks.NewMockEmbedder(ctrl)
	// Never called for a blank query.

	s := New(st, embedder, 0.5, 10, 200, 10, time.Millisecond)
	matches, err := s.Search(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if matches != nil {
		t.Errorf("Search(blank) = %v, want nil", matches)
	}
}

func TestSearcher_Search_SkipsUnembeddedConversations(t *testing.T) {
	st := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()

	// No embeddings at all: the message exists but never scores.
	conv := &store.ConversationRecord{
		ID: uuid.New(), Title: "Unembedded", CreatedAt: base, UpdatedAt: base,
		Messages: []*store.MessageRecord{{
			ID: uuid.New(), Role: "assistant", Text: "text", CreatedAt: base,
		}},
	}
	if err := st.Insert(context.Background(), conv); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := st.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	s := New(st, queryEmbedder(t, []float32{1, 0}), 0.5, 10, 200, 10, time.Millisecond)
	matches, err := s.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Search() = %v, want no matches", matches)
	}
}

func TestSearcher_Search_SupersededCallReturnsCanceled(t *testing.T) {
	st := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	seedConversation(t, st, "Chat", base, []float32{1, 0})

	s := New(st, queryEmbedder(t, []float32{1, 0}), 0.5, 10, 200, 10, 200*time.Millisecond)

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Search(context.Background(), "first keystroke")
		firstErr <- err
	}()

	// Give the first call time to register its cancel func, then supersede it.
	time.Sleep(50 * time.Millisecond)
	matches, err := s.Search(context.Background(), "second keystroke")
	if err != nil {
		t.Fatalf("second Search() error = %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("second Search() returned %d matches, want 1", len(matches))
	}

	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("first Search() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the superseded search to return")
	}
}
