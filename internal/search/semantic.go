package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatvault/internal/contextutil"
	"chatvault/internal/llm"
	"chatvault/internal/similarity"
	"chatvault/internal/store"
)

// Match is one conversation hit, scored by its best single message.
type Match struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Title          string    `json:"title"`
	Similarity     float64   `json:"similarity"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Searcher ranks conversations against a typed query. Queries arrive on
// every keystroke, so each call debounces briefly and cancels the previous
// in-flight search before doing any work.
type Searcher struct {
	store    store.Store
	embedder llm.Embedder
	floor    float64
	topK     int
	convCap  int
	msgCap   int
	debounce time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a Searcher. Non-positive tunables fall back to defaults:
// floor 0.5, topK 10, convCap 200, msgCap 10, debounce 250ms.
func New(st store.Store, embedder llm.Embedder, floor float64, topK, convCap, msgCap int, debounce time.Duration) *Searcher {
	if floor <= 0 {
		floor = 0.5
	}
	if topK <= 0 {
		topK = 10
	}
	if convCap <= 0 {
		convCap = 200
	}
	if msgCap <= 0 {
		msgCap = 10
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Searcher{
		store:    st,
		embedder: embedder,
		floor:    floor,
		topK:     topK,
		convCap:  convCap,
		msgCap:   msgCap,
		debounce: debounce,
	}
}

// Search returns the best-matching conversations for the query, highest
// similarity first, ties broken by recency. A superseded call returns
// context.Canceled; a blank query returns no matches.
func (s *Searcher) Search(ctx context.Context, query string) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	// Wait out the debounce window; a newer query lands here as ctx.Done.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.debounce):
	}

	return s.search(ctx, query)
}

func (s *Searcher) search(ctx context.Context, query string) ([]Match, error) {
	logger := contextutil.LoggerFromContext(ctx)

	vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	queryVec := vectors[0]

	convs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	// List is most recently updated first; the cap keeps keystroke-rate
	// queries cheap on large corpora.
	if len(convs) > s.convCap {
		convs = convs[:s.convCap]
	}

	var matches []Match
	for _, conv := range convs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		embedded, err := s.store.ListRecentEmbedded(ctx, conv.ID, s.msgCap)
		if err != nil {
			return nil, fmt.Errorf("failed to load embedded messages for %s: %w", conv.ID, err)
		}

		// A conversation scores as its single most similar recent message.
		best := 0.0
		for _, em := range embedded {
			if sim := similarity.Cosine(queryVec, em.Embedding); sim > best {
				best = sim
			}
		}
		if best < s.floor {
			continue
		}
		matches = append(matches, Match{
			ConversationID: conv.ID,
			Title:          conv.Title,
			Similarity:     best,
			UpdatedAt:      conv.UpdatedAt,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
	})
	if len(matches) > s.topK {
		matches = matches[:s.topK]
	}

	logger.InfoContext(ctx, "semantic search completed", "matches", len(matches))
	return matches, nil
}
