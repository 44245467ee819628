package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"chatvault/internal/contextutil"
	"chatvault/internal/llm"
	"chatvault/internal/similarity"
	"chatvault/internal/store"
	"chatvault/internal/vectorstore"
)

// excerptChars caps the excerpt taken from a message that has no stored
// summary.
const excerptChars = 500

// Retriever assembles cross-conversation context for a prompt: it embeds the
// query, finds the most similar embedded messages outside the current
// conversation, and formats them into a labeled block.
type Retriever struct {
	store    store.Store
	embedder llm.Embedder
	index    vectorstore.VectorIndex
	floor    float64
	topK     int
	flatten  *flattener
}

// NewRetriever creates a Retriever. floor defaults to 0.3 and topK to 5 when
// non-positive values are given.
func NewRetriever(st store.Store, embedder llm.Embedder, index vectorstore.VectorIndex, floor float64, topK int) *Retriever {
	if floor <= 0 {
		floor = 0.3
	}
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{
		store:    st,
		embedder: embedder,
		index:    index,
		floor:    floor,
		topK:     topK,
		flatten:  newFlattener(),
	}
}

// Retrieve returns context for the query. A blank query or a corpus with
// nothing above the similarity floor yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, req ContextRequest) (*ContextResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if strings.TrimSpace(req.Query) == "" {
		return &ContextResult{}, nil
	}

	vectors, err := r.embedder.EmbedTexts(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	queryVec := vectors[0]

	snippets, err := r.fromIndex(ctx, queryVec, req.ConversationID)
	if err != nil {
		// The mirror index is best-effort; the store scan is authoritative.
		logger.WarnContext(ctx, "mirror index search failed, falling back to store scan", "error", err)
		snippets = nil
	}
	if snippets == nil {
		snippets, err = r.fromStore(ctx, queryVec, req.ConversationID)
		if err != nil {
			return nil, err
		}
	}

	logger.InfoContext(ctx, "context retrieval completed",
		"conversation", req.ConversationID, "snippets", len(snippets))

	return &ContextResult{
		Snippets: snippets,
		Block:    r.formatBlock(snippets),
	}, nil
}

// fromIndex resolves hits from the mirror index into snippets. A nil, nil
// return means the index produced nothing usable and the store scan should
// run instead.
func (r *Retriever) fromIndex(ctx context.Context, queryVec []float32, exclude uuid.UUID) ([]Snippet, error) {
	hits, err := r.index.Search(ctx, queryVec, r.topK, exclude.String())
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	logger := contextutil.LoggerFromContext(ctx)

	titles, err := r.conversationTitles(ctx)
	if err != nil {
		return nil, err
	}

	snippets := make([]Snippet, 0, len(hits))
	for _, hit := range hits {
		if float64(hit.Score) < r.floor {
			continue
		}
		msgID, err := uuid.Parse(hit.PointID)
		if err != nil {
			logger.WarnContext(ctx, "mirror index returned malformed point id", "point_id", hit.PointID)
			continue
		}
		msg, err := r.store.GetMessage(ctx, msgID)
		if err == store.ErrNotFound {
			// A stale point whose record was deleted.
			continue
		}
		if err != nil {
			return nil, err
		}
		if msg.ConversationID == exclude {
			continue
		}
		snippets = append(snippets, Snippet{
			MessageID:         msg.ID,
			ConversationID:    msg.ConversationID,
			ConversationTitle: titles[msg.ConversationID],
			Role:              msg.Role,
			Text:              r.snippetText(msg.Text, msg.Summary),
			Similarity:        float64(hit.Score),
			CreatedAt:         msg.CreatedAt,
		})
	}
	if len(snippets) == 0 {
		return nil, nil
	}
	return snippets, nil
}

// fromStore scans every embedded message and scores it against the query.
func (r *Retriever) fromStore(ctx context.Context, queryVec []float32, exclude uuid.UUID) ([]Snippet, error) {
	embedded, err := r.store.ListEmbedded(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded messages: %w", err)
	}

	snippets := make([]Snippet, 0, r.topK)
	for _, em := range embedded {
		if em.ConversationID == exclude {
			continue
		}
		sim := similarity.Cosine(queryVec, em.Embedding)
		if sim < r.floor {
			continue
		}
		snippets = append(snippets, Snippet{
			MessageID:         em.MessageID,
			ConversationID:    em.ConversationID,
			ConversationTitle: em.ConversationTitle,
			Role:              em.Role,
			Text:              r.snippetText(em.Text, em.Summary),
			Similarity:        sim,
			CreatedAt:         em.CreatedAt,
		})
	}

	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].Similarity > snippets[j].Similarity
	})
	if len(snippets) > r.topK {
		snippets = snippets[:r.topK]
	}
	return snippets, nil
}

// snippetText prefers the stored summary; without one it flattens the
// message body and truncates it to excerpt length.
func (r *Retriever) snippetText(text, summary string) string {
	if strings.TrimSpace(summary) != "" {
		return summary
	}
	return llm.Truncate(r.flatten.Flatten(text), excerptChars)
}

// conversationTitles loads a conversation id to title map from the headers.
func (r *Retriever) conversationTitles(ctx context.Context) (map[uuid.UUID]string, error) {
	convs, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	titles := make(map[uuid.UUID]string, len(convs))
	for _, conv := range convs {
		titles[conv.ID] = conv.Title
	}
	return titles, nil
}

// formatBlock renders snippets into the block prepended to a prompt.
func (r *Retriever) formatBlock(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("--- Context from past conversations ---\n\n")
	for _, sn := range snippets {
		fmt.Fprintf(&b, "[Conversation: %s] (%s)\n", sn.ConversationTitle, sn.Role)
		b.WriteString(sn.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("--- End context ---")
	return b.String()
}
