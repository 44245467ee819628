package rag

import (
	"time"

	"github.com/google/uuid"
)

// ContextRequest asks for past-conversation context relevant to a query
// typed inside ConversationID. The conversation itself is never part of the
// result; its recent turns are already in the prompt.
type ContextRequest struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Query          string    `json:"query"`
}

// Snippet is one retrieved message, scored against the query.
type Snippet struct {
	MessageID         uuid.UUID `json:"message_id"`
	ConversationID    uuid.UUID `json:"conversation_id"`
	ConversationTitle string    `json:"conversation_title"`
	Role              string    `json:"role"`
	Text              string    `json:"text"`
	Similarity        float64   `json:"similarity"`
	CreatedAt         time.Time `json:"created_at"`
}

// ContextResult is the retrieval outcome: the scored snippets, highest first,
// and the formatted block ready to prepend to a prompt. Both are empty when
// nothing clears the similarity floor.
type ContextResult struct {
	Snippets []Snippet `json:"snippets"`
	Block    string    `json:"block"`
}
