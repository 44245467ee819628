package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ConversationStore defines conversation-level storage operations.
// Implementations are not safe for concurrent mutation; a single foreground
// owner drives all writes (background workers operate on copied values).
type ConversationStore interface {
	// Insert persists a conversation together with its messages and
	// attachments.
	Insert(ctx context.Context, conv *ConversationRecord) error
	// Save updates a conversation's header fields (title, timestamps,
	// import source id).
	Save(ctx context.Context, conv *ConversationRecord) error
	// Delete removes a conversation and cascade-deletes its messages and
	// attachments.
	Delete(ctx context.Context, id uuid.UUID) error
	// GetByID returns a conversation with its messages and attachment
	// metadata loaded. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*ConversationRecord, error)
	// GetBySourceID returns the conversation with the given import source
	// id. Returns ErrNotFound if absent.
	GetBySourceID(ctx context.Context, sourceID string) (*ConversationRecord, error)
	// List returns conversation headers (no messages) with message and
	// attachment counts, most recently updated first.
	List(ctx context.Context) ([]*ConversationRecord, error)
	// Find returns the headers matching the given predicate, in List order.
	Find(ctx context.Context, pred func(*ConversationRecord) bool) ([]*ConversationRecord, error)
}

// MessageStore defines message-level storage operations.
type MessageStore interface {
	// InsertMessage persists a message (and its attachments) under
	// msg.ConversationID.
	InsertMessage(ctx context.Context, msg *MessageRecord) error
	// GetMessage returns a message with attachment metadata loaded.
	// Returns ErrNotFound if absent.
	GetMessage(ctx context.Context, id uuid.UUID) (*MessageRecord, error)
	// AddAttachment appends an attachment to an existing message.
	AddAttachment(ctx context.Context, att *AttachmentRecord) error
	// SetEmbedding stores a message's embedding vector and timestamp.
	SetEmbedding(ctx context.Context, id uuid.UUID, vec []float32) error
	// ListEmbedded returns every message carrying an embedding, joined
	// with its conversation title.
	ListEmbedded(ctx context.Context) ([]*EmbeddedMessage, error)
	// ListRecentEmbedded returns up to limit embedded messages of one
	// conversation, most recent first. A negative limit means no limit.
	ListRecentEmbedded(ctx context.Context, conversationID uuid.UUID, limit int) ([]*EmbeddedMessage, error)
}

// Store is the full storage surface consumed by the import pipeline.
type Store interface {
	ConversationStore
	MessageStore
	// Flush commits the pending write transaction. The import orchestrator
	// calls it after every batch to bound memory; it is a no-op when no
	// writes are pending.
	Flush(ctx context.Context) error
}
