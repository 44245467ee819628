package store

import (
	"time"

	"github.com/google/uuid"
)

// Attachment kinds.
const (
	AttachmentKindImage    = "image"
	AttachmentKindDocument = "document"
)

// ConversationRecord represents a stored conversation.
// ImportSourceID, once set, is never cleared: re-imports that land on the
// same source id update the existing record instead of creating a new one.
type ConversationRecord struct {
	ID             uuid.UUID
	Title          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ImportSourceID string // empty for conversations created interactively

	// Messages is populated by GetByID, not by List/Find.
	Messages []*MessageRecord

	// MessageCount and AttachmentCount are populated by List/Find only.
	MessageCount    int
	AttachmentCount int
}

// MessageRecord represents a single message within a conversation.
// Text and CreatedAt are never touched once imported; re-imports may only
// add missing attachments.
type MessageRecord struct {
	ID              uuid.UUID
	ConversationID  uuid.UUID
	Position        int // order within the conversation, starts at 0
	Role            string
	Text            string
	CreatedAt       time.Time
	ImportMessageID string // external node id, used for message-level dedup
	Summary         string // optional stored summary, preferred over excerpts

	Embedding  []float32  // nil until the background scheduler fills it
	EmbeddedAt *time.Time // set together with Embedding

	Attachments []*AttachmentRecord
}

// AttachmentRecord represents a binary asset owned by a message.
// Size validation happens at ingestion and is not re-checked here.
type AttachmentRecord struct {
	ID        uuid.UUID
	MessageID uuid.UUID
	Kind      string
	MIMEType  string
	Filename  string
	Data      []byte
}

// EmbeddedMessage is a read-model row for similarity scans: a message that
// carries an embedding, joined with its conversation's title. Values are
// plain copies safe to hand to background workers.
type EmbeddedMessage struct {
	MessageID         uuid.UUID
	ConversationID    uuid.UUID
	ConversationTitle string
	Role              string
	Text              string
	Summary           string
	CreatedAt         time.Time
	Embedding         []float32
}
