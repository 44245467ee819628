// Package importer ingests exported chat archives: it parses the export
// document, linearizes each conversation's branching node tree, resolves
// image assets, deduplicates against the store, and persists the result.
package importer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExportedConversation is one conversation in an export document.
type ExportedConversation struct {
	Title      string                `json:"title"`
	CreateTime float64               `json:"create_time"` // seconds since epoch
	UpdateTime float64               `json:"update_time"`
	Mapping    map[string]ExportNode `json:"mapping"`
}

// ExportNode is one node of a conversation's branching tree. Children are
// ordered; the first child is the accepted branch, siblings are abandoned
// edits or regenerations.
type ExportNode struct {
	ID       string         `json:"id"`
	Message  *ExportMessage `json:"message"`
	Parent   *string        `json:"parent"`
	Children []string       `json:"children"`
}

// ExportMessage is the message payload of a node.
type ExportMessage struct {
	Author     ExportAuthor   `json:"author"`
	CreateTime *float64       `json:"create_time"`
	Content    ExportContent  `json:"content"`
	Metadata   ExportMetadata `json:"metadata"`
}

// ExportAuthor carries the message's role string.
type ExportAuthor struct {
	Role string `json:"role"`
}

// ExportContent holds the ordered message parts. A part is either a plain
// JSON string or an object carrying an asset pointer; see decodePart.
type ExportContent struct {
	ContentType string            `json:"content_type"`
	Parts       []json.RawMessage `json:"parts"`
}

// ExportMetadata carries the per-message flags this pipeline reads.
type ExportMetadata struct {
	Hidden bool `json:"is_visually_hidden_from_conversation"`
}

// ExtractedMessage is the transient output of the path extractor: one
// linearized message of the main branch. It is consumed once per import and
// then discarded.
type ExtractedMessage struct {
	NodeID     string
	Role       string
	Text       string
	ImageRefs  []string
	CreateTime *time.Time
}

// Phase identifies the import orchestrator's current stage.
type Phase string

// Import phases, in order.
const (
	PhaseParsing   Phase = "parsing"
	PhaseImporting Phase = "importing"
	PhaseEmbedding Phase = "embedding"
	PhaseComplete  Phase = "complete"
)

// Progress is reported after each conversation. Given deterministic input
// ordering the sequence of Progress values is deterministic.
type Progress struct {
	Phase        Phase
	Total        int
	Processed    int
	CurrentTitle string
}

// ProgressFunc observes import progress. May be nil.
type ProgressFunc func(Progress)

// Result summarizes an import run. It is always produced, even when some
// conversations failed; per-item failures land in Errors with the
// conversation's title for context.
type Result struct {
	ConversationsImported int      `json:"conversations_imported"`
	ConversationsUpdated  int      `json:"conversations_updated"`
	ConversationsSkipped  int      `json:"conversations_skipped"` // already present
	ConversationsEmpty    int      `json:"conversations_empty"`   // nothing extractable
	MessagesImported      int      `json:"messages_imported"`
	MessagesUpdated       int      `json:"messages_updated"`
	ImagesImported        int      `json:"images_imported"`
	AttachmentMisses      int      `json:"attachment_misses"` // unresolved asset references
	Errors                []string `json:"errors,omitempty"`

	// QueuedMessageIDs are newly imported assistant messages with non-empty
	// text, pending background embedding.
	QueuedMessageIDs []uuid.UUID `json:"-"`
}
