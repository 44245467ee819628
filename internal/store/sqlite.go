package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// New opens a SQLite database connection at the given path.
// It enables foreign keys and sets connection pool settings.
func New(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys (disabled by default in SQLite)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}

	// A single foreground owner drives all writes; one connection keeps the
	// pending import transaction visible to reads issued during the run.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate runs database migrations to create the required tables.
// It is idempotent and can be run multiple times safely.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			import_source_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_source
			ON conversations(import_source_id) WHERE import_source_id != '';`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			import_message_id TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			embedded_at INTEGER,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, position);`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			filename TEXT NOT NULL DEFAULT '',
			data BLOB,
			FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite implements Store on a SQLite database.
// Writes accumulate in a lazily begun transaction committed by Flush, so the
// import orchestrator can bound memory by flushing after each batch.
//
// A single foreground sequence owns all record mutation; the mutex only
// serializes the background embedding scheduler's writes against it.
type SQLite struct {
	db *sql.DB

	mu sync.Mutex
	tx *sql.Tx
}

// NewSQLite creates a Store backed by the given database handle.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// h returns the active transaction if one is open, else the raw handle.
func (s *SQLite) h() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// writer returns the active transaction, beginning one if needed.
func (s *SQLite) writer(ctx context.Context) (querier, error) {
	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		s.tx = tx
	}
	return s.tx, nil
}

// Flush commits the pending write transaction, if any.
func (s *SQLite) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Insert persists a conversation together with its messages and attachments.
func (s *SQLite) Insert(ctx context.Context, conv *ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.writer(ctx)
	if err != nil {
		return err
	}
	_, err = w.ExecContext(ctx,
		"INSERT INTO conversations (id, title, created_at, updated_at, import_source_id) VALUES (?, ?, ?, ?, ?)",
		conv.ID.String(), conv.Title, conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(), conv.ImportSourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	for _, msg := range conv.Messages {
		msg.ConversationID = conv.ID
		if err := s.insertMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Save updates a conversation's header fields.
func (s *SQLite) Save(ctx context.Context, conv *ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.writer(ctx)
	if err != nil {
		return err
	}
	res, err := w.ExecContext(ctx,
		"UPDATE conversations SET title = ?, created_at = ?, updated_at = ?, import_source_id = ? WHERE id = ?",
		conv.Title, conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(), conv.ImportSourceID, conv.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a conversation; messages and attachments cascade.
func (s *SQLite) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.writer(ctx)
	if err != nil {
		return err
	}
	if _, err := w.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id.String()); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// GetByID returns a conversation with messages and attachment metadata.
func (s *SQLite) GetByID(ctx context.Context, id uuid.UUID) (*ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.scanConversation(ctx, "WHERE id = ?", id.String())
	if err != nil {
		return nil, err
	}
	if err := s.loadMessages(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetBySourceID returns the conversation carrying the given import source id.
func (s *SQLite) GetBySourceID(ctx context.Context, sourceID string) (*ConversationRecord, error) {
	if sourceID == "" {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.scanConversation(ctx, "WHERE import_source_id = ?", sourceID)
	if err != nil {
		return nil, err
	}
	if err := s.loadMessages(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *SQLite) scanConversation(ctx context.Context, where string, args ...any) (*ConversationRecord, error) {
	var (
		conv                 ConversationRecord
		idStr                string
		createdAt, updatedAt int64
	)
	query := "SELECT id, title, created_at, updated_at, import_source_id FROM conversations " + where
	err := s.h().QueryRowContext(ctx, query, args...).
		Scan(&idStr, &conv.Title, &createdAt, &updatedAt, &conv.ImportSourceID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	conv.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id %q: %w", idStr, err)
	}
	conv.CreatedAt = time.Unix(createdAt, 0).UTC()
	conv.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &conv, nil
}

func (s *SQLite) loadMessages(ctx context.Context, conv *ConversationRecord) error {
	rows, err := s.h().QueryContext(ctx,
		`SELECT id, position, role, text, created_at, import_message_id, summary, embedding, embedded_at
		 FROM messages WHERE conversation_id = ? ORDER BY position`,
		conv.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	byID := make(map[uuid.UUID]*MessageRecord)
	for rows.Next() {
		var (
			msg        MessageRecord
			idStr      string
			createdAt  int64
			blob       []byte
			embeddedAt sql.NullInt64
		)
		if err := rows.Scan(&idStr, &msg.Position, &msg.Role, &msg.Text, &createdAt,
			&msg.ImportMessageID, &msg.Summary, &blob, &embeddedAt); err != nil {
			return fmt.Errorf("failed to scan message: %w", err)
		}
		msg.ID, err = uuid.Parse(idStr)
		if err != nil {
			return fmt.Errorf("invalid message id %q: %w", idStr, err)
		}
		msg.ConversationID = conv.ID
		msg.CreatedAt = time.Unix(createdAt, 0).UTC()
		if msg.Embedding, err = decodeVector(blob); err != nil {
			return err
		}
		if embeddedAt.Valid {
			at := time.Unix(embeddedAt.Int64, 0).UTC()
			msg.EmbeddedAt = &at
		}
		m := msg
		conv.Messages = append(conv.Messages, &m)
		byID[m.ID] = &m
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}

	attRows, err := s.h().QueryContext(ctx,
		`SELECT a.id, a.message_id, a.kind, a.mime_type, a.filename
		 FROM attachments a JOIN messages m ON a.message_id = m.id
		 WHERE m.conversation_id = ? ORDER BY m.position, a.id`,
		conv.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to query attachments: %w", err)
	}
	defer func() {
		_ = attRows.Close()
	}()

	for attRows.Next() {
		var att AttachmentRecord
		var idStr, msgIDStr string
		if err := attRows.Scan(&idStr, &msgIDStr, &att.Kind, &att.MIMEType, &att.Filename); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		if att.ID, err = uuid.Parse(idStr); err != nil {
			return fmt.Errorf("invalid attachment id %q: %w", idStr, err)
		}
		if att.MessageID, err = uuid.Parse(msgIDStr); err != nil {
			return fmt.Errorf("invalid attachment message id %q: %w", msgIDStr, err)
		}
		if msg, ok := byID[att.MessageID]; ok {
			a := att
			msg.Attachments = append(msg.Attachments, &a)
		}
	}
	if err := attRows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}

// List returns conversation headers with counts, most recently updated first.
func (s *SQLite) List(ctx context.Context) ([]*ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(ctx)
}

func (s *SQLite) list(ctx context.Context) ([]*ConversationRecord, error) {
	rows, err := s.h().QueryContext(ctx,
		`SELECT c.id, c.title, c.created_at, c.updated_at, c.import_source_id,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			(SELECT COUNT(*) FROM attachments a JOIN messages m ON a.message_id = m.id
			 WHERE m.conversation_id = c.id)
		 FROM conversations c ORDER BY c.updated_at DESC, c.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var convs []*ConversationRecord
	for rows.Next() {
		var (
			conv                 ConversationRecord
			idStr                string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&idStr, &conv.Title, &createdAt, &updatedAt,
			&conv.ImportSourceID, &conv.MessageCount, &conv.AttachmentCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if conv.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid conversation id %q: %w", idStr, err)
		}
		conv.CreatedAt = time.Unix(createdAt, 0).UTC()
		conv.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		c := conv
		convs = append(convs, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return convs, nil
}

// Find returns the headers matching pred, in List order.
func (s *SQLite) Find(ctx context.Context, pred func(*ConversationRecord) bool) ([]*ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]*ConversationRecord, 0, len(all))
	for _, conv := range all {
		if pred(conv) {
			matched = append(matched, conv)
		}
	}
	return matched, nil
}

// InsertMessage persists a message and its attachments.
func (s *SQLite) InsertMessage(ctx context.Context, msg *MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertMessage(ctx, msg)
}

func (s *SQLite) insertMessage(ctx context.Context, msg *MessageRecord) error {
	w, err := s.writer(ctx)
	if err != nil {
		return err
	}
	var embeddedAt any
	if msg.EmbeddedAt != nil {
		embeddedAt = msg.EmbeddedAt.Unix()
	}
	_, err = w.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, position, role, text, created_at, import_message_id, summary, embedding, embedded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID.String(), msg.ConversationID.String(), msg.Position, msg.Role, msg.Text,
		msg.CreatedAt.Unix(), msg.ImportMessageID, msg.Summary, encodeVector(msg.Embedding), embeddedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	for _, att := range msg.Attachments {
		att.MessageID = msg.ID
		if err := s.addAttachment(ctx, att); err != nil {
			return err
		}
	}
	return nil
}

// GetMessage returns a message with attachment metadata loaded.
func (s *SQLite) GetMessage(ctx context.Context, id uuid.UUID) (*MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		msg        MessageRecord
		convIDStr  string
		createdAt  int64
		blob       []byte
		embeddedAt sql.NullInt64
	)
	err := s.h().QueryRowContext(ctx,
		`SELECT conversation_id, position, role, text, created_at, import_message_id, summary, embedding, embedded_at
		 FROM messages WHERE id = ?`,
		id.String(),
	).Scan(&convIDStr, &msg.Position, &msg.Role, &msg.Text, &createdAt,
		&msg.ImportMessageID, &msg.Summary, &blob, &embeddedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	msg.ID = id
	if msg.ConversationID, err = uuid.Parse(convIDStr); err != nil {
		return nil, fmt.Errorf("invalid conversation id %q: %w", convIDStr, err)
	}
	msg.CreatedAt = time.Unix(createdAt, 0).UTC()
	if msg.Embedding, err = decodeVector(blob); err != nil {
		return nil, err
	}
	if embeddedAt.Valid {
		at := time.Unix(embeddedAt.Int64, 0).UTC()
		msg.EmbeddedAt = &at
	}

	rows, err := s.h().QueryContext(ctx,
		"SELECT id, kind, mime_type, filename FROM attachments WHERE message_id = ? ORDER BY id",
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var att AttachmentRecord
		var idStr string
		if err := rows.Scan(&idStr, &att.Kind, &att.MIMEType, &att.Filename); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		if att.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid attachment id %q: %w", idStr, err)
		}
		att.MessageID = id
		a := att
		msg.Attachments = append(msg.Attachments, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return &msg, nil
}

// AddAttachment appends an attachment to an existing message.
func (s *SQLite) AddAttachment(ctx context.Context, att *AttachmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addAttachment(ctx, att)
}

func (s *SQLite) addAttachment(ctx context.Context, att *AttachmentRecord) error {
	w, err := s.writer(ctx)
	if err != nil {
		return err
	}
	_, err = w.ExecContext(ctx,
		"INSERT INTO attachments (id, message_id, kind, mime_type, filename, data) VALUES (?, ?, ?, ?, ?, ?)",
		att.ID.String(), att.MessageID.String(), att.Kind, att.MIMEType, att.Filename, att.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

// SetEmbedding stores a message's embedding vector and stamps embedded_at.
func (s *SQLite) SetEmbedding(ctx context.Context, id uuid.UUID, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.writer(ctx)
	if err != nil {
		return err
	}
	res, err := w.ExecContext(ctx,
		"UPDATE messages SET embedding = ?, embedded_at = ? WHERE id = ?",
		encodeVector(vec), time.Now().Unix(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEmbedded returns every message carrying an embedding.
func (s *SQLite) ListEmbedded(ctx context.Context) ([]*EmbeddedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.h().QueryContext(ctx,
		`SELECT m.id, m.conversation_id, c.title, m.role, m.text, m.summary, m.created_at, m.embedding
		 FROM messages m JOIN conversations c ON m.conversation_id = c.id
		 WHERE m.embedding IS NOT NULL
		 ORDER BY m.created_at, m.position`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedded messages: %w", err)
	}
	return scanEmbedded(rows)
}

// ListRecentEmbedded returns up to limit embedded messages of one
// conversation, most recent first. A negative limit means no limit.
func (s *SQLite) ListRecentEmbedded(ctx context.Context, conversationID uuid.UUID, limit int) ([]*EmbeddedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.h().QueryContext(ctx,
		`SELECT m.id, m.conversation_id, c.title, m.role, m.text, m.summary, m.created_at, m.embedding
		 FROM messages m JOIN conversations c ON m.conversation_id = c.id
		 WHERE m.conversation_id = ? AND m.embedding IS NOT NULL
		 ORDER BY m.created_at DESC, m.position DESC LIMIT ?`,
		conversationID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedded messages: %w", err)
	}
	return scanEmbedded(rows)
}

func scanEmbedded(rows *sql.Rows) ([]*EmbeddedMessage, error) {
	defer func() {
		_ = rows.Close()
	}()

	var msgs []*EmbeddedMessage
	for rows.Next() {
		var (
			em               EmbeddedMessage
			idStr, convIDStr string
			createdAt        int64
			blob             []byte
		)
		if err := rows.Scan(&idStr, &convIDStr, &em.ConversationTitle, &em.Role, &em.Text,
			&em.Summary, &createdAt, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedded message: %w", err)
		}
		var err error
		if em.MessageID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid message id %q: %w", idStr, err)
		}
		if em.ConversationID, err = uuid.Parse(convIDStr); err != nil {
			return nil, fmt.Errorf("invalid conversation id %q: %w", convIDStr, err)
		}
		em.CreatedAt = time.Unix(createdAt, 0).UTC()
		if em.Embedding, err = decodeVector(blob); err != nil {
			return nil, err
		}
		e := em
		msgs = append(msgs, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return msgs, nil
}
