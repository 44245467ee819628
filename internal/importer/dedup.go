package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatvault/internal/store"
)

// importSourceTag names the export format this pipeline ingests; it feeds
// the deterministic source id so different export sources cannot collide.
const importSourceTag = "chat-export"

// titleTimeTolerance is the fallback window for matching legacy records that
// predate stable import source ids.
const titleTimeTolerance = 5 * time.Second

// sourceIDNamespace is the fixed UUIDv5 namespace for import source ids.
var sourceIDNamespace = uuid.MustParse("8f3c1d52-9d6b-4a51-b0a2-64cf27f6a1ce")

// SourceID computes a conversation's deterministic import source id from the
// export's stable fields, so repeated imports of the same source conversation
// collide intentionally.
func SourceID(conv *ExportedConversation) string {
	name := fmt.Sprintf("%s|%.6f", importSourceTag, conv.CreateTime)
	return uuid.NewSHA1(sourceIDNamespace, []byte(name)).String()
}

// dedupEntry is one stored conversation's dedup-relevant identity.
type dedupEntry struct {
	ID          uuid.UUID
	CreatedAt   time.Time
	HasSourceID bool
}

// ConversationMatch is a dedup hit. ViaFallback marks a title+time heuristic
// match whose record still needs the source id backfilled.
type ConversationMatch struct {
	ID          uuid.UUID
	ViaFallback bool
}

// DedupIndex is an explicit lookup structure over the stored corpus's
// dedup-relevant identity keys. It is built once per run and updated as the
// run inserts, so tests can inject a fixed corpus through the store.
type DedupIndex struct {
	bySourceID map[string]uuid.UUID
	byTitle    map[string][]dedupEntry
}

// BuildDedupIndex loads identity keys for every stored conversation.
func BuildDedupIndex(ctx context.Context, cs store.ConversationStore) (*DedupIndex, error) {
	idx := &DedupIndex{
		bySourceID: make(map[string]uuid.UUID),
		byTitle:    make(map[string][]dedupEntry),
	}
	convs, err := cs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dedup corpus: %w", err)
	}
	for _, conv := range convs {
		idx.Add(conv)
	}
	return idx, nil
}

// Add registers a conversation's identity keys.
func (x *DedupIndex) Add(conv *store.ConversationRecord) {
	if conv.ImportSourceID != "" {
		x.bySourceID[conv.ImportSourceID] = conv.ID
	}
	x.byTitle[conv.Title] = append(x.byTitle[conv.Title], dedupEntry{
		ID:          conv.ID,
		CreatedAt:   conv.CreatedAt,
		HasSourceID: conv.ImportSourceID != "",
	})
}

// backfilled records that an existing entry now carries a source id.
func (x *DedupIndex) backfilled(id uuid.UUID, title, sourceID string) {
	x.bySourceID[sourceID] = id
	entries := x.byTitle[title]
	for i := range entries {
		if entries[i].ID == id {
			entries[i].HasSourceID = true
		}
	}
}

// Find looks up an imported conversation's identity: first by its stable
// source id, then by the legacy title+time heuristic over records that lack
// one. The heuristic can in principle merge two distinct conversations that
// coincidentally share a title and near-identical timestamp; that tradeoff
// is accepted. Among several heuristic candidates the closest creation time
// wins, then the smaller id.
func (x *DedupIndex) Find(sourceID, title string, createdAt time.Time) (ConversationMatch, bool) {
	if id, ok := x.bySourceID[sourceID]; ok {
		return ConversationMatch{ID: id}, true
	}

	var (
		best      *dedupEntry
		bestDelta time.Duration
	)
	for i := range x.byTitle[title] {
		entry := x.byTitle[title][i]
		if entry.HasSourceID {
			continue
		}
		delta := createdAt.Sub(entry.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > titleTimeTolerance {
			continue
		}
		if best == nil || delta < bestDelta ||
			(delta == bestDelta && entry.ID.String() < best.ID.String()) {
			e := entry
			best = &e
			bestDelta = delta
		}
	}
	if best == nil {
		return ConversationMatch{}, false
	}
	return ConversationMatch{ID: best.ID, ViaFallback: true}, true
}
