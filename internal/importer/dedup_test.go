package importer

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"chatvault/internal/store"
)

func TestSourceID_Deterministic(t *testing.T) {
	a := &ExportedConversation{Title: "Chat", CreateTime: 1700000000.123456}
	b := &ExportedConversation{Title: "Renamed later", CreateTime: 1700000000.123456}
	c := &ExportedConversation{Title: "Chat", CreateTime: 1700000001}

	if SourceID(a) != SourceID(b) {
		t.Error("SourceID() differs for the same creation time")
	}
	if SourceID(a) == SourceID(c) {
		t.Error("SourceID() collides across different creation times")
	}
	if _, err := uuid.Parse(SourceID(a)); err != nil {
		t.Errorf("SourceID() is not a valid uuid: %v", err)
	}
}

func newDedupIndex(convs ...*store.ConversationRecord) *DedupIndex {
	idx := &DedupIndex{
		bySourceID: make(map[string]uuid.UUID),
		byTitle:    make(map[string][]dedupEntry),
	}
	for _, conv := range convs {
		idx.Add(conv)
	}
	return idx
}

func TestDedupIndex_FindBySourceID(t *testing.T) {
	conv := &store.ConversationRecord{
		ID:             uuid.New(),
		Title:          "Chat",
		CreatedAt:      time.Unix(1700000000, 0),
		ImportSourceID: "src-1",
	}
	idx := newDedupIndex(conv)

	match, found := idx.Find("src-1", "totally different title", time.Unix(0, 0))
	if !found {
		t.Fatal("Find() missed a source-id match")
	}
	if match.ID != conv.ID || match.ViaFallback {
		t.Errorf("Find() = %+v, want direct match on %v", match, conv.ID)
	}
}

func TestDedupIndex_FallbackWithinTolerance(t *testing.T) {
	base := time.Unix(1700000000, 0)
	legacy := &store.ConversationRecord{ID: uuid.New(), Title: "Chat", CreatedAt: base}
	idx := newDedupIndex(legacy)

	tests := []struct {
		name      string
		createdAt time.Time
		wantFound bool
	}{
		{name: "exact time", createdAt: base, wantFound: true},
		{name: "within tolerance", createdAt: base.Add(4 * time.Second), wantFound: true},
		{name: "within tolerance behind", createdAt: base.Add(-5 * time.Second), wantFound: true},
		{name: "outside tolerance", createdAt: base.Add(6 * time.Second), wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, found := idx.Find("unknown-src", "Chat", tt.createdAt)
			if found != tt.wantFound {
				t.Fatalf("Find() found = %v, want %v", found, tt.wantFound)
			}
			if found && (!match.ViaFallback || match.ID != legacy.ID) {
				t.Errorf("Find() = %+v, want fallback match on %v", match, legacy.ID)
			}
		})
	}
}

func TestDedupIndex_FallbackIgnoresSourcedRecords(t *testing.T) {
	base := time.Unix(1700000000, 0)
	sourced := &store.ConversationRecord{
		ID: uuid.New(), Title: "Chat", CreatedAt: base, ImportSourceID: "src-other",
	}
	idx := newDedupIndex(sourced)

	if _, found := idx.Find("unknown-src", "Chat", base); found {
		t.Error("Find() fell back onto a record that already carries a source id")
	}
}

func TestDedupIndex_FallbackPrefersClosestTime(t *testing.T) {
	base := time.Unix(1700000000, 0)
	far := &store.ConversationRecord{ID: uuid.New(), Title: "Chat", CreatedAt: base.Add(4 * time.Second)}
	near := &store.ConversationRecord{ID: uuid.New(), Title: "Chat", CreatedAt: base.Add(time.Second)}
	idx := newDedupIndex(far, near)

	match, found := idx.Find("unknown-src", "Chat", base)
	if !found {
		t.Fatal("Find() missed fallback candidates")
	}
	if match.ID != near.ID {
		t.Errorf("Find() = %v, want the closest creation time %v", match.ID, near.ID)
	}
}

func TestDedupIndex_Backfilled(t *testing.T) {
	base := time.Unix(1700000000, 0)
	legacy := &store.ConversationRecord{ID: uuid.New(), Title: "Chat", CreatedAt: base}
	idx := newDedupIndex(legacy)

	idx.backfilled(legacy.ID, "Chat", "src-backfilled")

	// The source id now resolves directly.
	match, found := idx.Find("src-backfilled", "other", time.Time{})
	if !found || match.ID != legacy.ID || match.ViaFallback {
		t.Errorf("Find() after backfill = %+v, %v; want direct match", match, found)
	}

	// And the record no longer participates in the heuristic.
	if _, found := idx.Find("some-new-src", "Chat", base); found {
		t.Error("Find() still matched a backfilled record via the heuristic")
	}
}
