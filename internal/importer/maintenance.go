package importer

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"chatvault/internal/contextutil"
	"chatvault/internal/store"
	"chatvault/internal/vectorstore"
)

// duplicateBucketSeconds rounds creation times when grouping candidate
// duplicate conversations.
const duplicateBucketSeconds = 10

// Maintenance bundles the offline cleanup operations. Both are idempotent:
// re-invoking them finds nothing left to remove.
type Maintenance struct {
	store store.Store
	index vectorstore.VectorIndex
}

// NewMaintenance creates a Maintenance over the given store and mirror index.
func NewMaintenance(st store.Store, index vectorstore.VectorIndex) *Maintenance {
	return &Maintenance{store: st, index: index}
}

// RemoveDuplicateConversations groups stored conversations by title and
// bucketed creation time; within each group of size > 1 it keeps the member
// with the most attachments, then the most messages, and deletes the rest.
// Ties beyond both criteria fall to store iteration order, which is
// arbitrary. Returns how many conversations were removed and how many group
// survivors were kept.
func (m *Maintenance) RemoveDuplicateConversations(ctx context.Context) (removed, kept int, err error) {
	logger := contextutil.LoggerFromContext(ctx)

	convs, err := m.store.List(ctx)
	if err != nil {
		return 0, 0, err
	}

	type groupKey struct {
		title  string
		bucket int64
	}
	groups := make(map[groupKey][]*store.ConversationRecord)
	var order []groupKey
	for _, conv := range convs {
		key := groupKey{title: conv.Title, bucket: conv.CreatedAt.Unix() / duplicateBucketSeconds}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], conv)
	}

	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}

		// Stable sort keeps store order among full ties.
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].AttachmentCount != group[j].AttachmentCount {
				return group[i].AttachmentCount > group[j].AttachmentCount
			}
			return group[i].MessageCount > group[j].MessageCount
		})

		kept++
		for _, loser := range group[1:] {
			if err := m.deleteConversation(ctx, loser.ID); err != nil {
				return removed, kept, err
			}
			removed++
			logger.InfoContext(ctx, "removed duplicate conversation",
				"title", loser.Title, "id", loser.ID, "kept", group[0].ID)
		}
	}

	if err := m.store.Flush(ctx); err != nil {
		return removed, kept, err
	}
	return removed, kept, nil
}

// RemoveAllImported deletes every conversation carrying an import source id
// and returns how many were removed. Interactively created conversations are
// untouched.
func (m *Maintenance) RemoveAllImported(ctx context.Context) (removed int, err error) {
	imported, err := m.store.Find(ctx, func(conv *store.ConversationRecord) bool {
		return conv.ImportSourceID != ""
	})
	if err != nil {
		return 0, err
	}

	for _, conv := range imported {
		if err := m.deleteConversation(ctx, conv.ID); err != nil {
			return removed, err
		}
		removed++
	}

	if err := m.store.Flush(ctx); err != nil {
		return removed, err
	}
	return removed, nil
}

// deleteConversation removes a conversation from the store and drops its
// embedded messages from the mirror index.
func (m *Maintenance) deleteConversation(ctx context.Context, id uuid.UUID) error {
	logger := contextutil.LoggerFromContext(ctx)

	embedded, err := m.store.ListRecentEmbedded(ctx, id, -1)
	if err != nil {
		return err
	}
	if len(embedded) > 0 {
		ids := make([]string, len(embedded))
		for i, em := range embedded {
			ids[i] = em.MessageID.String()
		}
		if err := m.index.Delete(ctx, ids); err != nil {
			// The store stays authoritative; a stale mirror entry only
			// costs a wasted lookup later.
			logger.WarnContext(ctx, "failed to delete mirror index points", "conversation", id, "error", err)
		}
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}
