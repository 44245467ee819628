package importer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatvault/internal/contextutil"
	"chatvault/internal/store"
)

// Importer drives the import pipeline: parse, extract, resolve, dedup,
// persist. Conversations are processed strictly in source order; the pending
// store transaction is flushed after every batch to bound memory.
type Importer struct {
	store     store.Store
	batchSize int
}

// New creates an Importer flushing after every batchSize conversations.
func New(st store.Store, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Importer{store: st, batchSize: batchSize}
}

// ImportArchive imports a zip export archive.
func (imp *Importer) ImportArchive(ctx context.Context, r io.ReaderAt, size int64, progress ProgressFunc) (*Result, error) {
	report(progress, Progress{Phase: PhaseParsing})
	archive, err := ReadArchive(r, size)
	if err != nil {
		return nil, err
	}
	return imp.ImportConversations(ctx, archive.Conversations, archive.Assets, progress)
}

// ImportDocument imports a bare export document (no binary assets).
func (imp *Importer) ImportDocument(ctx context.Context, r io.Reader, progress ProgressFunc) (*Result, error) {
	report(progress, Progress{Phase: PhaseParsing})
	convs, err := ParseExport(r)
	if err != nil {
		return nil, err
	}
	return imp.ImportConversations(ctx, convs, NewAssetIndex(), progress)
}

// ImportConversations runs the import over already-parsed conversations.
// A per-conversation failure is recorded in the result's error list and does
// not abort the run; the result summary is always produced. Cancellation
// returns the partial result together with the context's error.
func (imp *Importer) ImportConversations(ctx context.Context, convs []ExportedConversation, assets *AssetIndex, progress ProgressFunc) (*Result, error) {
	logger := contextutil.LoggerFromContext(ctx)

	dedup, err := BuildDedupIndex(ctx, imp.store)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	total := len(convs)
	logger.InfoContext(ctx, "import started", "conversations", total, "assets", assets.Len())

	for i := range convs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		conv := &convs[i]
		if err := imp.importOne(ctx, conv, assets, dedup, result); err != nil {
			logger.ErrorContext(ctx, "failed to import conversation", "title", conv.Title, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", conv.Title, err))
		}

		report(progress, Progress{
			Phase:        PhaseImporting,
			Total:        total,
			Processed:    i + 1,
			CurrentTitle: conv.Title,
		})

		if (i+1)%imp.batchSize == 0 {
			if err := imp.store.Flush(ctx); err != nil {
				return result, err
			}
		}
	}

	if err := imp.store.Flush(ctx); err != nil {
		return result, err
	}

	if len(result.QueuedMessageIDs) > 0 {
		report(progress, Progress{Phase: PhaseEmbedding, Total: total, Processed: total})
	}
	report(progress, Progress{Phase: PhaseComplete, Total: total, Processed: total})

	logger.InfoContext(ctx, "import finished",
		"imported", result.ConversationsImported,
		"updated", result.ConversationsUpdated,
		"skipped", result.ConversationsSkipped,
		"empty", result.ConversationsEmpty,
		"messages", result.MessagesImported,
		"images", result.ImagesImported,
		"errors", len(result.Errors),
	)
	return result, nil
}

// importOne processes a single conversation: skip, update, or create.
func (imp *Importer) importOne(ctx context.Context, conv *ExportedConversation, assets *AssetIndex, dedup *DedupIndex, result *Result) error {
	extracted := ExtractMainBranch(ctx, conv.Mapping)
	if len(extracted) == 0 {
		result.ConversationsEmpty++
		return nil
	}

	sourceID := SourceID(conv)
	createdAt := timeFromUnixSeconds(conv.CreateTime)

	if match, found := dedup.Find(sourceID, conv.Title, createdAt); found {
		return imp.updateExisting(ctx, conv, extracted, assets, dedup, match, sourceID, result)
	}
	return imp.createNew(ctx, conv, extracted, assets, dedup, sourceID, result)
}

// createNew persists a conversation seen for the first time.
func (imp *Importer) createNew(ctx context.Context, conv *ExportedConversation, extracted []ExtractedMessage, assets *AssetIndex, dedup *DedupIndex, sourceID string, result *Result) error {
	createdAt := timeFromUnixSeconds(conv.CreateTime)
	updatedAt := createdAt
	if conv.UpdateTime > 0 {
		updatedAt = timeFromUnixSeconds(conv.UpdateTime)
	}

	record := &store.ConversationRecord{
		ID:             uuid.New(),
		Title:          conv.Title,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		ImportSourceID: sourceID,
	}

	var queued []uuid.UUID
	for pos, em := range extracted {
		msg := &store.MessageRecord{
			ID:              uuid.New(),
			Position:        pos,
			Role:            em.Role,
			Text:            em.Text,
			CreatedAt:       createdAt,
			ImportMessageID: em.NodeID,
		}
		if em.CreateTime != nil {
			msg.CreatedAt = *em.CreateTime
		}

		for _, ref := range em.ImageRefs {
			att, ok := imp.resolveAttachment(ctx, assets, ref, result)
			if !ok {
				continue
			}
			msg.Attachments = append(msg.Attachments, att)
			result.ImagesImported++
		}

		if em.Role == "assistant" && strings.TrimSpace(em.Text) != "" {
			queued = append(queued, msg.ID)
		}
		record.Messages = append(record.Messages, msg)
	}

	if err := imp.store.Insert(ctx, record); err != nil {
		return err
	}

	dedup.Add(record)
	result.ConversationsImported++
	result.MessagesImported += len(record.Messages)
	result.QueuedMessageIDs = append(result.QueuedMessageIDs, queued...)
	return nil
}

// updateExisting handles a dedup hit: backfill the source id when the match
// came through the legacy heuristic, then attach only the missing images.
// Text and timestamps of existing messages are never touched.
func (imp *Importer) updateExisting(ctx context.Context, conv *ExportedConversation, extracted []ExtractedMessage, assets *AssetIndex, dedup *DedupIndex, match ConversationMatch, sourceID string, result *Result) error {
	existing, err := imp.store.GetByID(ctx, match.ID)
	if err != nil {
		return err
	}

	changed := false
	if match.ViaFallback && existing.ImportSourceID == "" {
		existing.ImportSourceID = sourceID
		dedup.backfilled(existing.ID, existing.Title, sourceID)
		changed = true
	}

	byImportID := make(map[string]*store.MessageRecord, len(existing.Messages))
	for _, msg := range existing.Messages {
		if msg.ImportMessageID != "" {
			byImportID[msg.ImportMessageID] = msg
		}
	}

	attachmentsAdded := 0
	for _, em := range extracted {
		if len(em.ImageRefs) == 0 {
			continue
		}
		msg, ok := byImportID[em.NodeID]
		if !ok {
			continue
		}

		have := make(map[string]struct{}, len(msg.Attachments))
		for _, att := range msg.Attachments {
			have[att.Filename] = struct{}{}
		}

		addedHere := 0
		for _, ref := range em.ImageRefs {
			att, ok := imp.resolveAttachment(ctx, assets, ref, result)
			if !ok {
				continue
			}
			if _, exists := have[att.Filename]; exists {
				continue
			}
			att.MessageID = msg.ID
			if err := imp.store.AddAttachment(ctx, att); err != nil {
				return err
			}
			have[att.Filename] = struct{}{}
			addedHere++
			result.ImagesImported++
		}
		if addedHere > 0 {
			attachmentsAdded += addedHere
			result.MessagesUpdated++
		}
	}

	if attachmentsAdded > 0 {
		if conv.UpdateTime > 0 {
			existing.UpdatedAt = timeFromUnixSeconds(conv.UpdateTime)
		} else {
			existing.UpdatedAt = time.Now().UTC()
		}
		changed = true
	}

	if changed {
		if err := imp.store.Save(ctx, existing); err != nil {
			return err
		}
	}

	if attachmentsAdded > 0 {
		result.ConversationsUpdated++
	} else {
		result.ConversationsSkipped++
	}
	return nil
}

// resolveAttachment turns an image reference into an attachment record.
// Misses are non-fatal: they are counted and logged, and the message is
// imported without the attachment.
func (imp *Importer) resolveAttachment(ctx context.Context, assets *AssetIndex, ref string, result *Result) (*store.AttachmentRecord, bool) {
	logger := contextutil.LoggerFromContext(ctx)

	asset, ok, err := assets.Resolve(ref)
	if err != nil {
		logger.WarnContext(ctx, "failed to read asset", "ref", ref, "error", err)
		result.AttachmentMisses++
		return nil, false
	}
	if !ok {
		logger.WarnContext(ctx, "unresolved asset reference", "ref", ref)
		result.AttachmentMisses++
		return nil, false
	}

	return &store.AttachmentRecord{
		ID:       uuid.New(),
		Kind:     kindForMIME(asset.MIMEType),
		MIMEType: asset.MIMEType,
		Filename: asset.Filename,
		Data:     asset.Data,
	}, true
}

func report(progress ProgressFunc, p Progress) {
	if progress != nil {
		progress(p)
	}
}
