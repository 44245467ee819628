package embedjobs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatvault/internal/contextutil"
	"chatvault/internal/llm"
	"chatvault/internal/store"
	"chatvault/internal/vectorstore"
)

// Progress is a snapshot of a background embedding run. Completed is true
// only on the final event of a run that finished normally; a cancelled run
// never sends it.
type Progress struct {
	Total     int
	Processed int
	Embedded  int
	Completed bool
}

// Scheduler embeds queued messages in the background, one batch at a time,
// with a pause between batches to keep the embedding endpoint responsive for
// foreground queries. At most one run is active: starting a new run cancels
// the previous one and waits for it to stop before touching the store.
type Scheduler struct {
	store     store.Store
	embedder  llm.Embedder
	index     vectorstore.VectorIndex
	batchSize int
	delay     time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	last    Progress
	running bool
}

// New creates a Scheduler. batchSize defaults to 10 and delay to 200ms when
// non-positive values are given.
func New(st store.Store, embedder llm.Embedder, index vectorstore.VectorIndex, batchSize int, delay time.Duration) *Scheduler {
	if batchSize <= 0 {
		batchSize = 10
	}
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return &Scheduler{
		store:     st,
		embedder:  embedder,
		index:     index,
		batchSize: batchSize,
		delay:     delay,
	}
}

// Start begins embedding the given messages, cancelling any run already in
// flight. The returned channel carries progress events and is closed when
// the run stops, whether it completed or was cancelled or superseded.
func (s *Scheduler) Start(ctx context.Context, ids []uuid.UUID) <-chan Progress {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		done := s.done
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.last = Progress{Total: len(ids)}
	s.running = true
	s.mu.Unlock()

	// Buffered for one event per batch plus the final one, so a slow
	// consumer never stalls the run.
	events := make(chan Progress, len(ids)/s.batchSize+2)

	go func() {
		defer close(done)
		defer close(events)
		s.run(runCtx, ids, events)

		s.mu.Lock()
		if s.done == done {
			s.cancel = nil
			s.done = nil
			s.running = false
		}
		s.mu.Unlock()
	}()

	return events
}

// Status returns the latest progress snapshot and whether a run is active.
// After a superseding Start the snapshot belongs to the new run.
func (s *Scheduler) Status() (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.running
}

// Stop cancels the active run, if any, and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Scheduler) run(ctx context.Context, ids []uuid.UUID, events chan<- Progress) {
	logger := contextutil.LoggerFromContext(ctx)

	total := len(ids)
	processed := 0
	embedded := 0
	logger.InfoContext(ctx, "embedding run started", "queued", total, "batch_size", s.batchSize)

	for start := 0; start < total; start += s.batchSize {
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "embedding run cancelled", "processed", processed, "embedded", embedded)
			return
		}
		if start > 0 {
			select {
			case <-ctx.Done():
				logger.InfoContext(ctx, "embedding run cancelled", "processed", processed, "embedded", embedded)
				return
			case <-time.After(s.delay):
			}
		}

		end := start + s.batchSize
		if end > total {
			end = total
		}
		batch := ids[start:end]

		n, err := s.embedBatch(ctx, batch)
		processed += len(batch)
		embedded += n
		if err != nil {
			if ctx.Err() != nil {
				logger.InfoContext(ctx, "embedding run cancelled", "processed", processed, "embedded", embedded)
				return
			}
			// A failed batch is retried on the next run; its messages
			// simply stay unembedded.
			logger.ErrorContext(ctx, "failed to embed batch", "start", start, "size", len(batch), "error", err)
		}

		s.emit(events, Progress{Total: total, Processed: processed, Embedded: embedded})
	}

	logger.InfoContext(ctx, "embedding run completed", "processed", processed, "embedded", embedded)
	s.emit(events, Progress{Total: total, Processed: processed, Embedded: embedded, Completed: true})
}

// emit records the snapshot for Status and forwards it to the events channel.
func (s *Scheduler) emit(events chan<- Progress, p Progress) {
	s.mu.Lock()
	s.last = p
	s.mu.Unlock()
	events <- p
}

// embedBatch embeds one batch and returns how many messages were newly
// embedded. Every message is re-read first: a message embedded by an earlier
// run (or deleted since queueing) is skipped, so re-running over the same ids
// is harmless.
func (s *Scheduler) embedBatch(ctx context.Context, batch []uuid.UUID) (int, error) {
	logger := contextutil.LoggerFromContext(ctx)

	var (
		pending []*store.MessageRecord
		texts   []string
	)
	for _, id := range batch {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		msg, err := s.store.GetMessage(ctx, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return 0, err
		}
		if msg.Embedding != nil {
			continue
		}
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		pending = append(pending, msg)
		texts = append(texts, msg.Text)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, err
	}

	embedded := 0
	points := make([]vectorstore.Point, 0, len(pending))
	for i, msg := range pending {
		if ctx.Err() != nil {
			return embedded, ctx.Err()
		}
		if err := s.store.SetEmbedding(ctx, msg.ID, vectors[i]); err != nil {
			return embedded, err
		}
		embedded++
		points = append(points, vectorstore.Point{
			ID:  msg.ID.String(),
			Vec: vectors[i],
			Meta: map[string]any{
				"conversation_id": msg.ConversationID.String(),
				"role":            msg.Role,
			},
		})
	}

	if err := s.store.Flush(ctx); err != nil {
		return embedded, err
	}

	if err := s.index.Upsert(ctx, points); err != nil {
		// The store stays authoritative; missing mirror points only mean
		// those messages are found by the in-process scan instead.
		logger.WarnContext(ctx, "failed to upsert mirror index points", "count", len(points), "error", err)
	}
	return embedded, nil
}
