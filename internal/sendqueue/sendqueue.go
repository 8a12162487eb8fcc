// Package sendqueue buffers committed change records per document and drains
// them to the remote sync endpoint in the background. Records leave the
// queue only after a send explicitly containing them succeeds, so offline
// edits survive crashes and failed deliveries.
package sendqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Alcumus/awe-library/internal/changelog"
	"github.com/Alcumus/awe-library/internal/debounce"
	"github.com/Alcumus/awe-library/internal/localstore"
)

// Sender delivers one document's batch of records.
type Sender interface {
	SendChanges(ctx context.Context, id string, records []changelog.Record) error
}

// OnlineChecker reports current connectivity.
type OnlineChecker interface {
	Online() bool
}

// Queue is the singleton outbound queue with its debounced drain loop.
type Queue struct {
	store  *localstore.Store
	sender Sender
	online OnlineChecker
	logger *slog.Logger

	drain     *debounce.Debouncer
	retryWait *backoff.ExponentialBackOff

	mu      sync.Mutex
	running bool
	retry   bool
	ctx     context.Context
}

// New creates the queue. Drain passes are coalesced within wait (300ms in
// production; tests shorten it).
func New(store *localstore.Store, sender Sender, online OnlineChecker, logger *slog.Logger, wait time.Duration) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		store:     store,
		sender:    sender,
		online:    online,
		logger:    logger,
		retryWait: backoff.NewExponentialBackOff(),
		ctx:       context.Background(),
	}
	q.retryWait.MaxElapsedTime = 0
	q.drain = debounce.New(wait, func() { go q.drainPass() })
	return q
}

// Start binds the queue's background work to ctx and schedules the initial
// drain shortly after startup, picking up anything left over from a previous
// run.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.ctx = ctx
	q.mu.Unlock()
	time.AfterFunc(100*time.Millisecond, q.Kick)
}

// Enqueue appends the record under its document id and triggers (without
// awaiting) a drain.
func (q *Queue) Enqueue(ctx context.Context, rec changelog.Record) error {
	err := localstore.WithStoredValue(ctx, q.store, localstore.SendQueueKey,
		map[string][]changelog.Record{},
		func(queue *map[string][]changelog.Record) error {
			(*queue)[rec.ID] = append((*queue)[rec.ID], rec)
			return nil
		})
	if err != nil {
		return fmt.Errorf("sendqueue: enqueue %s: %w", rec.ID, err)
	}
	q.Kick()
	return nil
}

// Kick requests a drain pass; rapid kicks coalesce into one.
func (q *Queue) Kick() {
	q.drain.Trigger()
}

// Pending returns the queued records for a document id.
func (q *Queue) Pending(ctx context.Context, id string) ([]changelog.Record, error) {
	queue, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	return queue[id], nil
}

func (q *Queue) load(ctx context.Context) (map[string][]changelog.Record, error) {
	var queue map[string][]changelog.Record
	if _, err := q.store.Get(ctx, localstore.SendQueueKey, &queue); err != nil {
		return nil, fmt.Errorf("sendqueue: load: %w", err)
	}
	return queue, nil
}

// drainPass is the drain loop body. It is reentrancy-guarded: a pass that
// arrives while another runs just flags a retry. Errors abort the pass and
// schedule another with exponential backoff; they never escape.
func (q *Queue) drainPass() {
	if !q.online.Online() {
		return
	}
	q.mu.Lock()
	if q.running {
		q.retry = true
		q.mu.Unlock()
		return
	}
	q.running = true
	q.retry = false
	ctx := q.ctx
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.running = false
		again := q.retry
		q.mu.Unlock()
		if again {
			q.Kick()
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		queue, err := q.load(ctx)
		if err != nil {
			q.logger.Error("drain: load failed", slog.String("error", err.Error()))
			q.scheduleRetry()
			return
		}
		id, batch := nextBatch(queue)
		if id == "" {
			q.retryWait.Reset()
			return
		}

		if err := q.sender.SendChanges(ctx, id, batch); err != nil {
			q.logger.Warn("drain: send failed, records kept",
				slog.String("document", id),
				slog.Int("records", len(batch)),
				slog.String("error", err.Error()))
			q.scheduleRetry()
			return
		}

		// Remove exactly what was sent. Records enqueued for the same
		// document while the send was in flight stay queued.
		sent := make(map[string]struct{}, len(batch))
		for _, rec := range batch {
			sent[rec.TrackID] = struct{}{}
		}
		err = localstore.WithStoredValue(ctx, q.store, localstore.SendQueueKey,
			map[string][]changelog.Record{},
			func(queue *map[string][]changelog.Record) error {
				kept := (*queue)[id][:0]
				for _, rec := range (*queue)[id] {
					if _, ok := sent[rec.TrackID]; !ok {
						kept = append(kept, rec)
					}
				}
				if len(kept) == 0 {
					delete(*queue, id)
				} else {
					(*queue)[id] = kept
				}
				return nil
			})
		if err != nil {
			q.logger.Error("drain: prune failed", slog.String("error", err.Error()))
			q.scheduleRetry()
			return
		}
		q.logger.Debug("drain: batch delivered",
			slog.String("document", id),
			slog.Int("records", len(batch)))
	}
}

func (q *Queue) scheduleRetry() {
	wait := q.retryWait.NextBackOff()
	if wait == backoff.Stop {
		wait = q.retryWait.MaxInterval
	}
	time.AfterFunc(wait, q.Kick)
}

// nextBatch picks the first document id (lexical order, for determinism)
// holding a non-empty record list.
func nextBatch(queue map[string][]changelog.Record) (string, []changelog.Record) {
	ids := make([]string, 0, len(queue))
	for id, records := range queue {
		if len(records) > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", nil
	}
	sort.Strings(ids)
	return ids[0], queue[ids[0]]
}
