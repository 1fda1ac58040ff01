package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"leadpulse/channel"
	"leadpulse/models"
	"leadpulse/store"
)

// Batcher buffers bulk email attempts and dispatches them in batches, on a
// size trigger or a time trigger. It is an owned worker with its own queue
// state and an explicit lifetime; stopping the Run loop flushes what's left.
type Batcher struct {
	router   *Router
	store    store.Store
	log      *logrus.Entry
	size     int
	interval time.Duration

	mu      sync.Mutex
	queue   []uint // pending attempt ids
	queued  map[uint]bool
	flushCh chan struct{}
}

func NewBatcher(router *Router, st store.Store, size int, interval time.Duration, log *logrus.Entry) *Batcher {
	if size <= 0 {
		size = 25
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Batcher{
		router:   router,
		store:    st,
		log:      log,
		size:     size,
		interval: interval,
		queued:   make(map[uint]bool),
		flushCh:  make(chan struct{}, 1),
	}
}

// Enqueue adds a PENDING attempt to the buffer. An attempt already buffered
// is ignored, so queue sweeps re-feeding the same ids do not grow the queue.
// Reaching the size trigger requests an asynchronous flush.
func (b *Batcher) Enqueue(attemptID uint) {
	b.mu.Lock()
	if b.queued[attemptID] {
		b.mu.Unlock()
		return
	}
	b.queued[attemptID] = true
	b.queue = append(b.queue, attemptID)
	full := len(b.queue) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush drains the buffer and dispatches every attempt still PENDING.
// Attempts cancelled while buffered are left alone.
func (b *Batcher) Flush(ctx context.Context) (int, []string) {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	for _, id := range batch {
		delete(b.queued, id)
	}
	b.mu.Unlock()

	var errs []string
	sent := 0
	for _, id := range batch {
		attempt, err := b.store.GetAttempt(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Sprintf("attempt %d: %v", id, err))
			continue
		}
		if attempt.Status != models.AttemptPending {
			continue
		}
		lead, err := b.store.GetLead(ctx, attempt.LeadID)
		if err != nil {
			errs = append(errs, fmt.Sprintf("attempt %d: %v", id, err))
			continue
		}
		script, err := b.store.GetScript(ctx, attempt.ScriptID)
		if err != nil {
			errs = append(errs, fmt.Sprintf("attempt %d: %v", id, err))
			continue
		}
		meta := channel.Meta{AttemptID: attempt.ID, CampaignID: attempt.CampaignID}
		if err := b.router.dispatch(ctx, attempt, lead, script, meta); err != nil {
			errs = append(errs, fmt.Sprintf("attempt %d: %v", id, err))
			continue
		}
		sent++
	}
	if sent > 0 || len(errs) > 0 {
		b.log.WithFields(logrus.Fields{
			"sent":   sent,
			"errors": len(errs),
		}).Info("email batch flushed")
	}
	return sent, errs
}

// Run flushes on the interval or on the size trigger until the context is
// cancelled, then performs a final drain.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Flush(context.Background())
			return
		case <-ticker.C:
			b.Flush(ctx)
		case <-b.flushCh:
			b.Flush(ctx)
		}
	}
}
