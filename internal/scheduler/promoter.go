package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/broadcast"
	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/metrics"
	"github.com/jmehdipour/wadispatch/internal/model"
)

const (
	DefaultBatchSize  = 100
	DefaultStaleAfter = 15 * time.Minute
)

// Store is the part of repository.TaskStore the promoter needs.
type Store interface {
	PromoteDue(ctx context.Context, limit int) ([]*model.MessageTask, error)
	RecoverStale(ctx context.Context, before time.Time, limit int) ([]*model.MessageTask, error)
	Revert(ctx context.Context, id, reason string) (*model.MessageTask, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, env model.Envelope, delay time.Duration) error
}

// Promoter moves due PENDING tasks to QUEUED and hands them to the lanes.
// Several promoters may run at once: each selection skips rows another
// instance holds locked.
type Promoter struct {
	store     Store
	queue     Enqueuer
	bcast     broadcast.Broadcaster
	batchSize int
	now       func() time.Time

	// StaleAfter is how long a QUEUED or RETRYING task may sit untouched
	// before it is handed back to PENDING. Keep it above the longest retry
	// backoff.
	StaleAfter time.Duration
}

func NewPromoter(store Store, q Enqueuer, b broadcast.Broadcaster, batchSize int) *Promoter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if b == nil {
		b = broadcast.Nop{}
	}

	return &Promoter{
		store:      store,
		queue:      q,
		bcast:      b,
		batchSize:  batchSize,
		now:        time.Now,
		StaleAfter: DefaultStaleAfter,
	}
}

// Tick runs one promotion round and returns how many tasks reached the queue.
// Stale QUEUED and RETRYING tasks are recovered first so the same round
// queues them again. Tasks whose enqueue fails go back to PENDING for the
// next tick.
func (p *Promoter) Tick(ctx context.Context) (int, error) {
	p.recoverStale(ctx)

	due, err := p.store.PromoteDue(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("promote due: %w", err)
	}

	promoted := 0
	for _, t := range due {
		p.bcast.Publish(model.EventFor(t, "promoted", p.now().UTC()))

		env := model.Envelope{TaskID: t.ID, Priority: t.Priority, Attempt: t.Retries}
		if err := p.queue.Enqueue(ctx, env, 0); err != nil {
			metrics.EnqueueFailures.WithLabelValues("promote").Inc()
			p.revert(ctx, t, err)
			continue
		}

		promoted++
	}

	metrics.Promoted.Add(float64(promoted))
	return promoted, nil
}

func (p *Promoter) recoverStale(ctx context.Context) {
	if p.StaleAfter <= 0 {
		return
	}

	before := p.now().UTC().Add(-p.StaleAfter)
	stale, err := p.store.RecoverStale(ctx, before, p.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			logger.Log.Error("recover stale tasks failed", zap.Error(err))
		}
		return
	}

	for _, t := range stale {
		p.bcast.Publish(model.EventFor(t, "recovered", p.now().UTC()))
	}
	if len(stale) > 0 {
		logger.Log.Warn("stale tasks returned to pending", zap.Int("count", len(stale)), zap.Time("before", before))
	}
}

func (p *Promoter) revert(ctx context.Context, t *model.MessageTask, cause error) {
	reverted, err := p.store.Revert(ctx, t.ID, cause.Error())
	if err != nil {
		// stays QUEUED with no envelope; an operator has to retry it
		logger.Log.Error("revert after enqueue failure failed",
			zap.String("task_id", t.ID),
			zap.NamedError("enqueue_err", cause),
			zap.Error(err))
		return
	}

	logger.Log.Warn("enqueue failed, task back to pending",
		zap.String("task_id", t.ID),
		zap.String("lane", t.Lane().String()),
		zap.Error(cause))
	p.bcast.Publish(model.EventFor(reverted, "enqueue_failed", p.now().UTC()))
}

// Loop ticks immediately and then every interval until ctx ends. A panicking
// tick is logged and the loop keeps going.
func (p *Promoter) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Log.Info("scheduler started", zap.Duration("interval", interval), zap.Int("batch", p.batchSize))

	p.safeTick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("scheduler stopping")
			return
		case <-ticker.C:
			p.safeTick(ctx)
		}
	}
}

func (p *Promoter) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("scheduler tick panic recovered", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	n, err := p.Tick(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Log.Error("scheduler tick failed", zap.Error(err))
		}
		return
	}

	if n > 0 {
		logger.Log.Info("scheduler tick completed",
			zap.Int("promoted", n),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	}
}
