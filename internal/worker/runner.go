package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/kafka"
	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/model"
)

// Consumer is the slice of kafka.Consumer the runner uses.
type Consumer interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

type TaskExecutor interface {
	Execute(ctx context.Context, env model.Envelope) (Outcome, error)
}

// Runner:
// - fetches envelopes from one Kafka lane,
// - fans them out to Workers processors that run the executor,
// - commits every message once handled (at-least-once; a duplicate delivery
//   hits the state machine and becomes a no-op). An envelope the executor
//   reports as ErrUnhandled stays uncommitted for redelivery.
type Runner struct {
	Consumer Consumer
	Exec     TaskExecutor
	Lane     model.Lane
	Workers  int

	// Pump, when set, runs next to the processors; the delivery worker uses
	// it to release due retries from the delayed set.
	Pump func(ctx context.Context)
}

func NewRunner(c Consumer, exec TaskExecutor, lane model.Lane, workers int) *Runner {
	if workers <= 0 {
		workers = 16
	}
	return &Runner{Consumer: c, Exec: exec, Lane: lane, Workers: workers}
}

// Run blocks until ctx is cancelled and all processors have returned.
func (r *Runner) Run(ctx context.Context) error {
	if !r.Lane.Valid() {
		return errors.New("runner: invalid lane")
	}

	if r.Workers <= 0 {
		r.Workers = 16
	}

	var wg sync.WaitGroup

	if r.Pump != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Pump(ctx)
		}()
	}

	msgCh := make(chan kafka.Message, r.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := r.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Log.Warn("kafka fetch failed", zap.String("lane", r.Lane.String()), zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}

			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < r.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runProcessor(ctx, msgCh)
		}()
	}

	logger.Log.Info("delivery worker started", zap.String("lane", r.Lane.String()), zap.Int("workers", r.Workers))

	wg.Wait()
	return nil
}

func (r *Runner) runProcessor(ctx context.Context, in <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			r.processOne(ctx, m)
		}
	}
}

func (r *Runner) processOne(ctx context.Context, m kafka.Message) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.TaskID == "" {
		// poison: commit and skip
		if err == nil {
			err = errors.New("envelope without task id")
		}
		logger.Log.Warn("bad envelope", zap.ByteString("key", m.Key), zap.Error(err))
		r.commit(ctx, m)
		return
	}

	out, err := r.Exec.Execute(ctx, env)
	if errors.Is(err, ErrUnhandled) {
		logger.Log.Error("envelope left uncommitted",
			zap.String("task_id", env.TaskID),
			zap.String("lane", r.Lane.String()),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
		return
	}

	if err != nil {
		// the task keeps its status; the scheduler's stale sweep or an
		// operator picks it up
		logger.Log.Error("execute failed",
			zap.String("task_id", env.TaskID),
			zap.String("lane", r.Lane.String()),
			zap.Error(err))
	} else {
		logger.Log.Debug("envelope handled",
			zap.String("task_id", env.TaskID),
			zap.String("outcome", out.String()),
			zap.Int("attempt", env.Attempt))
	}

	r.commit(ctx, m)
}

func (r *Runner) commit(ctx context.Context, m kafka.Message) {
	if err := r.Consumer.Commit(ctx, m); err != nil && ctx.Err() == nil {
		logger.Log.Warn("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}
