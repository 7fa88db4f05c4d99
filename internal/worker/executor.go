package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/broadcast"
	"github.com/jmehdipour/wadispatch/internal/dispatcher"
	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/metrics"
	"github.com/jmehdipour/wadispatch/internal/model"
	"github.com/jmehdipour/wadispatch/internal/options"
	"github.com/jmehdipour/wadispatch/internal/payload"
	"github.com/jmehdipour/wadispatch/internal/repository"
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrChannelDisabled    = errors.New("delivery channel not configured")

	// ErrUnhandled marks an envelope the executor could neither process nor
	// hand back to the queue; its offset must not be committed.
	ErrUnhandled = errors.New("envelope not handled")
)

type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeRetrying
	OutcomeFailed
	OutcomeAlreadyCompleted
	OutcomeSkipped
	OutcomeNotFound
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetrying:
		return "retrying"
	case OutcomeFailed:
		return "failed"
	case OutcomeAlreadyCompleted:
		return "already_completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "not_found"
	}
}

// Store is the transactional task API the executor drives. Every method
// locks the row, checks the state machine and writes the execution log.
type Store interface {
	Claim(ctx context.Context, id, claimant string) (*model.MessageTask, error)
	Complete(ctx context.Context, id, messageID string, elapsedMs int64) (*model.MessageTask, error)
	Fail(ctx context.Context, id, cause string, retryable bool, details map[string]any, elapsedMs int64) (*model.MessageTask, error)
	Reschedule(ctx context.Context, id string, at time.Time) (*model.MessageTask, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, env model.Envelope, delay time.Duration) error
}

type SMSSender interface {
	Send(ctx context.Context, sms model.SMS, lane model.Lane) dispatcher.Result
}

type ExecutorConfig struct {
	Claimant  string // written to claimed_by
	SMSSender string // sender id on the SMS channel
	Backoff   Backoff
}

// Executor delivers one task per Execute call. Row locks are held only while
// a transition is written, never across the network call.
type Executor struct {
	store    Store
	queue    Enqueuer
	wa       dispatcher.WhatsAppSender
	sms      SMSSender
	bcast    broadcast.Broadcaster
	claimant string
	sender   string
	backoff  Backoff
	now      func() time.Time

	writeAttempts int
	writePause    time.Duration
}

func NewExecutor(store Store, q Enqueuer, wa dispatcher.WhatsAppSender, sms SMSSender, b broadcast.Broadcaster, cfg ExecutorConfig) *Executor {
	if b == nil {
		b = broadcast.Nop{}
	}

	if cfg.Claimant == "" {
		cfg.Claimant = "worker"
	}

	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}

	return &Executor{
		store:    store,
		queue:    q,
		wa:       wa,
		sms:      sms,
		bcast:    b,
		claimant: cfg.Claimant,
		sender:   cfg.SMSSender,
		backoff:  cfg.Backoff,
		now:      time.Now,

		writeAttempts: 3,
		writePause:    100 * time.Millisecond,
	}
}

// Execute claims the envelope's task, delivers it and records the outcome.
// Only store failures come back as errors; delivery problems end in a
// transition. A claim that fails on the store puts the envelope back on the
// queue after a backoff.
func (e *Executor) Execute(ctx context.Context, env model.Envelope) (Outcome, error) {
	taskID := env.TaskID
	t, err := e.store.Claim(ctx, taskID, e.claimant)
	switch {
	case errors.Is(err, model.ErrAlreadyCompleted):
		return OutcomeAlreadyCompleted, nil
	case errors.Is(err, model.ErrNotClaimable):
		logger.Log.Debug("task not claimable", zap.String("task_id", taskID), zap.Error(err))
		return OutcomeSkipped, nil
	case errors.Is(err, repository.ErrNotFound):
		return OutcomeNotFound, nil
	case err != nil:
		return e.requeueClaim(ctx, env, err)
	}
	e.emit(t, "claimed")

	send, err := e.prepare(t)
	if err != nil {
		return e.fail(ctx, t, err.Error(), false, map[string]any{"error": err.Error(), "error_kind": "validation"}, 0)
	}

	start := e.now()
	res := send(ctx)
	elapsed := e.now().Sub(start)
	metrics.DeliverySeconds.WithLabelValues(t.Channel.String(), outcomeLabel(res)).Observe(elapsed.Seconds())

	if res.Success {
		done, err := e.write(ctx, func() (*model.MessageTask, error) {
			return e.store.Complete(ctx, t.ID, res.MessageID, elapsed.Milliseconds())
		})
		if err != nil {
			return OutcomeCompleted, fmt.Errorf("complete %s: %w", t.ID, err)
		}

		e.emit(done, "completed")
		logger.Log.Info("message delivered",
			zap.String("task_id", t.ID),
			zap.String("message_id", res.MessageID),
			zap.Int64("elapsed_ms", elapsed.Milliseconds()))
		return OutcomeCompleted, nil
	}

	cause := res.ErrorMessage
	if cause == "" {
		cause = "delivery failed"
	}
	return e.fail(ctx, t, cause, true, res.Details(), elapsed.Milliseconds())
}

// prepare resolves the channel and builds the outbound request up front so
// malformed tasks fail before any network call.
func (e *Executor) prepare(t *model.MessageTask) (func(context.Context) dispatcher.Result, error) {
	if t.Channel == model.ChannelSMS {
		if e.sms == nil {
			return nil, ErrChannelDisabled
		}

		msg := model.SMS{To: t.Recipient, Text: t.MessageBody, Sender: e.sender}
		lane := t.Lane()
		return func(ctx context.Context) dispatcher.Result { return e.sms.Send(ctx, msg, lane) }, nil
	}

	if e.wa == nil {
		return nil, ErrChannelDisabled
	}

	o, err := TaskOptions(t)
	if err != nil {
		return nil, err
	}

	p, err := payload.Build(t.Recipient, o)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) dispatcher.Result { return e.wa.Send(ctx, p) }, nil
}

// TaskOptions decodes the stored options, falling back to a text intent made
// from the message body.
func TaskOptions(t *model.MessageTask) (options.Options, error) {
	if len(t.Options) == 0 || string(t.Options) == "null" {
		return options.Default(t.MessageBody), nil
	}
	return options.Unmarshal(t.Options)
}

func (e *Executor) fail(ctx context.Context, t *model.MessageTask, cause string, retryable bool, details map[string]any, elapsedMs int64) (Outcome, error) {
	failed, err := e.write(ctx, func() (*model.MessageTask, error) {
		return e.store.Fail(ctx, t.ID, cause, retryable, details, elapsedMs)
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("record failure %s: %w", t.ID, err)
	}

	if failed.Status == model.StatusFailed {
		e.emit(failed, "failed")

		if retryable {
			logger.Log.Error("delivery failed permanently",
				zap.String("task_id", failed.ID),
				zap.Int("retries", failed.Retries),
				zap.String("cause", cause),
				zap.Error(ErrMaxRetriesExceeded))
		} else {
			logger.Log.Warn("task rejected before delivery", zap.String("task_id", failed.ID), zap.String("cause", cause))
		}
		return OutcomeFailed, nil
	}

	e.emit(failed, "retrying")
	delay := e.backoff.Delay(failed.Retries - 1)
	env := model.Envelope{TaskID: failed.ID, Priority: failed.Priority, Attempt: failed.Retries}

	if err := e.queue.Enqueue(ctx, env, delay); err != nil {
		metrics.EnqueueFailures.WithLabelValues("retry").Inc()
		logger.Log.Warn("retry enqueue failed, handing task to scheduler",
			zap.String("task_id", failed.ID),
			zap.Duration("delay", delay),
			zap.Error(err))

		at := e.now().UTC().Add(delay)
		parked, rerr := e.write(ctx, func() (*model.MessageTask, error) {
			return e.store.Reschedule(ctx, failed.ID, at)
		})
		if rerr != nil {
			return OutcomeRetrying, fmt.Errorf("reschedule %s: %w", failed.ID, rerr)
		}
		e.emit(parked, "rescheduled")
		return OutcomeRetrying, nil
	}

	logger.Log.Info("delivery failed, retry scheduled",
		zap.String("task_id", failed.ID),
		zap.Int("retries", failed.Retries),
		zap.Duration("delay", delay),
		zap.String("cause", cause))
	return OutcomeRetrying, nil
}

// requeueClaim hands an envelope whose claim failed back to the queue. The
// task is untouched, so the next delivery claims it normally.
func (e *Executor) requeueClaim(ctx context.Context, env model.Envelope, cause error) (Outcome, error) {
	delay := e.backoff.Delay(env.Attempt)
	if err := e.queue.Enqueue(ctx, env, delay); err != nil {
		metrics.EnqueueFailures.WithLabelValues("claim").Inc()
		return OutcomeDeferred, fmt.Errorf("%w: claim %s: %v (requeue: %v)", ErrUnhandled, env.TaskID, cause, err)
	}

	logger.Log.Warn("claim failed, envelope requeued",
		zap.String("task_id", env.TaskID),
		zap.Duration("delay", delay),
		zap.Error(cause))
	return OutcomeDeferred, nil
}

// write runs a post-claim transition, retrying store errors a few times. The
// envelope is spent by then, so nothing else would redo the write.
func (e *Executor) write(ctx context.Context, fn func() (*model.MessageTask, error)) (*model.MessageTask, error) {
	var (
		t   *model.MessageTask
		err error
	)
	for i := 0; i < e.writeAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, err
			case <-time.After(e.writePause << (i - 1)):
			}
		}

		t, err = fn()
		if err == nil || isStateErr(err) {
			return t, err
		}
		logger.Log.Warn("task store write failed", zap.Int("attempt", i+1), zap.Error(err))
	}
	return t, err
}

func isStateErr(err error) bool {
	return errors.Is(err, model.ErrIllegalTransition) ||
		errors.Is(err, model.ErrNotClaimable) ||
		errors.Is(err, model.ErrAlreadyCompleted) ||
		errors.Is(err, repository.ErrNotFound)
}

func (e *Executor) emit(t *model.MessageTask, event string) {
	e.bcast.Publish(model.EventFor(t, event, e.now().UTC()))
}

func outcomeLabel(r dispatcher.Result) string {
	if r.Success {
		return "success"
	}
	return string(r.Kind)
}
