package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/wadispatch/internal/metrics"
	"github.com/jmehdipour/wadispatch/internal/model"
)

// TaskStore runs every task state change as one transaction: lock the row,
// apply the state-machine method, save, append the execution log.
type TaskStore struct {
	db    *sqlx.DB
	tasks TasksRepository
	logs  ExecutionLogsRepository
	now   func() time.Time
}

func NewTaskStore(db *sqlx.DB, tasks TasksRepository, logs ExecutionLogsRepository) *TaskStore {
	return &TaskStore{
		db:    db,
		tasks: tasks,
		logs:  logs,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// logFn builds the execution log for a transition; nil means no log row.
type logFn func(t *model.MessageTask, now time.Time) *model.ExecutionLog

// mutate applies fn to the locked row. When fn refuses the transition the
// transaction is rolled back and the current snapshot is returned with the
// error.
func (s *TaskStore) mutate(ctx context.Context, id string, fn func(t *model.MessageTask, now time.Time) error, mkLog logFn) (*model.MessageTask, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := s.tasks.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := fn(t, now); err != nil {
		return t, err
	}

	if err := s.tasks.SaveState(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("save task state: %w", err)
	}

	if mkLog != nil {
		if l := mkLog(t, now); l != nil {
			if err := s.logs.Insert(ctx, tx, l); err != nil {
				return nil, fmt.Errorf("insert execution log: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if mkLog != nil {
		metrics.TaskTransitions.WithLabelValues(t.Status.String()).Inc()
	}
	return t, nil
}

func plainLog(t *model.MessageTask, now time.Time) *model.ExecutionLog {
	l := model.NewLog(t, now)
	return &l
}

// Create inserts tasks as PENDING with their first log row. Tasks already due
// are promoted to QUEUED in the same transaction, with a second log row.
func (s *TaskStore) Create(ctx context.Context, tasks []*model.MessageTask) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	for _, t := range tasks {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.Status = model.StatusPending
		t.UpdatedAt = now

		if err := s.tasks.Insert(ctx, tx, t); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		l := model.NewLog(t, now)
		l.Metadata["event"] = "created"
		if err := s.logs.Insert(ctx, tx, &l); err != nil {
			return fmt.Errorf("insert execution log: %w", err)
		}

		if t.ScheduledTime.After(now) {
			continue
		}

		if err := t.Promote(now); err != nil {
			return err
		}

		if err := s.tasks.SaveState(ctx, tx, t); err != nil {
			return fmt.Errorf("save promoted task: %w", err)
		}

		l = model.NewLog(t, now)
		l.Metadata["event"] = "promoted"
		if err := s.logs.Insert(ctx, tx, &l); err != nil {
			return fmt.Errorf("insert execution log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, t := range tasks {
		metrics.TaskTransitions.WithLabelValues(t.Status.String()).Inc()
	}
	return nil
}

// PromoteDue moves up to limit due pending tasks to QUEUED and returns them
// in (priority, scheduled_time) order. Rows locked by a concurrent promoter
// are skipped, never waited on.
func (s *TaskStore) PromoteDue(ctx context.Context, limit int) ([]*model.MessageTask, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	due, err := s.tasks.SelectDueForUpdate(ctx, tx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due tasks: %w", err)
	}

	for _, t := range due {
		if err := t.Promote(now); err != nil {
			return nil, err
		}

		if err := s.tasks.SaveState(ctx, tx, t); err != nil {
			return nil, fmt.Errorf("save promoted task: %w", err)
		}

		l := model.NewLog(t, now)
		l.Metadata["event"] = "promoted"
		if err := s.logs.Insert(ctx, tx, &l); err != nil {
			return nil, fmt.Errorf("insert execution log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.TaskTransitions.WithLabelValues(model.StatusQueued.String()).Add(float64(len(due)))
	return due, nil
}

// RecoverStale moves up to limit QUEUED or RETRYING tasks not updated since
// before back to PENDING. Those are tasks whose envelope never reached a
// worker, or whose retry envelope was dropped.
func (s *TaskStore) RecoverStale(ctx context.Context, before time.Time, limit int) ([]*model.MessageTask, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stale, err := s.tasks.SelectStaleForUpdate(ctx, tx, before, limit)
	if err != nil {
		return nil, fmt.Errorf("select stale tasks: %w", err)
	}

	now := s.now()
	for _, t := range stale {
		from := t.Status
		if err := t.Recover(now); err != nil {
			return nil, err
		}

		if err := s.tasks.SaveState(ctx, tx, t); err != nil {
			return nil, fmt.Errorf("save recovered task: %w", err)
		}

		l := model.NewLog(t, now)
		l.Metadata["event"] = "recovered"
		l.Metadata["from_status"] = from.String()
		if err := s.logs.Insert(ctx, tx, &l); err != nil {
			return nil, fmt.Errorf("insert execution log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.TaskTransitions.WithLabelValues(model.StatusPending.String()).Add(float64(len(stale)))
	return stale, nil
}

// Promote queues one pending task right away.
func (s *TaskStore) Promote(ctx context.Context, id string) (*model.MessageTask, error) {
	return s.mutate(ctx, id, func(t *model.MessageTask, now time.Time) error {
		return t.Promote(now)
	}, plainLog)
}

// Revert returns a queued task to PENDING after its enqueue failed.
func (s *TaskStore) Revert(ctx context.Context, id, reason string) (*model.MessageTask, error) {
	return s.mutate(ctx, id, func(t *model.MessageTask, now time.Time) error {
		return t.Requeue(now)
	}, func(t *model.MessageTask, now time.Time) *model.ExecutionLog {
		l := model.NewLog(t, now)
		l.ErrorDetails["error"] = reason
		l.Metadata["event"] = "enqueue_failed"
		return &l
	})
}

// Claim locks the task and marks it PROCESSING for claimant. A concurrent
// claimer waits on the lock and then sees a non-claimable status.
func (s *TaskStore) Claim(ctx context.Context, id, claimant string) (*model.MessageTask, error) {
	return s.mutate(ctx, id, func(t *model.MessageTask, now time.Time) error {
		return t.Claim(claimant, now)
	}, func(t *model.MessageTask, now time.Time) *model.ExecutionLog {
		l := model.NewLog(t, now)
		l.Metadata["claimed_by"] = claimant
		l.Metadata["attempt"] = t.Retries + 1
		return &l
	})
}

func (s *TaskStore) Complete(ctx context.Context, id, messageID string, elapsedMs int64) (*model.MessageTask, error) {
	return s.mutate(ctx, id, func(t *model.MessageTask, now time.Time) error {
		return t.Complete(now)
	}, func(t *model.MessageTask, now time.Time) *model.ExecutionLog {
		l := model.NewLog(t, now).WithElapsed(elapsedMs)
		l.Metadata["message_id"] = messageID
		return &l
	})
}

// Fail records a failed attempt. The task ends RETRYING while budget remains
// and the failure is retryable, FAILED otherwise.
func (s *TaskStore) Fail(ctx context.Context, id, cause string, retryable bool, details map[string]any, elapsedMs int64) (*model.MessageTask, error) {
	return s.mutate(ctx, id, func(t *model.MessageTask, now time.Time) error {
		return t.RecordFailure(cause, retryable, now)
	}, func(t *model.MessageTask, now time.Time) *model.ExecutionLog {
		l := model.NewLog(t, now).WithElapsed(elapsedMs)
		for k, v := range details {
			l.ErrorDetails[k] = v
		}
		if _, ok := l.ErrorDetails["error"]; !ok {
			l.ErrorDetails["error"] = cause
		}
		l.ErrorDetails["retry_count"] = t.Retries
		l.ErrorDetails["max_retries"] = t.MaxRetries
		return &l
	})
}

// Reschedule parks a RETRYING task as PENDING due at `at`.
func (s *TaskStore) Reschedule(ctx context.Context, id string, at time.Time) (*model.MessageTask, error) {
	return s.mutate(ctx, id, func(t *model.MessageTask, now time.Time) error {
		return t.Reschedule(at, now)
	}, func(t *model.MessageTask, now time.Time) *model.ExecutionLog {
		l := model.NewLog(t, now)
		l.Metadata["event"] = "rescheduled"
		l.Metadata["scheduled_time"] = at
		return &l
	})
}

func (s *TaskStore) Cancel(ctx context.Context, id string) (*model.MessageTask, error) {
	return s.mutate(ctx, id, func(t *model.MessageTask, now time.Time) error {
		return t.Cancel(now)
	}, plainLog)
}

func (s *TaskStore) ManualRetry(ctx context.Context, id string) (*model.MessageTask, error) {
	return s.mutate(ctx, id, func(t *model.MessageTask, now time.Time) error {
		return t.ManualRetry(now)
	}, func(t *model.MessageTask, now time.Time) *model.ExecutionLog {
		l := model.NewLog(t, now)
		l.Metadata["event"] = "manual_retry"
		return &l
	})
}

func (s *TaskStore) SoftDelete(ctx context.Context, id string) (*model.MessageTask, error) {
	return s.mutate(ctx, id, func(t *model.MessageTask, now time.Time) error {
		t.SoftDelete(now)
		return nil
	}, nil)
}
