package model

import (
	"errors"
	"fmt"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusRetrying   TaskStatus = "retrying"
	StatusCancelled  TaskStatus = "cancelled"
)

// AllStatuses lists every task status in lifecycle order.
var AllStatuses = []TaskStatus{
	StatusPending, StatusQueued, StatusProcessing, StatusCompleted,
	StatusFailed, StatusRetrying, StatusCancelled,
}

func (s TaskStatus) String() string {
	return string(s)
}

func (s TaskStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no automatic transition leaves s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

const (
	MaxBodyLength     = 4096
	MinPriority       = 0
	MaxPriority       = 9
	DefaultPriority   = 5
	MaxRetriesCeiling = 10
	DefaultMaxRetries = 3
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrAlreadyCompleted  = errors.New("task already completed")
	ErrNotClaimable      = errors.New("task not claimable")
)

// MessageTask is the DB entity persisted in message_tasks table.
type MessageTask struct {
	ID            string     `db:"id"            json:"id"`
	Recipient     string     `db:"recipient"     json:"recipient"`
	MessageBody   string     `db:"message_body"  json:"message_body"`
	Options       []byte     `db:"options"       json:"-"` // canonical options JSON, NULL => text intent
	Channel       Channel    `db:"channel"       json:"channel"`
	Status        TaskStatus `db:"status"        json:"status"`
	ScheduledTime time.Time  `db:"scheduled_time" json:"scheduled_time"`
	Priority      int        `db:"priority"      json:"priority"`
	Retries       int        `db:"retries"       json:"retries"`
	MaxRetries    int        `db:"max_retries"   json:"max_retries"`
	ErrorMessage  *string    `db:"error_message" json:"error_message,omitempty"`
	ClaimedBy     *string    `db:"claimed_by"    json:"claimed_by,omitempty"`
	CreatedBy     *int64     `db:"created_by"    json:"created_by,omitempty"`
	CreatedAt     time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"    json:"updated_at"`
	StartedAt     *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	IsDeleted     bool       `db:"is_deleted"    json:"-"`
	DeletedAt     *time.Time `db:"deleted_at"    json:"-"`
}

func (t *MessageTask) illegal(to TaskStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.Status, to)
}

// Promote moves a due pending task into the work queue.
func (t *MessageTask) Promote(now time.Time) error {
	if t.Status != StatusPending {
		return t.illegal(StatusQueued)
	}
	t.Status = StatusQueued
	t.ClaimedBy = nil
	t.UpdatedAt = now
	return nil
}

// Requeue undoes a promotion whose enqueue failed.
func (t *MessageTask) Requeue(now time.Time) error {
	if t.Status != StatusQueued {
		return t.illegal(StatusPending)
	}
	t.Status = StatusPending
	t.UpdatedAt = now
	return nil
}

func (t *MessageTask) Cancel(now time.Time) error {
	if t.Status != StatusPending && t.Status != StatusQueued {
		return t.illegal(StatusCancelled)
	}
	t.Status = StatusCancelled
	t.UpdatedAt = now
	return nil
}

// Claim marks the task as owned by claimant. Callers must hold the row lock.
func (t *MessageTask) Claim(claimant string, now time.Time) error {
	switch t.Status {
	case StatusQueued, StatusRetrying:
	case StatusCompleted:
		return ErrAlreadyCompleted
	default:
		return fmt.Errorf("%w: status=%s", ErrNotClaimable, t.Status)
	}
	t.Status = StatusProcessing
	t.ClaimedBy = &claimant
	t.StartedAt = &now
	t.UpdatedAt = now
	return nil
}

func (t *MessageTask) Complete(now time.Time) error {
	if t.Status != StatusProcessing {
		return t.illegal(StatusCompleted)
	}
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	return nil
}

// CanRetry is the retry-eligibility invariant.
func (t *MessageTask) CanRetry() bool {
	return t.Retries < t.MaxRetries
}

// RecordFailure applies a failed delivery attempt. Retryable failures move to
// RETRYING while budget remains; everything else is terminal.
func (t *MessageTask) RecordFailure(cause string, retryable bool, now time.Time) error {
	if t.Status != StatusProcessing {
		return t.illegal(StatusFailed)
	}
	t.ErrorMessage = &cause
	t.UpdatedAt = now
	if retryable && t.CanRetry() {
		t.Retries++
		t.Status = StatusRetrying
		return nil
	}
	t.Status = StatusFailed
	t.CompletedAt = &now
	return nil
}

// ManualRetry re-arms a failed task. The retry counter is kept.
func (t *MessageTask) ManualRetry(now time.Time) error {
	if t.Status != StatusFailed {
		return t.illegal(StatusPending)
	}
	t.Status = StatusPending
	t.ErrorMessage = nil
	t.ScheduledTime = now
	t.CompletedAt = nil
	t.UpdatedAt = now
	return nil
}

// Reschedule hands a retrying task back to the promoter when the delayed
// re-enqueue could not be written.
func (t *MessageTask) Reschedule(at, now time.Time) error {
	if t.Status != StatusRetrying {
		return t.illegal(StatusPending)
	}
	t.Status = StatusPending
	t.ScheduledTime = at
	t.UpdatedAt = now
	return nil
}

// Recover returns a QUEUED or RETRYING task whose envelope was lost to
// PENDING so the promoter queues it again. Retries are kept.
func (t *MessageTask) Recover(now time.Time) error {
	if t.Status != StatusQueued && t.Status != StatusRetrying {
		return t.illegal(StatusPending)
	}
	t.Status = StatusPending
	t.ClaimedBy = nil
	if t.ScheduledTime.After(now) {
		t.ScheduledTime = now
	}
	t.UpdatedAt = now
	return nil
}

// SoftDelete hides the task from every scheduling and worker query.
func (t *MessageTask) SoftDelete(now time.Time) {
	t.IsDeleted = true
	t.DeletedAt = &now
	t.UpdatedAt = now
}

// Lane returns the queue lane for the task priority.
func (t *MessageTask) Lane() Lane {
	return LaneFor(t.Priority)
}

// Overdue reports a task still waiting after its scheduled time.
func (t *MessageTask) Overdue(now time.Time) bool {
	return (t.Status == StatusPending || t.Status == StatusQueued) && t.ScheduledTime.Before(now)
}
