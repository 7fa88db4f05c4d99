package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTask(st TaskStatus) *MessageTask {
	return &MessageTask{
		ID:            "01HZX",
		Recipient:     "+16502530000",
		MessageBody:   "hello",
		Status:        st,
		ScheduledTime: t0.Add(-time.Minute),
		Priority:      DefaultPriority,
		MaxRetries:    2,
	}
}

func TestPromoteOnlyFromPending(t *testing.T) {
	task := newTask(StatusPending)
	require.NoError(t, task.Promote(t0))
	assert.Equal(t, StatusQueued, task.Status)
	assert.Equal(t, t0, task.UpdatedAt)

	err := task.Promote(t0)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRequeueRevertsPromotion(t *testing.T) {
	task := newTask(StatusQueued)
	require.NoError(t, task.Requeue(t0))
	assert.Equal(t, StatusPending, task.Status)

	assert.ErrorIs(t, newTask(StatusProcessing).Requeue(t0), ErrIllegalTransition)
}

func TestCancelAllowedStates(t *testing.T) {
	for _, st := range AllStatuses {
		task := newTask(st)
		err := task.Cancel(t0)
		if st == StatusPending || st == StatusQueued {
			require.NoError(t, err, st)
			assert.Equal(t, StatusCancelled, task.Status)
			continue
		}
		assert.ErrorIs(t, err, ErrIllegalTransition, st)
		assert.Equal(t, st, task.Status)
	}
}

func TestClaim(t *testing.T) {
	for _, st := range []TaskStatus{StatusQueued, StatusRetrying} {
		task := newTask(st)
		require.NoError(t, task.Claim("worker-1", t0))
		assert.Equal(t, StatusProcessing, task.Status)
		require.NotNil(t, task.ClaimedBy)
		assert.Equal(t, "worker-1", *task.ClaimedBy)
		require.NotNil(t, task.StartedAt)
		assert.Equal(t, t0, *task.StartedAt)
	}

	done := newTask(StatusCompleted)
	assert.ErrorIs(t, done.Claim("w", t0), ErrAlreadyCompleted)

	for _, st := range []TaskStatus{StatusPending, StatusProcessing, StatusFailed, StatusCancelled} {
		task := newTask(st)
		err := task.Claim("w", t0)
		assert.True(t, errors.Is(err, ErrNotClaimable), st)
		assert.Equal(t, st, task.Status)
	}
}

func TestCompleteRequiresProcessing(t *testing.T) {
	task := newTask(StatusProcessing)
	require.NoError(t, task.Complete(t0))
	assert.Equal(t, StatusCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)

	assert.ErrorIs(t, newTask(StatusQueued).Complete(t0), ErrIllegalTransition)
}

func TestRecordFailureRespectsBudget(t *testing.T) {
	task := newTask(StatusProcessing)
	task.MaxRetries = 2

	require.NoError(t, task.RecordFailure("timeout", true, t0))
	assert.Equal(t, StatusRetrying, task.Status)
	assert.Equal(t, 1, task.Retries)

	require.NoError(t, task.Claim("w", t0))
	require.NoError(t, task.RecordFailure("timeout", true, t0))
	assert.Equal(t, StatusRetrying, task.Status)
	assert.Equal(t, 2, task.Retries)

	require.NoError(t, task.Claim("w", t0))
	require.NoError(t, task.RecordFailure("timeout", true, t0))
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 2, task.Retries, "retries never exceed max_retries")
	require.NotNil(t, task.ErrorMessage)
	assert.Equal(t, "timeout", *task.ErrorMessage)
}

func TestRecordFailureNonRetryableIsTerminal(t *testing.T) {
	task := newTask(StatusProcessing)
	require.NoError(t, task.RecordFailure("bad options", false, t0))
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 0, task.Retries)
}

func TestRecordFailureZeroBudget(t *testing.T) {
	task := newTask(StatusProcessing)
	task.MaxRetries = 0
	require.NoError(t, task.RecordFailure("boom", true, t0))
	assert.Equal(t, StatusFailed, task.Status)
}

func TestManualRetryKeepsRetries(t *testing.T) {
	task := newTask(StatusFailed)
	task.Retries = 2
	msg := "boom"
	task.ErrorMessage = &msg

	later := t0.Add(time.Hour)
	require.NoError(t, task.ManualRetry(later))
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, later, task.ScheduledTime)
	assert.Nil(t, task.ErrorMessage)
	assert.Equal(t, 2, task.Retries)

	assert.ErrorIs(t, newTask(StatusCompleted).ManualRetry(t0), ErrIllegalTransition)
}

func TestReschedule(t *testing.T) {
	task := newTask(StatusRetrying)
	at := t0.Add(30 * time.Second)
	require.NoError(t, task.Reschedule(at, t0))
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, at, task.ScheduledTime)

	assert.ErrorIs(t, newTask(StatusProcessing).Reschedule(at, t0), ErrIllegalTransition)
}

func TestRecoverFromQueuedOrRetrying(t *testing.T) {
	for _, st := range AllStatuses {
		task := newTask(st)
		task.Retries = 1
		err := task.Recover(t0)
		if st == StatusQueued || st == StatusRetrying {
			require.NoError(t, err, st)
			assert.Equal(t, StatusPending, task.Status)
			assert.Equal(t, 1, task.Retries)
			assert.Equal(t, t0.Add(-time.Minute), task.ScheduledTime)
			continue
		}
		assert.ErrorIs(t, err, ErrIllegalTransition, st)
	}

	future := newTask(StatusRetrying)
	future.ScheduledTime = t0.Add(time.Hour)
	require.NoError(t, future.Recover(t0))
	assert.Equal(t, t0, future.ScheduledTime)
}

func TestLaneFor(t *testing.T) {
	assert.Equal(t, LaneExpress, LaneFor(0))
	assert.Equal(t, LaneExpress, LaneFor(2))
	assert.Equal(t, LaneNormal, LaneFor(3))
	assert.Equal(t, LaneNormal, LaneFor(9))
	assert.Equal(t, LaneExpress, LaneFor(-4))
	assert.Equal(t, LaneNormal, LaneFor(42))
}

func TestParseChannel(t *testing.T) {
	c, ok := ParseChannel(" SMS ")
	assert.True(t, ok)
	assert.Equal(t, ChannelSMS, c)

	c, ok = ParseChannel("")
	assert.True(t, ok)
	assert.Equal(t, ChannelWhatsApp, c)

	_, ok = ParseChannel("fax")
	assert.False(t, ok)
}

func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan([]byte(`{"error":"x","retry_count":2}`)))
	assert.Equal(t, "x", m["error"])
	assert.EqualValues(t, 2, m["retry_count"])

	require.NoError(t, m.Scan(nil))
	assert.Empty(t, m)

	v, err := JSONMap(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)
}
