package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/wadispatch/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var taskCols = []string{
	"id", "recipient", "message_body", "options", "channel", "status", "scheduled_time", "priority",
	"retries", "max_retries", "error_message", "claimed_by", "created_by", "created_at", "updated_at",
	"started_at", "completed_at", "is_deleted", "deleted_at",
}

func addTask(rows *sqlmock.Rows, id string, st model.TaskStatus, priority, retries, maxRetries int) *sqlmock.Rows {
	return rows.AddRow(id, "+16502530000", "hello", nil, "whatsapp", string(st), t0.Add(-time.Minute), priority,
		retries, maxRetries, nil, nil, nil, t0.Add(-time.Hour), t0.Add(-time.Hour), nil, nil, false, nil)
}

func taskRow(id string, st model.TaskStatus, retries, maxRetries int) *sqlmock.Rows {
	return addTask(sqlmock.NewRows(taskCols), id, st, 5, retries, maxRetries)
}

var (
	lockOne    = regexp.QuoteMeta("WHERE id = ? AND is_deleted = 0 FOR UPDATE")
	lockDue    = regexp.QuoteMeta("ORDER BY priority ASC, scheduled_time ASC LIMIT ? FOR UPDATE SKIP LOCKED")
	updateTask = regexp.QuoteMeta("UPDATE message_tasks SET status = ?")
	insertLog  = regexp.QuoteMeta("INSERT INTO task_execution_logs")
	insertTask = regexp.QuoteMeta("INSERT INTO message_tasks")
	lockStale  = regexp.QuoteMeta("WHERE status IN ('queued', 'retrying') AND updated_at < ? AND is_deleted = 0")
)

func newStore(t *testing.T) (*TaskStore, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	db := sqlx.NewDb(raw, "mysql")
	s := NewTaskStore(db, NewTasksRepository(db), NewExecutionLogsRepository(db))
	s.now = func() time.Time { return t0 }
	return s, mock
}

func TestClaimMarksProcessing(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockOne).WithArgs("T1").WillReturnRows(taskRow("T1", model.StatusQueued, 0, 3))
	mock.ExpectExec(updateTask).
		WithArgs("processing", sqlmock.AnyArg(), 0, nil, "worker-a", t0, nil, false, nil, t0, "T1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertLog).
		WithArgs("T1", "processing", t0, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()

	task, err := s.Claim(context.Background(), "T1", "worker-a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, task.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimCompletedIsNoop(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockOne).WithArgs("T1").WillReturnRows(taskRow("T1", model.StatusCompleted, 0, 3))
	mock.ExpectRollback()

	task, err := s.Claim(context.Background(), "T1", "worker-a")
	assert.ErrorIs(t, err, model.ErrAlreadyCompleted)
	require.NotNil(t, task)
	assert.Equal(t, model.StatusCompleted, task.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimLosesRaceToOtherWorker(t *testing.T) {
	s, mock := newStore(t)

	// the row lock was granted after another worker committed PROCESSING
	mock.ExpectBegin()
	mock.ExpectQuery(lockOne).WithArgs("T1").WillReturnRows(taskRow("T1", model.StatusProcessing, 0, 3))
	mock.ExpectRollback()

	_, err := s.Claim(context.Background(), "T1", "worker-b")
	assert.ErrorIs(t, err, model.ErrNotClaimable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimMissingTask(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockOne).WithArgs("nope").WillReturnRows(sqlmock.NewRows(taskCols))
	mock.ExpectRollback()

	_, err := s.Claim(context.Background(), "nope", "w")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailExhaustsBudget(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockOne).WithArgs("T1").WillReturnRows(taskRow("T1", model.StatusProcessing, 2, 2))
	mock.ExpectExec(updateTask).
		WithArgs("failed", sqlmock.AnyArg(), 2, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), t0, false, nil, t0, "T1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertLog).
		WithArgs("T1", "failed", t0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectCommit()

	task, err := s.Fail(context.Background(), "T1", "timeout", true, map[string]any{"error_kind": "transport"}, 120)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, 2, task.Retries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteDueSkipsLockedRows(t *testing.T) {
	s, mock := newStore(t)

	rows := sqlmock.NewRows(taskCols)
	addTask(rows, "HI", model.StatusPending, 0, 0, 3)
	addTask(rows, "LO", model.StatusPending, 9, 0, 3)

	mock.ExpectBegin()
	mock.ExpectQuery(lockDue).WithArgs(t0, 50).WillReturnRows(rows)
	for _, id := range []string{"HI", "LO"} {
		mock.ExpectExec(updateTask).
			WithArgs("queued", sqlmock.AnyArg(), 0, nil, nil, nil, nil, false, nil, t0, id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertLog).
			WithArgs(id, "queued", t0, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	got, err := s.PromoteDue(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "HI", got[0].ID)
	assert.Equal(t, model.StatusQueued, got[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInsertsTaskAndLog(t *testing.T) {
	s, mock := newStore(t)

	task := &model.MessageTask{
		ID: "N1", Recipient: "+16502530000", MessageBody: "hi", Channel: model.ChannelWhatsApp,
		Status: model.StatusPending, ScheduledTime: t0.Add(time.Hour), Priority: 5, MaxRetries: 3,
	}

	mock.ExpectBegin()
	mock.ExpectExec(insertTask).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertLog).
		WithArgs("N1", "pending", t0, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Create(context.Background(), []*model.MessageTask{task}))
	assert.Equal(t, t0, task.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePromotesDueTaskInSameTx(t *testing.T) {
	s, mock := newStore(t)

	task := &model.MessageTask{
		ID: "N2", Recipient: "+16502530000", MessageBody: "hi", Channel: model.ChannelWhatsApp,
		Status: model.StatusQueued, ScheduledTime: t0, Priority: 1, MaxRetries: 3,
	}

	mock.ExpectBegin()
	mock.ExpectExec(insertTask).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertLog).
		WithArgs("N2", "pending", t0, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(updateTask).
		WithArgs("queued", t0, 0, nil, nil, nil, nil, false, nil, t0, "N2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertLog).
		WithArgs("N2", "queued", t0, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Create(context.Background(), []*model.MessageTask{task}))
	assert.Equal(t, model.StatusQueued, task.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverStaleReturnsToPending(t *testing.T) {
	s, mock := newStore(t)

	rows := sqlmock.NewRows(taskCols)
	addTask(rows, "Q1", model.StatusQueued, 5, 0, 3)
	addTask(rows, "R1", model.StatusRetrying, 5, 1, 3)

	before := t0.Add(-15 * time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery(lockStale).WithArgs(before, 20).WillReturnRows(rows)
	for _, r := range []struct {
		id      string
		retries int
	}{{"Q1", 0}, {"R1", 1}} {
		mock.ExpectExec(updateTask).
			WithArgs("pending", t0.Add(-time.Minute), r.retries, nil, nil, nil, nil, false, nil, t0, r.id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertLog).
			WithArgs(r.id, "pending", t0, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	got, err := s.RecoverStale(context.Background(), before, 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.StatusPending, got[0].Status)
	assert.Equal(t, 1, got[1].Retries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelFromProcessingRejected(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockOne).WithArgs("T1").WillReturnRows(taskRow("T1", model.StatusProcessing, 0, 3))
	mock.ExpectRollback()

	_, err := s.Cancel(context.Background(), "T1")
	assert.ErrorIs(t, err, model.ErrIllegalTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}
