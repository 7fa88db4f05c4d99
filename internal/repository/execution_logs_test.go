package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/wadispatch/internal/model"
)

func newLogsRepo(t *testing.T) (*ExecutionLogsRepositoryImpl, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return NewExecutionLogsRepository(sqlx.NewDb(raw, "mysql")), mock
}

func TestDeleteOlderThanDryRunOnlyCounts(t *testing.T) {
	r, mock := newLogsRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM task_execution_logs WHERE logged_at < ?")).
		WithArgs(t0).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(42))

	n, err := r.DeleteOlderThan(context.Background(), t0, true)
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOlderThanLoopsInBatches(t *testing.T) {
	r, mock := newLogsRepo(t)
	r.batchSize = 2

	del := regexp.QuoteMeta("DELETE FROM task_execution_logs WHERE logged_at < ? LIMIT ?")
	mock.ExpectExec(del).WithArgs(t0, 2).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(del).WithArgs(t0, 2).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(del).WithArgs(t0, 2).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := r.DeleteOlderThan(context.Background(), t0, false)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvgExecutionMsEmptyTable(t *testing.T) {
	r, mock := newLogsRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT AVG(execution_time_ms)")).
		WithArgs("completed").
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(nil))

	avg, err := r.AvgExecutionMs(context.Background(), model.StatusCompleted)
	require.NoError(t, err)
	assert.Zero(t, avg)
}

func TestGetByAPIKeyMissingUser(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	r := NewUsersRepository(sqlx.NewDb(raw, "mysql"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	u, err := r.GetByAPIKey(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, u)
}
