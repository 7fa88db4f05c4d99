package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/wadispatch/internal/model"
)

// ExecutionLogsRepository appends and reads task_execution_logs. Rows are
// never updated.
type ExecutionLogsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, l *model.ExecutionLog) error
	ListByTask(ctx context.Context, taskID string, limit int) ([]model.ExecutionLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error)
	AvgExecutionMs(ctx context.Context, status model.TaskStatus) (float64, error)
}

type ExecutionLogsRepositoryImpl struct {
	db        *sqlx.DB
	batchSize int
}

func NewExecutionLogsRepository(db *sqlx.DB) *ExecutionLogsRepositoryImpl {
	return &ExecutionLogsRepositoryImpl{db: db, batchSize: 5000}
}

var _ ExecutionLogsRepository = (*ExecutionLogsRepositoryImpl)(nil)

func (r *ExecutionLogsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, l *model.ExecutionLog) error {
	const q = `
		INSERT INTO task_execution_logs
		    (task_id, status, logged_at, execution_time_ms, error_details, metadata)
		VALUES
		    (?, ?, ?, ?, ?, ?)
	`
	var (
		res sql.Result
		err error
	)
	args := []any{l.TaskID, l.Status.String(), l.Timestamp, l.ExecutionTimeMs, l.ErrorDetails, l.Metadata}
	if tx != nil {
		res, err = tx.ExecContext(ctx, q, args...)
	} else {
		res, err = r.db.ExecContext(ctx, q, args...)
	}
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	return nil
}

func (r *ExecutionLogsRepositoryImpl) ListByTask(ctx context.Context, taskID string, limit int) ([]model.ExecutionLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	var rows []model.ExecutionLog
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, task_id, status, logged_at, execution_time_ms, error_details, metadata
		  FROM task_execution_logs
		 WHERE task_id = ?
		 ORDER BY id ASC
		 LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteOlderThan purges logs written before cutoff in bounded chunks so the
// table is never locked for long. With dryRun it only counts.
func (r *ExecutionLogsRepositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	if dryRun {
		var n int64
		err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM task_execution_logs WHERE logged_at < ?`, cutoff)
		return n, err
	}

	var total int64
	for {
		res, err := r.db.ExecContext(ctx, `DELETE FROM task_execution_logs WHERE logged_at < ? LIMIT ?`, cutoff, r.batchSize)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(r.batchSize) {
			return total, nil
		}
	}
}

func (r *ExecutionLogsRepositoryImpl) AvgExecutionMs(ctx context.Context, status model.TaskStatus) (float64, error) {
	var avg sql.NullFloat64
	err := r.db.GetContext(ctx, &avg, `
		SELECT AVG(execution_time_ms)
		  FROM task_execution_logs
		 WHERE status = ? AND execution_time_ms IS NOT NULL
	`, status.String())
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}
