package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/wadispatch/internal/model"
)

// CHLogsRepository reads execution-log analytics from ClickHouse. The table
// is fed from MySQL by CDC and lags slightly behind it.
type CHLogsRepository interface {
	AvgExecutionMs(ctx context.Context, status model.TaskStatus) (float64, error)
	List(ctx context.Context, f LogFilter) ([]model.ExecutionLog, error)
}

// LogFilter narrows a log report; zero values mean no constraint.
type LogFilter struct {
	Status model.TaskStatus
	TaskID string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

type chLogsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHLogsRepository(ch *sqlx.DB) CHLogsRepository {
	return &chLogsRepository{ch: ch}
}

func (r *chLogsRepository) AvgExecutionMs(ctx context.Context, status model.TaskStatus) (float64, error) {
	var avg float64
	err := r.ch.GetContext(ctx, &avg, `
		SELECT ifNull(avg(execution_time_ms), 0)
		FROM wadispatch.task_execution_logs
		WHERE status = ? AND execution_time_ms IS NOT NULL
	`, status.String())
	if err != nil {
		return 0, err
	}
	return avg, nil
}

func (r *chLogsRepository) List(ctx context.Context, f LogFilter) ([]model.ExecutionLog, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `
		SELECT id, task_id, status, logged_at, execution_time_ms, error_details, metadata
		FROM wadispatch.task_execution_logs FINAL
		WHERE 1 = 1
	`
	var args []any

	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}
	if f.TaskID != "" {
		q += " AND task_id = ?"
		args = append(args, f.TaskID)
	}
	if !f.From.IsZero() {
		q += " AND logged_at >= ?"
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		q += " AND logged_at < ?"
		args = append(args, f.To)
	}

	q += " ORDER BY logged_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []model.ExecutionLog
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
