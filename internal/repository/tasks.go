package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/wadispatch/internal/model"
)

var ErrNotFound = errors.New("not found")

const taskColumns = `id, recipient, message_body, options, channel, status, scheduled_time, priority,
	retries, max_retries, error_message, claimed_by, created_by, created_at, updated_at,
	started_at, completed_at, is_deleted, deleted_at`

// TaskFilter narrows List. Zero values mean "any".
type TaskFilter struct {
	Status    model.TaskStatus
	Recipient string
	CreatedBy *int64
	Limit     int
	Offset    int
}

// TasksRepository persists message_tasks. Soft-deleted rows are invisible to
// every read.
type TasksRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, t *model.MessageTask) error
	GetByID(ctx context.Context, id string) (*model.MessageTask, error)
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.MessageTask, error)
	SelectDueForUpdate(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]*model.MessageTask, error)
	SelectStaleForUpdate(ctx context.Context, tx *sqlx.Tx, before time.Time, limit int) ([]*model.MessageTask, error)
	SaveState(ctx context.Context, tx *sqlx.Tx, t *model.MessageTask) error
	List(ctx context.Context, f TaskFilter) ([]model.MessageTask, error)
	CountByStatus(ctx context.Context, createdBy *int64) (map[model.TaskStatus]int64, error)
	SumRetries(ctx context.Context, createdBy *int64) (int64, error)
}

type TasksRepositoryImpl struct {
	db *sqlx.DB
}

func NewTasksRepository(db *sqlx.DB) *TasksRepositoryImpl {
	return &TasksRepositoryImpl{db: db}
}

var _ TasksRepository = (*TasksRepositoryImpl)(nil)

func (r *TasksRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *TasksRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, t *model.MessageTask) error {
	const q = `
		INSERT INTO message_tasks
		    (id, recipient, message_body, options, channel, status, scheduled_time, priority,
		     retries, max_retries, error_message, claimed_by, created_by, created_at, updated_at,
		     started_at, completed_at, is_deleted, deleted_at)
		VALUES
		    (:id, :recipient, :message_body, :options, :channel, :status, :scheduled_time, :priority,
		     :retries, :max_retries, :error_message, :claimed_by, :created_by, :created_at, :updated_at,
		     :started_at, :completed_at, :is_deleted, :deleted_at)
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, q, t)
		return err
	})
}

func (r *TasksRepositoryImpl) GetByID(ctx context.Context, id string) (*model.MessageTask, error) {
	var t model.MessageTask
	err := r.db.GetContext(ctx, &t, `
		SELECT `+taskColumns+`
		  FROM message_tasks
		 WHERE id = ? AND is_deleted = 0
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetForUpdate blocks until the row lock is granted.
func (r *TasksRepositoryImpl) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.MessageTask, error) {
	var t model.MessageTask
	err := tx.GetContext(ctx, &t, `
		SELECT `+taskColumns+`
		  FROM message_tasks
		 WHERE id = ? AND is_deleted = 0
		 FOR UPDATE
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SelectDueForUpdate locks due pending tasks, skipping rows another
// transaction already holds.
func (r *TasksRepositoryImpl) SelectDueForUpdate(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]*model.MessageTask, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []*model.MessageTask
	err := tx.SelectContext(ctx, &rows, `
		SELECT `+taskColumns+`
		  FROM message_tasks
		 WHERE status = 'pending' AND scheduled_time <= ? AND is_deleted = 0
		 ORDER BY priority ASC, scheduled_time ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SelectStaleForUpdate locks queued or retrying tasks untouched since before.
func (r *TasksRepositoryImpl) SelectStaleForUpdate(ctx context.Context, tx *sqlx.Tx, before time.Time, limit int) ([]*model.MessageTask, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []*model.MessageTask
	err := tx.SelectContext(ctx, &rows, `
		SELECT `+taskColumns+`
		  FROM message_tasks
		 WHERE status IN ('queued', 'retrying') AND updated_at < ? AND is_deleted = 0
		 ORDER BY updated_at ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED
	`, before, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *TasksRepositoryImpl) SaveState(ctx context.Context, tx *sqlx.Tx, t *model.MessageTask) error {
	const q = `
		UPDATE message_tasks
		   SET status = ?, scheduled_time = ?, retries = ?, error_message = ?, claimed_by = ?,
		       started_at = ?, completed_at = ?, is_deleted = ?, deleted_at = ?, updated_at = ?
		 WHERE id = ?
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			t.Status.String(), t.ScheduledTime, t.Retries, t.ErrorMessage, t.ClaimedBy,
			t.StartedAt, t.CompletedAt, t.IsDeleted, t.DeletedAt, t.UpdatedAt,
			t.ID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("save task %s: %w", t.ID, ErrNotFound)
		}
		return nil
	})
}

// List returns newest tasks first.
func (r *TasksRepositoryImpl) List(ctx context.Context, f TaskFilter) ([]model.MessageTask, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `SELECT ` + taskColumns + ` FROM message_tasks WHERE is_deleted = 0`
	args := []any{}

	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}
	if f.Recipient != "" {
		q += " AND recipient = ?"
		args = append(args, f.Recipient)
	}
	if f.CreatedBy != nil {
		q += " AND created_by = ?"
		args = append(args, *f.CreatedBy)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []model.MessageTask
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *TasksRepositoryImpl) CountByStatus(ctx context.Context, createdBy *int64) (map[model.TaskStatus]int64, error) {
	q := `SELECT status, COUNT(*) AS n FROM message_tasks WHERE is_deleted = 0`
	args := []any{}
	if createdBy != nil {
		q += " AND created_by = ?"
		args = append(args, *createdBy)
	}
	q += " GROUP BY status"

	var rows []struct {
		Status model.TaskStatus `db:"status"`
		N      int64            `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}

	out := make(map[model.TaskStatus]int64, len(model.AllStatuses))
	for _, s := range model.AllStatuses {
		out[s] = 0
	}
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

func (r *TasksRepositoryImpl) SumRetries(ctx context.Context, createdBy *int64) (int64, error) {
	q := `SELECT COALESCE(SUM(retries), 0) FROM message_tasks WHERE is_deleted = 0`
	args := []any{}
	if createdBy != nil {
		q += " AND created_by = ?"
		args = append(args, *createdBy)
	}

	var n int64
	if err := r.db.GetContext(ctx, &n, q, args...); err != nil {
		return 0, err
	}
	return n, nil
}
