package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/wadispatch/internal/model"
)

type UsersRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	Upsert(ctx context.Context, u *model.User) error
}

type UsersRepositoryImpl struct {
	db *sqlx.DB
}

func NewUsersRepository(db *sqlx.DB) *UsersRepositoryImpl {
	return &UsersRepositoryImpl{db: db}
}

var _ UsersRepository = (*UsersRepositoryImpl)(nil)

const userColumns = `id, name, api_key, role, status, rate_limit_rps, created_at, updated_at`

// GetByAPIKey returns (nil, nil) when no user owns the key.
func (r *UsersRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `
		SELECT `+userColumns+`
		  FROM users
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UsersRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Upsert inserts u or refreshes the row that already owns u.APIKey.
func (r *UsersRepositoryImpl) Upsert(ctx context.Context, u *model.User) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (name, api_key, role, status, rate_limit_rps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    name = VALUES(name), role = VALUES(role), status = VALUES(status),
		    rate_limit_rps = VALUES(rate_limit_rps), updated_at = NOW()
	`, u.Name, u.APIKey, u.Role, u.Status, u.RateLimitRPS)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		u.ID = id
	}
	return nil
}
