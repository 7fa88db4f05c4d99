package model

import "time"

// User is the operator account that creates tasks; resolved from the API key.
type User struct {
	ID           int64     `db:"id"`
	Name         string    `db:"name"`
	APIKey       string    `db:"api_key"`
	Role         string    `db:"role"`           // admin|staff
	Status       string    `db:"status"`         // active|suspended
	RateLimitRPS *int      `db:"rate_limit_rps"` // nullable
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (u User) Active() bool { return u.Status == "active" }

func (u User) IsAdmin() bool { return u.Role == "admin" }
