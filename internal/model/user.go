package model

import "time"

// User mirrors the users table. PasswordHash is never serialized.
type User struct {
	ID           uint64    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	WeeklyLimit  Cents     `json:"weekly_limit"` // 0 means no limit
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
