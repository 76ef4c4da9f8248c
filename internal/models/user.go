package models

import "github.com/google/uuid"

// Role represents a user role carried by the session credential.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is owned by the identity subsystem; the voting engine only reads it.
type User struct {
	ID         uuid.UUID `json:"id"`
	TelegramID int64     `json:"telegram_id"`
}
