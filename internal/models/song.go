package models

import (
	"time"

	"github.com/google/uuid"
)

// Song is a votable candidate. Only songs with IsActive can receive votes.
type Song struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	CoverURL     string    `json:"cover_url,omitempty"`
	IsActive     bool      `json:"is_active"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
