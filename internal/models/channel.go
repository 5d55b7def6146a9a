package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel represents a simulated live TV channel. Its timeline is anchored
// to Epoch: every independent viewer derives the current program position
// from Epoch and the wall clock alone.
type Channel struct {
	ID           uuid.UUID  `json:"id" gorm:"type:text;primaryKey;column:id"`
	Name         string     `json:"name" gorm:"type:text;not null;uniqueIndex;column:name" validate:"required,min=1,max=255"`
	SchedulePath string     `json:"schedule_path" gorm:"type:text;not null;column:schedule_path" validate:"required"`
	Epoch        *time.Time `json:"epoch,omitempty" gorm:"type:datetime;column:epoch"`
	Enabled      bool       `json:"enabled" gorm:"type:integer;not null;default:1;column:enabled"`
	CreatedAt    time.Time  `json:"created_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:created_at"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:updated_at"`
}

// NewChannel creates a new Channel with generated UUID and timestamps.
// Epoch stays nil until the channel's schedule first compiles.
func NewChannel(name, schedulePath string) *Channel {
	now := time.Now().UTC()
	return &Channel{
		ID:           uuid.New(),
		Name:         name,
		SchedulePath: schedulePath,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
