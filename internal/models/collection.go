package models

import (
	"time"

	"github.com/google/uuid"
)

// Collection represents a named library of media items referenced by
// schedule content definitions.
type Collection struct {
	ID        uuid.UUID `json:"id" gorm:"type:text;primaryKey;column:id"`
	Name      string    `json:"name" gorm:"type:text;not null;uniqueIndex;column:name" validate:"required"`
	CreatedAt time.Time `json:"created_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:created_at"`
}

// NewCollection creates a new Collection with generated UUID and timestamp
func NewCollection(name string) *Collection {
	return &Collection{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}
