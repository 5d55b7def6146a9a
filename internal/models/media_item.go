package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MediaItem represents one playable entry in a collection. MediaRef is the
// reference handed to the source resolver; for the built-in file resolver
// it is a path into the local library.
type MediaItem struct {
	ID           uuid.UUID  `json:"id" gorm:"type:text;primaryKey;column:id"`
	CollectionID uuid.UUID  `json:"collection_id" gorm:"type:text;not null;index;column:collection_id"`
	MediaRef     string     `json:"media_ref" gorm:"type:text;not null;column:media_ref" validate:"required"`
	Title        string     `json:"title" gorm:"type:text;not null;column:title" validate:"required"`
	Duration     int64      `json:"duration" gorm:"type:integer;not null;column:duration" validate:"required,gt=0"` // seconds
	AiredAt      *time.Time `json:"aired_at,omitempty" gorm:"type:datetime;column:aired_at"`
	CreatedAt    time.Time  `json:"created_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:created_at"`

	Collection *Collection `json:"-" gorm:"foreignKey:CollectionID"`
}

// NewMediaItem creates a new MediaItem with generated UUID and timestamp
func NewMediaItem(collectionID uuid.UUID, mediaRef, title string, duration int64) *MediaItem {
	return &MediaItem{
		ID:           uuid.New(),
		CollectionID: collectionID,
		MediaRef:     mediaRef,
		Title:        title,
		Duration:     duration,
		CreatedAt:    time.Now().UTC(),
	}
}

// DurationString returns duration in HH:MM:SS format
func (m *MediaItem) DurationString() string {
	hours := m.Duration / 3600
	minutes := (m.Duration % 3600) / 60
	seconds := m.Duration % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
