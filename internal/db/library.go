package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/telecast-dev/telecast/internal/models"
)

// CollectionRepository handles database operations for collections
type CollectionRepository struct {
	db *DB
}

// NewCollectionRepository creates a new collection repository
func NewCollectionRepository(db *DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// Create inserts a new collection into the database
func (r *CollectionRepository) Create(ctx context.Context, collection *models.Collection) error {
	result := r.db.WithContext(ctx).Create(collection)
	if result.Error != nil {
		return fmt.Errorf("failed to create collection: %w", MapGormError(result.Error))
	}
	return nil
}

// GetByName retrieves a collection by its unique name
func (r *CollectionRepository) GetByName(ctx context.Context, name string) (*models.Collection, error) {
	var collection models.Collection
	result := r.db.WithContext(ctx).Where("name = ?", name).First(&collection)
	if result.Error != nil {
		return nil, MapGormError(result.Error)
	}
	return &collection, nil
}

// List retrieves all collections ordered by name
func (r *CollectionRepository) List(ctx context.Context) ([]*models.Collection, error) {
	var collections []*models.Collection
	result := r.db.WithContext(ctx).Order("name ASC").Find(&collections)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list collections: %w", MapGormError(result.Error))
	}
	return collections, nil
}

// MediaRepository handles database operations for media items
type MediaRepository struct {
	db *DB
}

// NewMediaRepository creates a new media repository
func NewMediaRepository(db *DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// Create inserts a new media item into the database
func (r *MediaRepository) Create(ctx context.Context, item *models.MediaItem) error {
	result := r.db.WithContext(ctx).Create(item)
	if result.Error != nil {
		return fmt.Errorf("failed to create media item: %w", MapGormError(result.Error))
	}
	return nil
}

// GetByRef retrieves a media item by its media reference
func (r *MediaRepository) GetByRef(ctx context.Context, mediaRef string) (*models.MediaItem, error) {
	var item models.MediaItem
	result := r.db.WithContext(ctx).Where("media_ref = ?", mediaRef).First(&item)
	if result.Error != nil {
		return nil, MapGormError(result.Error)
	}
	return &item, nil
}

// ListByCollection retrieves every item in a collection in chronological
// order (air date first, title as tie-breaker) so resolver output is stable
// across calls.
func (r *MediaRepository) ListByCollection(ctx context.Context, collectionID uuid.UUID) ([]*models.MediaItem, error) {
	var items []*models.MediaItem
	result := r.db.WithContext(ctx).
		Where("collection_id = ?", collectionID.String()).
		Order("aired_at ASC, title ASC, id ASC").
		Find(&items)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list media items: %w", MapGormError(result.Error))
	}
	return items, nil
}
