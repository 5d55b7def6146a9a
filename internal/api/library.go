package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/telecast-dev/telecast/internal/db"
	"github.com/telecast-dev/telecast/internal/logger"
	"github.com/telecast-dev/telecast/internal/models"
)

// CreateCollectionRequest represents a request to create a collection
type CreateCollectionRequest struct {
	Name string `json:"name" binding:"required"`
}

// AddMediaItemRequest represents a request to add a media item to a collection
type AddMediaItemRequest struct {
	MediaRef string     `json:"media_ref" binding:"required"`
	Title    string     `json:"title" binding:"required"`
	Duration int64      `json:"duration" binding:"required,gt=0"` // seconds
	AiredAt  *time.Time `json:"aired_at,omitempty"`
}

// CollectionListResponse represents the collection listing
type CollectionListResponse struct {
	Collections []*models.Collection `json:"collections"`
}

// MediaItemListResponse represents a collection's media items
type MediaItemListResponse struct {
	Items []*models.MediaItem `json:"items"`
}

// LibraryHandler handles collection and media item API requests
type LibraryHandler struct {
	collections *db.CollectionRepository
	media       *db.MediaRepository
}

// NewLibraryHandler creates a new library handler instance
func NewLibraryHandler(collections *db.CollectionRepository, media *db.MediaRepository) *LibraryHandler {
	return &LibraryHandler{
		collections: collections,
		media:       media,
	}
}

// CreateCollection handles POST /api/collections
func (h *LibraryHandler) CreateCollection(c *gin.Context) {
	var req CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	collection := models.NewCollection(req.Name)
	if err := h.collections.Create(ctx, collection); err != nil {
		if db.IsDuplicate(err) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "duplicate_name",
				Message: "A collection with this name already exists",
			})
			return
		}

		logger.Log.Error().
			Err(err).
			Str("name", req.Name).
			Msg("Failed to create collection")

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "create_failed",
			Message: "Failed to create collection",
		})
		return
	}

	c.JSON(http.StatusCreated, collection)
}

// ListCollections handles GET /api/collections
func (h *LibraryHandler) ListCollections(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	collections, err := h.collections.List(ctx)
	if err != nil {
		logger.Log.Error().
			Err(err).
			Msg("Failed to list collections")

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "query_failed",
			Message: "Failed to retrieve collections",
		})
		return
	}

	c.JSON(http.StatusOK, CollectionListResponse{Collections: collections})
}

// AddMediaItem handles POST /api/collections/:name/items
func (h *LibraryHandler) AddMediaItem(c *gin.Context) {
	var req AddMediaItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	collection, err := h.collections.GetByName(ctx, c.Param("name"))
	if err != nil {
		if db.IsNotFound(err) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Collection not found",
			})
			return
		}

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "query_failed",
			Message: "Failed to retrieve collection",
		})
		return
	}

	item := models.NewMediaItem(collection.ID, req.MediaRef, req.Title, req.Duration)
	item.AiredAt = req.AiredAt

	if err := h.media.Create(ctx, item); err != nil {
		logger.Log.Error().
			Err(err).
			Str("collection", collection.Name).
			Str("media_ref", req.MediaRef).
			Msg("Failed to add media item")

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "create_failed",
			Message: "Failed to add media item",
		})
		return
	}

	c.JSON(http.StatusCreated, item)
}

// ListMediaItems handles GET /api/collections/:name/items
func (h *LibraryHandler) ListMediaItems(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	collection, err := h.collections.GetByName(ctx, c.Param("name"))
	if err != nil {
		if db.IsNotFound(err) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Collection not found",
			})
			return
		}

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "query_failed",
			Message: "Failed to retrieve collection",
		})
		return
	}

	items, err := h.media.ListByCollection(ctx, collection.ID)
	if err != nil {
		logger.Log.Error().
			Err(err).
			Str("collection", collection.Name).
			Msg("Failed to list media items")

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "query_failed",
			Message: "Failed to retrieve media items",
		})
		return
	}

	c.JSON(http.StatusOK, MediaItemListResponse{Items: items})
}

// SetupLibraryRoutes registers collection and media item routes
func SetupLibraryRoutes(apiGroup *gin.RouterGroup, collections *db.CollectionRepository, media *db.MediaRepository) {
	handler := NewLibraryHandler(collections, media)

	collectionGroup := apiGroup.Group("/collections")
	collectionGroup.POST("", handler.CreateCollection)
	collectionGroup.GET("", handler.ListCollections)
	collectionGroup.POST("/:name/items", handler.AddMediaItem)
	collectionGroup.GET("/:name/items", handler.ListMediaItems)
}
