package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/telecast-dev/telecast/internal/db"
	"github.com/telecast-dev/telecast/internal/logger"
	"github.com/telecast-dev/telecast/internal/models"
	"github.com/telecast-dev/telecast/internal/playout"
	"github.com/telecast-dev/telecast/internal/registry"
	"github.com/telecast-dev/telecast/internal/timeline"
)

// Request/Response DTOs

// CreateChannelRequest represents a request to create a new channel
type CreateChannelRequest struct {
	Name         string `json:"name" binding:"required"`
	SchedulePath string `json:"schedule_path" binding:"required"`
	Enabled      *bool  `json:"enabled,omitempty"`
}

// ChannelResponse represents a channel in API responses
type ChannelResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	SchedulePath string     `json:"schedule_path"`
	Epoch        *time.Time `json:"epoch,omitempty"`
	Enabled      bool       `json:"enabled"`
	Running      bool       `json:"running"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ChannelListResponse represents a list of channels
type ChannelListResponse struct {
	Channels []*ChannelResponse `json:"channels"`
}

// ProgramResponse represents a resolved program position
type ProgramResponse struct {
	Index            int       `json:"index"`
	Kind             string    `json:"kind"`
	MediaRef         string    `json:"media_ref,omitempty"`
	Title            string    `json:"title,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	EndsAt           time.Time `json:"ends_at"`
	OffsetSeconds    float64   `json:"offset_seconds"`
	RemainingSeconds float64   `json:"remaining_seconds"`
}

// GuideResponse represents upcoming programming for a channel
type GuideResponse struct {
	ChannelID string            `json:"channel_id"`
	From      time.Time         `json:"from"`
	Window    string            `json:"window"`
	Programs  []ProgramResponse `json:"programs"`
}

// channelRegistry defines the registry surface the channel handler needs
type channelRegistry interface {
	Start(ctx context.Context, channelID uuid.UUID) error
	Stop(channelID uuid.UUID) error
	Status(channelID uuid.UUID) (playout.Health, error)
	NowPlaying(channelID uuid.UUID, at time.Time) (*timeline.Position, error)
	Guide(channelID uuid.UUID, from time.Time, window time.Duration) ([]timeline.Position, error)
	Reload(ctx context.Context, channelID uuid.UUID) error
	Running() []uuid.UUID
}

// ChannelHandler handles channel-related API requests
type ChannelHandler struct {
	channels *db.ChannelRepository
	registry channelRegistry
}

// NewChannelHandler creates a new channel handler instance
func NewChannelHandler(channels *db.ChannelRepository, reg channelRegistry) *ChannelHandler {
	return &ChannelHandler{
		channels: channels,
		registry: reg,
	}
}

// toChannelResponse converts a channel model to API response format
func toChannelResponse(ch *models.Channel, running bool) *ChannelResponse {
	return &ChannelResponse{
		ID:           ch.ID.String(),
		Name:         ch.Name,
		SchedulePath: ch.SchedulePath,
		Epoch:        ch.Epoch,
		Enabled:      ch.Enabled,
		Running:      running,
		CreatedAt:    ch.CreatedAt,
		UpdatedAt:    ch.UpdatedAt,
	}
}

// toProgramResponse converts a timeline position to API response format
func toProgramResponse(pos *timeline.Position) ProgramResponse {
	return ProgramResponse{
		Index:            pos.Index,
		Kind:             pos.Segment.Kind.String(),
		MediaRef:         pos.Segment.MediaRef,
		Title:            pos.Segment.Title,
		StartedAt:        pos.StartedAt,
		EndsAt:           pos.EndsAt,
		OffsetSeconds:    pos.Offset.Seconds(),
		RemainingSeconds: pos.Remaining().Seconds(),
	}
}

// parseChannelID validates the :id path parameter, writing a 400 on failure
func parseChannelID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid channel ID format",
		})
		return uuid.Nil, false
	}
	return id, true
}

// CreateChannel handles POST /api/channels
func (h *ChannelHandler) CreateChannel(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	channel := models.NewChannel(req.Name, req.SchedulePath)
	if req.Enabled != nil {
		channel.Enabled = *req.Enabled
	}

	if err := h.channels.Create(ctx, channel); err != nil {
		logger.Log.Error().
			Err(err).
			Str("name", req.Name).
			Msg("Failed to create channel")

		if db.IsDuplicate(err) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "duplicate_name",
				Message: "A channel with this name already exists",
			})
			return
		}

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "create_failed",
			Message: "Failed to create channel",
		})
		return
	}

	logger.Log.Info().
		Str("channel_id", channel.ID.String()).
		Str("name", channel.Name).
		Msg("Channel created")

	c.JSON(http.StatusCreated, toChannelResponse(channel, false))
}

// ListChannels handles GET /api/channels
func (h *ChannelHandler) ListChannels(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	channels, err := h.channels.List(ctx)
	if err != nil {
		logger.Log.Error().
			Err(err).
			Msg("Failed to list channels")

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "query_failed",
			Message: "Failed to retrieve channel list",
		})
		return
	}

	running := make(map[uuid.UUID]bool)
	for _, id := range h.registry.Running() {
		running[id] = true
	}

	responses := make([]*ChannelResponse, len(channels))
	for i, ch := range channels {
		responses[i] = toChannelResponse(ch, running[ch.ID])
	}

	c.JSON(http.StatusOK, ChannelListResponse{Channels: responses})
}

// GetChannel handles GET /api/channels/:id
func (h *ChannelHandler) GetChannel(c *gin.Context) {
	id, ok := parseChannelID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	channel, err := h.channels.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Channel not found",
			})
			return
		}

		logger.Log.Error().
			Err(err).
			Str("channel_id", id.String()).
			Msg("Failed to get channel by ID")

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "query_failed",
			Message: "Failed to retrieve channel",
		})
		return
	}

	_, statusErr := h.registry.Status(id)
	c.JSON(http.StatusOK, toChannelResponse(channel, statusErr == nil))
}

// DeleteChannel handles DELETE /api/channels/:id
func (h *ChannelHandler) DeleteChannel(c *gin.Context) {
	id, ok := parseChannelID(c)
	if !ok {
		return
	}

	// Take the channel off air before removing it
	_ = h.registry.Stop(id)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.channels.Delete(ctx, id); err != nil {
		if db.IsNotFound(err) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Channel not found",
			})
			return
		}

		logger.Log.Error().
			Err(err).
			Str("channel_id", id.String()).
			Msg("Failed to delete channel")

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "delete_failed",
			Message: "Failed to delete channel",
		})
		return
	}

	c.JSON(http.StatusOK, DeleteResponse{Message: "Channel deleted"})
}

// StartChannel handles POST /api/channels/:id/start
func (h *ChannelHandler) StartChannel(c *gin.Context) {
	id, ok := parseChannelID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.registry.Start(ctx, id); err != nil {
		logger.Log.Error().
			Err(err).
			Str("channel_id", id.String()).
			Msg("Failed to start channel")

		switch {
		case db.IsNotFound(err):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Channel not found",
			})
		case errors.Is(err, registry.ErrChannelDisabled):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "channel_disabled",
				Message: "Channel is disabled",
			})
		default:
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error:   "start_failed",
				Message: err.Error(),
			})
		}
		return
	}

	health, _ := h.registry.Status(id)
	c.JSON(http.StatusOK, health)
}

// StopChannel handles POST /api/channels/:id/stop
func (h *ChannelHandler) StopChannel(c *gin.Context) {
	id, ok := parseChannelID(c)
	if !ok {
		return
	}

	if err := h.registry.Stop(id); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "not_running",
			Message: "Channel is not running",
		})
		return
	}

	c.JSON(http.StatusOK, DeleteResponse{Message: "Channel stopped"})
}

// ChannelStatus handles GET /api/channels/:id/status
func (h *ChannelHandler) ChannelStatus(c *gin.Context) {
	id, ok := parseChannelID(c)
	if !ok {
		return
	}

	health, err := h.registry.Status(id)
	if err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "not_running",
			Message: "Channel is not running",
		})
		return
	}

	c.JSON(http.StatusOK, health)
}

// NowPlaying handles GET /api/channels/:id/now
// The optional ?at= query (RFC3339) resolves the program at another
// instant; any two callers asking about the same instant get the same
// answer.
func (h *ChannelHandler) NowPlaying(c *gin.Context) {
	id, ok := parseChannelID(c)
	if !ok {
		return
	}

	at := time.Now().UTC()
	if atParam := c.Query("at"); atParam != "" {
		parsed, err := time.Parse(time.RFC3339, atParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_at",
				Message: "at must be an RFC3339 timestamp",
			})
			return
		}
		at = parsed
	}

	pos, err := h.registry.NowPlaying(id, at)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotRunning):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "not_running",
				Message: "Channel is not running",
			})
		case errors.Is(err, timeline.ErrNotStarted):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_started",
				Message: "Channel has not started broadcasting at that instant",
			})
		case errors.Is(err, timeline.ErrFinished):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "finished",
				Message: "Channel's schedule has finished",
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "resolve_failed",
				Message: "Failed to resolve program position",
			})
		}
		return
	}

	c.JSON(http.StatusOK, toProgramResponse(pos))
}

// Guide handles GET /api/channels/:id/guide
// The optional ?window= query (Go duration, default 3h) sets how far
// ahead the guide looks.
func (h *ChannelHandler) Guide(c *gin.Context) {
	id, ok := parseChannelID(c)
	if !ok {
		return
	}

	window := 3 * time.Hour
	if windowParam := c.Query("window"); windowParam != "" {
		parsed, err := time.ParseDuration(windowParam)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_window",
				Message: "window must be a positive duration",
			})
			return
		}
		window = parsed
	}

	from := time.Now().UTC()
	positions, err := h.registry.Guide(id, from, window)
	if err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "not_running",
			Message: "Channel is not running",
		})
		return
	}

	programs := make([]ProgramResponse, len(positions))
	for i := range positions {
		programs[i] = toProgramResponse(&positions[i])
	}

	c.JSON(http.StatusOK, GuideResponse{
		ChannelID: id.String(),
		From:      from,
		Window:    window.String(),
		Programs:  programs,
	})
}

// ReloadChannel handles POST /api/channels/:id/reload
func (h *ChannelHandler) ReloadChannel(c *gin.Context) {
	id, ok := parseChannelID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.registry.Reload(ctx, id); err != nil {
		if errors.Is(err, registry.ErrNotRunning) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "not_running",
				Message: "Channel is not running",
			})
			return
		}

		logger.Log.Error().
			Err(err).
			Str("channel_id", id.String()).
			Msg("Failed to reload channel")

		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "reload_failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, DeleteResponse{Message: "Channel reloaded"})
}

// SetupChannelRoutes registers channel-related routes
func SetupChannelRoutes(apiGroup *gin.RouterGroup, channels *db.ChannelRepository, reg channelRegistry) {
	handler := NewChannelHandler(channels, reg)

	channelGroup := apiGroup.Group("/channels")
	channelGroup.POST("", handler.CreateChannel)
	channelGroup.GET("", handler.ListChannels)
	channelGroup.GET("/:id", handler.GetChannel)
	channelGroup.DELETE("/:id", handler.DeleteChannel)
	channelGroup.POST("/:id/start", handler.StartChannel)
	channelGroup.POST("/:id/stop", handler.StopChannel)
	channelGroup.GET("/:id/status", handler.ChannelStatus)
	channelGroup.GET("/:id/now", handler.NowPlaying)
	channelGroup.GET("/:id/guide", handler.Guide)
	channelGroup.POST("/:id/reload", handler.ReloadChannel)
}
