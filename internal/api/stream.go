package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/telecast-dev/telecast/internal/logger"
	"github.com/telecast-dev/telecast/internal/playout"
)

// bufferProvider defines the registry surface the stream handler needs
type bufferProvider interface {
	Buffer(channelID uuid.UUID) (*playout.Buffer, error)
}

// StreamHandler handles viewer stream requests
type StreamHandler struct {
	registry bufferProvider
}

// NewStreamHandler creates a new stream handler instance
func NewStreamHandler(reg bufferProvider) *StreamHandler {
	return &StreamHandler{registry: reg}
}

// GetStream handles GET /api/stream/:channel_id
// Viewers join the broadcast in progress: the response starts at whatever
// chunk the channel is emitting right now and runs until the viewer
// disconnects or the channel goes off air.
func (h *StreamHandler) GetStream(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("channel_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid channel ID format",
		})
		return
	}

	buffer, err := h.registry.Buffer(channelID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_running",
			Message: "Channel is not broadcasting",
		})
		return
	}

	id, chunks := buffer.Subscribe()
	defer buffer.Unsubscribe(id)

	logger.Log.Info().
		Str("channel_id", channelID.String()).
		Str("client_ip", c.ClientIP()).
		Uint64("subscriber_id", id).
		Msg("Viewer joined stream")

	c.Header("Content-Type", "video/MP2T")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)

	for {
		select {
		case <-c.Request.Context().Done():
			logger.Log.Debug().
				Str("channel_id", channelID.String()).
				Uint64("subscriber_id", id).
				Msg("Viewer disconnected")
			return
		case chunk, ok := <-chunks:
			if !ok {
				// Channel went off air
				logger.Log.Debug().
					Str("channel_id", channelID.String()).
					Uint64("subscriber_id", id).
					Msg("Broadcast ended, closing viewer stream")
				return
			}
			if _, err := c.Writer.Write(chunk); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

// SetupStreamRoutes registers streaming-related routes
func SetupStreamRoutes(apiGroup *gin.RouterGroup, reg bufferProvider) {
	handler := NewStreamHandler(reg)

	streamGroup := apiGroup.Group("/stream")
	streamGroup.GET("/:channel_id", handler.GetStream)
}
