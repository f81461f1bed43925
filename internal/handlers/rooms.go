package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/video-relay/internal/hub"
	"github.com/mossy-p/video-relay/internal/models"
)

// GetRoom reports the live membership of a room (public)
func GetRoom(h *hub.Hub, maxSize int) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		members := h.Members(roomID)
		if members == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		room := models.RoomSnapshot{
			ID:           roomID,
			Participants: members,
			Count:        len(members),
			MaxSize:      maxSize,
		}
		if n, ok := h.PresenceCount(c.Request.Context(), roomID); ok {
			room.MirroredCount = &n
		}

		c.JSON(http.StatusOK, room)
	}
}
