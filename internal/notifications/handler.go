package notifications

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"controlled-docs/edms-backend/internal/auth"
)

const maxPageSize = 100

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the inbox of the authenticated user.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/notifications", h.GetNotifications)
}

func (h *Handler) GetNotifications(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	items, err := h.service.GetUserNotifications(c.Request.Context(), actor.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "limit": limit, "offset": offset})
}
