package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	oracle Oracle
}

func NewHandler(oracle Oracle) *Handler {
	return &Handler{oracle: oracle}
}

// Ping endpoint
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "auth service alive!"})
}

// Me returns the authenticated user with the capabilities the workflow
// engine will grant them.
func (h *Handler) Me(c *gin.Context) {
	user, ok := ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user": user,
		"capabilities": gin.H{
			"review":              CanReview(h.oracle, user),
			"approve":             CanApprove(h.oracle, user),
			"approve_critical":    CanApproveCritical(h.oracle, user),
			"terminate":           CanTerminate(h.oracle, user),
			"manage_dependencies": CanManageDependencies(h.oracle, user),
		},
	})
}
