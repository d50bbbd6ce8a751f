package auth

import "github.com/gin-gonic/gin"

// RegisterRoutes registers Auth routes
func RegisterRoutes(r *gin.Engine, handler *Handler, authenticator *Authenticator) {
	r.GET("/auth/ping", handler.Ping)

	authGroup := r.Group("/auth", authenticator.Middleware())
	{
		authGroup.GET("/me", handler.Me)
	}
}
