package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-relay/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints. Disabled by default;
// everything here sits outside the relay protocol surface.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestID, nil)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
