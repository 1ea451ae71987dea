package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"job-chat-service/internal/broker"
	"job-chat-service/internal/telemetry"
)

// SubscriberCounter is implemented by brokers that can count local subscriptions.
type SubscriberCounter interface {
	Subscribers(channel string) int
}

// RegisterDebugRoutes wires debug-only endpoints. counter may be nil.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, counter SubscriberCounter, enabled bool) {
	if !enabled {
		return
	}

	debug := router.Group("/debug")
	debug.GET("/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.LevelInfo, "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	debug.GET("/chats/:chat_id/subscribers", func(c *gin.Context) {
		if counter == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "broker does not track subscribers"})
			return
		}
		chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid chat id"})
			return
		}
		channel := broker.ChannelName(chatID)
		c.JSON(http.StatusOK, gin.H{"success": true, "channel": channel, "subscribers": counter.Subscribers(channel)})
	})
}
