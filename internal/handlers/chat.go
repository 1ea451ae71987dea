package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"job-chat-service/internal/identity"
	"job-chat-service/internal/middleware"
	"job-chat-service/internal/repositories"
	"job-chat-service/internal/services"
)

// ChatHandler exposes the chat core over HTTP.
type ChatHandler struct {
	service services.IChatService
	log     *slog.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(service services.IChatService, log *slog.Logger) *ChatHandler {
	return &ChatHandler{service: service, log: log}
}

// ResolveChat returns the chat id for a job, creating the chat with peer_id on first contact.
func (h *ChatHandler) ResolveChat(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	chat, err := h.service.ResolveChat(requestContext(c), userID, c.Param("job_id"), c.Query("peer_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chatId": chat.ID, "chat": chat})
}

// GetChatMessages returns the full ordered history of a chat.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid chat id"})
		return
	}

	userID := c.GetString(middleware.UserIDKey)
	msgs, err := h.service.GetMessages(requestContext(c), userID, chatID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": msgs})
}

// PostMessage stores a chat message and broadcasts it.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req services.PostMessageCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	userID := c.GetString(middleware.UserIDKey)
	msg, err := h.service.PostMessage(requestContext(c), userID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": msg})
}

func (h *ChatHandler) fail(c *gin.Context, err error) {
	status, text := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "route", c.FullPath(), "request_id", requestIDFromContext(c), "error", err)
	}
	c.JSON(status, gin.H{"success": false, "error": text})
}

// classify maps core errors onto HTTP statuses.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, repositories.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid token"
	case errors.Is(err, services.ErrIdentityMismatch), errors.Is(err, repositories.ErrNotParticipant):
		return http.StatusForbidden, "not allowed"
	case errors.Is(err, repositories.ErrChatNotFound):
		return http.StatusNotFound, "chat not found"
	case errors.Is(err, repositories.ErrParticipantMismatch):
		return http.StatusConflict, "chat exists with different participants"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func requestContext(c *gin.Context) context.Context {
	return services.WithRequestID(c.Request.Context(), requestIDFromContext(c))
}
