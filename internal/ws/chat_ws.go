package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"job-chat-service/internal/identity"
	"job-chat-service/internal/middleware"
	"job-chat-service/internal/models"
	"job-chat-service/internal/observability"
	"job-chat-service/internal/repositories"
	"job-chat-service/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	kindChat   = "chat"
	routingKey = "ws_events.chats"
)

// ChatWebSocketHandler serves one chat session per websocket connection.
type ChatWebSocketHandler struct {
	sessions *session.Manager
	verifier identity.Verifier
	log      *slog.Logger
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(sessions *session.Manager, verifier identity.Verifier, log *slog.Logger) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{sessions: sessions, verifier: verifier, log: log}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle opens the chat session for the job, then upgrades and streams it.
// The first frame carries the loaded history; later frames carry new messages.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	jobID := c.Param("job_id")

	ctx, span := otel.Tracer("job-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("token")
	if header := c.GetHeader("Authorization"); header != "" {
		token, _ = middleware.BearerToken(header)
	}
	userID, err := h.verifier.Verify(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
		return
	}

	sess := h.sessions.NewSession(jobID, userID, c.Query("peer_id"))
	if err := sess.Open(ctx); err != nil {
		span.RecordError(err)
		status, text := sessionError(err)
		c.JSON(status, gin.H{"success": false, "error": text})
		return
	}
	chat := sess.Chat()
	span.SetAttributes(attribute.Int64("chat.id", chat.ID))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sess.Close()
		return
	}

	client := observability.ClientInfoFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		JobID:       jobID,
		ChatID:      chat.ID,
		DeviceID:    client.DeviceID,
		IP:          client.IP,
		RequestID:   client.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	// The handshake span ends with this handler; lifecycle events outlive it.
	eventCtx := context.WithoutCancel(ctx)

	observability.IncWSActive(kindChat)
	publishWSEvent(eventCtx, "ws_connect", info, "")

	history := sess.Messages()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(models.ChatEvent{Type: models.EventHistory, Messages: history}); err != nil {
		h.log.Debug("history write failed", "conn_id", info.ConnID, "error", err)
		sess.Close()
	}

	// Updates applied before the snapshot was taken are already in history.
	sent := make(map[int64]struct{}, len(history))
	for _, m := range history {
		sent[m.ID] = struct{}{}
	}

	go h.writePump(eventCtx, conn, sess, info, sent)
	go h.readPump(eventCtx, conn, sess, info)
}

// readPump only watches for the peer going away; clients post over HTTP.
func (h *ChatWebSocketHandler) readPump(ctx context.Context, conn *websocket.Conn, sess *session.Session, info ConnInfo) {
	var closeReason string
	defer func() {
		sess.Close()
		observability.DecWSActive(kindChat)
		publishWSEvent(ctx, "ws_disconnect", info, closeReason)
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, "ws_error", info, closeReason)
			}
			return
		}
	}
}

// writePump is the only writer on conn once the handshake is done.
func (h *ChatWebSocketHandler) writePump(ctx context.Context, conn *websocket.Conn, sess *session.Session, info ConnInfo, sent map[int64]struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.Close()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sess.Updates():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if _, dup := sent[msg.ID]; dup {
				continue
			}
			if err := conn.WriteJSON(models.ChatEvent{Type: models.EventNewMessage, Message: &msg}); err != nil {
				h.log.Debug("websocket write error", "conn_id", info.ConnID, "error", err)
				publishWSEvent(ctx, "ws_error", info, err.Error())
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func publishWSEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(kindChat, event)
	_ = observability.PublishEvent(ctx, routingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        kindChat,
				"resource_id": info.ChatID,
				"job_id":      info.JobID,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func sessionError(err error) (int, string) {
	switch {
	case errors.Is(err, repositories.ErrInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, repositories.ErrNotParticipant):
		return http.StatusForbidden, "not authorized for chat"
	case errors.Is(err, repositories.ErrChatNotFound):
		return http.StatusNotFound, "chat not found"
	case errors.Is(err, repositories.ErrParticipantMismatch):
		return http.StatusConflict, "chat exists with different participants"
	default:
		return http.StatusInternalServerError, "could not open chat"
	}
}
