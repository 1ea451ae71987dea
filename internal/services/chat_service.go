package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"job-chat-service/internal/broker"
	"job-chat-service/internal/models"
	"job-chat-service/internal/notify"
	"job-chat-service/internal/observability"
	"job-chat-service/internal/repositories"
)

// ErrIdentityMismatch is returned when the authenticated caller posts as someone else.
var ErrIdentityMismatch = errors.New("caller is not the sender")

// IChatService is what the HTTP layer needs from the chat core.
type IChatService interface {
	ResolveChat(ctx context.Context, actorID, jobID, peerID string) (models.Chat, error)
	GetMessages(ctx context.Context, actorID string, chatID int64) ([]models.Message, error)
	PostMessage(ctx context.Context, actorID string, cmd PostMessageCommand) (models.Message, error)
}

// Resolver maps jobs to chats.
type Resolver interface {
	Resolve(ctx context.Context, jobID, actorID, peerID string) (models.Chat, error)
}

// Auditor records authorization failures.
type Auditor interface {
	Emit(ctx context.Context, level, text, requestID string, userID *string)
}

// PostMessageCommand is the ingress payload.
type PostMessageCommand struct {
	ChatID     int64  `json:"chatId" validate:"gt=0"`
	SenderID   string `json:"senderId" validate:"required,max=128"`
	ReceiverID string `json:"receiverId" validate:"required,max=128"`
	Content    string `json:"content" validate:"required,max=4000"`
}

// ChatService validates, stores and publishes chat messages.
type ChatService struct {
	resolver       Resolver
	chats          repositories.ChatRepository
	messages       repositories.MessageRepository
	broker         broker.Broker
	notifier       notify.Notifier
	auditor        Auditor
	validate       *validator.Validate
	publishTimeout time.Duration
	log            *slog.Logger
}

func NewChatService(
	resolver Resolver,
	chats repositories.ChatRepository,
	messages repositories.MessageRepository,
	b broker.Broker,
	notifier notify.Notifier,
	auditor Auditor,
	publishTimeout time.Duration,
	log *slog.Logger,
) *ChatService {
	return &ChatService{
		resolver:       resolver,
		chats:          chats,
		messages:       messages,
		broker:         b,
		notifier:       notifier,
		auditor:        auditor,
		validate:       validator.New(),
		publishTimeout: publishTimeout,
		log:            log,
	}
}

func (s *ChatService) ResolveChat(ctx context.Context, actorID, jobID, peerID string) (models.Chat, error) {
	chat, err := s.resolver.Resolve(ctx, jobID, actorID, peerID)
	if errors.Is(err, repositories.ErrNotParticipant) {
		s.audit(ctx, actorID, fmt.Sprintf("resolve chat for job %s denied", jobID))
	}
	return chat, err
}

// GetMessages returns the chat history when actorID is a participant.
func (s *ChatService) GetMessages(ctx context.Context, actorID string, chatID int64) ([]models.Message, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(actorID) {
		s.audit(ctx, actorID, fmt.Sprintf("read of chat %d denied", chatID))
		return nil, fmt.Errorf("chat %d: %w", chatID, repositories.ErrNotParticipant)
	}
	return s.messages.ListMessages(ctx, chatID)
}

// PostMessage persists the message and then publishes it. The store write is
// the durability guarantee; publish and notification failures are logged and
// never fail the call. Retries by the client create new messages.
func (s *ChatService) PostMessage(ctx context.Context, actorID string, cmd PostMessageCommand) (models.Message, error) {
	ctx, span := otel.Tracer("job-chat-service/services").Start(ctx, "chat.post_message",
		trace.WithAttributes(attribute.Int64("chat.id", cmd.ChatID)))
	defer span.End()

	if err := s.validate.Struct(cmd); err != nil {
		observability.IncMessagePosted("invalid")
		return models.Message{}, fmt.Errorf("%v: %w", err, repositories.ErrInvalidInput)
	}
	if strings.TrimSpace(cmd.Content) == "" {
		observability.IncMessagePosted("invalid")
		return models.Message{}, fmt.Errorf("blank content: %w", repositories.ErrInvalidInput)
	}
	if actorID == "" || actorID != cmd.SenderID {
		observability.IncMessagePosted("forbidden")
		s.audit(ctx, actorID, fmt.Sprintf("post to chat %d as %s denied", cmd.ChatID, cmd.SenderID))
		return models.Message{}, ErrIdentityMismatch
	}

	msg, err := s.messages.AppendMessage(ctx, cmd.ChatID, cmd.SenderID, cmd.ReceiverID, cmd.Content)
	if err != nil {
		observability.IncMessagePosted(outcome(err))
		if errors.Is(err, repositories.ErrNotParticipant) {
			s.audit(ctx, actorID, fmt.Sprintf("post to chat %d with receiver %s denied", cmd.ChatID, cmd.ReceiverID))
		}
		span.RecordError(err)
		return models.Message{}, err
	}
	observability.IncMessagePosted("stored")
	span.SetAttributes(attribute.Int64("message.id", msg.ID))

	s.publish(ctx, msg)
	if err := s.notifier.NotifyMessage(ctx, msg); err != nil {
		observability.IncNotificationError()
		s.log.Warn("notification failed", "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

func (s *ChatService) publish(ctx context.Context, msg models.Message) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	channel := broker.ChannelName(msg.ChatID)
	if err := s.broker.Publish(pubCtx, channel, models.EventNewMessage, msg); err != nil {
		observability.IncBrokerPublishError()
		s.log.Warn("broker publish failed", "channel", channel, "message_id", msg.ID, "error", err)
	}
}

func (s *ChatService) audit(ctx context.Context, actorID, text string) {
	if s.auditor == nil {
		return
	}
	var userID *string
	if actorID != "" {
		userID = &actorID
	}
	s.auditor.Emit(ctx, "WARN", text, RequestIDFromContext(ctx), userID)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, repositories.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, repositories.ErrNotParticipant):
		return "forbidden"
	case errors.Is(err, repositories.ErrChatNotFound):
		return "not_found"
	default:
		return "error"
	}
}

type requestIDKey struct{}

// WithRequestID stores the request id used on audit events.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
