package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"support-chat-service/internal/apperr"
	"support-chat-service/internal/models"
	"support-chat-service/internal/observability"
	"support-chat-service/internal/repositories"
)

const (
	maxBodyRunes    = 4000
	maxClientIDSize = 64
)

// errNoChange aborts a store mutation that would not change anything.
var errNoChange = errors.New("no change")

// Broadcaster fans committed changes out to live connections. It is called
// after the store write returns, never while the store holds a lock.
type Broadcaster interface {
	MessageSent(conv models.Conversation, msg models.Message)
	MessageDeleted(conv models.Conversation, msg models.Message)
	MessageRestored(conv models.Conversation, msg models.Message)
	MessagesRead(conv models.Conversation, reader models.Role)
	// ConversationClosed is called when a conversation is trashed or purged.
	ConversationClosed(conv models.Conversation)
	ConversationRestored(conv models.Conversation)
}

// Service is the message lifecycle engine. It is the only writer of
// conversation state.
type Service struct {
	repo        repositories.ConversationRepository
	broadcaster Broadcaster
	log         zerolog.Logger
	now         func() time.Time
	newID       func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces uuid.NewString for conversation and message ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService constructs a Service. A nil broadcaster disables fan-out.
func NewService(repo repositories.ConversationRepository, broadcaster Broadcaster, log zerolog.Logger, opts ...Option) *Service {
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	s := &Service{
		repo:        repo,
		broadcaster: broadcaster,
		log:         log.With().Str("component", "chat").Logger(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendInput is the payload of a send. ConversationID is required for operators
// and ignored for customers.
type SendInput struct {
	ConversationID string
	Body           string
	ClientID       string
}

// Send appends a message. Customers write into their single active
// conversation, which is created on first send; operators target an existing,
// non-trashed conversation.
func (s *Service) Send(ctx context.Context, actor models.Identity, in SendInput) (models.Message, error) {
	if actor.ID == "" {
		return models.Message{}, apperr.Unauthorized("missing identity")
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return models.Message{}, apperr.InvalidArgument("message is required")
	}
	if utf8.RuneCountInString(body) > maxBodyRunes {
		return models.Message{}, apperr.InvalidArgument("message is too long")
	}
	if len(in.ClientID) > maxClientIDSize {
		return models.Message{}, apperr.InvalidArgument("client_id is too long")
	}

	var (
		conv models.Conversation
		msg  models.Message
		err  error
	)
	if actor.IsOperator() {
		conv, msg, err = s.sendAsOperator(ctx, actor, in.ConversationID, body, in.ClientID)
	} else {
		conv, msg, err = s.sendAsCustomer(ctx, actor, body, in.ClientID)
	}
	if err != nil {
		return models.Message{}, err
	}

	observability.IncChatMessage(string(msg.SenderRole))
	s.emit(ctx, "message_sent", map[string]any{
		"conversation_id": conv.ID,
		"participant_id":  conv.ParticipantID,
		"message_id":      msg.ID,
		"sender_id":       msg.SenderID,
		"sender_role":     msg.SenderRole,
	})
	s.broadcaster.MessageSent(conv, msg)
	return msg, nil
}

func (s *Service) sendAsCustomer(ctx context.Context, actor models.Identity, body, clientID string) (models.Conversation, models.Message, error) {
	var msg models.Message
	conv, err := s.repo.WithActive(ctx, actor.ID, func() models.Conversation {
		now := s.now().UTC()
		return models.Conversation{
			ID:            s.newID(),
			ParticipantID: actor.ID,
			Status:        models.StatusPending,
			Messages:      models.MessageList{},
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}, func(conv *models.Conversation) error {
		msg = s.appendMessage(conv, actor, body, clientID)
		at := msg.CreatedAt
		conv.LastCustomerMessageAt = &at
		conv.Viewed = false
		conv.ViewedAt = nil
		return nil
	})
	if err != nil {
		return models.Conversation{}, models.Message{}, s.fail("send customer message", err)
	}
	return conv, msg, nil
}

func (s *Service) sendAsOperator(ctx context.Context, actor models.Identity, conversationID, body, clientID string) (models.Conversation, models.Message, error) {
	if conversationID == "" {
		return models.Conversation{}, models.Message{}, apperr.InvalidArgument("conversation_id is required")
	}
	var msg models.Message
	conv, err := s.repo.Update(ctx, conversationID, func(conv *models.Conversation) error {
		if conv.Status == models.StatusTrashed {
			return apperr.NotFound("conversation not found")
		}
		msg = s.appendMessage(conv, actor, body, clientID)
		at := msg.CreatedAt
		conv.Status = models.StatusOpen
		conv.AdminID = actor.ID
		conv.Viewed = true
		conv.ViewedAt = &at
		return nil
	})
	if err != nil {
		return models.Conversation{}, models.Message{}, s.fail("send operator message", err)
	}
	return conv, msg, nil
}

// appendMessage stamps and appends a message. Timestamps are kept strictly
// increasing at millisecond precision, the coarsest precision of any store.
func (s *Service) appendMessage(conv *models.Conversation, actor models.Identity, body, clientID string) models.Message {
	created := s.now().UTC().Truncate(time.Millisecond)
	if n := len(conv.Messages); n > 0 {
		last := conv.Messages[n-1].CreatedAt
		if !created.After(last) {
			created = last.Add(time.Millisecond)
		}
	}
	msg := models.Message{
		ID:         s.newID(),
		SenderID:   actor.ID,
		SenderRole: actor.Role.SenderRole(),
		Body:       body,
		ClientID:   clientID,
		CreatedAt:  created,
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = created
	return msg
}

// MarkRead marks the other side's messages read. When messageIDs is non-empty
// only those messages are considered. Operator reads also set the viewed flag.
func (s *Service) MarkRead(ctx context.Context, conversationID string, reader models.Role, messageIDs []string) (models.ConversationView, error) {
	if conversationID == "" {
		return models.ConversationView{}, apperr.InvalidArgument("conversation_id is required")
	}
	only := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		only[id] = struct{}{}
	}

	conv, err := s.repo.Update(ctx, conversationID, func(conv *models.Conversation) error {
		own := reader.SenderRole()
		changed := false
		for i := range conv.Messages {
			m := &conv.Messages[i]
			if m.SenderRole == own || m.Read || m.Deleted {
				continue
			}
			if len(only) > 0 {
				if _, ok := only[m.ID]; !ok {
					continue
				}
			}
			m.Read = true
			changed = true
		}
		if reader.IsOperator() && !conv.Viewed {
			now := s.now().UTC()
			conv.Viewed = true
			conv.ViewedAt = &now
			changed = true
		}
		if !changed {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return s.Conversation(ctx, conversationID)
	}
	if err != nil {
		return models.ConversationView{}, s.fail("mark read", err)
	}

	s.broadcaster.MessagesRead(conv, reader.SenderRole())
	return conv.View(true), nil
}

// MarkCustomerRead marks operator messages in the customer's active
// conversation read.
func (s *Service) MarkCustomerRead(ctx context.Context, participantID string, messageIDs []string) (models.ConversationView, error) {
	conv, err := s.repo.FindActive(ctx, participantID)
	if err != nil {
		return models.ConversationView{}, s.fail("mark customer read", err)
	}
	return s.MarkRead(ctx, conv.ID, models.RoleCustomer, messageIDs)
}

// MarkUnviewed re-flags a conversation for operator attention.
func (s *Service) MarkUnviewed(ctx context.Context, conversationID string) (models.ConversationView, error) {
	if conversationID == "" {
		return models.ConversationView{}, apperr.InvalidArgument("conversation_id is required")
	}
	conv, err := s.repo.Update(ctx, conversationID, func(conv *models.Conversation) error {
		conv.Viewed = false
		conv.ViewedAt = nil
		return nil
	})
	if err != nil {
		return models.ConversationView{}, s.fail("mark unviewed", err)
	}
	return conv.View(true), nil
}

// ActiveConversation returns the participant's active conversation, or nil.
func (s *Service) ActiveConversation(ctx context.Context, participantID string) (*models.ConversationView, error) {
	conv, err := s.repo.FindActive(ctx, participantID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("active conversation", err)
	}
	view := conv.View(true)
	return &view, nil
}

// CustomerMessages lists the visible messages of the participant's active
// conversation.
func (s *Service) CustomerMessages(ctx context.Context, participantID string) ([]models.Message, error) {
	conv, err := s.repo.FindActive(ctx, participantID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, s.fail("customer messages", err)
	}
	return conv.VisibleMessages(), nil
}

// Conversation returns the detail view, trashed conversations included.
func (s *Service) Conversation(ctx context.Context, conversationID string) (models.ConversationView, error) {
	conv, err := s.get(ctx, conversationID)
	if err != nil {
		return models.ConversationView{}, err
	}
	return conv.View(true), nil
}

// ConversationExists reports nil when the conversation can be joined by an operator.
func (s *Service) ConversationExists(ctx context.Context, conversationID string) error {
	_, err := s.get(ctx, conversationID)
	return err
}

func (s *Service) get(ctx context.Context, conversationID string) (models.Conversation, error) {
	if conversationID == "" {
		return models.Conversation{}, apperr.InvalidArgument("conversation_id is required")
	}
	conv, err := s.repo.Get(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, s.fail("get conversation", err)
	}
	return conv, nil
}

func (s *Service) fail(op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		return apperr.NotFound("conversation not found")
	case errors.Is(err, repositories.ErrActiveConflict):
		return apperr.InvalidState("participant already has an active conversation")
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	s.log.Error().Err(err).Str("op", op).Msg("conversation store failure")
	return apperr.Internal(err)
}

func (s *Service) emit(ctx context.Context, name string, payload map[string]any) {
	_ = observability.PublishEvent(ctx, "chat_events."+name, observability.EventEnvelope{
		EventType: "chat_events",
		EventName: name,
		Payload:   payload,
	}, nil)
}

type nopBroadcaster struct{}

func (nopBroadcaster) MessageSent(models.Conversation, models.Message)     {}
func (nopBroadcaster) MessageDeleted(models.Conversation, models.Message)  {}
func (nopBroadcaster) MessageRestored(models.Conversation, models.Message) {}
func (nopBroadcaster) MessagesRead(models.Conversation, models.Role)       {}
func (nopBroadcaster) ConversationClosed(models.Conversation)              {}
func (nopBroadcaster) ConversationRestored(models.Conversation)            {}
