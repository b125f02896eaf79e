package ws

import (
	"github.com/rs/zerolog"

	"support-chat-service/internal/chat"
	"support-chat-service/internal/models"
)

// Notifier turns committed conversation changes into socket events.
type Notifier struct {
	hub *Hub
	log zerolog.Logger
}

// NewNotifier builds a Notifier publishing through hub.
func NewNotifier(hub *Hub, log zerolog.Logger) *Notifier {
	return &Notifier{hub: hub, log: log.With().Str("component", "ws_notifier").Logger()}
}

func (n *Notifier) MessageSent(conv models.Conversation, msg models.Message) {
	topic := ConversationTopic(conv.ID)
	if msg.SenderRole == models.RoleCustomer {
		// the first message may have just created the conversation
		n.hub.JoinIdentity(conv.ParticipantID, topic)
	}

	n.publish(topic, models.EventNewMessage, msg)
	if msg.SenderRole == models.RoleCustomer {
		n.publish(OperatorsTopic, models.EventNewCustomerMessage, models.CustomerMessageEvent{
			ConversationID: conv.ID,
			ParticipantID:  conv.ParticipantID,
			Message:        msg,
		})
		return
	}
	n.publish(OperatorsTopic, models.EventNewAdminMessage, models.ConversationMessageEvent{
		ConversationID: conv.ID,
		Message:        msg,
	})
}

func (n *Notifier) MessageDeleted(conv models.Conversation, msg models.Message) {
	n.publish(ConversationTopic(conv.ID), models.EventMessageDeleted, models.ConversationMessageEvent{
		ConversationID: conv.ID,
		Message:        msg,
	})
}

func (n *Notifier) MessageRestored(conv models.Conversation, msg models.Message) {
	n.publish(ConversationTopic(conv.ID), models.EventMessageRestored, models.ConversationMessageEvent{
		ConversationID: conv.ID,
		Message:        msg,
	})
}

func (n *Notifier) MessagesRead(conv models.Conversation, reader models.Role) {
	n.publish(ConversationTopic(conv.ID), models.EventMessagesRead, models.ReadEvent{
		ConversationID: conv.ID,
		ReaderRole:     reader,
	})
}

// ConversationClosed unsubscribes everyone from a trashed or purged
// conversation. Operators can join it again with join_chat.
func (n *Notifier) ConversationClosed(conv models.Conversation) {
	dropped := n.hub.DropTopic(ConversationTopic(conv.ID))
	n.log.Debug().Str("conversation_id", conv.ID).Int("dropped", dropped).Msg("conversation topic closed")
}

// ConversationRestored resubscribes the customer's connections.
func (n *Notifier) ConversationRestored(conv models.Conversation) {
	n.hub.JoinIdentity(conv.ParticipantID, ConversationTopic(conv.ID))
}

func (n *Notifier) publish(topic, event string, data any) {
	payload, err := models.EncodeFrame(event, data)
	if err != nil {
		n.log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	delivered := n.hub.Publish(topic, payload)
	n.log.Debug().Str("topic", topic).Str("event", event).Int("delivered", delivered).Msg("event published")
}

var _ chat.Broadcaster = (*Notifier)(nil)
