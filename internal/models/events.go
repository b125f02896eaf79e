package models

import "encoding/json"

// Socket event names.
const (
	EventJoinChat         = "join_chat"
	EventLeaveChat        = "leave_chat"
	EventSendMessage      = "chat:send_message"
	EventAdminSendMessage = "chat:admin_send_message"

	EventNewMessage         = "chat:new_message"
	EventNewCustomerMessage = "chat:new_customer_message"
	EventNewAdminMessage    = "chat:new_admin_message"
	EventMessageDeleted     = "chat:message_deleted"
	EventMessageRestored    = "chat:message_restored"
	EventMessagesRead       = "chat:messages_read"
	EventJoined             = "chat:joined"
	EventError              = "chat:error"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CustomerMessageEvent alerts the operator pool about customer activity.
type CustomerMessageEvent struct {
	ConversationID string  `json:"conversation_id"`
	ParticipantID  string  `json:"participant_id"`
	Message        Message `json:"message"`
}

// ConversationMessageEvent carries a message scoped to a conversation.
type ConversationMessageEvent struct {
	ConversationID string  `json:"conversation_id"`
	Message        Message `json:"message"`
}

// ReadEvent tells conversation members that one side caught up.
type ReadEvent struct {
	ConversationID string `json:"conversation_id"`
	ReaderRole     Role   `json:"reader_role"`
}

// JoinedEvent acknowledges join_chat.
type JoinedEvent struct {
	ConversationID string `json:"conversation_id"`
}

// ErrorEvent is sent only to the connection whose request failed.
type ErrorEvent struct {
	Message  string `json:"message"`
	ClientID string `json:"client_id,omitempty"`
}

// EncodeFrame marshals an outbound event.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
