package ws

import (
	"github.com/google/uuid"
)

// OperatorsTopic is joined by every operator connection on admission.
const OperatorsTopic = "operators"

// PersonalTopic addresses every connection of one identity.
func PersonalTopic(identityID string) string {
	return "personal:" + identityID
}

// ConversationTopic carries the message stream of one conversation.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

func newConnID() string {
	return uuid.NewString()
}
