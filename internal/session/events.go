package session

import (
	"odprt-chatbot/gateway/internal/upstream"
)

// Event types pushed to the render layer.
const (
	EventMessage             = "message"
	EventConversationCreated = "conversation_created"
	EventTopicUpdated        = "topic_updated"
	EventFeedbackPrompt      = "feedback_prompt"
	EventConversationDeleted = "conversation_deleted"
)

// Event is a coordinator state change the render layer should reflect.
type Event struct {
	Type           string                 `json:"type"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Message        *upstream.Message      `json:"message,omitempty"`
	Conversation   *upstream.Conversation `json:"conversation,omitempty"`
	Topic          string                 `json:"topic,omitempty"`
}

// Notifier delivers coordinator events to a user's connected clients. The
// WebSocket hub implements it; a nil Notifier drops events.
type Notifier interface {
	Publish(userID string, ev Event)
}
