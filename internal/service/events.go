package service

import (
	"time"

	"matchtalk/internal/domain"
)

// Server->client push event names on the realtime channel.
const (
	EventNewMessage   = "new_message"
	EventTypingStatus = "typing_status"
	EventMessagesRead = "messages_read"
)

// NewMessageEvent pushes a freshly persisted message to the recipient's
// connections. The sender gets the ack on its own socket, never this echo.
type NewMessageEvent struct {
	Type    string          `json:"type"`
	Message *domain.Message `json:"message"`
}

// TypingStatusEvent is ephemeral, at-most-once signaling. Receivers discard
// a stale "typing" indicator after a few seconds unless it is renewed;
// nothing here is persisted or retried.
type TypingStatusEvent struct {
	Type           string    `json:"type"`
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	EmittedAt      time.Time `json:"emitted_at"`
}

// MessagesReadEvent tells the author their messages were read.
type MessagesReadEvent struct {
	Type           string    `json:"type"`
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	Timestamp      time.Time `json:"timestamp"`
}
