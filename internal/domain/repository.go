package domain

import (
	"context"
	"time"
)

// UserRepository is the read-only user directory the messaging subsystem
// consumes. Account management is owned elsewhere.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	// Create inserts a conversation for a normalized pair. On a uniqueness
	// violation (a concurrent creator won) it returns ErrConflict so the
	// caller can re-fetch the winner's row.
	Create(ctx context.Context, c *Conversation) error
	GetByID(ctx context.Context, id int64) (*Conversation, error)
	GetByPair(ctx context.Context, userLowID, userHighID int64) (*Conversation, error)
	// ListForUser returns conversations the user participates in and has not
	// archived, newest activity first.
	ListForUser(ctx context.Context, userID int64, offset, limit int) ([]*Conversation, error)
	SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error
	UnreadCount(ctx context.Context, conversationID, userID int64) (int, error)
}

// MessageRepository defines persistence operations for the append-only
// message log.
type MessageRepository interface {
	// Create persists the message and bumps the conversation's
	// last_message_at in the same transaction. The storage layer assigns the
	// ID, which is the per-conversation order key.
	Create(ctx context.Context, m *Message) error
	// ListBefore returns up to limit messages with ID < beforeID, newest
	// first. beforeID <= 0 means "from the latest".
	ListBefore(ctx context.Context, conversationID, beforeID int64, limit int) ([]*Message, error)
	Latest(ctx context.Context, conversationID int64) (*Message, error)
	// MarkAllRead flips is_read for unread messages in the conversation not
	// authored by readerID and returns how many rows changed.
	MarkAllRead(ctx context.Context, conversationID, readerID int64, readAt time.Time) (int64, error)
}
