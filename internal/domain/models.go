package domain

import "time"

// User is the subset of a profile the messaging subsystem needs: enough to
// authenticate a token subject and to annotate conversation listings.
// Profile CRUD lives in a separate service.
type User struct {
	ID          int64     `db:"id" json:"id"`
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"display_name"`
	AvatarURL   *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Conversation is the durable record of a dialog between exactly two users.
// The pair is normalized so UserLowID < UserHighID; a unique constraint on
// that pair makes creation idempotent under concurrent attempts.
type Conversation struct {
	ID            int64      `db:"id" json:"id"`
	UserLowID     int64      `db:"user_low_id" json:"user_low_id"`
	UserHighID    int64      `db:"user_high_id" json:"user_high_id"`
	MatchID       *int64     `db:"match_id" json:"match_id,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	LowArchived   bool       `db:"low_archived" json:"-"`
	HighArchived  bool       `db:"high_archived" json:"-"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// OtherParticipant returns the peer of the given user, or 0 if the user is
// not part of the pair.
func (c *Conversation) OtherParticipant(userID int64) int64 {
	switch userID {
	case c.UserLowID:
		return c.UserHighID
	case c.UserHighID:
		return c.UserLowID
	}
	return 0
}

// HasParticipant reports whether the user belongs to the conversation pair.
func (c *Conversation) HasParticipant(userID int64) bool {
	return userID == c.UserLowID || userID == c.UserHighID
}

// ArchivedFor reports the per-participant archive flag.
func (c *Conversation) ArchivedFor(userID int64) bool {
	if userID == c.UserLowID {
		return c.LowArchived
	}
	if userID == c.UserHighID {
		return c.HighArchived
	}
	return false
}

// NormalizePair orders an unordered user pair so (A,B) and (B,A) map to the
// same conversation key.
func NormalizePair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// MessageType discriminates message content.
type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeAttachment MessageType = "attachment"
)

// Message is an immutable, append-only log entry in a conversation. The
// storage-assigned ID is the per-conversation order key: it increases
// strictly in commit order, so it breaks ties when CreatedAt collides under
// clock skew. Only IsRead/ReadAt ever change after insert.
type Message struct {
	ID             int64       `db:"id" json:"id"`
	ConversationID int64       `db:"conversation_id" json:"conversation_id"`
	SenderID       int64       `db:"sender_id" json:"sender_id"`
	Content        string      `db:"content" json:"content"`
	MessageType    MessageType `db:"message_type" json:"message_type"`
	AttachmentURL  *string     `db:"attachment_url" json:"attachment_url,omitempty"`
	IsRead         bool        `db:"is_read" json:"is_read"`
	ReadAt         *time.Time  `db:"read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
}

// ConversationSummary annotates a conversation for listing: the peer's public
// display info, the unread count for the requesting user, and a preview of
// the latest message.
type ConversationSummary struct {
	Conversation *Conversation `json:"conversation"`
	Other        *User         `json:"other_participant"`
	UnreadCount  int           `json:"unread_count"`
	LastMessage  *Message      `json:"last_message,omitempty"`
}
