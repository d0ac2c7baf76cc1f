package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"matchtalk/internal/domain"
)

// TypingBroadcaster relays ephemeral typing signals. Nothing here touches
// storage after the participant check: signals are at-most-once, never
// persisted, never retried. Receivers expire a "typing" indicator on their
// own after a few seconds, so a lost stop signal is harmless.
type TypingBroadcaster struct {
	conversations domain.ConversationRepository
	pusher        Pusher

	PushTimeout time.Duration
}

func NewTypingBroadcaster(conversations domain.ConversationRepository, pusher Pusher) *TypingBroadcaster {
	return &TypingBroadcaster{
		conversations: conversations,
		pusher:        pusher,
		PushTimeout:   2 * time.Second,
	}
}

// SetTyping forwards the signal to the other participant's connections in
// the conversation room. The sender's own connections never see it: the
// push targets only the peer, so there is no self-echo to filter.
func (b *TypingBroadcaster) SetTyping(ctx context.Context, conversationID, userID int64, isTyping bool) error {
	conv, err := b.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return domain.ErrForbidden
	}

	payload, err := json.Marshal(TypingStatusEvent{
		Type:           EventTypingStatus,
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		EmittedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode typing event: %w", err)
	}

	b.pusher.PushToRoomUser(conversationID, conv.OtherParticipant(userID), payload, b.PushTimeout)
	return nil
}
