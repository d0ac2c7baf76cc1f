package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"matchtalk/internal/domain"
	"matchtalk/internal/notify"
)

const maxContentRunes = 5000

// Pusher delivers payloads to live connections. The registry implements it;
// multi-node deployments wrap it with the relay.
type Pusher interface {
	// PushToRoomUser delivers to the user's connections subscribed to the
	// conversation room and returns how many deliveries succeeded.
	PushToRoomUser(conversationID, userID int64, payload []byte, timeout time.Duration) int
	// PushToUser delivers to all of the user's connections.
	PushToUser(userID int64, payload []byte, timeout time.Duration) int
}

// MessageService is the single send/read path shared by the realtime channel
// and the REST fallback: one validation, one persistence, one fan-out
// contract regardless of transport.
type MessageService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	users         domain.UserRepository
	pusher        Pusher
	bridge        notify.Bridge

	// PushTimeout bounds each per-connection delivery attempt.
	PushTimeout time.Duration
	// NotifyTimeout bounds the fire-and-forget bridge call.
	NotifyTimeout time.Duration
}

func NewMessageService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	users domain.UserRepository,
	pusher Pusher,
	bridge notify.Bridge,
) *MessageService {
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		users:         users,
		pusher:        pusher,
		bridge:        bridge,
		PushTimeout:   3 * time.Second,
		NotifyTimeout: 5 * time.Second,
	}
}

type SendInput struct {
	ConversationID int64
	Content        string
	MessageType    domain.MessageType
	AttachmentURL  *string
}

// Send validates, persists, and fans out one message. Persistence is the
// commit point: once the insert succeeds the send has happened, and no
// delivery or notification failure can undo it. When the recipient has no
// live connection in the room, the notification bridge is called exactly
// once instead.
func (s *MessageService) Send(ctx context.Context, in SendInput, senderID int64) (*domain.Message, error) {
	conv, err := s.conversations.GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	// Non-participants get NotFound rather than Forbidden so the send path
	// leaks nothing about whether the conversation exists.
	if !conv.HasParticipant(senderID) {
		return nil, domain.ErrNotFound
	}

	msg, err := buildMessage(in, senderID)
	if err != nil {
		return nil, err
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	recipientID := conv.OtherParticipant(senderID)
	delivered := 0
	payload, err := json.Marshal(NewMessageEvent{Type: EventNewMessage, Message: msg})
	if err != nil {
		log.Printf("send: encode new_message for %d: %v", msg.ID, err)
	} else {
		delivered = s.pusher.PushToRoomUser(conv.ID, recipientID, payload, s.PushTimeout)
	}

	if delivered == 0 {
		s.notifyRecipient(recipientID, senderID, msg)
	}

	return msg, nil
}

func buildMessage(in SendInput, senderID int64) (*domain.Message, error) {
	content := strings.TrimSpace(in.Content)
	msgType := in.MessageType
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	switch msgType {
	case domain.MessageTypeText:
		if content == "" {
			return nil, domain.ErrInvalidInput
		}
	case domain.MessageTypeAttachment:
		if in.AttachmentURL == nil || strings.TrimSpace(*in.AttachmentURL) == "" {
			return nil, domain.ErrInvalidInput
		}
	default:
		return nil, domain.ErrInvalidInput
	}
	if len([]rune(content)) > maxContentRunes {
		return nil, domain.ErrInvalidInput
	}

	return &domain.Message{
		ConversationID: in.ConversationID,
		SenderID:       senderID,
		Content:        content,
		MessageType:    msgType,
		AttachmentURL:  in.AttachmentURL,
	}, nil
}

// notifyRecipient invokes the bridge once for this send. It runs on a
// detached context so a canceled request cannot suppress it, and failures
// are logged, never surfaced.
func (s *MessageService) notifyRecipient(recipientID, senderID int64, msg *domain.Message) {
	title := "New message"
	if sender, err := s.users.GetByID(context.Background(), senderID); err == nil && sender.DisplayName != "" {
		title = "New message from " + sender.DisplayName
	}

	preview := msg.Content
	if msg.MessageType == domain.MessageTypeAttachment && preview == "" {
		preview = "Sent you an attachment"
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.NotifyTimeout)
		defer cancel()

		err := s.bridge.Create(ctx, notify.Notification{
			RecipientID: recipientID,
			Type:        "message",
			Title:       title,
			Content:     preview,
			Data: map[string]any{
				"conversation_id": msg.ConversationID,
				"message_id":      msg.ID,
			},
		})
		if err != nil {
			log.Printf("send: notification bridge for user %d: %v", recipientID, err)
		}
	}()
}

// History returns messages newest first, paginated by a "load more" cursor:
// beforeID <= 0 starts at the head, and the returned nextCursor (0 when the
// log is exhausted) feeds the next call. The id order key makes pages
// stable and duplicate-free while new messages keep arriving.
func (s *MessageService) History(ctx context.Context, conversationID, requesterID, beforeID int64, limit int) ([]*domain.Message, int64, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if !conv.HasParticipant(requesterID) {
		return nil, 0, domain.ErrNotFound
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	msgs, err := s.messages.ListBefore(ctx, conversationID, beforeID, limit)
	if err != nil {
		return nil, 0, err
	}

	var next int64
	if len(msgs) == limit {
		next = msgs[len(msgs)-1].ID
	}
	return msgs, next, nil
}

// MarkRead flips every unread message from the other participant to read and
// tells the author over their live connections. Repeat calls with nothing
// newly unread return 0 and write nothing. A message inserted after the
// update's snapshot stays unread; the next call picks it up.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, userID int64) (int64, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(userID) {
		return 0, domain.ErrForbidden
	}

	now := time.Now().UTC()
	count, err := s.messages.MarkAllRead(ctx, conversationID, userID, now)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(MessagesReadEvent{
		Type:           EventMessagesRead,
		ConversationID: conversationID,
		UserID:         userID,
		Timestamp:      now,
	})
	if err != nil {
		log.Printf("mark read: encode event: %v", err)
		return count, nil
	}
	s.pusher.PushToUser(conv.OtherParticipant(userID), payload, s.PushTimeout)

	return count, nil
}
