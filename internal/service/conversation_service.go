package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"matchtalk/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type ConversationService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	users         domain.UserRepository
}

func NewConversationService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	users domain.UserRepository,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		users:         users,
	}
}

// GetOrCreate returns the conversation for the unordered pair (a, b),
// creating it lazily on first contact. Concurrent creators race on the
// pair's unique constraint; the loser re-fetches and returns the winner's
// row, so N concurrent calls always converge on one conversation.
func (s *ConversationService) GetOrCreate(ctx context.Context, a, b int64, matchID *int64) (*domain.Conversation, error) {
	if a <= 0 || b <= 0 || a == b {
		return nil, domain.ErrInvalidInput
	}
	low, high := domain.NormalizePair(a, b)

	conv, err := s.conversations.GetByPair(ctx, low, high)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}

	conv = &domain.Conversation{UserLowID: low, UserHighID: high, MatchID: matchID}
	err = s.conversations.Create(ctx, conv)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	// A concurrent creator won; return its row.
	conv, err = s.conversations.GetByPair(ctx, low, high)
	if err != nil {
		return nil, fmt.Errorf("refetch after conflict: %w", err)
	}
	return conv, nil
}

// Get returns the conversation if the requester participates in it.
// Non-participants see NotFound so they cannot probe for existence.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID int64) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, domain.ErrNotFound
	}
	return conv, nil
}

// ListForUser returns the user's unarchived conversations ordered by latest
// activity, annotated with unread counts, message previews, and the peer's
// public display info.
func (s *ConversationService) ListForUser(ctx context.Context, userID int64, page, limit int) ([]*domain.ConversationSummary, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if page < 1 {
		page = 1
	}

	convs, err := s.conversations.ListForUser(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}

	summaries := make([]*domain.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		sum := &domain.ConversationSummary{Conversation: conv}

		if other, err := s.users.GetByID(ctx, conv.OtherParticipant(userID)); err == nil {
			sum.Other = other
		} else {
			log.Printf("ListForUser: peer %d for conversation %d: %v", conv.OtherParticipant(userID), conv.ID, err)
		}
		if count, err := s.conversations.UnreadCount(ctx, conv.ID, userID); err == nil {
			sum.UnreadCount = count
		} else {
			log.Printf("ListForUser: unread count for conversation %d: %v", conv.ID, err)
		}
		last, err := s.messages.Latest(ctx, conv.ID)
		if err == nil {
			sum.LastMessage = last
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("latest message for %d: %w", conv.ID, err)
		}

		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// Archive hides the conversation from the caller's listing. The other
// participant's view and the message log are untouched.
func (s *ConversationService) Archive(ctx context.Context, conversationID, userID int64) error {
	return s.conversations.SetArchived(ctx, conversationID, userID, true)
}

// IsParticipant implements registry.Authorizer for room joins.
func (s *ConversationService) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return conv.HasParticipant(userID), nil
}
