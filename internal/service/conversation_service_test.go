package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"matchtalk/internal/domain"
	"matchtalk/internal/notify"
	"matchtalk/internal/service"
)

// Mock mocks
type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type MockConversationRepo struct {
	mock.Mock
}

func (m *MockConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) GetByPair(ctx context.Context, low, high int64) (*domain.Conversation, error) {
	args := m.Called(ctx, low, high)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) ListForUser(ctx context.Context, userID int64, offset, limit int) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error {
	args := m.Called(ctx, conversationID, userID, archived)
	return args.Error(0)
}

func (m *MockConversationRepo) UnreadCount(ctx context.Context, conversationID, userID int64) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepo) ListBefore(ctx context.Context, conversationID, beforeID int64, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, conversationID, beforeID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) Latest(ctx context.Context, conversationID int64) (*domain.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) MarkAllRead(ctx context.Context, conversationID, readerID int64, readAt time.Time) (int64, error) {
	args := m.Called(ctx, conversationID, readerID, readAt)
	return args.Get(0).(int64), args.Error(1)
}

type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) PushToRoomUser(conversationID, userID int64, payload []byte, timeout time.Duration) int {
	args := m.Called(conversationID, userID, payload, timeout)
	return args.Int(0)
}

func (m *MockPusher) PushToUser(userID int64, payload []byte, timeout time.Duration) int {
	args := m.Called(userID, payload, timeout)
	return args.Int(0)
}

type MockBridge struct {
	mock.Mock
}

func (m *MockBridge) Create(ctx context.Context, n notify.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockBridge) Close() error {
	return nil
}

func TestGetOrCreate(t *testing.T) {
	t.Run("ExistingPair", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		svc := service.NewConversationService(convRepo, new(MockMessageRepo), new(MockUserRepo))

		existing := &domain.Conversation{ID: 7, UserLowID: 3, UserHighID: 9}
		convRepo.On("GetByPair", mock.Anything, int64(3), int64(9)).Return(existing, nil)

		// Arguments arrive in either order; the pair is normalized first.
		conv, err := svc.GetOrCreate(context.Background(), 9, 3, nil)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), conv.ID)
		convRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("CreatesOnFirstContact", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		svc := service.NewConversationService(convRepo, new(MockMessageRepo), new(MockUserRepo))

		convRepo.On("GetByPair", mock.Anything, int64(3), int64(9)).Return(nil, domain.ErrNotFound)
		convRepo.On("Create", mock.Anything, mock.MatchedBy(func(c *domain.Conversation) bool {
			return c.UserLowID == 3 && c.UserHighID == 9
		})).Return(nil)

		conv, err := svc.GetOrCreate(context.Background(), 3, 9, nil)
		assert.NoError(t, err)
		assert.Equal(t, int64(3), conv.UserLowID)
		assert.Equal(t, int64(9), conv.UserHighID)
	})

	t.Run("LosesCreateRace", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		svc := service.NewConversationService(convRepo, new(MockMessageRepo), new(MockUserRepo))

		winner := &domain.Conversation{ID: 42, UserLowID: 3, UserHighID: 9}
		convRepo.On("GetByPair", mock.Anything, int64(3), int64(9)).Return(nil, domain.ErrNotFound).Once()
		convRepo.On("Create", mock.Anything, mock.Anything).Return(domain.ErrConflict)
		convRepo.On("GetByPair", mock.Anything, int64(3), int64(9)).Return(winner, nil).Once()

		conv, err := svc.GetOrCreate(context.Background(), 3, 9, nil)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), conv.ID)
	})

	t.Run("RejectsSelfConversation", func(t *testing.T) {
		svc := service.NewConversationService(new(MockConversationRepo), new(MockMessageRepo), new(MockUserRepo))

		_, err := svc.GetOrCreate(context.Background(), 5, 5, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("RejectsNonPositiveIDs", func(t *testing.T) {
		svc := service.NewConversationService(new(MockConversationRepo), new(MockMessageRepo), new(MockUserRepo))

		_, err := svc.GetOrCreate(context.Background(), 0, 5, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestGet(t *testing.T) {
	conv := &domain.Conversation{ID: 1, UserLowID: 3, UserHighID: 9}

	t.Run("Participant", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		svc := service.NewConversationService(convRepo, new(MockMessageRepo), new(MockUserRepo))
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		got, err := svc.Get(context.Background(), 1, 9)
		assert.NoError(t, err)
		assert.Equal(t, conv, got)
	})

	t.Run("NonParticipantSeesNotFound", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		svc := service.NewConversationService(convRepo, new(MockMessageRepo), new(MockUserRepo))
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		_, err := svc.Get(context.Background(), 1, 77)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestListForUser(t *testing.T) {
	convRepo := new(MockConversationRepo)
	msgRepo := new(MockMessageRepo)
	userRepo := new(MockUserRepo)
	svc := service.NewConversationService(convRepo, msgRepo, userRepo)

	convs := []*domain.Conversation{
		{ID: 1, UserLowID: 3, UserHighID: 9},
		{ID: 2, UserLowID: 3, UserHighID: 12},
	}
	convRepo.On("ListForUser", mock.Anything, int64(3), 0, 20).Return(convs, nil)
	userRepo.On("GetByID", mock.Anything, int64(9)).Return(&domain.User{ID: 9, DisplayName: "Ada"}, nil)
	userRepo.On("GetByID", mock.Anything, int64(12)).Return(&domain.User{ID: 12, DisplayName: "Bo"}, nil)
	convRepo.On("UnreadCount", mock.Anything, int64(1), int64(3)).Return(4, nil)
	convRepo.On("UnreadCount", mock.Anything, int64(2), int64(3)).Return(0, nil)
	msgRepo.On("Latest", mock.Anything, int64(1)).Return(&domain.Message{ID: 100, Content: "hey"}, nil)
	// A freshly created conversation has no messages yet.
	msgRepo.On("Latest", mock.Anything, int64(2)).Return(nil, domain.ErrNotFound)

	sums, err := svc.ListForUser(context.Background(), 3, 1, 0)
	assert.NoError(t, err)
	assert.Len(t, sums, 2)
	assert.Equal(t, "Ada", sums[0].Other.DisplayName)
	assert.Equal(t, 4, sums[0].UnreadCount)
	assert.Equal(t, int64(100), sums[0].LastMessage.ID)
	assert.Nil(t, sums[1].LastMessage)
}

func TestListForUserToleratesAnnotationFailures(t *testing.T) {
	convRepo := new(MockConversationRepo)
	msgRepo := new(MockMessageRepo)
	userRepo := new(MockUserRepo)
	svc := service.NewConversationService(convRepo, msgRepo, userRepo)

	convs := []*domain.Conversation{{ID: 1, UserLowID: 3, UserHighID: 9}}
	convRepo.On("ListForUser", mock.Anything, int64(3), 0, 20).Return(convs, nil)
	// Annotation lookups degrade to empty fields; the listing itself
	// still succeeds.
	userRepo.On("GetByID", mock.Anything, int64(9)).Return(nil, domain.ErrInternal)
	convRepo.On("UnreadCount", mock.Anything, int64(1), int64(3)).Return(0, domain.ErrInternal)
	msgRepo.On("Latest", mock.Anything, int64(1)).Return(nil, domain.ErrNotFound)

	sums, err := svc.ListForUser(context.Background(), 3, 1, 0)
	assert.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Nil(t, sums[0].Other)
	assert.Zero(t, sums[0].UnreadCount)
	assert.Nil(t, sums[0].LastMessage)
}

func TestArchive(t *testing.T) {
	convRepo := new(MockConversationRepo)
	svc := service.NewConversationService(convRepo, new(MockMessageRepo), new(MockUserRepo))

	convRepo.On("SetArchived", mock.Anything, int64(1), int64(3), true).Return(nil)
	assert.NoError(t, svc.Archive(context.Background(), 1, 3))
	convRepo.AssertExpectations(t)
}

func TestIsParticipant(t *testing.T) {
	conv := &domain.Conversation{ID: 1, UserLowID: 3, UserHighID: 9}

	t.Run("Member", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		svc := service.NewConversationService(convRepo, new(MockMessageRepo), new(MockUserRepo))
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		ok, err := svc.IsParticipant(context.Background(), 1, 3)
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("UnknownConversation", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		svc := service.NewConversationService(convRepo, new(MockMessageRepo), new(MockUserRepo))
		convRepo.On("GetByID", mock.Anything, int64(99)).Return(nil, domain.ErrNotFound)

		ok, err := svc.IsParticipant(context.Background(), 99, 3)
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}
