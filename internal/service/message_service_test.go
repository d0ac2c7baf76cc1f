package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"matchtalk/internal/domain"
	"matchtalk/internal/notify"
	"matchtalk/internal/service"
)

// chanBridge records bridge calls on a channel so tests can wait for the
// fire-and-forget notification goroutine.
type chanBridge struct {
	calls chan notify.Notification
}

func newChanBridge() *chanBridge {
	return &chanBridge{calls: make(chan notify.Notification, 8)}
}

func (b *chanBridge) Create(_ context.Context, n notify.Notification) error {
	b.calls <- n
	return nil
}

func (b *chanBridge) Close() error { return nil }

func (b *chanBridge) wait(t *testing.T) notify.Notification {
	t.Helper()
	select {
	case n := <-b.calls:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("notification bridge was never called")
		return notify.Notification{}
	}
}

func (b *chanBridge) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case n := <-b.calls:
		t.Fatalf("unexpected bridge call: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func newSendFixture() (*MockConversationRepo, *MockMessageRepo, *MockUserRepo, *MockPusher, *chanBridge, *service.MessageService) {
	convRepo := new(MockConversationRepo)
	msgRepo := new(MockMessageRepo)
	userRepo := new(MockUserRepo)
	pusher := new(MockPusher)
	bridge := newChanBridge()
	svc := service.NewMessageService(convRepo, msgRepo, userRepo, pusher, bridge)
	return convRepo, msgRepo, userRepo, pusher, bridge, svc
}

func TestSend(t *testing.T) {
	conv := &domain.Conversation{ID: 1, UserLowID: 3, UserHighID: 9}

	t.Run("DeliveredToLiveRecipient", func(t *testing.T) {
		convRepo, msgRepo, _, pusher, bridge, svc := newSendFixture()

		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)
		msgRepo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			m := args.Get(1).(*domain.Message)
			m.ID = 55
			m.CreatedAt = time.Now().UTC()
		}).Return(nil)
		pusher.On("PushToRoomUser", int64(1), int64(9), mock.Anything, mock.Anything).Return(1)

		msg, err := svc.Send(context.Background(), service.SendInput{ConversationID: 1, Content: "hello"}, 3)
		assert.NoError(t, err)
		assert.Equal(t, int64(55), msg.ID)
		assert.Equal(t, int64(3), msg.SenderID)
		bridge.assertNoCall(t)
	})

	t.Run("OfflineRecipientGetsOneNotification", func(t *testing.T) {
		convRepo, msgRepo, userRepo, pusher, bridge, svc := newSendFixture()

		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)
		msgRepo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			args.Get(1).(*domain.Message).ID = 56
		}).Return(nil)
		pusher.On("PushToRoomUser", int64(1), int64(9), mock.Anything, mock.Anything).Return(0)
		userRepo.On("GetByID", mock.Anything, int64(3)).Return(&domain.User{ID: 3, DisplayName: "Ada"}, nil)

		msg, err := svc.Send(context.Background(), service.SendInput{ConversationID: 1, Content: "hello"}, 3)
		assert.NoError(t, err)
		assert.Equal(t, int64(56), msg.ID)

		n := bridge.wait(t)
		assert.Equal(t, int64(9), n.RecipientID)
		assert.Equal(t, "New message from Ada", n.Title)
		assert.Equal(t, "hello", n.Content)
		bridge.assertNoCall(t)
	})

	t.Run("NonParticipantSeesNotFound", func(t *testing.T) {
		convRepo, msgRepo, _, _, bridge, svc := newSendFixture()

		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		_, err := svc.Send(context.Background(), service.SendInput{ConversationID: 1, Content: "hi"}, 77)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		msgRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		bridge.assertNoCall(t)
	})

	t.Run("RejectsEmptyText", func(t *testing.T) {
		convRepo, _, _, _, _, svc := newSendFixture()
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		_, err := svc.Send(context.Background(), service.SendInput{ConversationID: 1, Content: "   "}, 3)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("AttachmentNeedsURL", func(t *testing.T) {
		convRepo, _, _, _, _, svc := newSendFixture()
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		_, err := svc.Send(context.Background(), service.SendInput{
			ConversationID: 1,
			MessageType:    domain.MessageTypeAttachment,
		}, 3)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("AttachmentWithEmptyCaption", func(t *testing.T) {
		convRepo, msgRepo, userRepo, pusher, bridge, svc := newSendFixture()
		url := "https://cdn.example.com/pic.jpg"

		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)
		msgRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
		pusher.On("PushToRoomUser", int64(1), int64(9), mock.Anything, mock.Anything).Return(0)
		userRepo.On("GetByID", mock.Anything, int64(3)).Return(nil, domain.ErrNotFound)

		msg, err := svc.Send(context.Background(), service.SendInput{
			ConversationID: 1,
			MessageType:    domain.MessageTypeAttachment,
			AttachmentURL:  &url,
		}, 3)
		assert.NoError(t, err)
		assert.Equal(t, domain.MessageTypeAttachment, msg.MessageType)

		n := bridge.wait(t)
		assert.Equal(t, "New message", n.Title)
		assert.Equal(t, "Sent you an attachment", n.Content)
	})

	t.Run("RejectsOversizedContent", func(t *testing.T) {
		convRepo, _, _, _, _, svc := newSendFixture()
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		big := make([]rune, 5001)
		for i := range big {
			big[i] = 'x'
		}
		_, err := svc.Send(context.Background(), service.SendInput{ConversationID: 1, Content: string(big)}, 3)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestHistory(t *testing.T) {
	conv := &domain.Conversation{ID: 1, UserLowID: 3, UserHighID: 9}

	t.Run("FullPageReturnsCursor", func(t *testing.T) {
		convRepo, msgRepo, _, _, _, svc := newSendFixture()
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		page := []*domain.Message{{ID: 30}, {ID: 29}}
		msgRepo.On("ListBefore", mock.Anything, int64(1), int64(0), 2).Return(page, nil)

		msgs, next, err := svc.History(context.Background(), 1, 3, 0, 2)
		assert.NoError(t, err)
		assert.Len(t, msgs, 2)
		assert.Equal(t, int64(29), next)
	})

	t.Run("ShortPageEndsPagination", func(t *testing.T) {
		convRepo, msgRepo, _, _, _, svc := newSendFixture()
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		msgRepo.On("ListBefore", mock.Anything, int64(1), int64(29), 50).Return([]*domain.Message{{ID: 28}}, nil)

		msgs, next, err := svc.History(context.Background(), 1, 3, 29, 50)
		assert.NoError(t, err)
		assert.Len(t, msgs, 1)
		assert.Zero(t, next)
	})

	t.Run("NonParticipantSeesNotFound", func(t *testing.T) {
		convRepo, _, _, _, _, svc := newSendFixture()
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		_, _, err := svc.History(context.Background(), 1, 77, 0, 10)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMarkRead(t *testing.T) {
	conv := &domain.Conversation{ID: 1, UserLowID: 3, UserHighID: 9}

	t.Run("NotifiesAuthor", func(t *testing.T) {
		convRepo, msgRepo, _, pusher, _, svc := newSendFixture()
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)
		msgRepo.On("MarkAllRead", mock.Anything, int64(1), int64(9), mock.Anything).Return(int64(5), nil)
		pusher.On("PushToUser", int64(3), mock.Anything, mock.Anything).Return(1)

		count, err := svc.MarkRead(context.Background(), 1, 9)
		assert.NoError(t, err)
		assert.Equal(t, int64(5), count)
		pusher.AssertExpectations(t)
	})

	t.Run("NothingUnreadIsSilent", func(t *testing.T) {
		convRepo, msgRepo, _, pusher, _, svc := newSendFixture()
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)
		msgRepo.On("MarkAllRead", mock.Anything, int64(1), int64(9), mock.Anything).Return(int64(0), nil)

		count, err := svc.MarkRead(context.Background(), 1, 9)
		assert.NoError(t, err)
		assert.Zero(t, count)
		pusher.AssertNotCalled(t, "PushToUser", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("NonParticipantForbidden", func(t *testing.T) {
		convRepo, _, _, _, _, svc := newSendFixture()
		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		_, err := svc.MarkRead(context.Background(), 1, 77)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestSetTyping(t *testing.T) {
	conv := &domain.Conversation{ID: 1, UserLowID: 3, UserHighID: 9}

	t.Run("TargetsOnlyThePeer", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		pusher := new(MockPusher)
		b := service.NewTypingBroadcaster(convRepo, pusher)

		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)
		pusher.On("PushToRoomUser", int64(1), int64(9), mock.Anything, mock.Anything).Return(1)

		assert.NoError(t, b.SetTyping(context.Background(), 1, 3, true))
		pusher.AssertExpectations(t)
		pusher.AssertNotCalled(t, "PushToRoomUser", int64(1), int64(3), mock.Anything, mock.Anything)
	})

	t.Run("NonParticipantForbidden", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		pusher := new(MockPusher)
		b := service.NewTypingBroadcaster(convRepo, pusher)

		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)

		err := b.SetTyping(context.Background(), 1, 77, true)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		pusher.AssertNotCalled(t, "PushToRoomUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("LostConnectionIsNotAnError", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		pusher := new(MockPusher)
		b := service.NewTypingBroadcaster(convRepo, pusher)

		convRepo.On("GetByID", mock.Anything, int64(1)).Return(conv, nil)
		pusher.On("PushToRoomUser", int64(1), int64(9), mock.Anything, mock.Anything).Return(0)

		assert.NoError(t, b.SetTyping(context.Background(), 1, 3, false))
	})
}
