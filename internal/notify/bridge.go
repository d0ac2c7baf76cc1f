// Package notify is the boundary to the asynchronous notification pipeline.
// The messaging subsystem only creates notifications; channel fan-out
// (push/email/SMS) is owned by a separate consumer.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

// TaskNotificationCreate is the queue task name for notification creation.
const TaskNotificationCreate = "notify:create"

// Notification is the fire-and-forget creation payload.
type Notification struct {
	RecipientID int64          `json:"recipient_id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Data        map[string]any `json:"data,omitempty"`
}

// Bridge accepts notification creation calls. Failures are the caller's to
// log and swallow; a Create error must never fail the operation that
// triggered it.
type Bridge interface {
	Create(ctx context.Context, n Notification) error
	Close() error
}

// AsynqBridge enqueues notifications onto a Redis-backed asynq queue.
type AsynqBridge struct {
	client *asynq.Client
}

func NewAsynqBridge(redisURL string) (*AsynqBridge, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	return &AsynqBridge{client: asynq.NewClient(opt)}, nil
}

var _ Bridge = (*AsynqBridge)(nil)

func (b *AsynqBridge) Create(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	_, err = b.client.EnqueueContext(ctx, asynq.NewTask(TaskNotificationCreate, payload),
		asynq.Queue("notifications"),
		asynq.MaxRetry(5),
	)
	if err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

func (b *AsynqBridge) Close() error {
	return b.client.Close()
}

// LogBridge is the fallback when no queue is configured: notifications are
// only logged. Useful for local development and tests.
type LogBridge struct{}

var _ Bridge = LogBridge{}

func (LogBridge) Create(_ context.Context, n Notification) error {
	log.Printf("notify: (log only) recipient=%d type=%s title=%q", n.RecipientID, n.Type, n.Title)
	return nil
}

func (LogBridge) Close() error { return nil }
