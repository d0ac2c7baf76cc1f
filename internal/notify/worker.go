package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/hibiken/asynq"
)

// Worker consumes notification tasks. Running it in-process keeps the dev
// loop self-contained; in production the notification service runs its own
// consumer against the same queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(redisURL string, concurrency int) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("notify worker: parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 10
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"notifications": 1, "default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			fmt.Fprintf(os.Stderr, "notify worker: type=%s err=%v\n", task.Type(), err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskNotificationCreate, handleCreate)
	return &Worker{server: srv, mux: mux}, nil
}

// Run starts the worker and blocks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

func handleCreate(ctx context.Context, t *asynq.Task) error {
	var n Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		// Malformed payload will never succeed; drop instead of retrying.
		return fmt.Errorf("notify worker: unmarshal: %v: %w", err, asynq.SkipRetry)
	}
	// Hand-off point for the channel fan-out service.
	log.Printf("notify worker: created notification recipient=%d type=%s", n.RecipientID, n.Type)
	return nil
}
