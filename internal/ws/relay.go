package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"matchtalk/internal/registry"
	"matchtalk/internal/service"
)

const relayChannel = "matchtalk:fanout"

// relayScope selects how a relayed payload is delivered on the receiving
// instance.
const (
	scopeRoomUser = "room_user"
	scopeUser     = "user"
)

type envelope struct {
	Origin         string          `json:"origin"`
	Scope          string          `json:"scope"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	UserID         int64           `json:"user_id"`
	Payload        json.RawMessage `json:"payload"`
}

// Relay forwards push payloads between instances over Redis pub/sub so a
// recipient connected to another node still gets realtime delivery. Each
// instance skips envelopes it published itself; local delivery already
// happened before publishing.
type Relay struct {
	rdb        *redis.Client
	reg        *registry.Registry
	instanceID string
	timeout    time.Duration
}

func NewRelay(redisURL string, reg *registry.Registry) (*Relay, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("relay: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("relay: ping redis: %w", err)
	}

	return &Relay{
		rdb:        rdb,
		reg:        reg,
		instanceID: uuid.NewString(),
		timeout:    2 * time.Second,
	}, nil
}

// Run consumes relayed envelopes until the context is canceled.
func (r *Relay) Run(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, relayChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.deliver([]byte(msg.Payload))
		}
	}
}

func (r *Relay) deliver(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("relay: bad envelope: %v", err)
		return
	}
	if env.Origin == r.instanceID {
		return
	}

	switch env.Scope {
	case scopeRoomUser:
		r.reg.PushToRoomUser(env.ConversationID, env.UserID, env.Payload, r.timeout)
	case scopeUser:
		r.reg.PushToUser(env.UserID, env.Payload, r.timeout)
	default:
		log.Printf("relay: unknown scope %q", env.Scope)
	}
}

func (r *Relay) publish(env envelope) {
	env.Origin = r.instanceID
	raw, err := json.Marshal(env)
	if err != nil {
		log.Printf("relay: encode envelope: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, relayChannel, raw).Err(); err != nil {
		log.Printf("relay: publish: %v", err)
	}
}

func (r *Relay) Close() error {
	return r.rdb.Close()
}

// Fanout is the Pusher the services use: local registry delivery first,
// then best-effort relay to sibling instances. The returned count reflects
// local deliveries only; the notification decision keys off the instance
// that owns the send.
type Fanout struct {
	Registry *registry.Registry
	Relay    *Relay // nil when running single-node
}

var _ service.Pusher = (*Fanout)(nil)

func (f *Fanout) PushToRoomUser(conversationID, userID int64, payload []byte, timeout time.Duration) int {
	delivered := f.Registry.PushToRoomUser(conversationID, userID, payload, timeout)
	if f.Relay != nil {
		f.Relay.publish(envelope{
			Scope:          scopeRoomUser,
			ConversationID: conversationID,
			UserID:         userID,
			Payload:        payload,
		})
	}
	return delivered
}

func (f *Fanout) PushToUser(userID int64, payload []byte, timeout time.Duration) int {
	delivered := f.Registry.PushToUser(userID, payload, timeout)
	if f.Relay != nil {
		f.Relay.publish(envelope{
			Scope:   scopeUser,
			UserID:  userID,
			Payload: payload,
		})
	}
	return delivered
}
