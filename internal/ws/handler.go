package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"matchtalk/internal/domain"
	"matchtalk/internal/registry"
	"matchtalk/internal/security"
	"matchtalk/internal/service"
)

const ackTimeout = 2 * time.Second

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// Client->server frame on the /messages channel.
type inboundFrame struct {
	Type           string  `json:"type"`
	ConversationID int64   `json:"conversation_id,omitempty"`
	Content        string  `json:"content,omitempty"`
	MessageType    string  `json:"message_type,omitempty"`
	AttachmentURL  *string `json:"attachment_url,omitempty"`
	IsTyping       bool    `json:"is_typing,omitempty"`
}

type ackFrame struct {
	Type           string `json:"type"`
	Op             string `json:"op,omitempty"`
	Status         string `json:"status"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	MessageID      int64  `json:"message_id,omitempty"`
	ReadCount      int64  `json:"read_count,omitempty"`
	Message        string `json:"message,omitempty"`
}

// MakeHandler returns the HTTP handler for the /ws/messages endpoint.
// Authenticates via Bearer token (Authorization header or
// Sec-WebSocket-Protocol) before the connection is ever registered, then
// dispatches events:
//   - join_conversation / leave_conversation -> room membership
//   - send_message -> validate, persist, fan out; ack with the message id
//   - typing       -> forward typing indicator to the peer's room connections
//   - mark_read    -> flip unread messages + notify the author
func MakeHandler(
	reg *registry.Registry,
	tokens *security.TokenVerifier,
	users domain.UserRepository,
	msgSvc *service.MessageService,
	typing *service.TypingBroadcaster,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		userID, err := tokens.VerifiedUserID(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := users.GetByID(ctx, userID)
		if err != nil || !user.IsActive {
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}

		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		conn := reg.Register(user.ID, sock)
		defer func() {
			// Best-effort stop-typing so peers clear their indicators
			// without waiting for the client-side TTL.
			for _, roomID := range reg.RoomsFor(conn.ID) {
				_ = typing.SetTyping(context.Background(), roomID, user.ID, false)
			}
			reg.Unregister(conn.ID)
		}()

		session := &session{
			reg:    reg,
			msgSvc: msgSvc,
			typing: typing,
			conn:   conn,
			userID: user.ID,
		}

		// The request context may carry a middleware deadline sized for a
		// single request; this connection lives until the client hangs up.
		// Dispatch on a detached context so operations on a long-lived
		// connection never inherit that deadline.
		connCtx := context.WithoutCancel(r.Context())

		for {
			_, data, err := sock.ReadMessage()
			if err != nil {
				return
			}
			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				session.sendError(frame.Type, 0, "invalid payload")
				continue
			}
			session.dispatch(connCtx, frame)
		}
	}
}

// session holds per-connection dispatch state after a successful handshake.
type session struct {
	reg    *registry.Registry
	msgSvc *service.MessageService
	typing *service.TypingBroadcaster
	conn   *registry.Conn
	userID int64
}

func (s *session) dispatch(ctx context.Context, frame inboundFrame) {
	if frame.ConversationID == 0 {
		s.sendError(frame.Type, 0, "conversation_id is required")
		return
	}

	switch frame.Type {
	case "join_conversation":
		// A rejected join affects only this room; the connection and its
		// other memberships stay intact.
		if err := s.reg.JoinRoom(ctx, s.conn.ID, frame.ConversationID); err != nil {
			s.sendError(frame.Type, frame.ConversationID, userFacing(err))
			return
		}
		s.sendAck(ackFrame{Op: frame.Type, ConversationID: frame.ConversationID})

	case "leave_conversation":
		s.reg.LeaveRoom(s.conn.ID, frame.ConversationID)
		s.sendAck(ackFrame{Op: frame.Type, ConversationID: frame.ConversationID})

	case "send_message":
		msg, err := s.msgSvc.Send(ctx, service.SendInput{
			ConversationID: frame.ConversationID,
			Content:        frame.Content,
			MessageType:    domain.MessageType(frame.MessageType),
			AttachmentURL:  frame.AttachmentURL,
		}, s.userID)
		if err != nil {
			log.Printf("ws: send_message user=%d conv=%d: %v", s.userID, frame.ConversationID, err)
			s.sendError(frame.Type, frame.ConversationID, userFacing(err))
			return
		}
		s.sendAck(ackFrame{Op: frame.Type, ConversationID: frame.ConversationID, MessageID: msg.ID})

	case "typing":
		if err := s.typing.SetTyping(ctx, frame.ConversationID, s.userID, frame.IsTyping); err != nil {
			s.sendError(frame.Type, frame.ConversationID, userFacing(err))
		}

	case "mark_read":
		count, err := s.msgSvc.MarkRead(ctx, frame.ConversationID, s.userID)
		if err != nil {
			log.Printf("ws: mark_read user=%d conv=%d: %v", s.userID, frame.ConversationID, err)
			s.sendError(frame.Type, frame.ConversationID, userFacing(err))
			return
		}
		s.sendAck(ackFrame{Op: frame.Type, ConversationID: frame.ConversationID, ReadCount: count})

	default:
		s.sendError(frame.Type, frame.ConversationID, "unknown event type")
	}
}

func (s *session) sendAck(ack ackFrame) {
	ack.Type = "ack"
	ack.Status = "ok"
	if payload, err := json.Marshal(ack); err == nil {
		_ = s.conn.Send(payload, ackTimeout)
	}
}

func (s *session) sendError(op string, conversationID int64, msg string) {
	frame := ackFrame{
		Type:           "ack",
		Op:             op,
		Status:         "error",
		ConversationID: conversationID,
		Message:        msg,
	}
	if payload, err := json.Marshal(frame); err == nil {
		_ = s.conn.Send(payload, ackTimeout)
	}
}

func userFacing(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrNotFound):
		return "conversation not found"
	case errors.Is(err, domain.ErrForbidden):
		return "not allowed for this conversation"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid message"
	default:
		return "internal error"
	}
}
