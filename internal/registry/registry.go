package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"matchtalk/internal/domain"
)

// Authorizer answers whether a user may join a conversation room. It is
// consulted before any registry lock is taken, so implementations are free
// to hit storage.
type Authorizer interface {
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

// Registry tracks live connections per user and per conversation room. All
// state is in-memory and cleared on restart; clients re-register on
// reconnect. Mutations are guarded by a single RWMutex; lock scopes never
// span a network or storage call.
type Registry struct {
	auth Authorizer

	mu        sync.RWMutex
	conns     map[string]*Conn              // connID -> conn
	userConns map[int64]map[string]*Conn    // userID -> connID -> conn
	rooms     map[int64]map[string]*Conn    // conversationID -> connID -> conn
	connRooms map[string]map[int64]struct{} // connID -> set of conversationIDs
}

func New(auth Authorizer) *Registry {
	return &Registry{
		auth:      auth,
		conns:     make(map[string]*Conn),
		userConns: make(map[int64]map[string]*Conn),
		rooms:     make(map[int64]map[string]*Conn),
		connRooms: make(map[string]map[int64]struct{}),
	}
}

// Register adds a connection for the given user and starts its write loop.
func (r *Registry) Register(userID int64, sock Socket) *Conn {
	conn := newConn(userID, sock)

	r.mu.Lock()
	r.conns[conn.ID] = conn
	if r.userConns[userID] == nil {
		r.userConns[userID] = make(map[string]*Conn)
	}
	r.userConns[userID][conn.ID] = conn
	r.connRooms[conn.ID] = make(map[int64]struct{})
	r.mu.Unlock()

	conn.start()
	return conn
}

// Unregister removes the connection and all of its room memberships. The
// connRooms reverse index makes teardown O(rooms joined); no scan over other
// users or conversations happens.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)

	if set := r.userConns[conn.UserID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.userConns, conn.UserID)
		}
	}

	for roomID := range r.connRooms[connID] {
		r.leaveLocked(roomID, connID)
	}
	delete(r.connRooms, connID)
	r.mu.Unlock()

	conn.Close(1000, "unregistered")
}

// ConnectionsFor returns the connection IDs of a user's live connections;
// empty means offline.
func (r *Registry) ConnectionsFor(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.userConns[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// JoinRoom subscribes the connection to a conversation room after the
// authorization check. A rejected join leaves the connection and its other
// rooms intact.
func (r *Registry) JoinRoom(ctx context.Context, connID string, conversationID int64) error {
	r.mu.RLock()
	conn, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	// Participant check runs without holding the registry lock.
	isMember, err := r.auth.IsParticipant(ctx, conversationID, conn.UserID)
	if err != nil {
		return fmt.Errorf("authorize join: %w", err)
	}
	if !isMember {
		return domain.ErrForbidden
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		// Disconnected while we were authorizing.
		return domain.ErrNotFound
	}
	room := r.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Conn)
		r.rooms[conversationID] = room
	}
	room[connID] = conn
	r.connRooms[connID][conversationID] = struct{}{}
	return nil
}

// LeaveRoom removes the connection from a conversation room.
func (r *Registry) LeaveRoom(connID string, conversationID int64) {
	r.mu.Lock()
	r.leaveLocked(conversationID, connID)
	if memberships, ok := r.connRooms[connID]; ok {
		delete(memberships, conversationID)
	}
	r.mu.Unlock()
}

// RoomsFor returns the conversation rooms the connection has joined.
func (r *Registry) RoomsFor(connID string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memberships := r.connRooms[connID]
	ids := make([]int64, 0, len(memberships))
	for id := range memberships {
		ids = append(ids, id)
	}
	return ids
}

// PushToRoomUser delivers payload to every connection of userID currently
// subscribed to the conversation room. Each push is attempted independently
// with its own bounded timeout; the count of successful deliveries is
// returned. Pushes run outside the registry lock.
func (r *Registry) PushToRoomUser(conversationID, userID int64, payload []byte, timeout time.Duration) int {
	r.mu.RLock()
	targets := make([]*Conn, 0, 2)
	for _, conn := range r.rooms[conversationID] {
		if conn.UserID == userID {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	return pushAll(targets, payload, timeout)
}

// PushToUser delivers payload to all of a user's live connections,
// regardless of room membership.
func (r *Registry) PushToUser(userID int64, payload []byte, timeout time.Duration) int {
	r.mu.RLock()
	targets := make([]*Conn, 0, 2)
	for _, conn := range r.userConns[userID] {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	return pushAll(targets, payload, timeout)
}

// pushAll attempts every target in parallel, so a connection with a
// saturated send buffer spends its own timeout without delaying siblings.
func pushAll(targets []*Conn, payload []byte, timeout time.Duration) int {
	if len(targets) == 0 {
		return 0
	}
	if len(targets) == 1 {
		if err := targets[0].Send(payload, timeout); err == nil {
			return 1
		}
		return 0
	}

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, conn := range targets {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			if err := c.Send(payload, timeout); err == nil {
				delivered.Add(1)
			}
		}(conn)
	}
	wg.Wait()
	return int(delivered.Load())
}

// HasConnections reports whether the user is reachable on at least one live
// connection.
func (r *Registry) HasConnections(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID]) > 0
}

func (r *Registry) leaveLocked(conversationID int64, connID string) {
	room := r.rooms[conversationID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, conversationID)
	}
}
