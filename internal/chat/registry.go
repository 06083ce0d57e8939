package chat

import (
	"strings"
	"sync"
)

// Verifier turns a credential token into an identity.
type Verifier interface {
	VerifyIdentity(token string) (Identity, error)
}

// Registry tracks live connections and the rooms they have joined. Room
// membership exists only while a member connection is registered.
type Registry struct {
	verifier Verifier

	mu    sync.RWMutex
	conns map[string]*registered
	rooms map[RoomKey]map[string]*Connection
	// online counts live connections per identity.
	online map[string]int
}

type registered struct {
	conn  *Connection
	rooms map[RoomKey]struct{}
}

func NewRegistry(v Verifier) *Registry {
	return &Registry{
		verifier: v,
		conns:    make(map[string]*registered),
		rooms:    make(map[RoomKey]map[string]*Connection),
		online:   make(map[string]int),
	}
}

// Authenticate verifies a handshake token. Any failure is an AuthError.
func (r *Registry) Authenticate(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer"))
	if token == "" {
		return Identity{}, &AuthError{Reason: "missing token"}
	}
	id, err := r.verifier.VerifyIdentity(token)
	if err != nil {
		if IsAuth(err) {
			return Identity{}, err
		}
		return Identity{}, &AuthError{Reason: "invalid token", Err: err}
	}
	if id.ID == "" || !id.Role.Valid() {
		return Identity{}, &AuthError{Reason: "token carries no usable identity"}
	}
	return id, nil
}

// Register admits conn and puts it in its identity's private room. first
// reports whether it is the identity's only live connection.
func (r *Registry) Register(conn *Connection) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID]; ok {
		return false, ErrAlreadyRegistered
	}
	select {
	case <-conn.done:
		return false, ErrAlreadyRegistered
	default:
	}

	r.conns[conn.ID] = &registered{conn: conn, rooms: make(map[RoomKey]struct{})}
	r.joinLocked(conn.ID, IdentityRoom(conn.Identity.ID))
	r.online[conn.Identity.ID]++
	return r.online[conn.Identity.ID] == 1, nil
}

// JoinRoom adds the connection to a room. Joining twice is a no-op.
func (r *Registry) JoinRoom(connID string, room RoomKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return ErrUnknownConnection
	}
	r.joinLocked(connID, room)
	return nil
}

func (r *Registry) joinLocked(connID string, room RoomKey) {
	reg := r.conns[connID]
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[room] = members
	}
	members[connID] = reg.conn
	reg.rooms[room] = struct{}{}
}

// LeaveRoom removes the connection from a room. Leaving a room never joined
// is a no-op.
func (r *Registry) LeaveRoom(connID string, room RoomKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	r.leaveLocked(reg, room)
	return nil
}

func (r *Registry) leaveLocked(reg *registered, room RoomKey) {
	delete(reg.rooms, room)
	if members, ok := r.rooms[room]; ok {
		delete(members, reg.conn.ID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// IsMember reports whether the connection has joined the room.
func (r *Registry) IsMember(connID string, room RoomKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][connID]
	return ok
}

// MembersOf returns a snapshot of the room. Members may disconnect before the
// caller delivers to them; delivery to a closed connection is a no-op.
func (r *Registry) MembersOf(room RoomKey) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]*Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, reg := range r.conns {
		out = append(out, reg.conn)
	}
	return out
}

// Online reports whether the identity has at least one live connection.
func (r *Registry) Online(identityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online[identityID] > 0
}

// Disconnect removes the connection from every room and from the registry,
// then closes it. It is safe to call more than once; only the first call
// reports removed. last reports whether the identity has no live connection
// left.
func (r *Registry) Disconnect(connID string) (removed, last bool, identity Identity) {
	r.mu.Lock()
	reg, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return false, false, Identity{}
	}
	for room := range reg.rooms {
		r.leaveLocked(reg, room)
	}
	delete(r.conns, connID)
	identity = reg.conn.Identity
	r.online[identity.ID]--
	if r.online[identity.ID] <= 0 {
		delete(r.online, identity.ID)
		last = true
	}
	r.mu.Unlock()

	reg.conn.close()
	return true, last, identity
}
