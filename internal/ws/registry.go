package ws

import (
	"sync"
	"time"
)

// Presence is a connection's identity record within a room. UserID stays
// nil until the client authenticates.
type Presence struct {
	ConnectionID string
	UserID       *int64
	Username     string
	Email        string
	ProjectID    string
	ConnectedAt  int64
}

// Authenticated returns true once the presence carries a user identity.
func (p *Presence) Authenticated() bool {
	return p.UserID != nil
}

// OnlineUser is the display shape of an authenticated presence.
type OnlineUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	ConnectionID string `json:"connectionId"`
	ConnectedAt  int64  `json:"connectedAt"`
}

// Registry owns all shared connection state: live connections, room
// membership and presence records. Every mutation is a compound atomic
// operation under one lock; presence is keyed by connection id inside each
// room, so a connection can never hold two records at once.
type Registry struct {
	mu           sync.RWMutex
	conns        map[string]*Conn
	rooms        map[string]map[string]struct{}
	presence     map[string]*Presence
	roomPresence map[string]map[string]*Presence
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:        make(map[string]*Conn),
		rooms:        make(map[string]map[string]struct{}),
		presence:     make(map[string]*Presence),
		roomPresence: make(map[string]map[string]*Presence),
	}
}

// Admit registers a connection, joins its room and creates the anonymous
// presence record. Rooms are created lazily on first join.
func (r *Registry) Admit(conn *Conn) *Presence {
	projectID := conn.ProjectID()
	p := &Presence{
		ConnectionID: conn.ID(),
		Username:     "Anonymous",
		ProjectID:    projectID,
		ConnectedAt:  time.Now().UnixMilli(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID()] = conn

	room, ok := r.rooms[projectID]
	if !ok {
		room = make(map[string]struct{})
		r.rooms[projectID] = room
	}
	room[conn.ID()] = struct{}{}

	users, ok := r.roomPresence[projectID]
	if !ok {
		users = make(map[string]*Presence)
		r.roomPresence[projectID] = users
	}
	users[conn.ID()] = p
	r.presence[conn.ID()] = p

	return p
}

// Authenticate replaces the presence record for a connection with an
// authenticated one. Replacement is a single operation: the old record
// leaves the room's presence set and the new one enters under the same
// lock, so no sequence of calls can leave two records for one connection.
func (r *Registry) Authenticate(connID string, userID int64, username, email string) (*Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.presence[connID]
	if !ok {
		return nil, false
	}

	p := &Presence{
		ConnectionID: connID,
		UserID:       &userID,
		Username:     username,
		Email:        email,
		ProjectID:    old.ProjectID,
		ConnectedAt:  time.Now().UnixMilli(),
	}

	r.presence[connID] = p
	if users, ok := r.roomPresence[old.ProjectID]; ok {
		users[connID] = p
	}

	return p, true
}

// Remove drops a connection from the registry and its room, deleting the
// room once empty. It returns the departed presence so the caller can
// announce USER_LEFT for authenticated users.
func (r *Registry) Remove(connID string) (*Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.presence[connID]
	if !ok {
		delete(r.conns, connID)
		return nil, false
	}

	delete(r.conns, connID)
	delete(r.presence, connID)

	if room, ok := r.rooms[p.ProjectID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, p.ProjectID)
		}
	}
	if users, ok := r.roomPresence[p.ProjectID]; ok {
		delete(users, connID)
		if len(users) == 0 {
			delete(r.roomPresence, p.ProjectID)
		}
	}

	return p, true
}

// Prune drops a dead connection from the registry and its room index
// without touching presence bookkeeping. Used by the broadcast path when a
// send fails; the connection's own close path performs the full Remove.
func (r *Registry) Prune(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)

	if room, ok := r.rooms[conn.ProjectID()]; ok {
		delete(room, connID)
	}
}

// Get returns the live connection for an id.
func (r *Registry) Get(connID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// GetPresence returns the presence record for a connection.
func (r *Registry) GetPresence(connID string) (*Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presence[connID]
	return p, ok
}

// RoomConns returns a snapshot of the live connections in a room.
func (r *Registry) RoomConns(projectID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[projectID]
	conns := make([]*Conn, 0, len(room))
	for connID := range room {
		if conn, ok := r.conns[connID]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// OnlineUsers returns the authenticated presences of a room in display
// shape. Anonymous connections occupy room slots but are not listed.
func (r *Registry) OnlineUsers(projectID string) []OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]OnlineUser, 0)
	for _, p := range r.roomPresence[projectID] {
		if p.UserID == nil {
			continue
		}
		users = append(users, OnlineUser{
			ID:           *p.UserID,
			Username:     p.Username,
			Email:        p.Email,
			ConnectionID: p.ConnectionID,
			ConnectedAt:  p.ConnectedAt,
		})
	}
	return users
}

// FindByUserID returns the connection id of the authenticated user in a
// room, if present.
func (r *Registry) FindByUserID(projectID string, userID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for connID, p := range r.roomPresence[projectID] {
		if p.UserID != nil && *p.UserID == userID {
			return connID, true
		}
	}
	return "", false
}

// RoomSize returns the number of connections in a room.
func (r *Registry) RoomSize(projectID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[projectID])
}

// Close closes every live connection and clears the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Conn)
	r.rooms = make(map[string]map[string]struct{})
	r.presence = make(map[string]*Presence)
	r.roomPresence = make(map[string]map[string]*Presence)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
