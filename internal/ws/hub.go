package ws

import (
	"encoding/json"
	"log"
)

// Hub fans messages out to project rooms and single connections. Delivery
// is best effort: transport failures are terminal only for the failing
// connection, which gets pruned from the room index, and are never
// surfaced to the caller.
type Hub struct {
	registry *Registry
}

// NewHub creates a hub over the given registry.
func NewHub(registry *Registry) *Hub {
	return &Hub{registry: registry}
}

// Broadcast serializes the message once and sends it to every connection
// in the project room, including the originator. Connections that fail to
// accept the frame are removed from the room as a side effect.
func (h *Hub) Broadcast(projectID string, msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to serialize broadcast message for project %s: %v", projectID, err)
		return
	}

	for _, conn := range h.registry.RoomConns(projectID) {
		if !conn.Send(data) {
			log.Printf("Dropping dead connection %s from project %s", conn.ID(), projectID)
			h.registry.Prune(conn.ID())
		}
	}
}

// SendTo sends a message to a single connection by id. Unknown ids and
// closed connections are logged and ignored.
func (h *Hub) SendTo(connID string, msg map[string]any) {
	conn, ok := h.registry.Get(connID)
	if !ok {
		log.Printf("Connection not available for send: %s", connID)
		return
	}
	h.SendToConn(conn, msg)
}

// SendToConn sends a message to an already-resolved connection.
func (h *Hub) SendToConn(conn *Conn, msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to serialize message for %s: %v", conn.ID(), err)
		return
	}
	if !conn.Send(data) {
		log.Printf("Failed to send to connection %s", conn.ID())
		h.registry.Prune(conn.ID())
	}
}

// BroadcastOnlineUsers pushes a fresh online-users snapshot to the room.
func (h *Hub) BroadcastOnlineUsers(projectID string) {
	users := h.registry.OnlineUsers(projectID)
	h.Broadcast(projectID, NewMessage(MessageTypeOnlineUsers, map[string]any{
		"users": users,
		"count": len(users),
	}))
}

// SendOnlineUsers sends the online-users snapshot to one connection only.
func (h *Hub) SendOnlineUsers(conn *Conn, projectID string) {
	users := h.registry.OnlineUsers(projectID)
	h.SendToConn(conn, NewMessage(MessageTypeOnlineUsers, map[string]any{
		"users": users,
		"count": len(users),
	}))
}
