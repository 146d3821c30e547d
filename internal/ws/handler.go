package ws

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codecollab/backend/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking in production
		return true
	},
}

// ProjectLoader supplies the file tree sent to new connections.
type ProjectLoader interface {
	ListFiles(ctx context.Context, projectID int64) ([]*model.File, error)
}

// Handler owns the lifecycle of client connections: admission into a
// project room, the read loop, and removal with join/leave announcements.
type Handler struct {
	registry *Registry
	hub      *Hub
	router   *Router
	executor Executor
	projects ProjectLoader
}

// NewHandler creates a connection lifecycle handler.
func NewHandler(registry *Registry, hub *Hub, router *Router, executor Executor, projects ProjectLoader) *Handler {
	return &Handler{
		registry: registry,
		hub:      hub,
		router:   router,
		executor: executor,
		projects: projects,
	}
}

// HandleConnection upgrades the HTTP request and runs the connection until
// it closes. The project id comes from the request path.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, projectID string) error {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := NewConn(wsConn, projectID)
	h.admit(conn)

	go h.writePump(conn)
	go h.readPump(conn)

	return nil
}

// admit registers the connection and announces it: session info to the new
// connection, a fresh online-users snapshot to the room, and the project
// state asynchronously so admission never blocks on it.
func (h *Handler) admit(conn *Conn) {
	h.registry.Admit(conn)

	log.Printf("WebSocket connected - Connection: %s, Project: %s", conn.ID(), conn.ProjectID())

	h.hub.SendToConn(conn, NewMessage(MessageTypeSessionInfo, map[string]any{
		"connectionId": conn.ID(),
		"message":      "Connected successfully",
	}))

	h.hub.BroadcastOnlineUsers(conn.ProjectID())

	go h.sendProjectState(conn)
}

// sendProjectState pushes the current file tree to a new connection. Runs
// off the admission path; failures are logged, never propagated.
func (h *Handler) sendProjectState(conn *Conn) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Failed to send project state to %s: %v", conn.ID(), rec)
		}
	}()

	projectID, err := strconv.ParseInt(conn.ProjectID(), 10, 64)
	if err != nil {
		log.Printf("Skipping project state for %s: bad project id %q", conn.ID(), conn.ProjectID())
		return
	}

	files, err := h.projects.ListFiles(context.Background(), projectID)
	if err != nil {
		log.Printf("Failed to load project state for %s: %v", conn.ID(), err)
		return
	}

	h.hub.SendToConn(conn, NewMessage(MessageTypeProjectState, map[string]any{
		"projectId": conn.ProjectID(),
		"files":     files,
	}))
}

// remove tears the connection down: drop any active execution, unregister,
// and announce the departure if the user was authenticated.
func (h *Handler) remove(conn *Conn) {
	h.executor.Release(conn.ID())

	p, ok := h.registry.Remove(conn.ID())

	log.Printf("WebSocket disconnected - Connection: %s, Project: %s, User: %s",
		conn.ID(), conn.ProjectID(), presenceName(p))

	if ok && p.Authenticated() {
		h.hub.Broadcast(conn.ProjectID(), NewMessage(MessageTypeUserLeft, map[string]any{
			"user": map[string]any{
				"id":           *p.UserID,
				"username":     p.Username,
				"connectionId": p.ConnectionID,
			},
		}))
		h.hub.BroadcastOnlineUsers(conn.ProjectID())
	}
}

func presenceName(p *Presence) string {
	if p == nil {
		return "Unknown"
	}
	return p.Username
}

// readPump reads client messages sequentially, in arrival order, and feeds
// them to the router.
func (h *Handler) readPump(conn *Conn) {
	defer func() {
		h.remove(conn)
		conn.Close()
		conn.WS().Close()
	}()

	conn.WS().SetReadLimit(maxMessageSize)
	conn.WS().SetReadDeadline(time.Now().Add(pongWait))
	conn.WS().SetPongHandler(func(string) error {
		conn.WS().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.WS().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s: %v", conn.ID(), err)
			}
			break
		}

		h.router.Handle(conn, message)
	}
}

// writePump drains the connection's send channel onto the socket, one text
// frame per message, and keeps the connection alive with pings.
func (h *Handler) writePump(conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.WS().Close()
	}()

	for {
		select {
		case message, ok := <-conn.SendChan():
			conn.WS().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WS().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WS().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.WS().SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WS().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
