// Package handlers provides HTTP API request handlers.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/codecollab/backend/internal/ws"
)

// WebSocketHandler admits client connections into project rooms.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Connect handles GET /ws/project/:projectId - joins the project room.
// The project id rides in the path; everything after the upgrade is
// handled by the ws package.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	projectID := c.Param("projectId")
	if _, err := strconv.ParseInt(projectID, 10, 64); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Project ID must be numeric")
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, projectID); err != nil {
		// Upgrade failures already wrote a response.
		return
	}
}

// RegisterRoutes registers the WebSocket route on a Gin engine.
func (h *WebSocketHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/project/:projectId", h.Connect)
}
