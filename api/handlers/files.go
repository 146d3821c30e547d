package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codecollab/backend/internal/files"
	"github.com/codecollab/backend/internal/model"
)

// FileHandler serves read access to project file trees. Mutations flow
// through the WebSocket layer; this is the REST view of the same data.
type FileHandler struct {
	files *files.Service
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(service *files.Service) *FileHandler {
	return &FileHandler{files: service}
}

// FileResponse represents a file record in API responses.
type FileResponse struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"projectId"`
	ParentID  *int64 `json:"parentId,omitempty"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// List handles GET /api/projects/:projectId/files - lists the live file
// tree of a project as a flat parent-linked list.
func (h *FileHandler) List(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("projectId"), 10, 64)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Project ID must be numeric")
		return
	}

	records, err := h.files.ListFiles(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, model.ErrProjectNotFound) {
			sendError(c, http.StatusNotFound, "PROJECT_NOT_FOUND", "Project "+c.Param("projectId")+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list files: "+err.Error())
		return
	}

	response := make([]*FileResponse, 0, len(records))
	for _, f := range records {
		response = append(response, toFileResponse(f))
	}

	c.JSON(http.StatusOK, response)
}

// RegisterRoutes registers the file routes on a Gin router group.
func (h *FileHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/projects/:projectId/files", h.List)
}

// toFileResponse converts a model.File to FileResponse.
func toFileResponse(f *model.File) *FileResponse {
	return &FileResponse{
		ID:        f.ID,
		ProjectID: f.ProjectID,
		ParentID:  f.ParentID,
		Name:      f.Name,
		Path:      f.Path,
		Type:      string(f.Type),
		Content:   f.Content,
		CreatedAt: f.CreatedAt.Format(time.RFC3339),
		UpdatedAt: f.UpdatedAt.Format(time.RFC3339),
	}
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
