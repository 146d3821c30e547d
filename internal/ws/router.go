package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/codecollab/backend/internal/model"
)

// FileStore is the durable file-mutation interface the router calls for
// edit messages. Implemented by the files service.
type FileStore interface {
	CreateFile(ctx context.Context, projectID int64, name, path, fileType string, parentID int64) (*model.File, error)
	UpdateFile(ctx context.Context, fileID int64, content string) error
	DeleteFile(ctx context.Context, fileID int64) error
	RenameFile(ctx context.Context, fileID int64, name string) error
}

// Executor runs code execution requests against the external engine and
// streams results back to the originating connection on its own.
type Executor interface {
	Execute(connID string, code, filePath string, files map[string]string)
	SendInput(connID, input string)
	Stop(connID string)
	Release(connID string)
}

const defaultKickDelay = 100 * time.Millisecond

// Router dispatches inbound client messages by their type tag. Handling is
// isolated per message: any error or panic becomes an ERROR reply to the
// sender and never crashes the connection's read loop.
type Router struct {
	registry *Registry
	hub      *Hub
	files    FileStore
	executor Executor

	// kickDelay is the pause between notifying a kicked user and closing
	// its transport, so the notice has a chance to flush.
	kickDelay time.Duration
}

// NewRouter creates a router over the registry, hub, file store and executor.
func NewRouter(registry *Registry, hub *Hub, files FileStore, executor Executor) *Router {
	return &Router{
		registry:  registry,
		hub:       hub,
		files:     files,
		executor:  executor,
		kickDelay: defaultKickDelay,
	}
}

// Handle processes one inbound text message from a connection.
func (r *Router) Handle(conn *Conn, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Panic handling message from %s: %v", conn.ID(), rec)
			r.hub.SendToConn(conn, ErrorMessage(fmt.Sprintf("Message processing error: %v", rec)))
		}
	}()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.hub.SendToConn(conn, ErrorMessage("Invalid message: "+err.Error()))
		return
	}

	var err error
	switch env.Type {
	case MessageTypeAuth:
		err = r.handleAuth(conn, raw)
	case MessageTypeGetOnline:
		r.hub.SendOnlineUsers(conn, conn.ProjectID())
	case MessageTypeFileSave:
		err = r.handleFileSave(conn, raw)
	case MessageTypeFileCreate:
		err = r.handleFileCreate(conn, raw)
	case MessageTypeFileDelete:
		err = r.handleFileDelete(conn, raw)
	case MessageTypeFileRename:
		err = r.handleFileRename(conn, raw)
	case MessageTypeExecuteCode:
		err = r.handleExecuteCode(conn, raw)
	case MessageTypeSendInput:
		err = r.handleSendInput(conn, raw)
	case MessageTypeStopExecution:
		r.executor.Stop(conn.ID())
	case MessageTypeCursorMove:
		// Placeholder: cursor positions are not relayed yet.
		log.Printf("Cursor move from %s (project %s)", conn.ID(), conn.ProjectID())
	case MessageTypeKickUser:
		err = r.handleKickUser(conn, raw)
	default:
		log.Printf("Unknown message type %q from %s", env.Type, conn.ID())
		r.hub.SendToConn(conn, ErrorMessage("Unknown message type: "+string(env.Type)))
		return
	}

	if err != nil {
		log.Printf("Error handling %s from %s: %v", env.Type, conn.ID(), err)
		r.hub.SendToConn(conn, ErrorMessage(err.Error()))
	}
}

// handleAuth upgrades the connection's presence with the client-asserted
// identity and announces the join to the room.
func (r *Router) handleAuth(conn *Conn, raw []byte) error {
	var payload AuthPayload
	if err := decode(raw, &payload); err != nil {
		return fmt.Errorf("invalid AUTH payload: %w", err)
	}

	username := payload.Username
	if username == "" {
		username = "Unknown"
	}

	var p *Presence
	var ok bool
	if payload.UserID != nil {
		p, ok = r.registry.Authenticate(conn.ID(), *payload.UserID, username, payload.Email)
	} else {
		// AUTH without a user id keeps the connection anonymous.
		p, ok = r.registry.GetPresence(conn.ID())
	}
	if !ok {
		return fmt.Errorf("connection not registered")
	}

	log.Printf("Authenticated %s as %s (project %s)", conn.ID(), username, conn.ProjectID())

	user := map[string]any{
		"id":           payload.UserID,
		"username":     username,
		"email":        payload.Email,
		"connectionId": p.ConnectionID,
	}

	r.hub.SendToConn(conn, NewMessage(MessageTypeAuthSuccess, map[string]any{
		"message": "Authenticated successfully",
		"user":    user,
	}))

	if payload.UserID != nil {
		r.hub.Broadcast(conn.ProjectID(), NewMessage(MessageTypeUserJoined, map[string]any{
			"user": user,
		}))
	}

	r.hub.BroadcastOnlineUsers(conn.ProjectID())
	return nil
}

func (r *Router) handleFileSave(conn *Conn, raw []byte) error {
	var payload FileSavePayload
	if err := decode(raw, &payload); err != nil {
		return fmt.Errorf("invalid FILE_SAVE payload: %w", err)
	}

	if err := r.files.UpdateFile(context.Background(), payload.FileID, payload.Content); err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}

	// Edits propagate by re-broadcast of the full content; last writer wins.
	r.hub.Broadcast(conn.ProjectID(), NewMessage(MessageTypeFileSaved, map[string]any{
		"fileId":  payload.FileID,
		"content": payload.Content,
		"userId":  conn.ID(),
	}))

	r.hub.SendToConn(conn, NewMessage(MessageTypeFileSaved, map[string]any{
		"message": "File saved successfully",
	}))
	return nil
}

func (r *Router) handleFileCreate(conn *Conn, raw []byte) error {
	var payload FileCreatePayload
	if err := decode(raw, &payload); err != nil {
		return fmt.Errorf("invalid FILE_CREATE payload: %w", err)
	}

	projectID, err := strconv.ParseInt(conn.ProjectID(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid project id %q", conn.ProjectID())
	}

	file, err := r.files.CreateFile(context.Background(), projectID, payload.FileName, payload.Path, payload.FileType, payload.ParentID)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	r.hub.Broadcast(conn.ProjectID(), NewMessage(MessageTypeFileCreated, map[string]any{
		"file":   file,
		"userId": conn.ID(),
	}))
	return nil
}

func (r *Router) handleFileDelete(conn *Conn, raw []byte) error {
	var payload FileDeletePayload
	if err := decode(raw, &payload); err != nil {
		return fmt.Errorf("invalid FILE_DELETE payload: %w", err)
	}

	if err := r.files.DeleteFile(context.Background(), payload.FileID); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	r.hub.Broadcast(conn.ProjectID(), NewMessage(MessageTypeFileDeleted, map[string]any{
		"fileId": payload.FileID,
		"userId": conn.ID(),
	}))

	r.hub.SendToConn(conn, NewMessage(MessageTypeFileDeleted, map[string]any{
		"message": "File deleted successfully",
	}))
	return nil
}

func (r *Router) handleFileRename(conn *Conn, raw []byte) error {
	var payload FileRenamePayload
	if err := decode(raw, &payload); err != nil {
		return fmt.Errorf("invalid FILE_RENAME payload: %w", err)
	}

	if err := r.files.RenameFile(context.Background(), payload.FileID, payload.NewFileName); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	r.hub.Broadcast(conn.ProjectID(), NewMessage(MessageTypeFileRenamed, map[string]any{
		"fileId": payload.FileID,
		"name":   payload.NewFileName,
		"userId": conn.ID(),
	}))

	r.hub.SendToConn(conn, NewMessage(MessageTypeFileRenamed, map[string]any{
		"message": "File renamed successfully",
	}))
	return nil
}

// handleExecuteCode hands the request to the executor off the message
// loop, so the connection stays responsive while the engine runs.
func (r *Router) handleExecuteCode(conn *Conn, raw []byte) error {
	var payload ExecutePayload
	if err := decode(raw, &payload); err != nil {
		return fmt.Errorf("invalid EXECUTE_CODE payload: %w", err)
	}

	if payload.Code == "" && len(payload.Files) == 0 {
		return fmt.Errorf("no code or files provided")
	}

	log.Printf("Execute code from %s (project %s, files: %d)", conn.ID(), conn.ProjectID(), len(payload.Files))

	go r.executor.Execute(conn.ID(), payload.Code, payload.FilePath, payload.Files)
	return nil
}

func (r *Router) handleSendInput(conn *Conn, raw []byte) error {
	var payload InputPayload
	if err := decode(raw, &payload); err != nil {
		return fmt.Errorf("invalid SEND_INPUT payload: %w", err)
	}

	r.executor.SendInput(conn.ID(), payload.Input)
	return nil
}

// handleKickUser removes another user's connection from the room: notify
// the target, give the notice a moment to flush, close the transport, then
// tell the room.
func (r *Router) handleKickUser(conn *Conn, raw []byte) error {
	var payload KickPayload
	if err := decode(raw, &payload); err != nil {
		return fmt.Errorf("invalid KICK_USER payload: %w", err)
	}

	kicker, ok := r.registry.GetPresence(conn.ID())
	if !ok {
		return fmt.Errorf("authentication required")
	}

	targetConnID, ok := r.registry.FindByUserID(conn.ProjectID(), payload.UserID)
	if !ok {
		return fmt.Errorf("user not found or not connected")
	}

	target, ok := r.registry.Get(targetConnID)
	if !ok || target.IsClosed() {
		return fmt.Errorf("user session not found")
	}

	log.Printf("User %s kicking user %d from project %s", kicker.Username, payload.UserID, conn.ProjectID())

	r.hub.SendToConn(target, NewMessage(MessageTypeUserKicked, map[string]any{
		"message":  "You have been removed from the project",
		"kickedBy": kicker.Username,
	}))

	time.Sleep(r.kickDelay)

	target.Close()

	var kickedBy any
	if kicker.UserID != nil {
		kickedBy = *kicker.UserID
	}

	r.hub.Broadcast(conn.ProjectID(), NewMessage(MessageTypeKickBroadcast, map[string]any{
		"userId":           payload.UserID,
		"kickedBy":         kickedBy,
		"kickedByUsername": kicker.Username,
	}))
	return nil
}
