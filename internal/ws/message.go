package ws

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of a WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeAuth          MessageType = "AUTH"
	MessageTypeGetOnline     MessageType = "GET_ONLINE_USERS"
	MessageTypeFileSave      MessageType = "FILE_SAVE"
	MessageTypeFileCreate    MessageType = "FILE_CREATE"
	MessageTypeFileDelete    MessageType = "FILE_DELETE"
	MessageTypeFileRename    MessageType = "FILE_RENAME"
	MessageTypeExecuteCode   MessageType = "EXECUTE_CODE"
	MessageTypeSendInput     MessageType = "SEND_INPUT"
	MessageTypeStopExecution MessageType = "STOP_EXECUTION"
	MessageTypeCursorMove    MessageType = "CURSOR_MOVE"
	MessageTypeKickUser      MessageType = "KICK_USER"

	// Server -> Client message types
	MessageTypeSessionInfo   MessageType = "SESSION_INFO"
	MessageTypeProjectState  MessageType = "PROJECT_STATE"
	MessageTypeOnlineUsers   MessageType = "ONLINE_USERS"
	MessageTypeAuthSuccess   MessageType = "AUTH_SUCCESS"
	MessageTypeUserJoined    MessageType = "USER_JOINED"
	MessageTypeUserLeft      MessageType = "USER_LEFT"
	MessageTypeUserKicked    MessageType = "USER_KICKED"
	MessageTypeKickBroadcast MessageType = "USER_KICKED_BROADCAST"
	MessageTypeFileSaved     MessageType = "FILE_SAVED"
	MessageTypeFileCreated   MessageType = "FILE_CREATED"
	MessageTypeFileDeleted   MessageType = "FILE_DELETED"
	MessageTypeFileRenamed   MessageType = "FILE_RENAMED"
	MessageTypeError         MessageType = "ERROR"
)

// Envelope is the minimal shape every inbound message must carry.
type Envelope struct {
	Type MessageType `json:"type"`
}

// AuthPayload is the client-asserted identity claim. The values are trusted
// as-is for presence display; there is no verification against the login
// session.
type AuthPayload struct {
	UserID   *int64 `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// FileSavePayload carries a full-content file save.
type FileSavePayload struct {
	FileID  int64  `json:"fileId"`
	Content string `json:"content"`
}

// FileCreatePayload carries a new file or folder.
type FileCreatePayload struct {
	FileName string `json:"fileName"`
	Path     string `json:"path"`
	FileType string `json:"fileType"`
	ParentID int64  `json:"parentId"`
}

// FileDeletePayload identifies the file to delete.
type FileDeletePayload struct {
	FileID int64 `json:"fileId"`
}

// FileRenamePayload carries a rename.
type FileRenamePayload struct {
	FileID      int64  `json:"fileId"`
	NewFileName string `json:"newFileName"`
}

// ExecutePayload is a code execution request: either a single source file
// or a named set of files.
type ExecutePayload struct {
	Code         string            `json:"code"`
	FilePath     string            `json:"filePath"`
	Files        map[string]string `json:"files"`
	ConnectionID string            `json:"connectionId"`
}

// InputPayload carries interactive stdin for a running execution.
type InputPayload struct {
	Input        string `json:"input"`
	ConnectionID string `json:"connectionId"`
}

// KickPayload identifies the user to remove from the room.
type KickPayload struct {
	UserID int64 `json:"userId"`
}

// NewMessage builds an outbound message map with the type tag and an
// epoch-milliseconds timestamp set.
func NewMessage(t MessageType, fields map[string]any) map[string]any {
	msg := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		msg[k] = v
	}
	msg["type"] = string(t)
	msg["timestamp"] = time.Now().UnixMilli()
	return msg
}

// ErrorMessage builds the typed ERROR frame sent back to a client.
func ErrorMessage(reason string) map[string]any {
	return NewMessage(MessageTypeError, map[string]any{
		"message": reason,
	})
}

// decode unmarshals an inbound payload into the given shape.
func decode(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
