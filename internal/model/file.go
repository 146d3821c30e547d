package model

import "time"

// FileType distinguishes files from folders in a project tree.
type FileType string

const (
	FileTypeFile   FileType = "FILE"
	FileTypeFolder FileType = "FOLDER"
)

// File represents a file or folder belonging to a project.
// Tree structure is expressed through ParentID only; there are no
// back-pointers between records.
type File struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"projectId"`
	ParentID  *int64    `json:"parentId,omitempty"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Type      FileType  `json:"type"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsFolder returns true if the record is a folder.
func (f *File) IsFolder() bool {
	return f.Type == FileTypeFolder
}

// Project represents a project that owns files and a collaboration room.
type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ParseFileType validates a file type string from the wire.
func ParseFileType(s string) (FileType, error) {
	switch FileType(s) {
	case FileTypeFile, FileTypeFolder:
		return FileType(s), nil
	default:
		return "", ErrInvalidFileType
	}
}
