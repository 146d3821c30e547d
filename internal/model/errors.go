package model

import "errors"

var (
	// ErrFileNotFound is returned when a file record does not exist or is deleted.
	ErrFileNotFound = errors.New("file not found")

	// ErrProjectNotFound is returned when a project does not exist.
	ErrProjectNotFound = errors.New("project not found")

	// ErrParentNotFound is returned when a parent folder does not exist.
	ErrParentNotFound = errors.New("parent folder not found")

	// ErrDuplicatePath is returned when a file with the same project, path,
	// name and type already exists.
	ErrDuplicatePath = errors.New("file or folder with this path already exists")

	// ErrInvalidFileType is returned for file types other than FILE or FOLDER.
	ErrInvalidFileType = errors.New("invalid file type")
)
