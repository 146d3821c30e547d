// Package files implements the durable file-mutation operations the
// collaboration layer calls when clients edit a project tree.
package files

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecollab/backend/internal/model"
	"github.com/codecollab/backend/internal/repository"
)

// Service persists project file mutations.
type Service struct {
	files    *repository.FileRepository
	projects *repository.ProjectRepository
}

// NewService creates a new file service.
func NewService(files *repository.FileRepository, projects *repository.ProjectRepository) *Service {
	return &Service{
		files:    files,
		projects: projects,
	}
}

// CreateFile creates a file or folder under a project. A parentID of 0
// creates the record at the project root.
func (s *Service) CreateFile(ctx context.Context, projectID int64, name, path, fileType string, parentID int64) (*model.File, error) {
	exists, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up project %d: %w", projectID, err)
	}
	if !exists {
		return nil, model.ErrProjectNotFound
	}

	ftype, err := model.ParseFileType(fileType)
	if err != nil {
		return nil, err
	}

	file := &model.File{
		ProjectID: projectID,
		Name:      name,
		Path:      path,
		Type:      ftype,
	}

	if parentID != 0 {
		parent, err := s.files.GetByID(ctx, parentID)
		if err != nil {
			if errors.Is(err, model.ErrFileNotFound) {
				return nil, model.ErrParentNotFound
			}
			return nil, err
		}
		file.ParentID = &parent.ID
	}

	duplicate, err := s.files.ExistsPath(ctx, projectID, path, name, ftype)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, model.ErrDuplicatePath
	}

	if err := s.files.Create(ctx, file); err != nil {
		return nil, err
	}

	return file, nil
}

// UpdateFile replaces the content of a file.
func (s *Service) UpdateFile(ctx context.Context, fileID int64, content string) error {
	return s.files.UpdateContent(ctx, fileID, content)
}

// DeleteFile soft-deletes a file; folders cascade to their descendants.
func (s *Service) DeleteFile(ctx context.Context, fileID int64) error {
	return s.files.SoftDelete(ctx, fileID)
}

// RenameFile changes the display name of a file.
func (s *Service) RenameFile(ctx context.Context, fileID int64, name string) error {
	return s.files.Rename(ctx, fileID, name)
}

// ListFiles returns the live file tree of a project as a flat list.
func (s *Service) ListFiles(ctx context.Context, projectID int64) ([]*model.File, error) {
	exists, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up project %d: %w", projectID, err)
	}
	if !exists {
		return nil, model.ErrProjectNotFound
	}

	return s.files.ListByProject(ctx, projectID)
}
