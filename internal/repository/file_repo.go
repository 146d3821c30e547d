package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codecollab/backend/internal/model"
)

// FileRepository provides data access for project files.
// Deleted files are soft-deleted and excluded from every query.
type FileRepository struct {
	db *sql.DB
}

// NewFileRepository creates a new FileRepository.
func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create inserts a new file record and returns it with its assigned ID.
func (r *FileRepository) Create(ctx context.Context, file *model.File) error {
	query := `
		INSERT INTO files (project_id, parent_id, name, path, type, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	file.CreatedAt = now
	file.UpdatedAt = now

	result, err := r.db.ExecContext(ctx, query,
		file.ProjectID,
		file.ParentID,
		file.Name,
		file.Path,
		file.Type,
		file.Content,
		file.CreatedAt,
		file.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted file id: %w", err)
	}
	file.ID = id

	return nil
}

// GetByID retrieves a live (non-deleted) file by its ID.
func (r *FileRepository) GetByID(ctx context.Context, id int64) (*model.File, error) {
	query := `
		SELECT id, project_id, parent_id, name, path, type, content, created_at, updated_at
		FROM files
		WHERE id = ? AND deleted_at IS NULL
	`

	file := &model.File{}
	var parentID sql.NullInt64

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&file.ID,
		&file.ProjectID,
		&parentID,
		&file.Name,
		&file.Path,
		&file.Type,
		&file.Content,
		&file.CreatedAt,
		&file.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	if parentID.Valid {
		p := parentID.Int64
		file.ParentID = &p
	}

	return file, nil
}

// ListByProject retrieves all live files for a project.
func (r *FileRepository) ListByProject(ctx context.Context, projectID int64) ([]*model.File, error) {
	query := `
		SELECT id, project_id, parent_id, name, path, type, content, created_at, updated_at
		FROM files
		WHERE project_id = ? AND deleted_at IS NULL
		ORDER BY path, name
	`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*model.File
	for rows.Next() {
		file := &model.File{}
		var parentID sql.NullInt64

		err := rows.Scan(
			&file.ID,
			&file.ProjectID,
			&parentID,
			&file.Name,
			&file.Path,
			&file.Type,
			&file.Content,
			&file.CreatedAt,
			&file.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}

		if parentID.Valid {
			p := parentID.Int64
			file.ParentID = &p
		}

		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	return files, nil
}

// UpdateContent replaces the content of a file.
func (r *FileRepository) UpdateContent(ctx context.Context, id int64, content string) error {
	query := `
		UPDATE files
		SET content = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, content, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update file content: %w", err)
	}

	return requireRowAffected(result)
}

// Rename changes the name of a file.
func (r *FileRepository) Rename(ctx context.Context, id int64, name string) error {
	query := `
		UPDATE files
		SET name = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, name, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return requireRowAffected(result)
}

// SoftDelete marks a file and all of its descendants as deleted.
// The cascade walks the parent_id tree so deleting a folder removes its
// whole subtree in one statement.
func (r *FileRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM files WHERE id = ? AND deleted_at IS NULL
			UNION ALL
			SELECT f.id FROM files f
			JOIN subtree s ON f.parent_id = s.id
			WHERE f.deleted_at IS NULL
		)
		UPDATE files
		SET deleted_at = ?, updated_at = ?
		WHERE id IN (SELECT id FROM subtree)
	`

	now := time.Now()
	result, err := r.db.ExecContext(ctx, query, id, now, now)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return requireRowAffected(result)
}

// ExistsPath checks whether a live file with the same project, path, name
// and type already exists.
func (r *FileRepository) ExistsPath(ctx context.Context, projectID int64, path, name string, fileType model.FileType) (bool, error) {
	query := `
		SELECT 1 FROM files
		WHERE project_id = ? AND path = ? AND name = ? AND type = ? AND deleted_at IS NULL
		LIMIT 1
	`

	var exists int
	err := r.db.QueryRowContext(ctx, query, projectID, path, name, fileType).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}

	return true, nil
}

// requireRowAffected maps a zero-row update to ErrFileNotFound.
func requireRowAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrFileNotFound
	}
	return nil
}
