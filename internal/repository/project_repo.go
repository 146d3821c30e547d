package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codecollab/backend/internal/model"
)

// ProjectRepository provides data access for projects.
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create inserts a new project and returns it with its assigned ID.
func (r *ProjectRepository) Create(ctx context.Context, project *model.Project) error {
	project.CreatedAt = time.Now()

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (name, created_at) VALUES (?, ?)`,
		project.Name, project.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted project id: %w", err)
	}
	project.ID = id

	return nil
}

// GetByID retrieves a project by its ID.
func (r *ProjectRepository) GetByID(ctx context.Context, id int64) (*model.Project, error) {
	project := &model.Project{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM projects WHERE id = ?`, id,
	).Scan(&project.ID, &project.Name, &project.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// Exists checks if a project exists.
func (r *ProjectRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM projects WHERE id = ? LIMIT 1`, id,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check project existence: %w", err)
	}

	return true, nil
}
