package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/bobarin/composer/internal/models"
)

// GetCustomFont finds a project font by case-insensitive name.
func (db *DB) GetCustomFont(ctx context.Context, projectID uuid.UUID, name string) (*models.CustomFont, error) {
	query := `
		SELECT id, project_id, name, url
		FROM project_fonts
		WHERE project_id = $1 AND LOWER(name) = LOWER($2)
		ORDER BY created_at DESC
		LIMIT 1
	`

	font := &models.CustomFont{}
	err := db.QueryRowContext(ctx, query, projectID, name).Scan(&font.ID, &font.ProjectID, &font.Name, &font.URL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get custom font: %w", err)
	}
	return font, nil
}
