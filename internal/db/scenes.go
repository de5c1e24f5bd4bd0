package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when a scene or segment row does not exist.
var ErrNotFound = errors.New("not found")

func (db *DB) GetScene(ctx context.Context, id uuid.UUID) (*models.Scene, error) {
	query := `
		SELECT id, project_id, title, reference_image_url, created_at, updated_at
		FROM scenes
		WHERE id = $1
	`

	scene := &models.Scene{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&scene.ID, &scene.ProjectID, &scene.Title, &scene.ReferenceImageURL,
		&scene.CreatedAt, &scene.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scene %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scene: %w", err)
	}

	return scene, nil
}

// LoadScene fetches the scene and its segments concurrently.
func (db *DB) LoadScene(ctx context.Context, sceneID uuid.UUID) (*models.Scene, []models.Segment, error) {
	var (
		scene    *models.Scene
		segments []models.Segment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		scene, err = db.GetScene(gctx, sceneID)
		return err
	})
	g.Go(func() error {
		var err error
		segments, err = db.ListSegments(gctx, sceneID)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return scene, segments, nil
}
