package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
)

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func createAsset(ctx context.Context, q rowQuerier, asset *models.Asset) error {
	query := `
		INSERT INTO segment_assets (
			id, scene_id, segment_id, kind, storage_path,
			public_url, content_type, byte_size, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := q.QueryRowContext(
		ctx, query,
		asset.ID, asset.SceneID, asset.SegmentID, asset.Kind, asset.StoragePath,
		asset.PublicURL, asset.ContentType, asset.ByteSize, asset.Metadata,
	).Scan(&asset.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

// ListSegmentAssets returns every render of a segment, newest first.
func (db *DB) ListSegmentAssets(ctx context.Context, segmentID uuid.UUID) ([]models.Asset, error) {
	query := `
		SELECT
			id, scene_id, segment_id, kind, storage_path,
			public_url, content_type, byte_size, metadata, created_at
		FROM segment_assets
		WHERE segment_id = $1
		ORDER BY created_at DESC
	`

	rows, err := db.QueryContext(ctx, query, segmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var asset models.Asset
		err := rows.Scan(
			&asset.ID, &asset.SceneID, &asset.SegmentID, &asset.Kind, &asset.StoragePath,
			&asset.PublicURL, &asset.ContentType, &asset.ByteSize, &asset.Metadata, &asset.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assets: %w", err)
	}

	return assets, nil
}
