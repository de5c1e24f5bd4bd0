package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
)

const segmentColumns = `
	id, scene_id, sequence_index, status, script, visual_prompt,
	active_asset_url, active_asset_kind, error_message,
	start_frame_url, end_frame_url, reference_frame_url, duration_sec,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSegment(row rowScanner, seg *models.Segment) error {
	return row.Scan(
		&seg.ID, &seg.SceneID, &seg.SequenceIndex, &seg.Status, &seg.Script, &seg.VisualPrompt,
		&seg.ActiveAssetURL, &seg.ActiveAssetKind, &seg.ErrorMessage,
		&seg.StartFrameURL, &seg.EndFrameURL, &seg.ReferenceFrameURL, &seg.DurationSec,
		&seg.CreatedAt, &seg.UpdatedAt,
	)
}

// ListSegments returns a scene's segments ordered by sequence index.
func (db *DB) ListSegments(ctx context.Context, sceneID uuid.UUID) ([]models.Segment, error) {
	query := `SELECT` + segmentColumns + `FROM segments WHERE scene_id = $1 ORDER BY sequence_index`

	rows, err := db.QueryContext(ctx, query, sceneID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var segments []models.Segment
	for rows.Next() {
		var seg models.Segment
		if err := scanSegment(rows, &seg); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate segments: %w", err)
	}

	return segments, nil
}

func (db *DB) MarkSegmentGenerating(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE segments
		SET status = $1, error_message = NULL, updated_at = NOW()
		WHERE id = $2
	`
	return db.execOne(ctx, query, models.SegmentStatusGenerating, id)
}

// CompleteSegmentVideo records the asset and makes it the segment's active
// asset in one transaction.
func (db *DB) CompleteSegmentVideo(ctx context.Context, asset *models.Asset) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := createAsset(ctx, tx, asset); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE segments
		SET status = $1, active_asset_url = $2, active_asset_kind = $3,
			error_message = NULL, updated_at = NOW()
		WHERE id = $4
	`, models.SegmentStatusComplete, asset.PublicURL, asset.Kind, asset.SegmentID)
	if err != nil {
		return fmt.Errorf("failed to update segment: %w", err)
	}
	if err := expectOne(res, asset.SegmentID); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) FailSegment(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE segments
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3
	`
	return db.execOne(ctx, query, models.SegmentStatusError, message, id)
}

// FailInterruptedSegments marks segments left generating by a previous
// process as failed so later batches can select them again.
func (db *DB) FailInterruptedSegments(ctx context.Context, message string) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE segments
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE status = $3
	`, models.SegmentStatusError, message, models.SegmentStatusGenerating)
	if err != nil {
		return 0, fmt.Errorf("failed to fail interrupted segments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

func (db *DB) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update segment: %w", err)
	}
	return expectOne(res, args[len(args)-1])
}

func expectOne(res sql.Result, id interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("segment %v: %w", id, ErrNotFound)
	}
	return nil
}
