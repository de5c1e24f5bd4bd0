package render

import (
	"testing"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func kindPtr(k models.AssetKind) *models.AssetKind {
	return &k
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name    string
		segment models.Segment
		want    models.QueueItemStatus
	}{
		{
			name:    "not started is queued",
			segment: models.Segment{Status: models.SegmentStatusNotStarted},
			want:    models.QueueItemQueued,
		},
		{
			name: "complete with video",
			segment: models.Segment{
				Status:          models.SegmentStatusComplete,
				ActiveAssetURL:  strPtr("https://cdn/clip.mp4"),
				ActiveAssetKind: kindPtr(models.AssetKindVideo),
			},
			want: models.QueueItemComplete,
		},
		{
			name: "complete with only an image is still queued",
			segment: models.Segment{
				Status:          models.SegmentStatusComplete,
				ActiveAssetURL:  strPtr("https://cdn/frame.png"),
				ActiveAssetKind: kindPtr(models.AssetKindImage),
			},
			want: models.QueueItemQueued,
		},
		{
			name:    "complete without asset is queued",
			segment: models.Segment{Status: models.SegmentStatusComplete},
			want:    models.QueueItemQueued,
		},
		{
			name:    "generating is rendering",
			segment: models.Segment{Status: models.SegmentStatusGenerating},
			want:    models.QueueItemRendering,
		},
		{
			name:    "error",
			segment: models.Segment{Status: models.SegmentStatusError, ErrorMessage: strPtr("boom")},
			want:    models.QueueItemError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.segment))
		})
	}
}

func TestBuildQueueOrdersBySequenceIndex(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	segments := []models.Segment{
		{ID: a, SequenceIndex: 3},
		{ID: b, SequenceIndex: 1},
		{ID: c, SequenceIndex: 2},
	}

	queue := BuildQueue(segments, nil, nil, nil)

	require.Len(t, queue, 3)
	assert.Equal(t, []uuid.UUID{b, c, a}, []uuid.UUID{queue[0].SegmentID, queue[1].SegmentID, queue[2].SegmentID})
}

func TestBuildQueueStatusIsPerSegment(t *testing.T) {
	done, failed := uuid.New(), uuid.New()
	segments := []models.Segment{
		{
			ID:              done,
			SequenceIndex:   0,
			Status:          models.SegmentStatusComplete,
			ActiveAssetURL:  strPtr("https://cdn/a.mp4"),
			ActiveAssetKind: kindPtr(models.AssetKindVideo),
		},
		{ID: failed, SequenceIndex: 1, Status: models.SegmentStatusError, ErrorMessage: strPtr("quota exceeded")},
	}

	queue := BuildQueue(segments, nil, nil, nil)

	assert.Equal(t, models.QueueItemComplete, queue[0].Status)
	assert.Nil(t, queue[0].Error)
	assert.Equal(t, models.QueueItemError, queue[1].Status)
	require.NotNil(t, queue[1].Error)
	assert.Equal(t, "quota exceeded", *queue[1].Error)
}

func TestResolveConfigPrecedence(t *testing.T) {
	id := uuid.New()
	draft := models.DraftedConfig{
		Config: models.GenerationConfig{
			Mode:           models.ModeImageToVideo,
			Prompt:         "drafted",
			AspectRatio:    models.AspectRatio9x16,
			Resolution:     models.Resolution1080p,
			DurationSec:    8,
			ApprovalStatus: models.ApprovalAutoReady,
		},
		Confidence: 99,
	}
	override := models.GenerationConfig{
		Mode:           models.ModeTextToVideo,
		Prompt:         "user",
		AspectRatio:    models.AspectRatio16x9,
		Resolution:     models.Resolution720p,
		DurationSec:    4,
		ApprovalStatus: models.ApprovalAutoReady,
		Confidence:     10,
	}

	t.Run("override wins regardless of confidence", func(t *testing.T) {
		got := ResolveConfig(id, map[uuid.UUID]models.DraftedConfig{id: draft}, map[uuid.UUID]models.GenerationConfig{id: override})
		assert.Equal(t, override, got)
	})

	t.Run("draft when no override", func(t *testing.T) {
		got := ResolveConfig(id, map[uuid.UUID]models.DraftedConfig{id: draft}, nil)
		assert.Equal(t, "drafted", got.Prompt)
		assert.Equal(t, 99, got.Confidence)
	})

	t.Run("default when nothing", func(t *testing.T) {
		got := ResolveConfig(id, nil, nil)
		assert.Equal(t, DefaultConfig(), got)
		assert.Equal(t, models.ModeTextToVideo, got.Mode)
		assert.Equal(t, models.AspectRatio16x9, got.AspectRatio)
		assert.Equal(t, models.Resolution720p, got.Resolution)
		assert.Equal(t, 6.0, got.DurationSec)
		assert.Equal(t, models.ApprovalAutoReady, got.ApprovalStatus)
		assert.Equal(t, 50, got.Confidence)
		assert.Nil(t, got.StartFrameURL)
	})
}

func TestThumbnailFallback(t *testing.T) {
	scene := strPtr("https://cdn/scene.png")

	tests := []struct {
		name    string
		segment models.Segment
		scene   *string
		want    *string
	}{
		{"start frame first", models.Segment{StartFrameURL: strPtr("start"), ReferenceFrameURL: strPtr("ref")}, scene, strPtr("start")},
		{"reference frame next", models.Segment{ReferenceFrameURL: strPtr("ref")}, scene, strPtr("ref")},
		{"scene image last", models.Segment{}, scene, scene},
		{"absent", models.Segment{}, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.segment.ID = uuid.New()
			queue := BuildQueue([]models.Segment{tt.segment}, tt.scene, nil, nil)
			assert.Equal(t, tt.want, queue[0].ThumbnailURL)
		})
	}
}

func TestFindItem(t *testing.T) {
	id := uuid.New()
	queue := BuildQueue([]models.Segment{{ID: id}}, nil, nil, nil)

	require.NotNil(t, FindItem(queue, id))
	assert.Nil(t, FindItem(queue, uuid.New()))
}
