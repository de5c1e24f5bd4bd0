package render

import (
	"sort"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
)

const defaultConfidence = 50

// DefaultConfig is the last-resort config used when a segment has neither an
// override nor an auto-draft. Every segment is renderable with it.
func DefaultConfig() models.GenerationConfig {
	return models.GenerationConfig{
		Mode:           models.ModeTextToVideo,
		Prompt:         "",
		AspectRatio:    models.AspectRatio16x9,
		Resolution:     models.Resolution720p,
		DurationSec:    6,
		ApprovalStatus: models.ApprovalAutoReady,
		Confidence:     defaultConfidence,
	}
}

// ResolveConfig picks the config for one segment: override, then auto-draft,
// then DefaultConfig. The override is used verbatim regardless of the draft's
// confidence.
func ResolveConfig(segmentID uuid.UUID, drafts map[uuid.UUID]models.DraftedConfig, overrides map[uuid.UUID]models.GenerationConfig) models.GenerationConfig {
	if cfg, ok := overrides[segmentID]; ok {
		return cfg
	}
	if draft, ok := drafts[segmentID]; ok {
		cfg := draft.Config
		cfg.Confidence = draft.Confidence
		return cfg
	}
	return DefaultConfig()
}

// DeriveStatus maps a segment's own lifecycle state onto a queue status.
// A segment marked complete whose active asset is still an image is queued,
// since it has not been rendered to video yet.
func DeriveStatus(seg models.Segment) models.QueueItemStatus {
	switch {
	case seg.Status == models.SegmentStatusComplete && seg.HasVideo():
		return models.QueueItemComplete
	case seg.Status == models.SegmentStatusGenerating:
		return models.QueueItemRendering
	case seg.Status == models.SegmentStatusError:
		return models.QueueItemError
	default:
		return models.QueueItemQueued
	}
}

// thumbnailFor returns the best available preview: start frame, declared
// reference frame, then the scene image.
func thumbnailFor(seg models.Segment, sceneImage *string) *string {
	for _, candidate := range []*string{seg.StartFrameURL, seg.ReferenceFrameURL, sceneImage} {
		if candidate != nil && *candidate != "" {
			url := *candidate
			return &url
		}
	}
	return nil
}

// BuildQueue produces one QueueItem per segment, ascending by sequence index.
// Segments are never modified.
func BuildQueue(segments []models.Segment, sceneImage *string, drafts map[uuid.UUID]models.DraftedConfig, overrides map[uuid.UUID]models.GenerationConfig) []models.QueueItem {
	items := make([]models.QueueItem, 0, len(segments))
	for _, seg := range segments {
		item := models.QueueItem{
			SegmentID:     seg.ID,
			SequenceIndex: seg.SequenceIndex,
			Config:        ResolveConfig(seg.ID, drafts, overrides),
			ThumbnailURL:  thumbnailFor(seg, sceneImage),
			Status:        DeriveStatus(seg),
		}
		if seg.ErrorMessage != nil {
			msg := *seg.ErrorMessage
			item.Error = &msg
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].SequenceIndex < items[j].SequenceIndex
	})
	return items
}

// FindItem returns the queue item for segmentID, or nil.
func FindItem(queue []models.QueueItem, segmentID uuid.UUID) *models.QueueItem {
	for i := range queue {
		if queue[i].SegmentID == segmentID {
			item := queue[i]
			return &item
		}
	}
	return nil
}
