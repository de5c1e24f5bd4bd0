// Package draft derives default generation configs for scene segments.
package draft

import (
	"context"
	"strings"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
)

const (
	defaultDurationSec = 6
	minDurationSec     = 1
	maxDurationSec     = 15
)

// HeuristicDeriver builds configs from the segment's own fields only.
type HeuristicDeriver struct{}

func NewHeuristicDeriver() *HeuristicDeriver {
	return &HeuristicDeriver{}
}

func (d *HeuristicDeriver) DeriveConfigs(ctx context.Context, segments []models.Segment, sceneImage *string) (map[uuid.UUID]models.DraftedConfig, error) {
	out := make(map[uuid.UUID]models.DraftedConfig, len(segments))
	for _, seg := range segments {
		out[seg.ID] = Heuristic(seg, sceneImage)
	}
	return out, nil
}

// Heuristic drafts one segment. Frames decide the mode: both frames means
// frame-to-video, a start frame (or the scene image) means image-to-video.
func Heuristic(seg models.Segment, sceneImage *string) models.DraftedConfig {
	cfg := models.GenerationConfig{
		Mode:           models.ModeTextToVideo,
		Prompt:         strings.TrimSpace(seg.Script),
		AspectRatio:    models.AspectRatio16x9,
		Resolution:     models.Resolution720p,
		DurationSec:    defaultDurationSec,
		ApprovalStatus: models.ApprovalAutoReady,
	}
	confidence := 50

	if seg.VisualPrompt != nil && strings.TrimSpace(*seg.VisualPrompt) != "" {
		cfg.Prompt = strings.TrimSpace(*seg.VisualPrompt)
		motion := cfg.Prompt
		cfg.MotionPrompt = &motion
		confidence += 20
	}

	switch {
	case nonEmpty(seg.StartFrameURL) && nonEmpty(seg.EndFrameURL):
		cfg.Mode = models.ModeFrameToVideo
		cfg.StartFrameURL = copyStr(seg.StartFrameURL)
		cfg.EndFrameURL = copyStr(seg.EndFrameURL)
		confidence += 25
	case nonEmpty(seg.StartFrameURL):
		cfg.Mode = models.ModeImageToVideo
		cfg.StartFrameURL = copyStr(seg.StartFrameURL)
		confidence += 15
	case nonEmpty(sceneImage):
		cfg.Mode = models.ModeImageToVideo
		cfg.StartFrameURL = copyStr(sceneImage)
		confidence += 5
	}

	if seg.DurationSec != nil && *seg.DurationSec > 0 {
		cfg.DurationSec = clampDuration(*seg.DurationSec)
		confidence += 5
	}

	if cfg.Prompt == "" {
		confidence -= 30
	}
	confidence = clampConfidence(confidence)
	cfg.Confidence = confidence

	return models.DraftedConfig{Config: cfg, Confidence: confidence}
}

func clampDuration(d float64) float64 {
	if d < minDurationSec {
		return minDurationSec
	}
	if d > maxDurationSec {
		return maxDurationSec
	}
	return d
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
