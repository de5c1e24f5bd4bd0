package render

import (
	"fmt"
	"sort"

	"github.com/bobarin/sceneflow/internal/models"
)

// SelectItems filters and orders the queue for one batch run. Items already
// rendering are always skipped. The result is computed once per run and is
// not re-evaluated while the run is in progress.
func SelectItems(queue []models.QueueItem, opts models.BatchRenderOptions) []models.QueueItem {
	selected := make([]models.QueueItem, 0, len(queue))
	for _, item := range queue {
		if item.Status == models.QueueItemRendering {
			continue
		}

		switch opts.Mode {
		case models.BatchModeApprovedOnly:
			// Complete items are included on purpose so a re-approved segment
			// can be rendered again.
			if !item.Config.IsApproved() {
				continue
			}
		default:
			if item.Status == models.QueueItemComplete {
				continue
			}
		}

		selected = append(selected, item)
	}

	if opts.Priority == models.PriorityApprovedFirst {
		sort.SliceStable(selected, func(i, j int) bool {
			ai, aj := selected[i].Config.IsApproved(), selected[j].Config.IsApproved()
			if ai != aj {
				return ai
			}
			return selected[i].SequenceIndex < selected[j].SequenceIndex
		})
		return selected
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].SequenceIndex < selected[j].SequenceIndex
	})
	return selected
}

// GenerationTypeFor maps a config mode onto the generation call's type.
func GenerationTypeFor(mode models.GenerationMode) models.GenerationType {
	switch mode {
	case models.ModeFrameToVideo, models.ModeImageToVideo, models.ModeExtend:
		return models.GenerationTypeImageToVideo
	default:
		return models.GenerationTypeTextToVideo
	}
}

// NormalizeOptions fills defaults and rejects unknown tags.
func NormalizeOptions(opts models.BatchRenderOptions) (models.BatchRenderOptions, error) {
	switch opts.Mode {
	case models.BatchModeApprovedOnly, models.BatchModeAll:
	default:
		return opts, fmt.Errorf("invalid batch mode %q", opts.Mode)
	}

	switch opts.Priority {
	case "":
		opts.Priority = models.PrioritySequence
	case models.PriorityApprovedFirst, models.PrioritySequence:
	default:
		return opts, fmt.Errorf("invalid batch priority %q", opts.Priority)
	}

	if opts.Delay < 0 {
		return opts, fmt.Errorf("delay between items must not be negative, got %v", opts.Delay)
	}
	return opts, nil
}
