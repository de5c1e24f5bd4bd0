package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SegmentSource loads the read-only scene snapshot.
type SegmentSource interface {
	LoadScene(ctx context.Context, sceneID uuid.UUID) (*models.Scene, []models.Segment, error)
}

// ConfigDeriver produces the auto-drafted config for each segment.
type ConfigDeriver interface {
	DeriveConfigs(ctx context.Context, segments []models.Segment, sceneImage *string) (map[uuid.UUID]models.DraftedConfig, error)
}

// Session is the render queue for one scene: user overrides, cached
// auto-drafts and the batch processor. The queue itself is re-derived from a
// fresh segment snapshot on every read.
type Session struct {
	sceneID   uuid.UUID
	source    SegmentSource
	deriver   ConfigDeriver
	overrides *Overrides
	processor *Processor
	logger    logrus.FieldLogger

	draftMu sync.Mutex
	drafts  map[uuid.UUID]models.DraftedConfig
	derived map[uuid.UUID]bool
}

func NewSession(sceneID uuid.UUID, source SegmentSource, deriver ConfigDeriver, processor *Processor, logger logrus.FieldLogger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		sceneID:   sceneID,
		source:    source,
		deriver:   deriver,
		overrides: NewOverrides(),
		processor: processor,
		logger:    logger.WithField("scene_id", sceneID.String()),
		drafts:    make(map[uuid.UUID]models.DraftedConfig),
		derived:   make(map[uuid.UUID]bool),
	}
}

func (s *Session) SceneID() uuid.UUID {
	return s.sceneID
}

// Queue loads the scene and returns the freshly derived queue.
func (s *Session) Queue(ctx context.Context) ([]models.QueueItem, error) {
	scene, segments, err := s.source.LoadScene(ctx, s.sceneID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scene: %w", err)
	}

	drafts, err := s.draftsFor(ctx, segments, scene.ReferenceImageURL)
	if err != nil {
		return nil, err
	}

	return BuildQueue(segments, scene.ReferenceImageURL, drafts, s.overrides.Snapshot()), nil
}

// State returns the processor's run state.
func (s *Session) State() models.BatchRunState {
	return s.processor.State()
}

// GetQueueItem returns the queue item for a segment.
func (s *Session) GetQueueItem(ctx context.Context, segmentID uuid.UUID) (*models.QueueItem, error) {
	queue, err := s.Queue(ctx)
	if err != nil {
		return nil, err
	}
	item := FindItem(queue, segmentID)
	if item == nil {
		return nil, ErrSegmentNotFound
	}
	return item, nil
}

// UpdateConfig replaces the user override for a segment.
func (s *Session) UpdateConfig(segmentID uuid.UUID, cfg models.GenerationConfig) {
	s.overrides.Update(segmentID, cfg)
	s.logger.WithFields(logrus.Fields{
		"segment_id": segmentID.String(),
		"mode":       cfg.Mode,
		"approval":   cfg.ApprovalStatus,
	}).Debug("Segment config overridden")
}

// ApproveSegment marks the segment's resolved config as user-approved.
// Segments with neither override nor draft are left untouched.
func (s *Session) ApproveSegment(ctx context.Context, segmentID uuid.UUID) (*models.GenerationConfig, error) {
	scene, segments, err := s.source.LoadScene(ctx, s.sceneID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scene: %w", err)
	}

	drafts, err := s.draftsFor(ctx, segments, scene.ReferenceImageURL)
	if err != nil {
		return nil, err
	}

	cfg, ok := s.overrides.Approve(segmentID, drafts)
	if !ok {
		return nil, nil
	}
	s.logger.WithField("segment_id", segmentID.String()).Info("Segment approved")
	return &cfg, nil
}

// StartProcessing derives the queue and launches a batch run against it.
// runCtx must outlive the caller's request.
func (s *Session) StartProcessing(ctx, runCtx context.Context, opts models.BatchRenderOptions) (*Run, error) {
	if s.processor.IsRendering() {
		return nil, ErrRunInProgress
	}

	queue, err := s.Queue(ctx)
	if err != nil {
		return nil, err
	}
	return s.processor.Start(runCtx, queue, opts)
}

// ProcessQueue runs a batch and waits for it to finish.
func (s *Session) ProcessQueue(ctx context.Context, opts models.BatchRenderOptions) (RunOutcome, error) {
	run, err := s.StartProcessing(ctx, ctx, opts)
	if err != nil {
		return RunOutcome{}, err
	}
	return run.Wait(), nil
}

func (s *Session) CancelRendering() {
	s.processor.CancelRendering()
}

// Wait blocks until the session's batch run has finished or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	return s.processor.Wait(ctx)
}

// ResetQueue clears every override and the run counters. Segment data and
// cached drafts are untouched.
func (s *Session) ResetQueue() {
	s.overrides.Reset()
	s.processor.ResetCounters()
	s.logger.Info("Render queue reset")
}

// draftsFor returns cached drafts, deriving only segments not seen before.
func (s *Session) draftsFor(ctx context.Context, segments []models.Segment, sceneImage *string) (map[uuid.UUID]models.DraftedConfig, error) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	var missing []models.Segment
	for _, seg := range segments {
		if !s.derived[seg.ID] {
			missing = append(missing, seg)
		}
	}

	if len(missing) > 0 && s.deriver != nil {
		derived, err := s.deriver.DeriveConfigs(ctx, missing, sceneImage)
		if err != nil {
			return nil, fmt.Errorf("failed to derive segment configs: %w", err)
		}
		for id, d := range derived {
			s.drafts[id] = d
		}
		for _, seg := range missing {
			s.derived[seg.ID] = true
		}
	}

	out := make(map[uuid.UUID]models.DraftedConfig, len(s.drafts))
	for id, d := range s.drafts {
		out[id] = d
	}
	return out, nil
}
