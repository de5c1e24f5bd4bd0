package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoGenerator is returned when no generation backend is configured.
	ErrNoGenerator = errors.New("no generation handler configured")
	// ErrRunInProgress is returned when a batch run is already active.
	ErrRunInProgress = errors.New("batch render already in progress")
	// ErrSegmentNotFound is returned for unknown segment IDs.
	ErrSegmentNotFound = errors.New("segment not found")
)

// Generator is the external generation call. A nil return is success, any
// error is failure; the payload of a successful call is not inspected.
type Generator interface {
	Generate(ctx context.Context, sceneID, segmentID uuid.UUID, genType models.GenerationType, opts models.GenerateOptions) error
}

type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyWarning NotificationKind = "warning"
	NotifyInfo    NotificationKind = "info"
	NotifyError   NotificationKind = "error"
)

// Notifier reports run outcomes to whoever is watching the scene.
type Notifier interface {
	Notify(ctx context.Context, sceneID uuid.UUID, kind NotificationKind, message string)
}

// StateObserver receives a snapshot after every run state change.
type StateObserver interface {
	ObserveState(ctx context.Context, sceneID uuid.UUID, state models.BatchRunState)
}

type RunStatus string

const (
	RunStatusSkipped   RunStatus = "skipped"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunOutcome summarizes a finished run.
type RunOutcome struct {
	Status     RunStatus
	Selected   int
	Dispatched int
	Completed  int
	Failed     int
}

// Run is a handle on a started batch run.
type Run struct {
	Selected int
	done     chan struct{}
	outcome  RunOutcome
}

// Wait blocks until the run finishes.
func (r *Run) Wait() RunOutcome {
	<-r.done
	return r.outcome
}

// Done is closed when the run finishes.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func finishedRun(outcome RunOutcome) *Run {
	r := &Run{Selected: outcome.Selected, done: make(chan struct{}), outcome: outcome}
	close(r.done)
	return r
}

// Processor drives one batch run at a time for a scene: strictly sequential,
// fixed delay between items, cooperative cancellation checked between items.
type Processor struct {
	sceneID   uuid.UUID
	generator Generator
	notifier  Notifier
	observer  StateObserver
	logger    logrus.FieldLogger

	mu        sync.Mutex
	state     models.BatchRunState
	cancelled bool
	cancelCh  chan struct{}
	active    *Run
}

func NewProcessor(sceneID uuid.UUID, generator Generator, notifier Notifier, observer StateObserver, logger logrus.FieldLogger) *Processor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{
		sceneID:   sceneID,
		generator: generator,
		notifier:  notifier,
		observer:  observer,
		logger:    logger.WithField("scene_id", sceneID.String()),
	}
}

// State returns a copy of the current run state.
func (p *Processor) State() models.BatchRunState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyState(p.state)
}

// IsRendering reports whether a run is active.
func (p *Processor) IsRendering() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.IsRendering
}

// ProcessQueue selects items from queue and runs them to completion or
// cancellation. Individual generation failures never surface as an error.
func (p *Processor) ProcessQueue(ctx context.Context, queue []models.QueueItem, opts models.BatchRenderOptions) (RunOutcome, error) {
	run, err := p.Start(ctx, queue, opts)
	if err != nil {
		return RunOutcome{}, err
	}
	return run.Wait(), nil
}

// Start validates, selects and launches a run in the background. An empty
// selection returns an already finished run and never flips IsRendering.
func (p *Processor) Start(ctx context.Context, queue []models.QueueItem, opts models.BatchRenderOptions) (*Run, error) {
	if p.generator == nil {
		p.notify(ctx, NotifyError, "Video generation is not configured")
		return nil, ErrNoGenerator
	}

	opts, err := NormalizeOptions(opts)
	if err != nil {
		return nil, err
	}

	if p.IsRendering() {
		return nil, ErrRunInProgress
	}

	plan := SelectItems(queue, opts)
	if len(plan) == 0 {
		p.logger.WithField("mode", opts.Mode).Info("No segments selected for batch render")
		p.notify(ctx, NotifyInfo, "No segments to render")
		return finishedRun(RunOutcome{Status: RunStatusSkipped}), nil
	}

	p.mu.Lock()
	if p.state.IsRendering {
		p.mu.Unlock()
		return nil, ErrRunInProgress
	}
	p.state = models.BatchRunState{IsRendering: true}
	p.cancelled = false
	p.cancelCh = make(chan struct{})
	cancelCh := p.cancelCh
	snapshot := copyState(p.state)
	run := &Run{Selected: len(plan), done: make(chan struct{})}
	p.active = run
	p.mu.Unlock()

	p.observe(ctx, snapshot)

	go func() {
		defer close(run.done)
		run.outcome = p.execute(ctx, plan, opts, cancelCh)
	}()
	return run, nil
}

// Wait blocks until the most recent run has finished, including the
// failure write of an aborted call, or until ctx is done.
func (p *Processor) Wait(ctx context.Context) error {
	p.mu.Lock()
	run := p.active
	p.mu.Unlock()

	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelRendering requests that the active run stop before its next item.
// An in-flight generation call is allowed to settle.
func (p *Processor) CancelRendering() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.IsRendering || p.cancelled {
		return
	}
	p.cancelled = true
	close(p.cancelCh)
	p.logger.Info("Batch render cancellation requested")
}

// ResetCounters zeroes progress and counters. The running flag of an active
// run is left alone.
func (p *Processor) ResetCounters() {
	p.mu.Lock()
	p.state.Progress = 0
	p.state.CompletedCount = 0
	p.state.FailedCount = 0
	if !p.state.IsRendering {
		p.state.CurrentSegmentID = nil
	}
	p.mu.Unlock()
}

func (p *Processor) execute(ctx context.Context, plan []models.QueueItem, opts models.BatchRenderOptions, cancelCh <-chan struct{}) RunOutcome {
	total := len(plan)
	outcome := RunOutcome{Status: RunStatusCompleted, Selected: total}

	p.logger.WithFields(logrus.Fields{
		"items":    total,
		"mode":     opts.Mode,
		"priority": opts.Priority,
		"delay":    opts.Delay,
	}).Info("Batch render started")

	for i, item := range plan {
		if p.stopRequested(ctx) {
			outcome.Status = RunStatusCancelled
			break
		}

		segmentID := item.SegmentID
		p.update(ctx, func(s *models.BatchRunState) {
			s.CurrentSegmentID = &segmentID
			s.Progress = i * 100 / total
		})

		genType := GenerationTypeFor(item.Config.Mode)
		log := p.logger.WithFields(logrus.Fields{
			"segment_id": segmentID.String(),
			"sequence":   item.SequenceIndex,
			"type":       genType,
		})
		log.Infof("Dispatching segment %d/%d", i+1, total)

		outcome.Dispatched++
		if err := p.generate(ctx, item, genType); err != nil {
			log.WithError(err).Warn("Segment generation failed")
			outcome.Failed++
			p.update(ctx, func(s *models.BatchRunState) { s.FailedCount++ })
		} else {
			log.Info("Segment generation succeeded")
			outcome.Completed++
			p.update(ctx, func(s *models.BatchRunState) { s.CompletedCount++ })
		}

		if i < total-1 && opts.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-cancelCh:
			case <-time.After(opts.Delay):
			}
		}
	}

	p.update(ctx, func(s *models.BatchRunState) {
		s.Progress = 100
		s.CurrentSegmentID = nil
		s.IsRendering = false
	})

	p.logger.WithFields(logrus.Fields{
		"status":     outcome.Status,
		"dispatched": outcome.Dispatched,
		"completed":  outcome.Completed,
		"failed":     outcome.Failed,
	}).Info("Batch render finished")

	switch {
	case outcome.Status == RunStatusCancelled:
		p.notify(ctx, NotifyInfo, fmt.Sprintf("Batch render cancelled after %d of %d segments", outcome.Dispatched, total))
	case outcome.Failed == 0:
		p.notify(ctx, NotifySuccess, fmt.Sprintf("Rendered %d segments", outcome.Completed))
	default:
		p.notify(ctx, NotifyWarning, fmt.Sprintf("Rendered %d segments, %d failed", outcome.Completed, outcome.Failed))
	}

	return outcome
}

// generate calls the backend and converts a panic into a failure so nothing
// escapes the run loop.
func (p *Processor) generate(ctx context.Context, item models.QueueItem, genType models.GenerationType) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()

	cfg := item.Config
	return p.generator.Generate(ctx, p.sceneID, item.SegmentID, genType, models.GenerateOptions{
		StartFrameURL:    cfg.StartFrameURL,
		EndFrameURL:      cfg.EndFrameURL,
		SourceVideoURL:   cfg.SourceVideoURL,
		Prompt:           cfg.Prompt,
		NegativePrompt:   cfg.NegativePrompt,
		DurationSec:      cfg.DurationSec,
		AspectRatio:      cfg.AspectRatio,
		Resolution:       cfg.Resolution,
		GenerationMethod: cfg.Mode,
	})
}

func (p *Processor) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

func (p *Processor) update(ctx context.Context, fn func(*models.BatchRunState)) {
	p.mu.Lock()
	fn(&p.state)
	snapshot := copyState(p.state)
	p.mu.Unlock()

	p.observe(ctx, snapshot)
}

func (p *Processor) observe(ctx context.Context, state models.BatchRunState) {
	if p.observer != nil {
		p.observer.ObserveState(ctx, p.sceneID, state)
	}
}

func (p *Processor) notify(ctx context.Context, kind NotificationKind, message string) {
	if p.notifier != nil {
		p.notifier.Notify(ctx, p.sceneID, kind, message)
	}
}

func copyState(s models.BatchRunState) models.BatchRunState {
	if s.CurrentSegmentID != nil {
		id := *s.CurrentSegmentID
		s.CurrentSegmentID = &id
	}
	return s
}
