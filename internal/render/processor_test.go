package render

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func queueFor(t *testing.T, store *fakeSceneStore, overrides map[uuid.UUID]models.GenerationConfig) []models.QueueItem {
	t.Helper()
	scene, segments, err := store.LoadScene(context.Background(), store.scene.ID)
	require.NoError(t, err)
	return BuildQueue(segments, scene.ReferenceImageURL, nil, overrides)
}

func TestProcessQueueDispatchesInSequenceOrder(t *testing.T) {
	store := newFakeSceneStore(0)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	store.segments = []models.Segment{
		{ID: a, SequenceIndex: 3},
		{ID: b, SequenceIndex: 1},
		{ID: c, SequenceIndex: 2},
	}
	gen := &fakeGenerator{store: store}
	notifier := &fakeNotifier{}
	p := NewProcessor(store.scene.ID, gen, notifier, nil, testLogger())

	outcome, err := p.ProcessQueue(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{
		Mode:     models.BatchModeAll,
		Priority: models.PrioritySequence,
	})

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b, c, a}, gen.segmentOrder())
	assert.Equal(t, RunStatusCompleted, outcome.Status)
	assert.Equal(t, 3, outcome.Completed)
	assert.Equal(t, []NotificationKind{NotifySuccess}, notifier.kinds())

	state := p.State()
	assert.False(t, state.IsRendering)
	assert.Equal(t, 100, state.Progress)
	assert.Nil(t, state.CurrentSegmentID)
	assert.Equal(t, 3, state.CompletedCount)
}

func TestProcessQueueApprovedFirst(t *testing.T) {
	store := newFakeSceneStore(3)
	approved := DefaultConfig()
	approved.ApprovalStatus = models.ApprovalUserApproved
	overrides := map[uuid.UUID]models.GenerationConfig{store.id(2): approved}

	gen := &fakeGenerator{}
	p := NewProcessor(store.scene.ID, gen, nil, nil, testLogger())

	_, err := p.ProcessQueue(context.Background(), queueFor(t, store, overrides), models.BatchRenderOptions{
		Mode:     models.BatchModeAll,
		Priority: models.PriorityApprovedFirst,
	})

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{store.id(2), store.id(1), store.id(3)}, gen.segmentOrder())
}

func TestProcessQueuePartialFailure(t *testing.T) {
	store := newFakeSceneStore(5)
	gen := &fakeGenerator{
		store: store,
		fail:  map[uuid.UUID]bool{store.id(2): true, store.id(4): true},
	}
	notifier := &fakeNotifier{}
	p := NewProcessor(store.scene.ID, gen, notifier, nil, testLogger())

	outcome, err := p.ProcessQueue(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{Mode: models.BatchModeAll})

	require.NoError(t, err)
	assert.Equal(t, 5, gen.callCount())
	assert.Equal(t, 3, outcome.Completed)
	assert.Equal(t, 2, outcome.Failed)

	state := p.State()
	assert.Equal(t, 3, state.CompletedCount)
	assert.Equal(t, 2, state.FailedCount)
	assert.Equal(t, []NotificationKind{NotifyWarning}, notifier.kinds())

	after := queueFor(t, store, nil)
	want := []models.QueueItemStatus{
		models.QueueItemComplete,
		models.QueueItemError,
		models.QueueItemComplete,
		models.QueueItemError,
		models.QueueItemComplete,
	}
	for i, it := range after {
		assert.Equal(t, want[i], it.Status, "sequence %d", it.SequenceIndex)
	}
}

func TestProcessQueueCancellationBetweenItems(t *testing.T) {
	store := newFakeSceneStore(5)
	gen := &fakeGenerator{store: store}
	notifier := &fakeNotifier{}
	p := NewProcessor(store.scene.ID, gen, notifier, nil, testLogger())
	gen.onCall = func(n int, _ uuid.UUID) {
		if n == 2 {
			p.CancelRendering()
		}
	}

	outcome, err := p.ProcessQueue(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{Mode: models.BatchModeAll})

	require.NoError(t, err)
	assert.Equal(t, 2, gen.callCount())
	assert.Equal(t, RunStatusCancelled, outcome.Status)
	assert.Equal(t, 2, outcome.Completed)
	assert.Equal(t, 0, outcome.Failed)
	assert.Equal(t, []NotificationKind{NotifyInfo}, notifier.kinds())
	assert.False(t, p.IsRendering())
	assert.Equal(t, 100, p.State().Progress)

	after := queueFor(t, store, nil)
	for _, it := range after[2:] {
		assert.Equal(t, models.QueueItemQueued, it.Status)
	}
}

func TestCancelInterruptsDelay(t *testing.T) {
	store := newFakeSceneStore(3)
	gen := &fakeGenerator{}
	p := NewProcessor(store.scene.ID, gen, nil, nil, testLogger())
	gen.onCall = func(n int, _ uuid.UUID) {
		if n == 1 {
			p.CancelRendering()
		}
	}

	start := time.Now()
	outcome, err := p.ProcessQueue(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{
		Mode:  models.BatchModeAll,
		Delay: 10 * time.Second,
	})

	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, outcome.Status)
	assert.Equal(t, 1, gen.callCount())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDelayBetweenItems(t *testing.T) {
	store := newFakeSceneStore(3)
	gen := &fakeGenerator{}
	p := NewProcessor(store.scene.ID, gen, nil, nil, testLogger())

	start := time.Now()
	_, err := p.ProcessQueue(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{
		Mode:  models.BatchModeAll,
		Delay: 40 * time.Millisecond,
	})

	require.NoError(t, err)
	// Two gaps for three items, none after the last.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestProgressIsMonotonic(t *testing.T) {
	store := newFakeSceneStore(3)
	observer := &fakeObserver{}
	p := NewProcessor(store.scene.ID, &fakeGenerator{}, nil, observer, testLogger())

	_, err := p.ProcessQueue(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{Mode: models.BatchModeAll})
	require.NoError(t, err)

	states := observer.snapshot()
	require.NotEmpty(t, states)

	var progress []int
	last := -1
	for _, s := range states {
		assert.GreaterOrEqual(t, s.Progress, last)
		if s.Progress != last {
			progress = append(progress, s.Progress)
		}
		last = s.Progress
	}
	assert.Equal(t, []int{0, 33, 66, 100}, progress)
}

func TestApprovedOnlyWithNothingApproved(t *testing.T) {
	store := newFakeSceneStore(3)
	gen := &fakeGenerator{}
	notifier := &fakeNotifier{}
	observer := &fakeObserver{}
	p := NewProcessor(store.scene.ID, gen, notifier, observer, testLogger())

	outcome, err := p.ProcessQueue(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{Mode: models.BatchModeApprovedOnly})

	require.NoError(t, err)
	assert.Equal(t, RunStatusSkipped, outcome.Status)
	assert.Equal(t, 0, gen.callCount())
	assert.Equal(t, []NotificationKind{NotifyInfo}, notifier.kinds())
	for _, s := range observer.snapshot() {
		assert.False(t, s.IsRendering)
	}
	assert.False(t, p.IsRendering())
}

func TestAllModeSkipsCompleteItems(t *testing.T) {
	store := newFakeSceneStore(3)
	store.setVideo(store.id(2))
	gen := &fakeGenerator{}
	p := NewProcessor(store.scene.ID, gen, nil, nil, testLogger())

	_, err := p.ProcessQueue(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{Mode: models.BatchModeAll})

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{store.id(1), store.id(3)}, gen.segmentOrder())
}

func TestNoGeneratorConfigured(t *testing.T) {
	store := newFakeSceneStore(2)
	notifier := &fakeNotifier{}
	p := NewProcessor(store.scene.ID, nil, notifier, nil, testLogger())

	_, err := p.ProcessQueue(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{Mode: models.BatchModeAll})

	assert.ErrorIs(t, err, ErrNoGenerator)
	assert.Equal(t, []NotificationKind{NotifyError}, notifier.kinds())
	assert.False(t, p.IsRendering())
}

func TestRejectsOverlappingRuns(t *testing.T) {
	store := newFakeSceneStore(2)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	gen := &fakeGenerator{onCall: func(n int, _ uuid.UUID) {
		if n == 1 {
			started <- struct{}{}
			<-release
		}
	}}
	p := NewProcessor(store.scene.ID, gen, nil, nil, testLogger())
	queue := queueFor(t, store, nil)
	opts := models.BatchRenderOptions{Mode: models.BatchModeAll}

	run, err := p.Start(context.Background(), queue, opts)
	require.NoError(t, err)
	<-started

	assert.True(t, p.IsRendering())
	_, err = p.Start(context.Background(), queue, opts)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	outcome := run.Wait()
	assert.Equal(t, 2, outcome.Completed)
}

func TestGeneratorPanicCountsAsFailure(t *testing.T) {
	store := newFakeSceneStore(2)
	gen := &fakeGenerator{onCall: func(n int, _ uuid.UUID) {
		if n == 1 {
			panic("provider exploded")
		}
	}}
	p := NewProcessor(store.scene.ID, gen, nil, nil, testLogger())

	outcome, err := p.ProcessQueue(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{Mode: models.BatchModeAll})

	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Failed)
	assert.Equal(t, 1, outcome.Completed)
}

func TestGenerateReceivesResolvedConfig(t *testing.T) {
	store := newFakeSceneStore(1)
	neg := "blurry"
	start := "https://cdn/start.png"
	cfg := models.GenerationConfig{
		Mode:           models.ModeFrameToVideo,
		Prompt:         "a lighthouse at dusk",
		NegativePrompt: &neg,
		AspectRatio:    models.AspectRatio9x16,
		Resolution:     models.Resolution1080p,
		DurationSec:    8,
		StartFrameURL:  &start,
		ApprovalStatus: models.ApprovalUserApproved,
	}
	gen := &fakeGenerator{}
	p := NewProcessor(store.scene.ID, gen, nil, nil, testLogger())

	_, err := p.ProcessQueue(context.Background(), queueFor(t, store, map[uuid.UUID]models.GenerationConfig{store.id(1): cfg}), models.BatchRenderOptions{Mode: models.BatchModeApprovedOnly})
	require.NoError(t, err)

	require.Len(t, gen.calls, 1)
	call := gen.calls[0]
	assert.Equal(t, models.GenerationTypeImageToVideo, call.Type)
	assert.Equal(t, models.ModeFrameToVideo, call.Opts.GenerationMethod)
	assert.Equal(t, "a lighthouse at dusk", call.Opts.Prompt)
	assert.Equal(t, &neg, call.Opts.NegativePrompt)
	assert.Equal(t, &start, call.Opts.StartFrameURL)
	assert.Equal(t, 8.0, call.Opts.DurationSec)
	assert.Equal(t, models.AspectRatio9x16, call.Opts.AspectRatio)
	assert.Equal(t, models.Resolution1080p, call.Opts.Resolution)
}

func TestResetCountersIsIdempotent(t *testing.T) {
	store := newFakeSceneStore(2)
	gen := &fakeGenerator{fail: map[uuid.UUID]bool{store.id(1): true}}
	p := NewProcessor(store.scene.ID, gen, nil, nil, testLogger())

	_, err := p.ProcessQueue(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{Mode: models.BatchModeAll})
	require.NoError(t, err)

	p.ResetCounters()
	first := p.State()
	p.ResetCounters()

	assert.Equal(t, first, p.State())
	assert.Equal(t, models.BatchRunState{}, first)
}

func TestWaitBlocksUntilRunSettles(t *testing.T) {
	store := newFakeSceneStore(2)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	gen := &fakeGenerator{store: store, onCall: func(int, uuid.UUID) {
		started <- struct{}{}
		<-release
	}}
	p := NewProcessor(store.scene.ID, gen, nil, nil, testLogger())

	require.NoError(t, p.Wait(context.Background()))

	run, err := p.Start(context.Background(), queueFor(t, store, nil), models.BatchRenderOptions{Mode: models.BatchModeAll})
	require.NoError(t, err)
	<-started

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(short), context.DeadlineExceeded)

	p.CancelRendering()
	close(release)
	require.NoError(t, p.Wait(context.Background()))

	select {
	case <-run.Done():
	default:
		t.Fatal("Wait returned before the run finished")
	}
	assert.False(t, p.IsRendering())
	assert.Equal(t, 1, gen.callCount())
}
