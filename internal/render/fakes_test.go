package render

import (
	"context"
	"errors"
	"sync"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
)

type generateCall struct {
	SegmentID uuid.UUID
	Type      models.GenerationType
	Opts      models.GenerateOptions
}

// fakeGenerator records calls. fail marks segments whose call returns an
// error; onCall runs after the call is recorded.
type fakeGenerator struct {
	mu     sync.Mutex
	calls  []generateCall
	fail   map[uuid.UUID]bool
	onCall func(n int, segmentID uuid.UUID)
	store  *fakeSceneStore
}

func (g *fakeGenerator) Generate(ctx context.Context, sceneID, segmentID uuid.UUID, genType models.GenerationType, opts models.GenerateOptions) error {
	g.mu.Lock()
	g.calls = append(g.calls, generateCall{SegmentID: segmentID, Type: genType, Opts: opts})
	n := len(g.calls)
	failed := g.fail[segmentID]
	hook := g.onCall
	g.mu.Unlock()

	if hook != nil {
		hook(n, segmentID)
	}

	if failed {
		if g.store != nil {
			g.store.setError(segmentID, "provider rejected request")
		}
		return errors.New("provider rejected request")
	}
	if g.store != nil {
		g.store.setVideo(segmentID)
	}
	return nil
}

func (g *fakeGenerator) segmentOrder() []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uuid.UUID, len(g.calls))
	for i, c := range g.calls {
		out[i] = c.SegmentID
	}
	return out
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type notification struct {
	Kind    NotificationKind
	Message string
}

type fakeNotifier struct {
	mu    sync.Mutex
	items []notification
}

func (n *fakeNotifier) Notify(ctx context.Context, sceneID uuid.UUID, kind NotificationKind, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, notification{Kind: kind, Message: message})
}

func (n *fakeNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationKind, len(n.items))
	for i, it := range n.items {
		out[i] = it.Kind
	}
	return out
}

type fakeObserver struct {
	mu     sync.Mutex
	states []models.BatchRunState
}

func (o *fakeObserver) ObserveState(ctx context.Context, sceneID uuid.UUID, state models.BatchRunState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *fakeObserver) snapshot() []models.BatchRunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.BatchRunState(nil), o.states...)
}

type fakeSceneStore struct {
	mu       sync.Mutex
	scene    models.Scene
	segments []models.Segment
}

func newFakeSceneStore(n int) *fakeSceneStore {
	s := &fakeSceneStore{scene: models.Scene{ID: uuid.New()}}
	for i := 0; i < n; i++ {
		s.segments = append(s.segments, models.Segment{
			ID:            uuid.New(),
			SceneID:       s.scene.ID,
			SequenceIndex: i + 1,
			Status:        models.SegmentStatusNotStarted,
		})
	}
	return s
}

func (s *fakeSceneStore) LoadScene(ctx context.Context, sceneID uuid.UUID) (*models.Scene, []models.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scene := s.scene
	return &scene, append([]models.Segment(nil), s.segments...), nil
}

func (s *fakeSceneStore) id(seq int) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.segments {
		if seg.SequenceIndex == seq {
			return seg.ID
		}
	}
	return uuid.Nil
}

func (s *fakeSceneStore) mutate(id uuid.UUID, fn func(*models.Segment)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.segments {
		if s.segments[i].ID == id {
			fn(&s.segments[i])
		}
	}
}

func (s *fakeSceneStore) setVideo(id uuid.UUID) {
	s.mutate(id, func(seg *models.Segment) {
		url := "https://cdn/" + id.String() + ".mp4"
		kind := models.AssetKindVideo
		seg.Status = models.SegmentStatusComplete
		seg.ActiveAssetURL = &url
		seg.ActiveAssetKind = &kind
		seg.ErrorMessage = nil
	})
}

func (s *fakeSceneStore) setError(id uuid.UUID, msg string) {
	s.mutate(id, func(seg *models.Segment) {
		seg.Status = models.SegmentStatusError
		seg.ErrorMessage = &msg
	})
}

type fakeDeriver struct {
	mu      sync.Mutex
	calls   int
	configs map[uuid.UUID]models.DraftedConfig
}

func (d *fakeDeriver) DeriveConfigs(ctx context.Context, segments []models.Segment, sceneImage *string) (map[uuid.UUID]models.DraftedConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	out := make(map[uuid.UUID]models.DraftedConfig)
	for _, seg := range segments {
		if cfg, ok := d.configs[seg.ID]; ok {
			out[seg.ID] = cfg
		}
	}
	return out, nil
}
