// Package session keeps one render session per scene for the life of the
// process.
package session

import (
	"context"
	"sync"

	"github.com/bobarin/sceneflow/internal/render"
	"github.com/google/uuid"
)

// Factory builds the session for a scene on first use.
type Factory func(sceneID uuid.UUID) *render.Session

type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*render.Session
	factory  Factory
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*render.Session),
		factory:  factory,
	}
}

// Get returns the scene's session, creating it if needed.
func (r *Registry) Get(sceneID uuid.UUID) *render.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sceneID]; ok {
		return s
	}
	s := r.factory(sceneID)
	r.sessions[sceneID] = s
	return s
}

// Lookup returns the scene's session without creating one.
func (r *Registry) Lookup(sceneID uuid.UUID) (*render.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sceneID]
	return s, ok
}

// Rendering lists the scenes with an active batch run.
func (r *Registry) Rendering() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []uuid.UUID
	for id, s := range r.sessions {
		if s.State().IsRendering {
			ids = append(ids, id)
		}
	}
	return ids
}

// CancelAll requests cancellation of every active run.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.sessions {
		if s.State().IsRendering {
			s.CancelRendering()
			n++
		}
	}
	return n
}

// Forget drops an idle session, e.g. one created for a scene that turned
// out not to exist. Sessions with an active run are kept.
func (r *Registry) Forget(sceneID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sceneID]
	if !ok || s.State().IsRendering {
		return false
	}
	delete(r.sessions, sceneID)
	return true
}

// WaitAll blocks until every session's run has finished or ctx is done.
func (r *Registry) WaitAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*render.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
