package render

import (
	"sync"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
)

// Overrides holds the user-supplied configs for one scene. It is the only
// mutable state the render core owns besides the run counters.
type Overrides struct {
	mu      sync.RWMutex
	configs map[uuid.UUID]models.GenerationConfig
}

func NewOverrides() *Overrides {
	return &Overrides{configs: make(map[uuid.UUID]models.GenerationConfig)}
}

// Update replaces the override for a segment wholesale. No merge with any
// previous override happens.
func (o *Overrides) Update(segmentID uuid.UUID, cfg models.GenerationConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.configs[segmentID] = cfg
}

// Approve copies the resolved config (override, else draft) with approval
// forced to user-approved. It returns false when nothing can be resolved.
func (o *Overrides) Approve(segmentID uuid.UUID, drafts map[uuid.UUID]models.DraftedConfig) (models.GenerationConfig, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	cfg, ok := o.configs[segmentID]
	if !ok {
		draft, found := drafts[segmentID]
		if !found {
			return models.GenerationConfig{}, false
		}
		cfg = draft.Config
		cfg.Confidence = draft.Confidence
	}

	cfg.ApprovalStatus = models.ApprovalUserApproved
	o.configs[segmentID] = cfg
	return cfg, true
}

// Snapshot returns a copy safe to read without holding the lock.
func (o *Overrides) Snapshot() map[uuid.UUID]models.GenerationConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[uuid.UUID]models.GenerationConfig, len(o.configs))
	for id, cfg := range o.configs {
		out[id] = cfg
	}
	return out
}

// Reset drops every override.
func (o *Overrides) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.configs = make(map[uuid.UUID]models.GenerationConfig)
}

func (o *Overrides) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.configs)
}
