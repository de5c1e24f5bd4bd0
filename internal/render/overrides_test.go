package render

import (
	"testing"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverridesApproveUsesDraft(t *testing.T) {
	id := uuid.New()
	drafts := map[uuid.UUID]models.DraftedConfig{
		id: {Config: models.GenerationConfig{Prompt: "draft", ApprovalStatus: models.ApprovalAutoReady}, Confidence: 70},
	}

	o := NewOverrides()
	cfg, ok := o.Approve(id, drafts)

	require.True(t, ok)
	assert.Equal(t, models.ApprovalUserApproved, cfg.ApprovalStatus)
	assert.Equal(t, "draft", cfg.Prompt)
	assert.Equal(t, cfg, o.Snapshot()[id])
}

func TestOverridesApprovePrefersOverride(t *testing.T) {
	id := uuid.New()
	drafts := map[uuid.UUID]models.DraftedConfig{id: {Config: models.GenerationConfig{Prompt: "draft"}}}

	o := NewOverrides()
	o.Update(id, models.GenerationConfig{Prompt: "mine"})
	cfg, ok := o.Approve(id, drafts)

	require.True(t, ok)
	assert.Equal(t, "mine", cfg.Prompt)
	assert.True(t, cfg.IsApproved())
}

func TestOverridesApproveNoConfigIsNoop(t *testing.T) {
	o := NewOverrides()
	_, ok := o.Approve(uuid.New(), nil)

	assert.False(t, ok)
	assert.Equal(t, 0, o.Len())
}

func TestOverridesUpdateAfterApproveOverwrites(t *testing.T) {
	id := uuid.New()
	drafts := map[uuid.UUID]models.DraftedConfig{id: {Config: models.GenerationConfig{Prompt: "draft"}}}

	o := NewOverrides()
	_, ok := o.Approve(id, drafts)
	require.True(t, ok)

	next := models.GenerationConfig{
		Mode:           models.ModeExtend,
		Prompt:         "replacement",
		DurationSec:    3,
		ApprovalStatus: models.ApprovalAutoReady,
	}
	o.Update(id, next)

	assert.Equal(t, next, o.Snapshot()[id])
}

func TestOverridesResetIsIdempotent(t *testing.T) {
	o := NewOverrides()
	o.Update(uuid.New(), models.GenerationConfig{})
	o.Update(uuid.New(), models.GenerationConfig{})

	o.Reset()
	assert.Equal(t, 0, o.Len())
	o.Reset()
	assert.Equal(t, 0, o.Len())
}

func TestOverridesSnapshotIsCopy(t *testing.T) {
	id := uuid.New()
	o := NewOverrides()
	o.Update(id, models.GenerationConfig{Prompt: "a"})

	snap := o.Snapshot()
	snap[id] = models.GenerationConfig{Prompt: "mutated"}

	assert.Equal(t, "a", o.Snapshot()[id].Prompt)
}
