package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bobarin/sceneflow/internal/db"
	"github.com/bobarin/sceneflow/internal/models"
	"github.com/bobarin/sceneflow/internal/render"
	"github.com/bobarin/sceneflow/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AssetLister returns a segment's render history.
type AssetLister interface {
	ListSegmentAssets(ctx context.Context, segmentID uuid.UUID) ([]models.Asset, error)
}

type Handler struct {
	sessions     *session.Registry
	assets       AssetLister
	runCtx       context.Context
	defaultDelay time.Duration
	logger       logrus.FieldLogger
}

// NewHandler wires the render endpoints. Batch runs are bound to runCtx,
// not to the request that started them.
func NewHandler(sessions *session.Registry, assets AssetLister, runCtx context.Context, defaultDelay time.Duration, logger logrus.FieldLogger) *Handler {
	return &Handler{
		sessions:     sessions,
		assets:       assets,
		runCtx:       runCtx,
		defaultDelay: defaultDelay,
		logger:       logger.WithField("component", "api"),
	}
}

// GetRenderQueue handles GET /v1/scenes/{sceneId}/render-queue
func (h *Handler) GetRenderQueue(w http.ResponseWriter, r *http.Request) {
	sceneID, ok := parseID(w, r, "sceneId", "Invalid scene ID")
	if !ok {
		return
	}

	s := h.sessions.Get(sceneID)
	queue, err := s.Queue(r.Context())
	if err != nil {
		h.respondQueueError(w, sceneID, err)
		return
	}
	if queue == nil {
		queue = []models.QueueItem{}
	}

	respondJSON(w, http.StatusOK, models.RenderQueueResponse{
		SceneID: sceneID,
		Queue:   queue,
		State:   s.State(),
	})
}

// GetQueueItem handles GET /v1/scenes/{sceneId}/render-queue/items/{segmentId}
func (h *Handler) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	sceneID, ok := parseID(w, r, "sceneId", "Invalid scene ID")
	if !ok {
		return
	}
	segmentID, ok := parseID(w, r, "segmentId", "Invalid segment ID")
	if !ok {
		return
	}

	item, err := h.sessions.Get(sceneID).GetQueueItem(r.Context(), segmentID)
	if err != nil {
		h.respondQueueError(w, sceneID, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// UpdateItemConfig handles PUT /v1/scenes/{sceneId}/render-queue/items/{segmentId}/config
// The body replaces the segment's override wholesale.
func (h *Handler) UpdateItemConfig(w http.ResponseWriter, r *http.Request) {
	sceneID, ok := parseID(w, r, "sceneId", "Invalid scene ID")
	if !ok {
		return
	}
	segmentID, ok := parseID(w, r, "segmentId", "Invalid segment ID")
	if !ok {
		return
	}

	var cfg models.GenerationConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := cfg.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s := h.sessions.Get(sceneID)
	if _, err := s.GetQueueItem(r.Context(), segmentID); err != nil {
		h.respondQueueError(w, sceneID, err)
		return
	}

	s.UpdateConfig(segmentID, cfg)

	item, err := s.GetQueueItem(r.Context(), segmentID)
	if err != nil {
		h.respondQueueError(w, sceneID, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// ApproveItem handles POST /v1/scenes/{sceneId}/render-queue/items/{segmentId}/approve
func (h *Handler) ApproveItem(w http.ResponseWriter, r *http.Request) {
	sceneID, ok := parseID(w, r, "sceneId", "Invalid scene ID")
	if !ok {
		return
	}
	segmentID, ok := parseID(w, r, "segmentId", "Invalid segment ID")
	if !ok {
		return
	}

	cfg, err := h.sessions.Get(sceneID).ApproveSegment(r.Context(), segmentID)
	if err != nil {
		h.respondQueueError(w, sceneID, err)
		return
	}
	if cfg == nil {
		respondError(w, http.StatusNotFound, "Segment not found")
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// ListItemAssets handles GET /v1/scenes/{sceneId}/render-queue/items/{segmentId}/assets
func (h *Handler) ListItemAssets(w http.ResponseWriter, r *http.Request) {
	if _, ok := parseID(w, r, "sceneId", "Invalid scene ID"); !ok {
		return
	}
	segmentID, ok := parseID(w, r, "segmentId", "Invalid segment ID")
	if !ok {
		return
	}

	assets, err := h.assets.ListSegmentAssets(r.Context(), segmentID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list segment assets")
		respondError(w, http.StatusInternalServerError, "Failed to list assets")
		return
	}
	if assets == nil {
		assets = []models.Asset{}
	}
	respondJSON(w, http.StatusOK, assets)
}

// ProcessQueue handles POST /v1/scenes/{sceneId}/render-queue/process
// The run continues in the background; progress is read from GET render-queue.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	sceneID, ok := parseID(w, r, "sceneId", "Invalid scene ID")
	if !ok {
		return
	}

	var req models.ProcessQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	opts := models.BatchRenderOptions{
		Mode:     req.Mode,
		Priority: req.Priority,
		Delay:    h.defaultDelay,
	}
	if req.DelayMs != nil {
		opts.Delay = time.Duration(*req.DelayMs) * time.Millisecond
	}
	if _, err := render.NormalizeOptions(opts); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.sessions.Get(sceneID).StartProcessing(r.Context(), h.runCtx, opts)
	if err != nil {
		h.respondQueueError(w, sceneID, err)
		return
	}

	status := "started"
	if run.Selected == 0 {
		status = string(render.RunStatusSkipped)
	}
	respondJSON(w, http.StatusAccepted, models.ProcessQueueResponse{
		SceneID:  sceneID,
		Selected: run.Selected,
		Status:   status,
	})
}

// CancelRendering handles POST /v1/scenes/{sceneId}/render-queue/cancel
func (h *Handler) CancelRendering(w http.ResponseWriter, r *http.Request) {
	sceneID, ok := parseID(w, r, "sceneId", "Invalid scene ID")
	if !ok {
		return
	}

	s, exists := h.sessions.Lookup(sceneID)
	if !exists || !s.State().IsRendering {
		respondError(w, http.StatusConflict, "No batch render in progress")
		return
	}

	s.CancelRendering()
	respondJSON(w, http.StatusAccepted, s.State())
}

// ResetQueue handles POST /v1/scenes/{sceneId}/render-queue/reset
func (h *Handler) ResetQueue(w http.ResponseWriter, r *http.Request) {
	sceneID, ok := parseID(w, r, "sceneId", "Invalid scene ID")
	if !ok {
		return
	}

	s, exists := h.sessions.Lookup(sceneID)
	if !exists {
		respondJSON(w, http.StatusOK, models.BatchRunState{})
		return
	}
	s.ResetQueue()
	respondJSON(w, http.StatusOK, s.State())
}

// respondQueueError maps session errors to HTTP statuses. A session created
// for a scene that does not exist is dropped again.
func (h *Handler) respondQueueError(w http.ResponseWriter, sceneID uuid.UUID, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.sessions.Forget(sceneID)
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, render.ErrSegmentNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, render.ErrRunInProgress):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, render.ErrNoGenerator):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.WithError(err).Error("Render queue request failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func parseID(w http.ResponseWriter, r *http.Request, param, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		respondError(w, http.StatusBadRequest, message)
		return uuid.Nil, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"rendering": len(h.sessions.Rendering()),
	})
}
