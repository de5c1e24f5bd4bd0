package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const defaultDraftModel = "gpt-5-mini"

// OpenAIDeriver refines heuristic drafts with an LLM pass. Any failure falls
// back to the heuristic result so a draft is always available.
type OpenAIDeriver struct {
	client *openai.Client
	model  string
	logger logrus.FieldLogger
}

func NewOpenAIDeriver(apiKey, model string, logger logrus.FieldLogger) *OpenAIDeriver {
	return NewOpenAIDeriverWithConfig(openai.DefaultConfig(apiKey), model, logger)
}

// NewOpenAIDeriverWithConfig allows a custom base URL (proxies, tests).
func NewOpenAIDeriverWithConfig(cfg openai.ClientConfig, model string, logger logrus.FieldLogger) *OpenAIDeriver {
	if model == "" {
		model = defaultDraftModel
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OpenAIDeriver{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.WithField("component", "draft"),
	}
}

// segmentDraft is one entry of the model's JSON response.
type segmentDraft struct {
	SegmentID      string  `json:"segment_id"`
	Prompt         string  `json:"prompt"`
	MotionPrompt   string  `json:"motion_prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	DurationSec    float64 `json:"duration_sec"`
	AspectRatio    string  `json:"aspect_ratio"`
	Confidence     *int    `json:"confidence"`
}

type draftResponse struct {
	Segments []segmentDraft `json:"segments"`
}

func (d *OpenAIDeriver) DeriveConfigs(ctx context.Context, segments []models.Segment, sceneImage *string) (map[uuid.UUID]models.DraftedConfig, error) {
	out := make(map[uuid.UUID]models.DraftedConfig, len(segments))
	for _, seg := range segments {
		out[seg.ID] = Heuristic(seg, sceneImage)
	}
	if len(segments) == 0 {
		return out, nil
	}

	refined, err := d.requestDrafts(ctx, segments, sceneImage != nil && *sceneImage != "")
	if err != nil {
		d.logger.WithError(err).Warn("[OpenAI draft] falling back to heuristic drafts")
		return out, nil
	}

	applied := 0
	for _, r := range refined {
		id, err := uuid.Parse(r.SegmentID)
		if err != nil {
			continue
		}
		base, ok := out[id]
		if !ok {
			continue
		}
		out[id] = merge(base, r)
		applied++
	}

	d.logger.WithFields(logrus.Fields{
		"segments": len(segments),
		"refined":  applied,
	}).Info("[OpenAI draft] drafts generated")
	return out, nil
}

func (d *OpenAIDeriver) requestDrafts(ctx context.Context, segments []models.Segment, hasSceneImage bool) ([]segmentDraft, error) {
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: draftSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildDraftUserPrompt(segments, hasSceneImage)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	var parsed draftResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse drafts: %w", err)
	}
	return parsed.Segments, nil
}

// merge lays the model's suggestions over the heuristic draft. Mode and
// frame references stay with the heuristic since they follow from data the
// model cannot see.
func merge(base models.DraftedConfig, r segmentDraft) models.DraftedConfig {
	cfg := base.Config
	if p := strings.TrimSpace(r.Prompt); p != "" {
		cfg.Prompt = p
	}
	if m := strings.TrimSpace(r.MotionPrompt); m != "" {
		cfg.MotionPrompt = &m
	}
	if n := strings.TrimSpace(r.NegativePrompt); n != "" {
		cfg.NegativePrompt = &n
	}
	if r.DurationSec > 0 {
		cfg.DurationSec = clampDuration(r.DurationSec)
	}
	switch models.AspectRatio(r.AspectRatio) {
	case models.AspectRatio16x9, models.AspectRatio9x16:
		cfg.AspectRatio = models.AspectRatio(r.AspectRatio)
	}

	confidence := base.Confidence
	if r.Confidence != nil {
		confidence = clampConfidence(*r.Confidence)
	}
	cfg.Confidence = confidence
	cfg.ApprovalStatus = models.ApprovalAutoReady

	return models.DraftedConfig{Config: cfg, Confidence: confidence}
}

const draftSystemPrompt = `You prepare video generation settings for short cinematic clips.
For every segment you receive, write:
- prompt: a concise visual description of the clip (subject, setting, lighting)
- motion_prompt: how the scene moves (camera and subject motion), present tense
- negative_prompt: artifacts to avoid, comma separated
- duration_sec: clip length in seconds between 1 and 15
- aspect_ratio: "16:9" or "9:16"
- confidence: 0-100, how well the segment text supports the settings

Respond with JSON: {"segments":[{"segment_id":"...", ...}]}. Return every segment_id you were given.`

func buildDraftUserPrompt(segments []models.Segment, hasSceneImage bool) string {
	var b strings.Builder
	b.WriteString("Segments:\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "- segment_id: %s\n  sequence: %d\n  script: %q\n", seg.ID, seg.SequenceIndex, seg.Script)
		if seg.VisualPrompt != nil && *seg.VisualPrompt != "" {
			fmt.Fprintf(&b, "  visual: %q\n", *seg.VisualPrompt)
		}
		if seg.DurationSec != nil {
			fmt.Fprintf(&b, "  planned_duration_sec: %.1f\n", *seg.DurationSec)
		}
		if nonEmpty(seg.StartFrameURL) {
			b.WriteString("  has_start_frame: true\n")
		}
	}
	if hasSceneImage {
		b.WriteString("\nA scene reference image exists; keep prompts consistent with a single visual style.\n")
	}
	return b.String()
}
