package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Enums
type SegmentStatus string

const (
	SegmentStatusNotStarted SegmentStatus = "not-started"
	SegmentStatusGenerating SegmentStatus = "generating"
	SegmentStatusComplete   SegmentStatus = "complete"
	SegmentStatusError      SegmentStatus = "error"
)

type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindVideo AssetKind = "video"
)

type GenerationMode string

const (
	ModeTextToVideo  GenerationMode = "text-to-video"
	ModeImageToVideo GenerationMode = "image-to-video"
	ModeTextToImage  GenerationMode = "text-to-image"
	ModeUpload       GenerationMode = "upload"
	ModeFrameToVideo GenerationMode = "frame-to-video"
	ModeExtend       GenerationMode = "extend"
)

// GenerationType is the argument the external generation call accepts.
// It is a narrower set than GenerationMode.
type GenerationType string

const (
	GenerationTypeTextToVideo  GenerationType = "text-to-video"
	GenerationTypeImageToVideo GenerationType = "image-to-video"
	GenerationTypeTextToImage  GenerationType = "text-to-image"
	GenerationTypeUpload       GenerationType = "upload"
)

type AspectRatio string

const (
	AspectRatio16x9 AspectRatio = "16:9"
	AspectRatio9x16 AspectRatio = "9:16"
)

type Resolution string

const (
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
)

type ApprovalStatus string

const (
	ApprovalAutoReady    ApprovalStatus = "auto-ready"
	ApprovalUserApproved ApprovalStatus = "user-approved"
)

type QueueItemStatus string

const (
	QueueItemQueued    QueueItemStatus = "queued"
	QueueItemRendering QueueItemStatus = "rendering"
	QueueItemComplete  QueueItemStatus = "complete"
	QueueItemError     QueueItemStatus = "error"
)

type BatchMode string

const (
	BatchModeApprovedOnly BatchMode = "approved-only"
	BatchModeAll          BatchMode = "all"
)

type BatchPriority string

const (
	PriorityApprovedFirst BatchPriority = "approved-first"
	PrioritySequence      BatchPriority = "sequence"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Models

type Scene struct {
	ID                uuid.UUID `json:"id"`
	ProjectID         uuid.UUID `json:"project_id"`
	Title             string    `json:"title"`
	ReferenceImageURL *string   `json:"reference_image_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Segment is owned by the scene store. The render core only reads it.
type Segment struct {
	ID                uuid.UUID     `json:"id"`
	SceneID           uuid.UUID     `json:"scene_id"`
	SequenceIndex     int           `json:"sequence_index"`
	Status            SegmentStatus `json:"status"`
	Script            string        `json:"script"`
	VisualPrompt      *string       `json:"visual_prompt,omitempty"`
	ActiveAssetURL    *string       `json:"active_asset_url,omitempty"`
	ActiveAssetKind   *AssetKind    `json:"active_asset_kind,omitempty"`
	ErrorMessage      *string       `json:"error_message,omitempty"`
	StartFrameURL     *string       `json:"start_frame_url,omitempty"`
	EndFrameURL       *string       `json:"end_frame_url,omitempty"`
	ReferenceFrameURL *string       `json:"reference_frame_url,omitempty"` // Declared reference frame, used for thumbnails
	DurationSec       *float64      `json:"duration_sec,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// HasVideo reports whether the segment's active asset is a rendered video.
func (s Segment) HasVideo() bool {
	return s.ActiveAssetURL != nil && *s.ActiveAssetURL != "" &&
		s.ActiveAssetKind != nil && *s.ActiveAssetKind == AssetKindVideo
}

// Asset is a stored render output attached to a segment.
type Asset struct {
	ID          uuid.UUID `json:"id"`
	SceneID     uuid.UUID `json:"scene_id"`
	SegmentID   uuid.UUID `json:"segment_id"`
	Kind        AssetKind `json:"kind"`
	StoragePath string    `json:"storage_path"`
	PublicURL   string    `json:"public_url"`
	ContentType string    `json:"content_type"`
	ByteSize    int64     `json:"byte_size"`
	Metadata    JSONB     `json:"metadata,omitempty"` // provider, generation type and method
	CreatedAt   time.Time `json:"created_at"`
}

type GenerationConfig struct {
	Mode           GenerationMode `json:"mode"`
	Prompt         string         `json:"prompt"`
	MotionPrompt   *string        `json:"motion_prompt,omitempty"`
	NegativePrompt *string        `json:"negative_prompt,omitempty"`
	AspectRatio    AspectRatio    `json:"aspect_ratio"`
	Resolution     Resolution     `json:"resolution"`
	DurationSec    float64        `json:"duration_sec"`
	StartFrameURL  *string        `json:"start_frame_url,omitempty"`
	EndFrameURL    *string        `json:"end_frame_url,omitempty"`
	SourceVideoURL *string        `json:"source_video_url,omitempty"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	Confidence     int            `json:"confidence"` // 0-100, informational only
}

// IsApproved reports whether a user explicitly confirmed the config.
func (c GenerationConfig) IsApproved() bool {
	return c.ApprovalStatus == ApprovalUserApproved
}

// Validate checks enum fields and ranges of a user-supplied config.
func (c GenerationConfig) Validate() error {
	switch c.Mode {
	case ModeTextToVideo, ModeImageToVideo, ModeTextToImage, ModeUpload, ModeFrameToVideo, ModeExtend:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	switch c.AspectRatio {
	case AspectRatio16x9, AspectRatio9x16:
	default:
		return fmt.Errorf("invalid aspect ratio %q", c.AspectRatio)
	}
	switch c.Resolution {
	case Resolution720p, Resolution1080p:
	default:
		return fmt.Errorf("invalid resolution %q", c.Resolution)
	}
	switch c.ApprovalStatus {
	case ApprovalAutoReady, ApprovalUserApproved:
	default:
		return fmt.Errorf("invalid approval status %q", c.ApprovalStatus)
	}
	if c.DurationSec <= 0 {
		return fmt.Errorf("duration must be positive, got %v", c.DurationSec)
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		return fmt.Errorf("confidence must be within 0-100, got %d", c.Confidence)
	}
	if c.Mode == ModeFrameToVideo && hasURL(c.EndFrameURL) && !hasURL(c.StartFrameURL) {
		return fmt.Errorf("end frame requires a start frame")
	}
	return nil
}

func hasURL(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// DraftedConfig is the output of a segment config deriver.
type DraftedConfig struct {
	Config     GenerationConfig `json:"config"`
	Confidence int              `json:"confidence"`
}

// QueueItem is derived on every read and never stored.
type QueueItem struct {
	SegmentID     uuid.UUID        `json:"segment_id"`
	SequenceIndex int              `json:"sequence_index"`
	Config        GenerationConfig `json:"config"`
	ThumbnailURL  *string          `json:"thumbnail_url,omitempty"`
	Status        QueueItemStatus  `json:"status"`
	Error         *string          `json:"error,omitempty"`
}

type BatchRenderOptions struct {
	Mode     BatchMode     `json:"mode"`
	Priority BatchPriority `json:"priority"`
	Delay    time.Duration `json:"-"`
}

// BatchRunState is the observable state of the processor.
type BatchRunState struct {
	IsRendering      bool       `json:"is_rendering"`
	Progress         int        `json:"progress"`
	CurrentSegmentID *uuid.UUID `json:"current_segment_id,omitempty"`
	CompletedCount   int        `json:"completed_count"`
	FailedCount      int        `json:"failed_count"`
}

// GenerateOptions carries the resolved config into the external generation call.
type GenerateOptions struct {
	StartFrameURL    *string
	EndFrameURL      *string
	SourceVideoURL   *string
	Prompt           string
	NegativePrompt   *string
	DurationSec      float64
	AspectRatio      AspectRatio
	Resolution       Resolution
	GenerationMethod GenerationMode
}

// DTOs for API responses
type RenderQueueResponse struct {
	SceneID uuid.UUID     `json:"scene_id"`
	Queue   []QueueItem   `json:"queue"`
	State   BatchRunState `json:"state"`
}

type ProcessQueueRequest struct {
	Mode     BatchMode     `json:"mode"`
	Priority BatchPriority `json:"priority,omitempty"`
	DelayMs  *int          `json:"delay_ms,omitempty"`
}

type ProcessQueueResponse struct {
	SceneID  uuid.UUID `json:"scene_id"`
	Selected int       `json:"selected"`
	Status   string    `json:"status"`
}
