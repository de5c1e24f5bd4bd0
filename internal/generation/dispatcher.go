package generation

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrUnsupportedType is returned when no provider handles a generation type.
var ErrUnsupportedType = errors.New("no provider supports generation type")

// failureWriteTimeout bounds the error write after a failed or aborted call.
const failureWriteTimeout = 10 * time.Second

// SegmentWriter records segment lifecycle changes.
type SegmentWriter interface {
	MarkSegmentGenerating(ctx context.Context, segmentID uuid.UUID) error
	CompleteSegmentVideo(ctx context.Context, asset *models.Asset) error
	FailSegment(ctx context.Context, segmentID uuid.UUID, message string) error
}

// Uploader stores a rendered clip and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)
}

// clipPath names a segment's rendered clip. The render start time keeps
// earlier renders addressable from the asset history.
func clipPath(sceneID, segmentID uuid.UUID, at time.Time) string {
	return path.Join("scenes", sceneID.String(), "segments", segmentID.String(), fmt.Sprintf("%d.mp4", at.Unix()))
}

// Dispatcher runs one segment through a provider and writes the result back
// to the segment. It returns an error whenever the segment ends in error.
type Dispatcher struct {
	segments  SegmentWriter
	uploader  Uploader
	providers []Provider
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewDispatcher returns nil when no provider is configured so callers can
// treat a missing dispatcher as "generation not configured".
func NewDispatcher(segments SegmentWriter, uploader Uploader, logger logrus.FieldLogger, providers ...Provider) *Dispatcher {
	var active []Provider
	for _, p := range providers {
		if p != nil {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return nil
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		segments:  segments,
		uploader:  uploader,
		providers: active,
		logger:    logger.WithField("component", "dispatcher"),
		now:       time.Now,
	}
}

// ProviderNames lists the configured providers in preference order.
func (d *Dispatcher) ProviderNames() []string {
	names := make([]string, len(d.providers))
	for i, p := range d.providers {
		names[i] = p.Name()
	}
	return names
}

// providerFor picks the first provider that handles genType and, when the
// request carries a source video, can extend it.
func (d *Dispatcher) providerFor(genType models.GenerationType, req VideoRequest) Provider {
	for _, p := range d.providers {
		if !p.Supports(genType) {
			continue
		}
		if req.SourceVideoURL != "" && !p.SupportsSourceVideo() {
			continue
		}
		return p
	}
	return nil
}

func (d *Dispatcher) Generate(ctx context.Context, sceneID, segmentID uuid.UUID, genType models.GenerationType, opts models.GenerateOptions) error {
	log := d.logger.WithFields(logrus.Fields{
		"scene_id":   sceneID,
		"segment_id": segmentID,
		"type":       genType,
		"method":     opts.GenerationMethod,
	})

	req := requestFromOptions(opts)
	if err := checkReferences(genType, opts.GenerationMethod, req); err != nil {
		d.fail(ctx, log, segmentID, err)
		return err
	}

	provider := d.providerFor(genType, req)
	if provider == nil {
		err := fmt.Errorf("%w: %s", ErrUnsupportedType, genType)
		if req.SourceVideoURL != "" {
			err = fmt.Errorf("%w: %s with source video", ErrUnsupportedType, genType)
		}
		d.fail(ctx, log, segmentID, err)
		return err
	}

	if err := d.segments.MarkSegmentGenerating(ctx, segmentID); err != nil {
		return fmt.Errorf("failed to mark segment generating: %w", err)
	}

	start := d.now()
	log.Infof("Generating segment with %s", provider.Name())

	videoBytes, err := provider.GenerateVideo(ctx, req)
	if err != nil {
		err = fmt.Errorf("%s generation failed: %w", provider.Name(), err)
		d.fail(ctx, log, segmentID, err)
		return err
	}

	objectPath := clipPath(sceneID, segmentID, start)
	publicURL, err := d.uploader.Upload(ctx, objectPath, videoBytes, "video/mp4")
	if err != nil {
		err = fmt.Errorf("failed to upload video: %w", err)
		d.fail(ctx, log, segmentID, err)
		return err
	}

	asset := &models.Asset{
		ID:          uuid.New(),
		SceneID:     sceneID,
		SegmentID:   segmentID,
		Kind:        models.AssetKindVideo,
		StoragePath: objectPath,
		PublicURL:   publicURL,
		ContentType: "video/mp4",
		ByteSize:    int64(len(videoBytes)),
		Metadata: models.JSONB{
			"provider":          provider.Name(),
			"generation_type":   string(genType),
			"generation_method": string(opts.GenerationMethod),
			"duration_sec":      opts.DurationSec,
		},
	}
	if err := d.segments.CompleteSegmentVideo(ctx, asset); err != nil {
		err = fmt.Errorf("failed to record video: %w", err)
		d.fail(ctx, log, segmentID, err)
		return err
	}

	log.WithFields(logrus.Fields{
		"bytes":    len(videoBytes),
		"duration": d.now().Sub(start).Round(time.Millisecond),
	}).Info("Segment video complete")
	return nil
}

// fail writes the error to the segment even when ctx is already cancelled.
func (d *Dispatcher) fail(ctx context.Context, log logrus.FieldLogger, segmentID uuid.UUID, cause error) {
	log.WithError(cause).Error("Segment generation failed")

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := d.segments.FailSegment(writeCtx, segmentID, cause.Error()); err != nil {
		log.WithError(err).Error("Failed to record segment error")
	}
}
