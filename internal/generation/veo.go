package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const (
	defaultVeoModel    = "veo-3.1-generate-preview"
	veoPollInterval    = 10 * time.Second
	veoMaxPollDuration = 6 * time.Minute
)

// VeoProvider renders clips with Google's Veo models. Start and end frames
// are downloaded and sent inline as first and last frame; a source video is
// sent inline for extension.
type VeoProvider struct {
	apiKey     string
	model      string
	downloader *http.Client
	logger     logrus.FieldLogger
}

func NewVeoProvider(apiKey, model string, logger logrus.FieldLogger) *VeoProvider {
	if model == "" {
		model = defaultVeoModel
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &VeoProvider{
		apiKey:     apiKey,
		model:      model,
		downloader: newDownloadClient(),
		logger:     logger.WithFields(logrus.Fields{"component": "generation", "provider": "veo"}),
	}
}

func (p *VeoProvider) Name() string { return "veo" }

func (p *VeoProvider) SupportsSourceVideo() bool { return true }

func (p *VeoProvider) Supports(genType models.GenerationType) bool {
	return genType == models.GenerationTypeTextToVideo || genType == models.GenerationTypeImageToVideo
}

// veoDurationSeconds snaps a requested duration to the lengths Veo accepts.
func veoDurationSeconds(d float64) int32 {
	switch {
	case d <= 0:
		return 8
	case d <= 5:
		return 4
	case d <= 7:
		return 6
	default:
		return 8
	}
}

func buildVeoConfig(req VideoRequest) *genai.GenerateVideosConfig {
	duration := veoDurationSeconds(req.DurationSec)
	resolution := string(req.Resolution)
	if resolution == "" {
		resolution = string(models.Resolution720p)
	}
	aspect := string(req.AspectRatio)
	if aspect == "" {
		aspect = string(models.AspectRatio16x9)
	}
	return &genai.GenerateVideosConfig{
		AspectRatio:      aspect,
		Resolution:       resolution,
		DurationSeconds:  &duration,
		NegativePrompt:   req.NegativePrompt,
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}
}

// buildSource downloads the references the request names. A source video
// makes this an extension, which takes neither first nor last frame.
func (p *VeoProvider) buildSource(ctx context.Context, req VideoRequest, config *genai.GenerateVideosConfig) (*genai.GenerateVideosSource, error) {
	source := &genai.GenerateVideosSource{Prompt: req.Prompt}

	if req.SourceVideoURL != "" {
		data, mimeType, err := fetchMedia(ctx, p.downloader, req.SourceVideoURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch source video: %w", err)
		}
		if !strings.HasPrefix(mimeType, "video/") {
			mimeType = "video/mp4"
		}
		source.Video = &genai.Video{VideoBytes: data, MIMEType: mimeType}
		if req.StartFrameURL != "" || req.EndFrameURL != "" {
			p.logger.Warn("[Veo] Frames are ignored when extending a source video")
		}
		return source, nil
	}

	if req.StartFrameURL != "" {
		data, mimeType, err := fetchMedia(ctx, p.downloader, req.StartFrameURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch start frame: %w", err)
		}
		source.Image = &genai.Image{ImageBytes: data, MIMEType: mimeType}
	}

	if req.EndFrameURL != "" {
		if source.Image == nil {
			p.logger.Warn("[Veo] End frame ignored without a start frame")
			return source, nil
		}
		data, mimeType, err := fetchMedia(ctx, p.downloader, req.EndFrameURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch end frame: %w", err)
		}
		config.LastFrame = &genai.Image{ImageBytes: data, MIMEType: mimeType}
	}
	return source, nil
}

func (p *VeoProvider) GenerateVideo(ctx context.Context, req VideoRequest) ([]byte, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	config := buildVeoConfig(req)
	source, err := p.buildSource(ctx, req, config)
	if err != nil {
		return nil, err
	}

	p.logger.Infof("[Veo] Starting video generation (model=%s, promptLen=%d, firstFrame=%v, lastFrame=%v, sourceVideo=%v, duration=%ds, aspect=%s)",
		p.model, len(req.Prompt), source.Image != nil, config.LastFrame != nil, source.Video != nil, *config.DurationSeconds, config.AspectRatio)

	operation, err := client.Models.GenerateVideosFromSource(ctx, p.model, source, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start video generation: %w", err)
	}

	p.logger.Infof("[Veo] Operation started: %s", operation.Name)

	deadline := time.Now().Add(veoMaxPollDuration)
	pollCount := 0
	for !operation.Done {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("video generation timed out after %v (polled %d times)", veoMaxPollDuration, pollCount)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("video generation cancelled: %w", ctx.Err())
		case <-time.After(veoPollInterval):
		}

		pollCount++
		operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to poll operation (attempt %d): %w", pollCount, err)
		}

		p.logger.Debugf("[Veo] Poll %d: done=%v", pollCount, operation.Done)
	}

	if len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return nil, fmt.Errorf("video generation operation failed: %s", string(errJSON))
	}

	if operation.Response == nil {
		return nil, fmt.Errorf("no response in completed operation after %d polls (operation: %s)", pollCount, operation.Name)
	}

	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return nil, fmt.Errorf("video blocked by safety filters: %d video(s) filtered, reasons: %s", operation.Response.RAIMediaFilteredCount, reasons)
	}

	if len(operation.Response.GeneratedVideos) == 0 || operation.Response.GeneratedVideos[0].Video == nil {
		return nil, fmt.Errorf("no videos in response (operation: %s)", operation.Name)
	}

	videoBytes, err := client.Files.Download(ctx, genai.NewDownloadURIFromVideo(operation.Response.GeneratedVideos[0].Video), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download generated video: %w", err)
	}
	if len(videoBytes) == 0 {
		return nil, fmt.Errorf("downloaded video is empty (0 bytes)")
	}

	p.logger.Infof("[Veo] Video generated successfully (%d bytes, %d polls)", len(videoBytes), pollCount)
	return videoBytes, nil
}
