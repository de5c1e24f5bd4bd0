// Package generation implements the external generation call the render
// queue drives: a Dispatcher that runs one segment through a video provider
// and records the outcome on the segment.
package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bobarin/sceneflow/internal/models"
)

// VideoRequest is what a provider needs to render one clip.
type VideoRequest struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    models.AspectRatio
	Resolution     models.Resolution
	DurationSec    float64
	StartFrameURL  string
	EndFrameURL    string
	SourceVideoURL string
}

var (
	// ErrMissingReference is returned when a request lacks the frame or
	// video its generation method renders from.
	ErrMissingReference = errors.New("missing generation reference")

	// ErrSourceVideoUnsupported is returned by providers that cannot
	// extend an existing clip.
	ErrSourceVideoUnsupported = errors.New("provider cannot extend a source video")
)

// Provider renders a clip and returns the MP4 bytes.
type Provider interface {
	Name() string
	Supports(genType models.GenerationType) bool
	// SupportsSourceVideo reports whether the provider can extend a clip.
	SupportsSourceVideo() bool
	GenerateVideo(ctx context.Context, req VideoRequest) ([]byte, error)
}

// checkReferences rejects requests that would otherwise render as plain
// text-to-video.
func checkReferences(genType models.GenerationType, method models.GenerationMode, req VideoRequest) error {
	if method == models.ModeExtend && req.SourceVideoURL == "" {
		return fmt.Errorf("%w: %s needs a source video", ErrMissingReference, method)
	}
	if genType == models.GenerationTypeImageToVideo && req.StartFrameURL == "" && req.SourceVideoURL == "" {
		return fmt.Errorf("%w: %s needs a start frame", ErrMissingReference, method)
	}
	return nil
}

func requestFromOptions(opts models.GenerateOptions) VideoRequest {
	return VideoRequest{
		Prompt:         opts.Prompt,
		NegativePrompt: deref(opts.NegativePrompt),
		AspectRatio:    opts.AspectRatio,
		Resolution:     opts.Resolution,
		DurationSec:    opts.DurationSec,
		StartFrameURL:  deref(opts.StartFrameURL),
		EndFrameURL:    deref(opts.EndFrameURL),
		SourceVideoURL: deref(opts.SourceVideoURL),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// fetchMedia downloads a frame or video reference.
func fetchMedia(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download of %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media data: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("downloaded media is empty (0 bytes)")
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

func newDownloadClient() *http.Client {
	// Videos can be large
	return &http.Client{Timeout: 120 * time.Second}
}
