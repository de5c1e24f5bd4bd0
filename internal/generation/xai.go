package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/sirupsen/logrus"
)

// xAI Grok Imagine follows a deferred request pattern:
// submit generation, poll by request_id, download.
const (
	xaiBaseURL           = "https://api.x.ai/v1"
	xaiVideoModel        = "grok-imagine-video"
	xaiInitialDelay      = 15 * time.Second // videos typically take 30-40s
	xaiPollMinInterval   = 5 * time.Second
	xaiPollMaxInterval   = 20 * time.Second
	xaiPollBackoffFactor = 1.5
	xaiMaxPollDuration   = 5 * time.Minute
	xaiMinDuration       = 1
	xaiMaxDuration       = 15
)

type XAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	downloader *http.Client
	logger     logrus.FieldLogger

	initialDelay time.Duration
	minInterval  time.Duration
	maxInterval  time.Duration
}

func NewXAIProvider(apiKey string, logger logrus.FieldLogger) *XAIProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &XAIProvider{
		apiKey:  apiKey,
		baseURL: xaiBaseURL,
		// Timeout for individual calls, not the full poll cycle
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		downloader:   newDownloadClient(),
		logger:       logger.WithFields(logrus.Fields{"component": "generation", "provider": "xai"}),
		initialDelay: xaiInitialDelay,
		minInterval:  xaiPollMinInterval,
		maxInterval:  xaiPollMaxInterval,
	}
}

func (p *XAIProvider) Name() string { return "xai" }

func (p *XAIProvider) Supports(genType models.GenerationType) bool {
	return genType == models.GenerationTypeTextToVideo || genType == models.GenerationTypeImageToVideo
}

// SupportsSourceVideo is false: Grok Imagine starts from a prompt or an image.
func (p *XAIProvider) SupportsSourceVideo() bool { return false }

type xaiGenerationRequest struct {
	Prompt      string         `json:"prompt"`
	Model       string         `json:"model"`
	Image       *xaiImageInput `json:"image,omitempty"`
	Duration    int            `json:"duration,omitempty"`
	AspectRatio string         `json:"aspect_ratio,omitempty"`
	Resolution  string         `json:"resolution,omitempty"`
}

type xaiImageInput struct {
	URL string `json:"url"`
}

type xaiGenerationResponse struct {
	RequestID string `json:"request_id"`
}

// xaiVideoResult is the response of GET /videos/{request_id}:
//   - pending: {"status":"pending"}
//   - completed: {"video":{"url":"...","duration":8},"model":"..."} with no status
//   - failed: {"status":"failed","error":"..."}
type xaiVideoResult struct {
	Status string          `json:"status"`
	Video  *xaiVideoOutput `json:"video,omitempty"`
	Error  string          `json:"error"`
}

type xaiVideoOutput struct {
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

func xaiDuration(d float64) int {
	n := int(math.Round(d))
	if n < xaiMinDuration {
		return xaiMinDuration
	}
	if n > xaiMaxDuration {
		return xaiMaxDuration
	}
	return n
}

// xaiResolution maps to what Grok Imagine renders: 720p or 480p.
func xaiResolution(models.Resolution) string {
	return "720p"
}

func (p *XAIProvider) buildRequest(req VideoRequest) xaiGenerationRequest {
	body := xaiGenerationRequest{
		Prompt:      req.Prompt,
		Model:       xaiVideoModel,
		Duration:    xaiDuration(req.DurationSec),
		AspectRatio: string(req.AspectRatio),
		Resolution:  xaiResolution(req.Resolution),
	}
	if req.NegativePrompt != "" {
		body.Prompt += "\n\nAvoid: " + req.NegativePrompt
	}
	if req.StartFrameURL != "" {
		body.Image = &xaiImageInput{URL: req.StartFrameURL}
	}
	return body
}

func (p *XAIProvider) GenerateVideo(ctx context.Context, req VideoRequest) ([]byte, error) {
	if req.SourceVideoURL != "" {
		return nil, ErrSourceVideoUnsupported
	}
	body := p.buildRequest(req)

	p.logger.Infof("[xAI Video] Starting video generation (promptLen=%d, hasImage=%v, duration=%ds, aspect=%s)",
		len(body.Prompt), body.Image != nil, body.Duration, body.AspectRatio)

	requestID, err := p.submitGeneration(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("failed to submit video generation: %w", err)
	}

	p.logger.Infof("[xAI Video] Generation submitted, request_id=%s", requestID)

	result, err := p.pollForResult(ctx, requestID)
	if err != nil {
		return nil, err
	}

	videoBytes, _, err := fetchMedia(ctx, p.downloader, result.Video.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to download generated video: %w", err)
	}

	p.logger.Infof("[xAI Video] Video downloaded successfully (%d bytes)", len(videoBytes))
	return videoBytes, nil
}

func (p *XAIProvider) submitGeneration(ctx context.Context, reqBody xaiGenerationRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/videos/generations", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	body, status, err := p.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return "", fmt.Errorf("xAI returned status %d: %s", status, string(body))
	}

	var genResp xaiGenerationResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse generation response: %w (body: %s)", err, string(body))
	}
	if genResp.RequestID == "" {
		return "", fmt.Errorf("no request_id in generation response: %s", string(body))
	}
	return genResp.RequestID, nil
}

// pollForResult polls with exponential backoff (x1.5, capped) after an
// initial wait, until the video is ready, failed, or the deadline passes.
func (p *XAIProvider) pollForResult(ctx context.Context, requestID string) (*xaiVideoResult, error) {
	deadline := time.Now().Add(xaiMaxPollDuration)
	pollCount := 0
	interval := p.minInterval

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("video generation cancelled during initial wait: %w", ctx.Err())
	case <-time.After(p.initialDelay):
	}

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("video generation timed out after %v (polled %d times, request_id=%s)", xaiMaxPollDuration, pollCount, requestID)
		}

		pollCount++
		result, err := p.getVideoResult(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll video result (attempt %d): %w", pollCount, err)
		}

		if result.Video != nil && result.Video.URL != "" {
			p.logger.Infof("[xAI Video] Poll %d: completed (duration=%ds)", pollCount, result.Video.Duration)
			return result, nil
		}

		if result.Status == "failed" {
			errMsg := result.Error
			if errMsg == "" {
				errMsg = "unknown error"
			}
			return nil, fmt.Errorf("video generation failed: %s (request_id=%s)", errMsg, requestID)
		}

		p.logger.Debugf("[xAI Video] Poll %d: status=%s (next poll in %v)", pollCount, result.Status, interval)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("video generation cancelled: %w", ctx.Err())
		case <-time.After(interval):
		}

		next := time.Duration(float64(interval) * xaiPollBackoffFactor)
		if next > p.maxInterval {
			next = p.maxInterval
		}
		interval = next
	}
}

func (p *XAIProvider) getVideoResult(ctx context.Context, requestID string) (*xaiVideoResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/videos/%s", p.baseURL, requestID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	body, status, err := p.do(req)
	if err != nil {
		return nil, err
	}
	// 202 with {"status":"pending"} while rendering
	if status != http.StatusOK && status != http.StatusAccepted {
		return nil, fmt.Errorf("xAI returned status %d: %s", status, string(body))
	}

	var result xaiVideoResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse video result: %w (body: %s)", err, string(body))
	}
	return &result, nil
}

func (p *XAIProvider) do(req *http.Request) ([]byte, int, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
