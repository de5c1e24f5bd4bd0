package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// Per attempt. Rendered clips are large.
	uploadTimeout = 180 * time.Second

	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// Storage writes rendered clips to a Supabase Storage bucket.
type Storage struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
	logger     logrus.FieldLogger

	// retryDelay is swapped in tests.
	retryDelay func(attempt int) time.Duration
}

func New(url, serviceKey, bucket string, logger logrus.FieldLogger) *Storage {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Storage{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:     logger.WithField("component", "storage"),
		retryDelay: retryDelay,
	}
}

// statusError is a non-2xx answer from the storage API.
type statusError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upload failed with status %d: %s", e.status, truncate(e.body, 200))
}

// Upload stores data at objectPath and returns its public URL. Transient
// failures are retried with backoff; an existing object is replaced.
func (s *Storage) Upload(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	log := s.logger.WithFields(logrus.Fields{"path": objectPath, "bytes": len(data)})

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay(attempt)
			var se *statusError
			if errors.As(lastErr, &se) && se.retryAfter > delay {
				delay = min(se.retryAfter, maxRetryDelay)
			}
			log.Infof("[Storage] Upload retry %d/%d (waiting %v)", attempt, maxRetries, delay)

			select {
			case <-ctx.Done():
				return "", fmt.Errorf("upload cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = s.put(ctx, objectPath, data, contentType)
		if lastErr == nil {
			if attempt > 0 {
				log.Infof("[Storage] Upload succeeded on attempt %d", attempt+1)
			}
			return s.publicURL(objectPath), nil
		}
		if !retryable(lastErr) || ctx.Err() != nil {
			return "", lastErr
		}
		log.WithError(lastErr).Warnf("[Storage] Upload attempt %d failed", attempt+1)
	}

	return "", fmt.Errorf("upload failed after %d attempts: %w", maxRetries+1, lastErr)
}

// put makes a single upload attempt.
func (s *Storage) put(ctx context.Context, objectPath string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, objectPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &statusError{
		status:     resp.StatusCode,
		body:       string(body),
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func (s *Storage) publicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, objectPath)
}

// retryDelay is base * 2^(attempt-1), capped, plus up to 25% jitter.
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// retryable reports whether an upload error is transient: 408, 429, any 5xx,
// timeouts, and dropped or refused connections.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusRequestTimeout ||
			se.status == http.StatusTooManyRequests ||
			se.status >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

// parseRetryAfter reads the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
