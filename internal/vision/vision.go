// Package vision turns a product photo into a listing draft using a
// multimodal model. Providers share one interface so the rest of the app
// never knows which vendor is behind it.
package vision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/snapsell/backend/internal/models"
)

// Provider analyzes a single product photo and returns a normalized draft.
// Implementations must classify failures with the sentinel errors below so
// callers can decide what is worth retrying or refunding.
type Provider interface {
	// Name identifies the provider in logs and metrics ("openai",
	// "anthropic", "mock").
	Name() string

	// AnalyzeImage sends the base64-encoded image to the model and returns
	// the extracted listing draft. Fields the model could not infer are
	// empty strings, never placeholders.
	AnalyzeImage(ctx context.Context, imageB64, mediaType string) (*models.ListingDraft, error)
}

// ProviderConfig carries the knobs shared by every real provider.
type ProviderConfig struct {
	MaxRetries     int           // attempts for transient errors, including the first
	RetryBaseDelay time.Duration // base delay for exponential backoff
	RequestTimeout time.Duration // per-request HTTP timeout
}

func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 1 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

// MaxImageSize is the largest decoded image the providers accept (20MB).
const MaxImageSize = 20 * 1024 * 1024

var (
	// ErrRateLimited indicates the vendor rate limit has been exceeded.
	ErrRateLimited = errors.New("vision provider rate limit exceeded")

	// ErrInvalidImage indicates the image format, size, or content was rejected.
	ErrInvalidImage = errors.New("invalid image format or content")

	// ErrTimeout indicates the request timed out.
	ErrTimeout = errors.New("vision request timed out")

	// ErrUnavailable indicates the vendor is temporarily unreachable or broken.
	ErrUnavailable = errors.New("vision provider temporarily unavailable")

	// ErrUnauthorized indicates the API key was rejected.
	ErrUnauthorized = errors.New("vision provider authentication failed")

	// ErrInvalidResponse indicates the model answered but the answer holds
	// no usable JSON object. Not retryable: the model is confused, not down.
	ErrInvalidResponse = errors.New("vision response contained no usable listing")
)

// IsRetryable reports whether err is transient and worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable)
}

// retryTransient runs fn up to cfg.MaxRetries times with exponential backoff
// (base * 2^(attempt-1)), retrying only errors IsRetryable accepts. The
// context cancels the wait between attempts.
func retryTransient(ctx context.Context, cfg ProviderConfig, logger *slog.Logger, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		delay := cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
		if logger != nil {
			logger.Info("retrying vision request", "attempt", attempt, "delay", delay, "error", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
