package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/snapsell/backend/internal/models"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"

	// DefaultAnthropicModel is used when no model is configured.
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
)

// Anthropic implements Provider against the Anthropic Messages API.
type Anthropic struct {
	apiKey  string
	model   string
	baseURL string
	cfg     ProviderConfig
	client  *http.Client
	logger  *slog.Logger
}

// NewAnthropic builds an Anthropic provider. The API key is required; model
// and retry settings fall back to defaults.
func NewAnthropic(apiKey, model string, cfg ProviderConfig, logger *slog.Logger) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Anthropic{
		apiKey:  apiKey,
		model:   model,
		baseURL: anthropicBaseURL,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

// AnalyzeImage sends the photo and the listing prompt to Claude and extracts
// the draft from its answer. Transient failures are retried with backoff.
func (a *Anthropic) AnalyzeImage(ctx context.Context, imageB64, mediaType string) (*models.ListingDraft, error) {
	if err := validateImage(imageB64, mediaType); err != nil {
		return nil, err
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: 1024,
		Messages: []anthropicMessage{{
			Role: "user",
			Content: []anthropicContent{
				{Type: "image", Source: &anthropicImageSource{Type: "base64", MediaType: mediaType, Data: imageB64}},
				{Type: "text", Text: listingPrompt},
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	var resp anthropicResponse
	err = retryTransient(ctx, a.cfg, a.logger, func(ctx context.Context) error {
		return a.execute(ctx, body, &resp)
	})
	if err != nil {
		return nil, err
	}

	var text string
	for _, c := range resp.Content {
		if c.Type == "text" {
			text = c.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty model response", ErrUnavailable)
	}

	payload, err := DecodePayload(text)
	if err != nil {
		return nil, err
	}
	if err := ValidateDraft(payload); err != nil {
		a.logger.Warn("vision draft drifted from prompted schema", "provider", a.Name(), "error", err)
	}

	a.logger.Debug("vision request complete",
		"provider", a.Name(),
		"model", a.model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", time.Since(start),
	)
	return NormalizeDraft(payload), nil
}

// execute performs one HTTP exchange. A fresh request is built per attempt
// so retries never reuse a consumed body.
func (a *Anthropic) execute(ctx context.Context, body []byte, out *anthropicResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrUnavailable
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return mapAnthropicError(resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func mapAnthropicError(statusCode int, body []byte) error {
	var errResp anthropicErrorResponse
	_ = json.Unmarshal(body, &errResp)

	switch statusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusRequestTimeout:
		return ErrTimeout
	case http.StatusBadRequest:
		if errResp.Error.Type == "invalid_request_error" {
			return fmt.Errorf("%w: %s", ErrInvalidImage, errResp.Error.Message)
		}
		return fmt.Errorf("bad request: %s", errResp.Error.Message)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout,
		http.StatusInternalServerError, 529: // 529 is Anthropic's overloaded_error
		return ErrUnavailable
	default:
		return fmt.Errorf("anthropic API error (status %d): %s", statusCode, errResp.Error.Message)
	}
}

func validateImage(imageB64, mediaType string) error {
	if imageB64 == "" {
		return fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if base64.StdEncoding.DecodedLen(len(imageB64)) > MaxImageSize {
		return fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidImage, MaxImageSize)
	}
	switch mediaType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return nil
	default:
		return fmt.Errorf("%w: unsupported media type %q", ErrInvalidImage, mediaType)
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
