package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/snapsell/backend/internal/models"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4o

// OpenAI implements Provider against the OpenAI chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
	cfg    ProviderConfig
	logger *slog.Logger
}

// NewOpenAI builds an OpenAI provider. The API key is required; model and
// retry settings fall back to defaults.
func NewOpenAI(apiKey, model string, cfg ProviderConfig, logger *slog.Logger) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

// AnalyzeImage sends the photo as a data URL alongside the listing prompt
// and extracts the draft from the first choice.
func (o *OpenAI) AnalyzeImage(ctx context.Context, imageB64, mediaType string) (*models.ListingDraft, error) {
	if err := validateImage(imageB64, mediaType); err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    fmt.Sprintf("data:%s;base64,%s", mediaType, imageB64),
						Detail: openai.ImageURLDetailAuto,
					},
				},
				{
					Type: openai.ChatMessagePartTypeText,
					Text: listingPrompt,
				},
			},
		}},
		MaxTokens: 1024,
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	err := retryTransient(ctx, o.cfg, o.logger, func(ctx context.Context) error {
		var callErr error
		resp, callErr = o.client.CreateChatCompletion(ctx, req)
		if callErr != nil {
			return mapOpenAIError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: empty model response", ErrUnavailable)
	}

	payload, err := DecodePayload(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if err := ValidateDraft(payload); err != nil {
		o.logger.Warn("vision draft drifted from prompted schema", "provider", o.Name(), "error", err)
	}

	o.logger.Debug("vision request complete",
		"provider", o.Name(),
		"model", o.model,
		"input_tokens", resp.Usage.PromptTokens,
		"output_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start),
	)
	return NormalizeDraft(payload), nil
}

func mapOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return mapOpenAIStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return mapOpenAIStatus(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return ErrUnavailable
}

func mapOpenAIStatus(statusCode int, message string) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusRequestTimeout:
		return ErrTimeout
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidImage, message)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout,
		http.StatusInternalServerError:
		return ErrUnavailable
	default:
		return fmt.Errorf("openai API error (status %d): %s", statusCode, message)
	}
}
