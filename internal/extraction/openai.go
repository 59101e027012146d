package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/STRATINT/eventfeed/internal/ingestion"
)

// DefaultTimeout bounds a single extraction call.
const DefaultTimeout = 120 * time.Second

const samplingTemperature = 0.2

// OpenAIConfig configures the OpenAI extractor.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxImages int
	Retry     ingestion.RetryPolicy
}

// OpenAIExtractor extracts events with the chat completions API.
type OpenAIExtractor struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

// NewOpenAIExtractor creates an extractor. An empty BaseURL uses the public API.
func NewOpenAIExtractor(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIExtractor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = recordingDoer{client: &http.Client{Timeout: cfg.Timeout}}

	return &OpenAIExtractor{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Name identifies the provider and model.
func (e *OpenAIExtractor) Name() string {
	return "openai/" + e.cfg.Model
}

// Extract prompts the model with the post and parses the reply.
func (e *OpenAIExtractor) Extract(ctx context.Context, req Request) Result {
	start := time.Now()
	e.logger.Debug("extraction started", "post_url", req.PostURL, "model", e.cfg.Model)

	request := e.buildRequest(req)

	var result Result
	err := ingestion.Retry(ctx, e.cfg.Retry, func() error {
		var retry bool
		result, retry = e.call(ctx, request)
		if retry {
			return ingestion.NewRetryableError(errors.New(result.Err))
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		result = failure(fmt.Sprintf("extraction cancelled: %v", ctx.Err()), result.Raw)
	}
	result.Transient = err != nil

	e.logger.Debug("extraction finished",
		"post_url", req.PostURL,
		"duration", time.Since(start),
		"failed", result.Failed(),
	)
	return result
}

func (e *OpenAIExtractor) buildRequest(req Request) openai.ChatCompletionRequest {
	parts := make([]openai.ChatMessagePart, 0, 6+DefaultMaxImages)
	for _, text := range textParts(req) {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: text,
		})
	}
	for _, image := range loadImages(req.Images, e.cfg.MaxImages) {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    image.DataURL(),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	return openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		Temperature: samplingTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
	}
}

// call performs one round trip and reports whether a failure is transient.
func (e *OpenAIExtractor) call(ctx context.Context, request openai.ChatCompletionRequest) (Result, bool) {
	apiCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	apiCtx, ex := withExchange(apiCtx)

	resp, err := e.client.CreateChatCompletion(apiCtx, request)
	if err != nil {
		if ex.status != 0 && ex.status != http.StatusOK {
			reason := fmt.Sprintf("OpenAI API error %d: %s", ex.status, compactRaw(ex.body))
			return failure(reason, ex.body), transient(ex.status) && !IsQuotaExhausted(ex.body)
		}
		if ex.status == 0 {
			return failure(fmt.Sprintf("OpenAI request failed: %v", err), nil), ctx.Err() == nil
		}
		return failure(fmt.Sprintf("OpenAI response invalid: %v", err), ex.body), false
	}

	if len(resp.Choices) == 0 {
		return failure(ParseFailure, ex.body), false
	}
	event, ok := ParseEvent(resp.Choices[0].Message.Content)
	if !ok {
		return failure(ParseFailure, ex.body), false
	}
	return Result{Event: event, Raw: ex.body}, false
}
