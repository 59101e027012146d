package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/STRATINT/eventfeed/internal/ingestion"
)

// AnthropicConfig configures the Anthropic extractor.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxImages int
	Retry     ingestion.RetryPolicy
}

// AnthropicExtractor extracts events with the Messages API.
type AnthropicExtractor struct {
	client anthropic.Client
	cfg    AnthropicConfig
	logger *slog.Logger
}

// NewAnthropicExtractor creates an extractor. Retries are handled here, not by the SDK.
func NewAnthropicExtractor(cfg AnthropicConfig, logger *slog.Logger) (*AnthropicExtractor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithMiddleware(func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
			resp, err := next(req)
			if err != nil {
				return resp, err
			}
			if err := record(req, resp); err != nil {
				return nil, err
			}
			return resp, nil
		}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicExtractor{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Name identifies the provider and model.
func (e *AnthropicExtractor) Name() string {
	return "anthropic/" + e.cfg.Model
}

// Extract prompts the model with the post and parses the reply.
func (e *AnthropicExtractor) Extract(ctx context.Context, req Request) Result {
	start := time.Now()
	e.logger.Debug("extraction started", "post_url", req.PostURL, "model", e.cfg.Model)

	params := e.buildParams(req)

	var result Result
	err := ingestion.Retry(ctx, e.cfg.Retry, func() error {
		var retry bool
		result, retry = e.call(ctx, params)
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

func (e *AnthropicExtractor) buildParams(req Request) anthropic.MessageNewParams {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 6+DefaultMaxImages)
	for _, text := range textParts(req) {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	for _, image := range loadImages(req.Images, e.cfg.MaxImages) {
		blocks = append(blocks, anthropic.NewImageBlockBase64(image.MediaType, image.Data))
	}

	return anthropic.MessageNewParams{
		Model:       anthropic.Model(e.cfg.Model),
		MaxTokens:   2048,
		Temperature: anthropic.Float(samplingTemperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	}
}

func (e *AnthropicExtractor) call(ctx context.Context, params anthropic.MessageNewParams) (Result, bool) {
	apiCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	apiCtx, ex := withExchange(apiCtx)

	message, err := e.client.Messages.New(apiCtx, params)
	if err != nil {
		if ex.status != 0 && ex.status != http.StatusOK {
			reason := fmt.Sprintf("Anthropic API error %d: %s", ex.status, compactRaw(ex.body))
			return failure(reason, ex.body), transient(ex.status) && !IsQuotaExhausted(ex.body)
		}
		if ex.status == 0 {
			return failure(fmt.Sprintf("Anthropic request failed: %v", err), nil), ctx.Err() == nil
		}
		return failure(fmt.Sprintf("Anthropic response invalid: %v", err), ex.body), false
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	event, ok := ParseEvent(text.String())
	if !ok {
		return failure(ParseFailure, ex.body), false
	}
	return Result{Event: event, Raw: ex.body}, false
}
