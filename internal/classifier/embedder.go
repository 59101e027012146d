package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/STRATINT/eventfeed/internal/ingestion"
)

// HTTPEmbedder scores images through an image/text embedding service.
//
// The service receives {"image": <base64>, "filename", "event_prompts",
// "non_event_prompts"} and answers with the mean cosine similarities
// {"event_similarity": x, "non_event_similarity": y}.
type HTTPEmbedder struct {
	url        string
	httpClient *http.Client
	retry      ingestion.RetryPolicy
	logger     *slog.Logger
}

// NewHTTPEmbedder creates an embedder that posts to url.
func NewHTTPEmbedder(url string, timeout time.Duration, logger *slog.Logger) *HTTPEmbedder {
	return &HTTPEmbedder{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry:  ingestion.DefaultRetryPolicy(),
		logger: logger,
	}
}

// WithRetryPolicy overrides the retry policy.
func (e *HTTPEmbedder) WithRetryPolicy(policy ingestion.RetryPolicy) *HTTPEmbedder {
	e.retry = policy
	return e
}

type embedRequest struct {
	Image           string   `json:"image"`
	Filename        string   `json:"filename"`
	EventPrompts    []string `json:"event_prompts"`
	NonEventPrompts []string `json:"non_event_prompts"`
}

// ScoreImage returns event similarity minus non-event similarity for one image.
func (e *HTTPEmbedder) ScoreImage(ctx context.Context, imagePath string, eventPrompts, nonEventPrompts []string) (float64, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read image: %w", err)
	}

	body, err := json.Marshal(embedRequest{
		Image:           base64.StdEncoding.EncodeToString(data),
		Filename:        filepath.Base(imagePath),
		EventPrompts:    eventPrompts,
		NonEventPrompts: nonEventPrompts,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	var delta float64
	err = ingestion.Retry(ctx, e.retry, func() error {
		var callErr error
		delta, callErr = e.post(ctx, body)
		return callErr
	})
	if err != nil {
		return 0, err
	}
	return delta, nil
}

func (e *HTTPEmbedder) post(ctx context.Context, body []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, ingestion.NewRetryableError(fmt.Errorf("embedding request failed: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, ingestion.StatusError(resp, fmt.Errorf("embedding API error: %d - %s", resp.StatusCode, string(payload)))
	}

	event := gjson.GetBytes(payload, "event_similarity")
	nonEvent := gjson.GetBytes(payload, "non_event_similarity")
	if !event.Exists() || !nonEvent.Exists() {
		return 0, fmt.Errorf("embedding response missing similarities: %s", string(payload))
	}

	e.logger.Debug("image embedded",
		"event_similarity", event.Float(),
		"non_event_similarity", nonEvent.Float(),
	)
	return event.Float() - nonEvent.Float(), nil
}
