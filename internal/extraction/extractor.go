// Package extraction turns a post's caption and images into a structured event
// by prompting a multimodal language model.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/STRATINT/eventfeed/internal/models"
)

// Extractor asks a language model for the event described by one post.
//
// Extract never returns a Go error: every outcome, including transport failures,
// is reported through Result so the caller can persist the raw response and
// record a failure reason.
type Extractor interface {
	Extract(ctx context.Context, req Request) Result
	Name() string
}

// Request carries everything the model sees about a post.
type Request struct {
	Caption  string
	PostURL  string
	PostDate string
	Author   string
	Images   []string
}

// Result is the outcome of one extraction call. Exactly one of Event and Err is set.
// Raw holds the provider's response body when one was received. Transient marks
// a failure that outlived its retries or was cancelled; a later run may succeed.
type Result struct {
	Event     *models.Event
	Err       string
	Raw       []byte
	Transient bool
}

// Failed reports whether the call produced no event.
func (r Result) Failed() bool {
	return r.Event == nil
}

func failure(reason string, raw []byte) Result {
	return Result{Err: reason, Raw: raw}
}

// ParseFailure is the reason recorded when the model's text holds no usable JSON object.
const ParseFailure = "Unable to parse JSON from response"

// ParseEvent decodes the model's reply. The whole text is tried first, then the
// span from the first "{" to the last "}". Empty objects are rejected.
func ParseEvent(text string) (*models.Event, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	if event, ok := decodeObject(text); ok {
		return event, true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, false
	}
	return decodeObject(text[start : end+1])
}

func decodeObject(text string) (*models.Event, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil || len(fields) == 0 {
		return nil, false
	}
	var event models.Event
	if err := json.Unmarshal([]byte(text), &event); err != nil {
		return nil, false
	}
	return &event, true
}

// IsQuotaExhausted reports whether a raw provider response signals that the
// account has run out of credit. Retrying such a call cannot succeed.
func IsQuotaExhausted(raw []byte) bool {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return false
	}
	if gjson.GetBytes(raw, "error.code").String() == "insufficient_quota" {
		return true
	}
	message := strings.ToLower(gjson.GetBytes(raw, "error.message").String())
	return strings.Contains(message, "credit balance is too low")
}

// compactRaw renders a response body on one line for failure reasons.
func compactRaw(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}
