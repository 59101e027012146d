package extraction

import (
	"context"
	"sync"

	"github.com/STRATINT/eventfeed/internal/models"
)

// MockExtractor returns canned results keyed by post URL. It is used for dry runs
// and in tests of the stages that consume extractions.
type MockExtractor struct {
	mu       sync.Mutex
	results  map[string]Result
	fallback Result
	calls    []Request
}

// NewMockExtractor returns an extractor that answers every post with fallback
// unless a specific result was registered.
func NewMockExtractor(fallback Result) *MockExtractor {
	return &MockExtractor{
		results:  make(map[string]Result),
		fallback: fallback,
	}
}

// On registers the result for a post URL.
func (m *MockExtractor) On(postURL string, result Result) *MockExtractor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[postURL] = result
	return m
}

// Extract returns the registered result, copying the event so callers may mutate it.
func (m *MockExtractor) Extract(_ context.Context, req Request) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	result, ok := m.results[req.PostURL]
	if !ok {
		result = m.fallback
	}
	if result.Event != nil {
		event := *result.Event
		event.DJs = append([]models.Performer(nil), result.Event.DJs...)
		result.Event = &event
	}
	return result
}

// Name identifies the mock.
func (m *MockExtractor) Name() string {
	return "mock"
}

// Calls returns the requests seen so far.
func (m *MockExtractor) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}
