// Package eventmanager drives the extraction stage: it turns posts classified
// as event listings into validated, enriched and rendered events.
package eventmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/STRATINT/eventfeed/internal/datastore"
	"github.com/STRATINT/eventfeed/internal/extraction"
	"github.com/STRATINT/eventfeed/internal/logging"
	"github.com/STRATINT/eventfeed/internal/metrics"
	"github.com/STRATINT/eventfeed/internal/models"
	"github.com/STRATINT/eventfeed/internal/render"
)

// ErrQuotaExhausted stops an extraction batch. Every later call would fail the
// same way, so remaining posts are left untouched for a later run.
var ErrQuotaExhausted = errors.New("OpenAI API quota exceeded; stopping event extraction")

// PerformerEnricher resolves performer links for one post.
type PerformerEnricher interface {
	Enrich(ctx context.Context, djs []models.Performer, caption string) []models.Performer
}

// Config holds configuration for the extraction stage.
type Config struct {
	EventsDir      string
	Template       string
	RequiredFields RequiredFields
	// ClaimTimeout is the age after which another worker's post lock is
	// considered abandoned.
	ClaimTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		EventsDir:      "data/_events",
		RequiredFields: RequiredMinimal,
		ClaimTimeout:   30 * time.Minute,
	}
}

// Summary reports what one extraction pass did.
type Summary struct {
	Candidates int
	Succeeded  int
	Failed     int
	Deferred   int
}

// Manager runs extraction over the datastore.
type Manager struct {
	store     *datastore.Store
	extractor extraction.Extractor
	enricher  PerformerEnricher
	recorder  models.OutcomeRecorder
	metrics   *metrics.Collector
	config    Config
	logger    *slog.Logger
}

// NewManager creates the extraction stage. enricher may be nil.
func NewManager(
	store *datastore.Store,
	extractor extraction.Extractor,
	enricher PerformerEnricher,
	config Config,
	logger *slog.Logger,
) *Manager {
	if config.RequiredFields == "" {
		config.RequiredFields = RequiredMinimal
	}
	if config.ClaimTimeout <= 0 {
		config.ClaimTimeout = DefaultConfig().ClaimTimeout
	}
	return &Manager{
		store:     store,
		extractor: extractor,
		enricher:  enricher,
		config:    config,
		logger:    logger,
	}
}

// WithRecorder mirrors outcomes to a ledger.
func (m *Manager) WithRecorder(recorder models.OutcomeRecorder) *Manager {
	m.recorder = recorder
	return m
}

// WithMetrics records outcomes and billed calls on collector.
func (m *Manager) WithMetrics(collector *metrics.Collector) *Manager {
	m.metrics = collector
	return m
}

// Run extracts every pending event listing, one post at a time. It returns
// ErrQuotaExhausted as soon as the provider reports an exhausted budget and
// ctx.Err() when cancelled; posts already finished keep their state.
func (m *Manager) Run(ctx context.Context, runID string) (Summary, error) {
	start := time.Now()
	var summary Summary
	logger := logging.ForRun(m.logger, runID, models.StageExtract)

	posts, err := m.store.Posts()
	if err != nil {
		return summary, err
	}
	logger.Info("extraction started", "posts", len(posts), "extractor", m.extractor.Name())

	defer func() {
		m.metrics.ObserveStage(models.StageExtract, time.Since(start))
		logger.Info("extraction finished",
			"candidates", summary.Candidates,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"deferred", summary.Deferred,
			"duration", time.Since(start),
		)
	}()

	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !m.pending(logger, post) {
			continue
		}
		summary.Candidates++

		status, err := m.ProcessPost(ctx, runID, post)
		switch status {
		case models.StatusSuccess:
			summary.Succeeded++
		case models.StatusFailed:
			summary.Failed++
		default:
			summary.Deferred++
		}
		if err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// pending reports whether post is a captured, classified listing whose
// extraction has not reached a terminal state.
func (m *Manager) pending(logger *slog.Logger, post *datastore.PostStore) bool {
	if !post.Exists() || post.EventAlreadyProcessed() {
		return false
	}
	analysis, err := post.LoadAnalysis()
	if err != nil {
		if !errors.Is(err, datastore.ErrNotFound) {
			logger.Warn("ignoring unreadable analysis", "post", post.Key().String(), "error", err)
		}
		return false
	}
	return analysis.EventListing()
}

// ProcessPost runs extraction for one post and returns the outcome status:
// StatusSuccess, StatusFailed, or StatusSkipped when nothing was committed.
// The error is non-nil only for conditions that must stop the batch.
func (m *Manager) ProcessPost(ctx context.Context, runID string, post *datastore.PostStore) (string, error) {
	key := post.Key()
	logger := logging.ForRun(m.logger, runID, models.StageExtract).With("post", key.String())

	release, err := post.Claim(models.StageExtract, m.config.ClaimTimeout)
	if err != nil {
		if errors.Is(err, datastore.ErrClaimed) {
			logger.Info("post claimed by another worker")
			return models.StatusSkipped, nil
		}
		logger.Warn("failed to claim post", "error", err)
		return models.StatusSkipped, nil
	}
	defer release()

	if post.EventAlreadyProcessed() {
		return models.StatusSkipped, nil
	}

	record, err := post.LoadPost()
	if err != nil {
		logger.Warn("failed to load post", "error", err)
		return models.StatusSkipped, nil
	}
	images, err := post.Images()
	if err != nil {
		logger.Warn("failed to list images", "error", err)
	}

	result := m.extractor.Extract(ctx, extraction.Request{
		Caption:  record.CaptionText(),
		PostURL:  record.PostURL,
		PostDate: record.TakenAtText(),
		Author:   record.Username,
		Images:   images,
	})
	m.metrics.RecordExtraction(m.extractor.Name(), result.Failed())

	if len(result.Raw) > 0 {
		if err := post.SaveRawResponse(result.Raw); err != nil {
			logger.Warn("failed to save raw response", "error", err)
		}
	}

	if result.Failed() {
		if extraction.IsQuotaExhausted(result.Raw) {
			logger.Error("extraction quota exhausted", "reason", result.Err)
			return models.StatusSkipped, ErrQuotaExhausted
		}
		if err := ctx.Err(); err != nil {
			return models.StatusSkipped, err
		}
		if result.Transient {
			logger.Warn("extraction deferred after transient failure", "post_url", record.PostURL, "reason", result.Err)
			m.metrics.RecordOutcome(models.StageExtract, models.StatusSkipped)
			return models.StatusSkipped, nil
		}
		return m.fail(ctx, logger, runID, post, record.PostURL, result.Err)
	}

	event := *result.Event
	if m.enricher != nil {
		event.DJs = m.enricher.Enrich(ctx, event.DJs, record.CaptionText())
	}
	event.TicketOrInfoLink, event.TicketLinkType = ChooseTicketLink(record.PostURL, event.TicketOrInfoLink)

	if missing := m.config.RequiredFields.Missing(event); len(missing) > 0 {
		return m.fail(ctx, logger, runID, post, record.PostURL, missingFieldsReason(missing))
	}
	event.Date = strings.TrimSpace(event.Date)
	if reason := invalidDateReason(event.Date); reason != "" {
		return m.fail(ctx, logger, runID, post, record.PostURL, reason)
	}

	if err := post.SaveEvent(event); err != nil {
		return models.StatusSkipped, fmt.Errorf("failed to save event for %s: %w", key, err)
	}

	if path, err := render.Publish(m.config.EventsDir, m.config.Template, event, record.PostURL); err != nil {
		logger.Warn("failed to render event", "error", err)
	} else {
		m.metrics.RecordOutcome(models.StageRender, models.StatusSuccess)
		logger.Debug("event rendered", "path", path)
	}

	m.metrics.RecordOutcome(models.StageExtract, models.StatusSuccess)
	m.record(ctx, logger, models.StageOutcome{
		RunID:     runID,
		Handle:    key.Handle,
		ShortCode: key.ShortCode,
		Stage:     models.StageExtract,
		Status:    models.StatusSuccess,
	})
	logger.Info("event extraction succeeded", "post_url", record.PostURL, "event_name", event.EventName)
	return models.StatusSuccess, nil
}

func (m *Manager) fail(ctx context.Context, logger *slog.Logger, runID string, post *datastore.PostStore, postURL, reason string) (string, error) {
	key := post.Key()
	if err := post.MarkFailed(reason); err != nil {
		return models.StatusSkipped, fmt.Errorf("failed to mark %s failed: %w", key, err)
	}

	m.metrics.RecordOutcome(models.StageExtract, models.StatusFailed)
	m.record(ctx, logger, models.StageOutcome{
		RunID:     runID,
		Handle:    key.Handle,
		ShortCode: key.ShortCode,
		Stage:     models.StageExtract,
		Status:    models.StatusFailed,
		Reason:    reason,
	})
	logger.Info("event extraction failed", "post_url", postURL, "reason", reason)
	return models.StatusFailed, nil
}

func (m *Manager) record(ctx context.Context, logger *slog.Logger, outcome models.StageOutcome) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Record(ctx, outcome); err != nil {
		logger.Warn("failed to record outcome", "stage", outcome.Stage, "error", err)
	}
}
