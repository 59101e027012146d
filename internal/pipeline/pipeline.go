// Package pipeline wires the capture, classification and extraction stages into
// one resumable run over the datastore.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/STRATINT/eventfeed/internal/datastore"
	"github.com/STRATINT/eventfeed/internal/eventmanager"
	"github.com/STRATINT/eventfeed/internal/ingestion"
	"github.com/STRATINT/eventfeed/internal/logging"
	"github.com/STRATINT/eventfeed/internal/metrics"
	"github.com/STRATINT/eventfeed/internal/progress"
)

// ErrAlreadyRunning is returned when a run is requested while one is active.
var ErrAlreadyRunning = errors.New("pipeline already running")

// Stages are the components of a full run. Capture may be nil when no
// Instagram session is configured; the run then works on what is stored.
type Stages struct {
	Capture  *ingestion.Capture
	Accounts string
	Classify *ClassifyStage
	Extract  *eventmanager.Manager
}

// RunSummary reports one full run.
type RunSummary struct {
	RunID    string
	Capture  ingestion.CaptureSummary
	Classify ClassifySummary
	Extract  eventmanager.Summary
	Progress progress.Counts
}

// Pipeline runs the stages in order.
type Pipeline struct {
	stages    Stages
	store     *datastore.Store
	eventsDir string
	metrics   *metrics.Collector
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a pipeline over store. eventsDir is where rendered events land.
func New(stages Stages, store *datastore.Store, eventsDir string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		stages:    stages,
		store:     store,
		eventsDir: eventsDir,
		logger:    logger,
	}
}

// WithMetrics publishes corpus gauges after each run.
func (p *Pipeline) WithMetrics(collector *metrics.Collector) *Pipeline {
	p.metrics = collector
	return p
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Run captures, classifies and extracts with a fresh run ID. Capture failures
// of single accounts do not stop the run; a quota failure stops extraction and
// is returned after progress is refreshed.
func (p *Pipeline) Run(ctx context.Context) (RunSummary, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return RunSummary{}, ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	summary := RunSummary{RunID: NewRunID()}
	logger := logging.ForRun(p.logger, summary.RunID, "pipeline")
	start := time.Now()
	logger.Info("pipeline run started")

	runErr := p.runStages(ctx, &summary, logger)

	counts, err := progress.Collect(p.store, p.eventsDir)
	if err != nil {
		logger.Warn("failed to collect progress", "error", err)
	} else {
		summary.Progress = counts
		progress.Publish(p.metrics, counts)
	}
	p.metrics.MarkRunFinished(time.Now())

	if runErr != nil {
		logger.Error("pipeline run stopped", "error", runErr, "duration", time.Since(start))
		return summary, runErr
	}
	logger.Info("pipeline run finished", "duration", time.Since(start))
	return summary, nil
}

func (p *Pipeline) runStages(ctx context.Context, summary *RunSummary, logger *slog.Logger) error {
	if p.stages.Capture != nil {
		accounts, err := ingestion.LoadAccounts(p.stages.Accounts)
		if err != nil {
			return fmt.Errorf("failed to load accounts: %w", err)
		}
		summary.Capture, err = p.stages.Capture.Run(ctx, summary.RunID, accounts)
		if err != nil {
			return err
		}
	} else {
		logger.Info("capture disabled, working on stored posts")
	}

	if p.stages.Classify != nil {
		var err error
		summary.Classify, err = p.stages.Classify.Run(ctx, summary.RunID)
		if err != nil {
			return err
		}
	}

	if p.stages.Extract != nil {
		var err error
		summary.Extract, err = p.stages.Extract.Run(ctx, summary.RunID)
		if err != nil {
			return err
		}
	}
	return nil
}

// IsRunning reports whether a run is in progress.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
