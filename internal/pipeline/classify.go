package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/STRATINT/eventfeed/internal/classifier"
	"github.com/STRATINT/eventfeed/internal/datastore"
	"github.com/STRATINT/eventfeed/internal/logging"
	"github.com/STRATINT/eventfeed/internal/metrics"
	"github.com/STRATINT/eventfeed/internal/models"
)

const classifyClaimTimeout = 10 * time.Minute

// ClassifySummary reports what one classification pass did.
type ClassifySummary struct {
	Candidates int
	Events     int
	NotEvents  int
	Failed     int
}

// ClassifyStage writes one analysis record per captured post.
type ClassifyStage struct {
	store       *datastore.Store
	classifier  *classifier.Classifier
	recorder    models.OutcomeRecorder
	metrics     *metrics.Collector
	concurrency int
	logger      *slog.Logger
}

// NewClassifyStage creates the classification stage. Posts are classified
// concurrency at a time.
func NewClassifyStage(store *datastore.Store, c *classifier.Classifier, concurrency int, logger *slog.Logger) *ClassifyStage {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ClassifyStage{
		store:       store,
		classifier:  c,
		concurrency: concurrency,
		logger:      logger,
	}
}

// WithRecorder mirrors outcomes to a ledger.
func (s *ClassifyStage) WithRecorder(recorder models.OutcomeRecorder) *ClassifyStage {
	s.recorder = recorder
	return s
}

// WithMetrics records outcomes on collector.
func (s *ClassifyStage) WithMetrics(collector *metrics.Collector) *ClassifyStage {
	s.metrics = collector
	return s
}

// Run classifies every captured post that has no analysis yet.
func (s *ClassifyStage) Run(ctx context.Context, runID string) (ClassifySummary, error) {
	start := time.Now()
	var summary ClassifySummary
	logger := logging.ForRun(s.logger, runID, models.StageClassify)

	posts, err := s.store.Posts()
	if err != nil {
		return summary, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, post := range posts {
		if !post.Exists() || post.AnalysisDone() {
			continue
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			status, err := s.classifyPost(gctx, logger, runID, post)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				logger.Warn("classification failed", "post", post.Key().String(), "error", err)
			case status == models.StatusEvent:
				summary.Candidates++
				summary.Events++
			case status == models.StatusNotEvent:
				summary.Candidates++
				summary.NotEvents++
			}
			return gctx.Err()
		})
	}

	err = g.Wait()
	s.metrics.ObserveStage(models.StageClassify, time.Since(start))
	logger.Info("classification finished",
		"classified", summary.Candidates,
		"events", summary.Events,
		"failed", summary.Failed,
		"duration", time.Since(start),
	)
	if err != nil {
		return summary, fmt.Errorf("classification cancelled: %w", err)
	}
	return summary, nil
}

// classifyPost returns StatusEvent or StatusNotEvent, or "" when another
// worker got there first.
func (s *ClassifyStage) classifyPost(ctx context.Context, logger *slog.Logger, runID string, post *datastore.PostStore) (string, error) {
	release, err := post.Claim(models.StageClassify, classifyClaimTimeout)
	if errors.Is(err, datastore.ErrClaimed) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer release()

	if post.AnalysisDone() {
		return "", nil
	}

	record, err := post.LoadPost()
	if err != nil {
		return "", err
	}
	images, err := post.Images()
	if err != nil {
		return "", err
	}

	result := s.classifier.Classify(ctx, record.Caption, images)
	// An image score interrupted by cancellation would be recorded as missing.
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := post.SaveAnalysis(s.classifier.Analysis(result)); err != nil {
		return "", err
	}

	status := models.StatusNotEvent
	if result.IsEvent {
		status = models.StatusEvent
	}
	s.metrics.RecordOutcome(models.StageClassify, status)
	s.record(ctx, logger, models.StageOutcome{
		RunID:     runID,
		Handle:    post.Key().Handle,
		ShortCode: post.Key().ShortCode,
		Stage:     models.StageClassify,
		Status:    status,
	})
	logger.Debug("post classified", "post", post.Key().String(), "is_event", result.IsEvent, "score", result.Score)
	return status, nil
}

func (s *ClassifyStage) record(ctx context.Context, logger *slog.Logger, outcome models.StageOutcome) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, outcome); err != nil {
		logger.Warn("failed to record outcome", "stage", outcome.Stage, "error", err)
	}
}
