package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/STRATINT/eventfeed/internal/datastore"
	"github.com/STRATINT/eventfeed/internal/logging"
	"github.com/STRATINT/eventfeed/internal/metrics"
	"github.com/STRATINT/eventfeed/internal/models"
)

// CaptureConfig holds configuration for the capture stage.
type CaptureConfig struct {
	PostLimit          int
	ConcurrentAccounts int
}

// DefaultCaptureConfig returns sensible defaults.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		PostLimit:          20,
		ConcurrentAccounts: 3,
	}
}

// CaptureSummary reports what one capture pass did.
type CaptureSummary struct {
	Accounts       int
	FailedAccounts int
	Saved          int
	Skipped        int
	MediaFailures  int
}

// Capture downloads recent posts of tracked accounts into the datastore.
type Capture struct {
	source   FeedSource
	store    *datastore.Store
	frames   FrameExtractor
	recorder models.OutcomeRecorder
	metrics  *metrics.Collector
	config   CaptureConfig
	logger   *slog.Logger
}

// NewCapture creates the capture stage.
func NewCapture(source FeedSource, store *datastore.Store, config CaptureConfig, logger *slog.Logger) *Capture {
	if config.PostLimit <= 0 {
		config.PostLimit = DefaultCaptureConfig().PostLimit
	}
	if config.ConcurrentAccounts <= 0 {
		config.ConcurrentAccounts = 1
	}
	return &Capture{
		source: source,
		store:  store,
		config: config,
		logger: logger,
	}
}

// WithFrameExtractor extracts stills from downloaded videos.
func (c *Capture) WithFrameExtractor(frames FrameExtractor) *Capture {
	c.frames = frames
	return c
}

// WithRecorder mirrors saved posts to an outcome ledger.
func (c *Capture) WithRecorder(recorder models.OutcomeRecorder) *Capture {
	c.recorder = recorder
	return c
}

// WithMetrics records capture counts on collector.
func (c *Capture) WithMetrics(collector *metrics.Collector) *Capture {
	c.metrics = collector
	return c
}

// Run captures every account. A failing account is logged and skipped; Run
// only returns an error when ctx is cancelled.
func (c *Capture) Run(ctx context.Context, runID string, accounts []string) (CaptureSummary, error) {
	start := time.Now()
	logger := logging.ForRun(c.logger, runID, models.StageCapture)
	logger.Info("capture started", "accounts", len(accounts), "post_limit", c.config.PostLimit)

	var mu sync.Mutex
	summary := CaptureSummary{Accounts: len(accounts)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.ConcurrentAccounts)

	for _, account := range accounts {
		g.Go(func() error {
			result, err := c.captureAccount(gctx, logger, runID, account)

			mu.Lock()
			defer mu.Unlock()
			summary.Saved += result.Saved
			summary.Skipped += result.Skipped
			summary.MediaFailures += result.MediaFailures
			if err != nil {
				summary.FailedAccounts++
				logger.Warn("failed to capture account", "account", account, "error", err)
			}
			return gctx.Err()
		})
	}

	err := g.Wait()
	c.metrics.ObserveStage(models.StageCapture, time.Since(start))
	logger.Info("capture finished",
		"saved", summary.Saved,
		"skipped", summary.Skipped,
		"failed_accounts", summary.FailedAccounts,
		"duration", time.Since(start),
	)
	if err != nil {
		return summary, fmt.Errorf("capture cancelled: %w", err)
	}
	return summary, nil
}

func (c *Capture) captureAccount(ctx context.Context, logger *slog.Logger, runID, account string) (CaptureSummary, error) {
	var result CaptureSummary

	posts, err := c.source.RecentPosts(ctx, account, c.config.PostLimit)
	if err != nil {
		return result, err
	}
	logger.Debug("processing posts", "account", account, "count", len(posts))

	for _, post := range posts {
		if ctx.Err() != nil {
			return result, nil
		}

		key := models.PostKey{Handle: account, ShortCode: post.Code}
		if err := datastore.ValidateKey(key); err != nil {
			logger.Warn("skipping post with unusable key", "post", key.String(), "error", err)
			continue
		}

		store := c.store.Post(key)
		if store.Exists() {
			result.Skipped++
			c.metrics.RecordOutcome(models.StageCapture, models.StatusSkipped)
			// The record is immutable; only missing media is fetched again.
			if !store.HasMedia() {
				result.MediaFailures += c.downloadPost(ctx, logger, post, store)
			}
			continue
		}

		if err := store.SavePost(post.Record()); err != nil {
			return result, fmt.Errorf("failed to save post %s: %w", key, err)
		}
		result.MediaFailures += c.downloadPost(ctx, logger, post, store)
		result.Saved++

		c.metrics.RecordOutcome(models.StageCapture, models.StatusSaved)
		c.record(ctx, logger, models.StageOutcome{
			RunID:     runID,
			Handle:    key.Handle,
			ShortCode: key.ShortCode,
			Stage:     models.StageCapture,
			Status:    models.StatusSaved,
		})
	}

	logger.Info("completed account", "account", account, "saved", result.Saved, "skipped", result.Skipped)
	return result, nil
}

// downloadPost fetches every media URL of a post. If any download fails, the
// post's URLs are refreshed once and the whole refreshed set is fetched again.
// It returns the number of downloads that still failed.
func (c *Capture) downloadPost(ctx context.Context, logger *slog.Logger, post models.FetchedPost, store *datastore.PostStore) int {
	if err := store.EnsureDirs(); err != nil {
		logger.Warn("failed to create media directory", "post", post.Code, "error", err)
		return len(post.ImageURLs) + len(post.VideoURLs)
	}

	failed := c.downloadAll(ctx, logger, post, store.MediaDir(), post.ImageURLs, post.VideoURLs)
	if failed == 0 {
		return 0
	}

	logger.Info("retrying media with refreshed URLs", "post", post.Code, "failed", failed)
	images, videos, err := c.source.RefreshMedia(ctx, post)
	if err != nil {
		logger.Warn("failed to refresh media URLs", "post", post.Code, "error", err)
		return failed
	}
	return c.downloadAll(ctx, logger, post, store.MediaDir(), images, videos)
}

func (c *Capture) downloadAll(ctx context.Context, logger *slog.Logger, post models.FetchedPost, mediaDir string, images, videos []string) int {
	failed := 0
	for i, u := range images {
		dest := filepath.Join(mediaDir, MediaFilename(post, i+1, u, "image"))
		if !c.download(ctx, logger, u, dest) {
			failed++
		}
	}
	for i, u := range videos {
		dest := filepath.Join(mediaDir, MediaFilename(post, i+1, u, "video"))
		if !c.download(ctx, logger, u, dest) {
			failed++
			continue
		}
		if c.frames != nil {
			if err := c.frames.ExtractFrame(ctx, dest, mediaDir); err != nil {
				logger.Debug("frame extraction failed", "video", dest, "error", err)
			}
		}
	}
	return failed
}

// download writes url to dest unless dest already exists.
func (c *Capture) download(ctx context.Context, logger *slog.Logger, mediaURL, dest string) bool {
	if _, err := os.Stat(dest); err == nil {
		return true
	}

	body, err := c.source.OpenMedia(ctx, mediaURL)
	if err != nil {
		logger.Debug("media download failed", "url", mediaURL, "error", err)
		return false
	}
	defer body.Close()

	if err := datastore.CopyAtomic(dest, body); err != nil {
		logger.Debug("failed to write media", "path", dest, "error", err)
		return false
	}
	return true
}

func (c *Capture) record(ctx context.Context, logger *slog.Logger, outcome models.StageOutcome) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, outcome); err != nil {
		logger.Warn("failed to record outcome", "stage", outcome.Stage, "error", err)
	}
}

// MediaFilename names the index-th (from 1) media file of kind "image" or
// "video", keeping the URL's extension.
func MediaFilename(post models.FetchedPost, index int, mediaURL, kind string) string {
	ext := ""
	if parsed, err := url.Parse(mediaURL); err == nil {
		ext = path.Ext(parsed.Path)
	}
	if ext == "" {
		ext = ".jpg"
		if kind == "video" {
			ext = ".mp4"
		}
	}
	return fmt.Sprintf("%s_%d_%s_%d%s", post.Username, post.PK, kind, index, ext)
}
