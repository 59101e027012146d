package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/STRATINT/eventfeed/internal/classifier"
	"github.com/STRATINT/eventfeed/internal/config"
	"github.com/STRATINT/eventfeed/internal/database"
	"github.com/STRATINT/eventfeed/internal/datastore"
	"github.com/STRATINT/eventfeed/internal/enrichment"
	"github.com/STRATINT/eventfeed/internal/eventmanager"
	"github.com/STRATINT/eventfeed/internal/extraction"
	"github.com/STRATINT/eventfeed/internal/ingestion"
	"github.com/STRATINT/eventfeed/internal/metrics"
	"github.com/STRATINT/eventfeed/internal/models"
	"github.com/STRATINT/eventfeed/internal/pipeline"
	"github.com/STRATINT/eventfeed/internal/profilecache"
	"github.com/STRATINT/eventfeed/internal/render"
	"github.com/STRATINT/eventfeed/internal/social"
)

// app builds the pipeline components from configuration.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *datastore.Store
	metrics  *metrics.Collector
	db       *database.DB
	recorder models.OutcomeRecorder

	client *social.InstagramClient
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := datastore.Open(cfg.Paths.Datastore)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: store}

	if cfg.Database.URL != "" {
		a.connectLedger(ctx)
	}
	return a, nil
}

// connectLedger attaches the outcome ledger. The datastore stays authoritative,
// so a ledger that cannot be reached only costs the mirror.
func (a *app) connectLedger(ctx context.Context) {
	dbCfg := database.DefaultConfig()
	dbCfg.URL = a.cfg.Database.URL

	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		a.logger.Warn("outcome ledger unavailable, continuing without it", "error", err)
		return
	}
	if err := database.EnsureSchema(ctx, db, a.logger); err != nil {
		a.logger.Warn("outcome ledger schema failed, continuing without it", "error", err)
		db.Close()
		return
	}
	a.logger.Info("outcome ledger connected", "dialect", string(db.Dialect))
	a.db = db
	a.recorder = database.NewOutcomeRepository(db)
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) instagram() (*social.InstagramClient, error) {
	if a.client != nil {
		return a.client, nil
	}
	session, err := social.LoadSession(a.cfg.Instagram.SessionFile)
	if err != nil {
		return nil, err
	}
	a.client = social.NewInstagramClient(social.InstagramConfig{
		BaseURL: a.cfg.Instagram.APIURL,
		Timeout: a.cfg.Instagram.Timeout,
		Session: session,
	}, a.logger.With("component", "instagram"))
	return a.client, nil
}

func (a *app) capture() (*ingestion.Capture, error) {
	client, err := a.instagram()
	if err != nil {
		return nil, err
	}
	captureCfg := ingestion.DefaultCaptureConfig()
	captureCfg.PostLimit = a.cfg.Instagram.PostLimit

	return ingestion.NewCapture(client, a.store, captureCfg, a.logger).
		WithRecorder(a.recorder).
		WithMetrics(a.metrics), nil
}

func (a *app) classifyStage() *pipeline.ClassifyStage {
	var embedder classifier.Embedder
	if a.cfg.Classifier.EmbeddingURL != "" {
		embedder = classifier.NewHTTPEmbedder(a.cfg.Classifier.EmbeddingURL, a.cfg.Classifier.EmbeddingTimeout, a.logger)
	} else {
		a.logger.Info("no embedding service configured, classifying on captions only")
	}

	c := classifier.New(embedder, a.cfg.Classifier.Threshold, a.logger)
	return pipeline.NewClassifyStage(a.store, c, a.cfg.Classifier.Concurrency, a.logger).
		WithRecorder(a.recorder).
		WithMetrics(a.metrics)
}

func (a *app) extractor() (extraction.Extractor, error) {
	ec := a.cfg.Extraction
	switch ec.Provider {
	case "anthropic":
		return extraction.NewAnthropicExtractor(extraction.AnthropicConfig{
			APIKey:    ec.AnthropicAPIKey,
			Model:     ec.AnthropicModel,
			Timeout:   ec.Timeout,
			MaxImages: ec.MaxImages,
			Retry:     ingestion.DefaultRetryPolicy(),
		}, a.logger)
	case "openai":
		return extraction.NewOpenAIExtractor(extraction.OpenAIConfig{
			APIKey:    ec.OpenAIAPIKey,
			BaseURL:   ec.OpenAIBaseURL,
			Model:     ec.OpenAIModel,
			Timeout:   ec.Timeout,
			MaxImages: ec.MaxImages,
			Retry:     ingestion.DefaultRetryPolicy(),
		}, a.logger)
	default:
		return nil, fmt.Errorf("unknown extraction provider %q", ec.Provider)
	}
}

func (a *app) enricher() (*enrichment.Engine, error) {
	var directory enrichment.Directory
	if client, err := a.instagram(); err != nil {
		a.logger.Warn("performer lookups disabled", "error", err)
	} else {
		directory = client
	}

	cacheDir := a.cfg.Paths.ProfileCache
	if cacheDir == "" {
		cacheDir = a.store.ProfileCachePath()
	}
	cache, err := profilecache.New(cacheDir, profilecache.WithTTL(a.cfg.Instagram.CacheTTL))
	if err != nil {
		return nil, err
	}
	return enrichment.NewEngine(directory, cache, a.logger).WithMetrics(a.metrics), nil
}

func (a *app) manager() (*eventmanager.Manager, error) {
	extractor, err := a.extractor()
	if err != nil {
		return nil, err
	}
	enricher, err := a.enricher()
	if err != nil {
		return nil, err
	}
	template, err := render.LoadTemplate(a.cfg.Paths.Template)
	if err != nil {
		return nil, err
	}
	fields, err := eventmanager.ParseRequiredFields(a.cfg.Extraction.RequiredFields)
	if err != nil {
		return nil, err
	}

	mgrCfg := eventmanager.DefaultConfig()
	mgrCfg.EventsDir = a.cfg.Paths.EventsDir
	mgrCfg.Template = template
	mgrCfg.RequiredFields = fields

	return eventmanager.NewManager(a.store, extractor, enricher, mgrCfg, a.logger).
		WithRecorder(a.recorder).
		WithMetrics(a.metrics), nil
}

// fullPipeline runs capture only when an Instagram session is available.
func (a *app) fullPipeline() (*pipeline.Pipeline, error) {
	manager, err := a.manager()
	if err != nil {
		return nil, err
	}
	capture, err := a.capture()
	if err != nil {
		a.logger.Warn("capture disabled", "error", err)
	}

	return pipeline.New(pipeline.Stages{
		Capture:  capture,
		Accounts: a.cfg.Paths.Accounts,
		Classify: a.classifyStage(),
		Extract:  manager,
	}, a.store, a.cfg.Paths.EventsDir, a.logger).WithMetrics(a.metrics), nil
}
