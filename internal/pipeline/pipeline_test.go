package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/STRATINT/eventfeed/internal/classifier"
	"github.com/STRATINT/eventfeed/internal/datastore"
	"github.com/STRATINT/eventfeed/internal/eventmanager"
	"github.com/STRATINT/eventfeed/internal/extraction"
	"github.com/STRATINT/eventfeed/internal/logging"
	"github.com/STRATINT/eventfeed/internal/models"
	"github.com/STRATINT/eventfeed/internal/progress"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) ScoreImage(_ context.Context, _ string, _, _ []string) (float64, error) {
	c.calls++
	return 0, c.err
}

func newStore(t *testing.T) *datastore.Store {
	t.Helper()
	store, err := datastore.Open(filepath.Join(t.TempDir(), "datastore"))
	if err != nil {
		t.Fatalf("datastore.Open returned error: %v", err)
	}
	return store
}

func addPost(t *testing.T, store *datastore.Store, code, caption string) *datastore.PostStore {
	t.Helper()
	post := store.Post(models.PostKey{Handle: "club", ShortCode: code})
	if err := post.SavePost(models.FetchedPost{Code: code, Username: "club", Caption: &caption}.Record()); err != nil {
		t.Fatalf("SavePost returned error: %v", err)
	}
	return post
}

func TestClassifyStageWritesOneAnalysisPerPost(t *testing.T) {
	store := newStore(t)
	event := addPost(t, store, "AAA", "Tickets tonight! Party lineup: DJ at the venue")
	quiet := addPost(t, store, "BBB", "hello world")

	stage := NewClassifyStage(store, classifier.New(nil, classifier.DefaultThreshold, logging.Discard()), 2, logging.Discard())

	summary, err := stage.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Events != 1 || summary.NotEvents != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	analysis, err := event.LoadAnalysis()
	if err != nil {
		t.Fatalf("LoadAnalysis returned error: %v", err)
	}
	if !analysis.IsEvent || !analysis.IsEventListing || analysis.Score != 1 || analysis.Details.ClipScore != -1 {
		t.Errorf("unexpected analysis %+v", analysis)
	}
	if analysis.Model.Name != classifier.ModelName {
		t.Errorf("model tag = %+v", analysis.Model)
	}

	other, err := quiet.LoadAnalysis()
	if err != nil {
		t.Fatalf("LoadAnalysis returned error: %v", err)
	}
	if other.IsEvent {
		t.Errorf("quiet post classified as event: %+v", other)
	}
}

func TestClassifyStageIsIdempotent(t *testing.T) {
	store := newStore(t)
	post := addPost(t, store, "AAA", "party")
	if err := saveImage(post); err != nil {
		t.Fatal(err)
	}

	embedder := &countingEmbedder{}
	stage := NewClassifyStage(store, classifier.New(embedder, classifier.DefaultThreshold, logging.Discard()), 1, logging.Discard())

	if _, err := stage.Run(context.Background(), "run-1"); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	summary, err := stage.Run(context.Background(), "run-2")
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	if summary.Candidates != 0 {
		t.Errorf("second run should classify nothing, got %+v", summary)
	}
	if embedder.calls != 1 {
		t.Errorf("expected 1 embedding call, got %d", embedder.calls)
	}
}

func TestClassifyStageRecordsNotEventDecisions(t *testing.T) {
	store := newStore(t)
	post := addPost(t, store, "AAA", "")
	if err := saveImage(post); err != nil {
		t.Fatal(err)
	}

	embedder := &countingEmbedder{err: errors.New("model unavailable")}
	stage := NewClassifyStage(store, classifier.New(embedder, classifier.DefaultThreshold, logging.Discard()), 1, logging.Discard())
	if _, err := stage.Run(context.Background(), "run-1"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !post.AnalysisDone() {
		t.Fatal("a not-event decision must still be recorded")
	}
	analysis, _ := post.LoadAnalysis()
	if analysis.IsEvent || analysis.Details.ClipScore != -1 {
		t.Errorf("unexpected analysis %+v", analysis)
	}
}

func saveImage(post *datastore.PostStore) error {
	if err := post.EnsureDirs(); err != nil {
		return err
	}
	return datastore.WriteFileAtomic(filepath.Join(post.MediaDir(), "club_1_image_1.jpg"), []byte("jpeg"))
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	store := newStore(t)
	eventsDir := filepath.Join(t.TempDir(), "_events")

	addPost(t, store, "AAA", "Tickets tonight! Party lineup: DJ at the venue")
	addPost(t, store, "BBB", "Friday party tickets, doors open, live dj set")
	addPost(t, store, "CCC", "just a photo")

	extractor := extraction.NewMockExtractor(extraction.Result{Err: extraction.ParseFailure})
	extractor.On(models.PostURL("AAA"), extraction.Result{Event: &models.Event{EventName: "Night", Date: "2099-09-10"}})

	cfg := eventmanager.DefaultConfig()
	cfg.EventsDir = eventsDir
	cfg.Template = "### <EVENT NAME>\n"

	p := New(Stages{
		Classify: NewClassifyStage(store, classifier.New(nil, classifier.DefaultThreshold, logging.Discard()), 2, logging.Discard()),
		Extract:  eventmanager.NewManager(store, extractor, nil, cfg, logging.Discard()),
	}, store, eventsDir, logging.Discard())

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.RunID == "" {
		t.Error("run ID should be set")
	}

	want := progress.Counts{Downloaded: 3, Analyzed: 3, EventListings: 2, ExtractedSuccess: 1, ExtractedFail: 1, Rendered: 1}
	if summary.Progress != want {
		t.Errorf("progress = %+v, want %+v", summary.Progress, want)
	}
	if p.IsRunning() {
		t.Error("pipeline should not be running after Run returns")
	}

	again, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	if again.RunID == summary.RunID {
		t.Error("each run needs a fresh ID")
	}
	if again.Classify.Candidates != 0 || again.Extract.Candidates != 0 {
		t.Errorf("second run should do nothing, got %+v", again)
	}
	if n := len(extractor.Calls()); n != 2 {
		t.Errorf("expected 2 extraction calls in total, got %d", n)
	}
}

func TestClassifyStageLogsCarryRunID(t *testing.T) {
	store := newStore(t)
	addPost(t, store, "AAA", "Tickets tonight! Party lineup: DJ at the venue")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	stage := NewClassifyStage(store, classifier.New(nil, classifier.DefaultThreshold, logging.Discard()), 1, logger)
	if _, err := stage.Run(context.Background(), "run-9"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected per-post and finish records, got %q", buf.String())
	}
	for _, line := range lines {
		if !strings.Contains(line, "run_id=run-9") || !strings.Contains(line, "stage=classify") {
			t.Errorf("log line missing run scope: %s", line)
		}
	}
}
