package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/STRATINT/eventfeed/internal/datastore"
	"github.com/STRATINT/eventfeed/internal/logging"
	"github.com/STRATINT/eventfeed/internal/models"
)

type fakeSource struct {
	mu           sync.Mutex
	posts        map[string][]models.FetchedPost
	failAccounts map[string]bool
	broken       map[string]bool
	refreshed    map[int64][]string
	feedCalls    int
	refreshCalls int
	opened       []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		posts:        make(map[string][]models.FetchedPost),
		failAccounts: make(map[string]bool),
		broken:       make(map[string]bool),
		refreshed:    make(map[int64][]string),
	}
}

func (f *fakeSource) RecentPosts(_ context.Context, username string, limit int) ([]models.FetchedPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedCalls++
	if f.failAccounts[username] {
		return nil, errors.New("feed unavailable")
	}
	posts := f.posts[username]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (f *fakeSource) RefreshMedia(_ context.Context, post models.FetchedPost) ([]string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return f.refreshed[post.PK], nil, nil
}

func (f *fakeSource) OpenMedia(_ context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
	if f.broken[url] {
		return nil, errors.New("url expired")
	}
	return io.NopCloser(strings.NewReader("media:" + url)), nil
}

type recordingFrames struct {
	videos []string
}

func (r *recordingFrames) ExtractFrame(_ context.Context, videoPath, mediaDir string) error {
	r.videos = append(r.videos, filepath.Base(videoPath))
	return os.WriteFile(filepath.Join(mediaDir, "frame.jpg"), []byte("frame"), 0o644)
}

type memoryRecorder struct {
	mu       sync.Mutex
	outcomes []models.StageOutcome
}

func (m *memoryRecorder) Record(_ context.Context, outcome models.StageOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func strPtr(s string) *string { return &s }

func newCaptureFixture(t *testing.T) (*fakeSource, *datastore.Store) {
	t.Helper()
	store, err := datastore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("datastore.Open returned error: %v", err)
	}
	source := newFakeSource()
	source.posts["club"] = []models.FetchedPost{
		{Code: "AAA", PK: 1, Username: "club", Caption: strPtr("party"), MediaType: models.MediaTypePhoto,
			ImageURLs: []string{"https://cdn.example/a.jpg?sig=1"}},
		{Code: "BBB", PK: 2, Username: "club", MediaType: models.MediaTypeVideo,
			ImageURLs: []string{"https://cdn.example/thumb"}, VideoURLs: []string{"https://cdn.example/clip"}},
	}
	return source, store
}

func TestCaptureSavesPostsAndMedia(t *testing.T) {
	source, store := newCaptureFixture(t)
	frames := &recordingFrames{}
	recorder := &memoryRecorder{}

	capture := NewCapture(source, store, DefaultCaptureConfig(), logging.Discard()).
		WithFrameExtractor(frames).
		WithRecorder(recorder)

	summary, err := capture.Run(context.Background(), "run-1", []string{"club"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Saved != 2 || summary.Skipped != 0 || summary.FailedAccounts != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	post := store.Post(models.PostKey{Handle: "club", ShortCode: "AAA"})
	record, err := post.LoadPost()
	if err != nil {
		t.Fatalf("LoadPost returned error: %v", err)
	}
	if record.PostURL != "https://www.instagram.com/p/AAA/" || record.CaptionText() != "party" {
		t.Errorf("unexpected record %+v", record)
	}
	if _, err := os.Stat(filepath.Join(post.MediaDir(), "club_1_image_1.jpg")); err != nil {
		t.Errorf("expected image file: %v", err)
	}

	video := store.Post(models.PostKey{Handle: "club", ShortCode: "BBB"})
	media, _ := video.ListMedia()
	names := make([]string, 0, len(media))
	for _, m := range media {
		names = append(names, filepath.Base(m))
	}
	want := []string{"club_2_image_1.jpg", "club_2_video_1.mp4", "frame.jpg"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("media = %v, want %v", names, want)
	}
	if len(frames.videos) != 1 || frames.videos[0] != "club_2_video_1.mp4" {
		t.Errorf("unexpected frame extraction calls %v", frames.videos)
	}

	if len(recorder.outcomes) != 2 || recorder.outcomes[0].RunID != "run-1" || recorder.outcomes[0].Status != models.StatusSaved {
		t.Errorf("unexpected outcomes %+v", recorder.outcomes)
	}
}

func TestCaptureIsIdempotent(t *testing.T) {
	source, store := newCaptureFixture(t)
	capture := NewCapture(source, store, DefaultCaptureConfig(), logging.Discard())

	if _, err := capture.Run(context.Background(), "run-1", []string{"club"}); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	opened := len(source.opened)

	summary, err := capture.Run(context.Background(), "run-2", []string{"club"})
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	if summary.Saved != 0 || summary.Skipped != 2 {
		t.Fatalf("expected every post to be skipped, got %+v", summary)
	}
	if len(source.opened) != opened {
		t.Errorf("no media should be downloaded again, opened %d more", len(source.opened)-opened)
	}
}

func TestCaptureRefreshesExpiredMediaOnce(t *testing.T) {
	source, store := newCaptureFixture(t)
	source.broken["https://cdn.example/a.jpg?sig=1"] = true
	source.refreshed[1] = []string{"https://cdn.example/a.jpg?sig=2"}

	capture := NewCapture(source, store, DefaultCaptureConfig(), logging.Discard())
	summary, err := capture.Run(context.Background(), "run-1", []string{"club"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.MediaFailures != 0 {
		t.Errorf("refreshed download should succeed, got %d failures", summary.MediaFailures)
	}
	if source.refreshCalls != 1 {
		t.Errorf("expected one refresh, got %d", source.refreshCalls)
	}

	data, err := os.ReadFile(filepath.Join(store.Post(models.PostKey{Handle: "club", ShortCode: "AAA"}).MediaDir(), "club_1_image_1.jpg"))
	if err != nil {
		t.Fatalf("read refreshed media: %v", err)
	}
	if string(data) != "media:https://cdn.example/a.jpg?sig=2" {
		t.Errorf("unexpected media contents %q", data)
	}
}

func TestCaptureSkipsFailingAccounts(t *testing.T) {
	source, store := newCaptureFixture(t)
	source.failAccounts["down"] = true

	capture := NewCapture(source, store, DefaultCaptureConfig(), logging.Discard())
	summary, err := capture.Run(context.Background(), "run-1", []string{"down", "club"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.FailedAccounts != 1 || summary.Saved != 2 || summary.Accounts != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestCaptureRespectsPostLimit(t *testing.T) {
	source, store := newCaptureFixture(t)
	capture := NewCapture(source, store, CaptureConfig{PostLimit: 1, ConcurrentAccounts: 1}, logging.Discard())

	summary, err := capture.Run(context.Background(), "run-1", []string{"club"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Saved != 1 {
		t.Fatalf("expected one saved post, got %+v", summary)
	}
}

func TestMediaFilename(t *testing.T) {
	post := models.FetchedPost{Username: "club", PK: 42}

	tests := []struct {
		url   string
		index int
		kind  string
		want  string
	}{
		{"https://cdn.example/x/photo.webp?sig=abc", 1, "image", "club_42_image_1.webp"},
		{"https://cdn.example/x/photo", 2, "image", "club_42_image_2.jpg"},
		{"https://cdn.example/x/clip", 1, "video", "club_42_video_1.mp4"},
	}
	for _, tt := range tests {
		if got := MediaFilename(post, tt.index, tt.url, tt.kind); got != tt.want {
			t.Errorf("MediaFilename(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestCaptureRetriesMediaWithoutRewritingPost(t *testing.T) {
	source, store := newCaptureFixture(t)
	source.broken["https://cdn.example/a.jpg?sig=1"] = true

	capture := NewCapture(source, store, DefaultCaptureConfig(), logging.Discard())
	if _, err := capture.Run(context.Background(), "run-1", []string{"club"}); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	post := store.Post(models.PostKey{Handle: "club", ShortCode: "AAA"})
	if post.HasMedia() {
		t.Fatal("media should be missing after the failed download")
	}

	delete(source.broken, "https://cdn.example/a.jpg?sig=1")
	source.posts["club"][0].Caption = strPtr("edited later")

	summary, err := capture.Run(context.Background(), "run-2", []string{"club"})
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	if summary.Saved != 0 || summary.Skipped != 2 {
		t.Errorf("stored posts must not be saved again, got %+v", summary)
	}
	if !post.HasMedia() {
		t.Error("missing media should be fetched on the next run")
	}

	record, err := post.LoadPost()
	if err != nil {
		t.Fatalf("LoadPost returned error: %v", err)
	}
	if record.CaptionText() != "party" {
		t.Errorf("post record was rewritten: caption %q", record.CaptionText())
	}
}

func TestCaptureLogsCarryRunID(t *testing.T) {
	source, store := newCaptureFixture(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if _, err := NewCapture(source, store, DefaultCaptureConfig(), logger).Run(context.Background(), "run-3", []string{"club"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected start, account and finish records, got %q", buf.String())
	}
	for _, line := range lines {
		if !strings.Contains(line, "run_id=run-3") || !strings.Contains(line, "stage=capture") {
			t.Errorf("log line missing run scope: %s", line)
		}
	}
}
