package social

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/STRATINT/eventfeed/internal/ingestion"
	"github.com/STRATINT/eventfeed/internal/logging"
	"github.com/STRATINT/eventfeed/internal/models"
)

const feedPayload = `{"items": [
  {"code": "PHOTO1", "pk": 111, "taken_at": 1740859200, "media_type": 1,
   "caption": {"text": "Friday party @dj.alpha"},
   "location": {"name": "Warehouse"},
   "image_versions2": {"candidates": [
     {"url": "https://cdn.example/small.jpg", "width": 320, "height": 320},
     {"url": "https://cdn.example/large.jpg", "width": 1080, "height": 1080}
   ]}},
  {"code": "VIDEO1", "pk": "222", "media_type": 2, "caption": null,
   "video_versions": [
     {"url": "https://cdn.example/low.mp4", "width": 480, "height": 480},
     {"url": "https://cdn.example/high.mp4", "width": 720, "height": 1280}
   ],
   "image_versions2": {"candidates": [{"url": "https://cdn.example/thumb.jpg", "width": 10, "height": 10}]}},
  {"code": "CAROUSEL1", "pk": 333, "media_type": 8, "carousel_media": [
     {"media_type": 1, "image_versions2": {"candidates": [{"url": "https://cdn.example/c1.jpg", "width": 1, "height": 1}]}},
     {"media_type": 2, "video_versions": [{"url": "https://cdn.example/c2.mp4", "width": 1, "height": 1}],
      "image_versions2": {"candidates": [{"url": "https://cdn.example/c2.jpg", "width": 1, "height": 1}]}}
  ]},
  {"code": "", "pk": 444, "media_type": 1}
]}`

type fakeAPI struct {
	feedCalls atomic.Int32
	feedFails int32
	cookies   []string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/club/usernameinfo/", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sessionid"); err == nil {
			f.cookies = append(f.cookies, c.Value)
		}
		_, _ = io.WriteString(w, `{"user": {"pk": 9001, "username": "club", "full_name": "The Club",
			"external_url": "https://club.example", "bio_links": [{"url": "https://soundcloud.com/club"}, {"url": ""}]}}`)
	})
	mux.HandleFunc("/api/v1/feed/user/9001/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("count") != "20" {
			t.Errorf("unexpected count %q", r.URL.Query().Get("count"))
		}
		if f.feedCalls.Add(1) <= f.feedFails {
			http.Error(w, "try later", http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, feedPayload)
	})
	mux.HandleFunc("/api/v1/media/111/info/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"items": [{"media_type": 1, "image_versions2": {"candidates": [{"url": "https://cdn.example/fresh.jpg", "width": 5, "height": 5}]}}]}`)
	})
	mux.HandleFunc("/api/v1/users/search/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "The Club" {
			t.Errorf("unexpected query %q", r.URL.Query().Get("q"))
		}
		_, _ = io.WriteString(w, `{"users": [{"username": "club"}, {"username": ""}, {"username": "club.fan"}]}`)
	})
	mux.HandleFunc("/media/flyer.jpg", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://www.instagram.com/" {
			t.Errorf("missing referer")
		}
		_, _ = io.WriteString(w, "jpeg-bytes")
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) (*InstagramClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	client := NewInstagramClient(InstagramConfig{
		BaseURL: server.URL + "/api/v1/",
		Timeout: 5 * time.Second,
		Session: &Session{UserAgent: "Instagram 300.0", Cookies: map[string]string{"sessionid": "abc"}},
	}, logging.Discard()).WithFeedRetryPolicy(ingestion.RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, Linear: true})
	return client, server
}

func TestRecentPostsParsesFeed(t *testing.T) {
	api := &fakeAPI{}
	client, _ := newTestClient(t, api)

	posts, err := client.RecentPosts(context.Background(), "club", 20)
	if err != nil {
		t.Fatalf("RecentPosts returned error: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(posts))
	}

	photo := posts[0]
	if photo.Code != "PHOTO1" || photo.PK != 111 || photo.Username != "club" || photo.MediaType != models.MediaTypePhoto {
		t.Errorf("unexpected photo post: %+v", photo)
	}
	if photo.Caption == nil || *photo.Caption != "Friday party @dj.alpha" {
		t.Errorf("unexpected caption: %v", photo.Caption)
	}
	if photo.TakenAt == nil || *photo.TakenAt != "2025-03-01T20:00:00+00:00" {
		t.Errorf("unexpected taken_at: %v", photo.TakenAt)
	}
	if string(photo.Location) != `{"name": "Warehouse"}` {
		t.Errorf("unexpected location: %s", photo.Location)
	}
	if len(photo.ImageURLs) != 1 || photo.ImageURLs[0] != "https://cdn.example/large.jpg" {
		t.Errorf("expected the largest candidate, got %v", photo.ImageURLs)
	}

	video := posts[1]
	if video.PK != 222 || video.Caption != nil || video.TakenAt != nil || video.Location != nil {
		t.Errorf("unexpected video post: %+v", video)
	}
	if len(video.VideoURLs) != 1 || video.VideoURLs[0] != "https://cdn.example/high.mp4" {
		t.Errorf("unexpected video URLs %v", video.VideoURLs)
	}
	if len(video.ImageURLs) != 1 || video.ImageURLs[0] != "https://cdn.example/thumb.jpg" {
		t.Errorf("expected thumbnail image, got %v", video.ImageURLs)
	}

	carousel := posts[2]
	if len(carousel.ImageURLs) != 2 || len(carousel.VideoURLs) != 1 {
		t.Errorf("unexpected carousel media: %v %v", carousel.ImageURLs, carousel.VideoURLs)
	}

	if len(api.cookies) == 0 || api.cookies[0] != "abc" {
		t.Errorf("session cookie not sent: %v", api.cookies)
	}
}

func TestRecentPostsRetriesFeed(t *testing.T) {
	api := &fakeAPI{feedFails: 2}
	client, _ := newTestClient(t, api)

	if _, err := client.RecentPosts(context.Background(), "club", 20); err != nil {
		t.Fatalf("RecentPosts returned error: %v", err)
	}
	if api.feedCalls.Load() != 3 {
		t.Errorf("expected 3 feed attempts, got %d", api.feedCalls.Load())
	}
}

func TestRecentPostsGivesUpAfterThreeAttempts(t *testing.T) {
	api := &fakeAPI{feedFails: 10}
	client, _ := newTestClient(t, api)

	if _, err := client.RecentPosts(context.Background(), "club", 20); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if api.feedCalls.Load() != 3 {
		t.Errorf("expected 3 feed attempts, got %d", api.feedCalls.Load())
	}
}

func TestUnknownAccountIsNotFound(t *testing.T) {
	client, _ := newTestClient(t, &fakeAPI{})

	if _, err := client.RecentPosts(context.Background(), "nobody", 20); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := client.Profile(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProfileAndSearch(t *testing.T) {
	client, _ := newTestClient(t, &fakeAPI{})

	profile, err := client.Profile(context.Background(), "club")
	if err != nil {
		t.Fatalf("Profile returned error: %v", err)
	}
	if profile.FullName != "The Club" || profile.ExternalURL != "https://club.example" {
		t.Errorf("unexpected profile %+v", profile)
	}
	links := profile.Links()
	if len(links) != 2 || links[1] != "https://soundcloud.com/club" {
		t.Errorf("unexpected links %v", links)
	}

	results, err := client.Search(context.Background(), "The Club")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(results) != 2 || results[0] != "club" {
		t.Errorf("unexpected search results %v", results)
	}
}

func TestRefreshAndOpenMedia(t *testing.T) {
	client, server := newTestClient(t, &fakeAPI{})

	images, videos, err := client.RefreshMedia(context.Background(), models.FetchedPost{Code: "PHOTO1", PK: 111})
	if err != nil {
		t.Fatalf("RefreshMedia returned error: %v", err)
	}
	if len(images) != 1 || images[0] != "https://cdn.example/fresh.jpg" || len(videos) != 0 {
		t.Errorf("unexpected refreshed media %v %v", images, videos)
	}

	body, err := client.OpenMedia(context.Background(), server.URL+"/media/flyer.jpg")
	if err != nil {
		t.Fatalf("OpenMedia returned error: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if string(data) != "jpeg-bytes" {
		t.Errorf("unexpected media body %q", data)
	}

	if _, err := client.OpenMedia(context.Background(), server.URL+"/media/missing.jpg"); err == nil {
		t.Fatal("expected error for missing media")
	}
}

func TestLoadSession(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "session.json")
	if err := os.WriteFile(good, []byte(`{"user_agent": "UA", "cookies": {"sessionid": "s"}, "headers": {"X-IG-App-ID": "1"}}`), 0o600); err != nil {
		t.Fatalf("write session: %v", err)
	}
	session, err := LoadSession(good)
	if err != nil {
		t.Fatalf("LoadSession returned error: %v", err)
	}
	if session.Cookies["sessionid"] != "s" || session.Headers["X-IG-App-ID"] != "1" {
		t.Errorf("unexpected session %+v", session)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte(`{"user_agent": "UA"}`), 0o600); err != nil {
		t.Fatalf("write session: %v", err)
	}
	if _, err := LoadSession(empty); err == nil {
		t.Error("expected error for session without cookies")
	}
	if _, err := LoadSession(filepath.Join(dir, "absent.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
