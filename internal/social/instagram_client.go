package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/STRATINT/eventfeed/internal/ingestion"
	"github.com/STRATINT/eventfeed/internal/models"
)

// DefaultInstagramAPIURL is the private mobile API root.
const DefaultInstagramAPIURL = "https://i.instagram.com/api/v1"

const takenAtLayout = "2006-01-02T15:04:05-07:00"

// ErrNotFound is returned when an account or media item does not exist.
var ErrNotFound = errors.New("instagram: not found")

// Session is an authenticated Instagram session exported to disk.
type Session struct {
	UserAgent string            `json:"user_agent"`
	Cookies   map[string]string `json:"cookies"`
	Headers   map[string]string `json:"headers"`
}

// LoadSession reads a session file.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instagram session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse instagram session %s: %w", path, err)
	}
	if len(session.Cookies) == 0 {
		return nil, fmt.Errorf("instagram session %s has no cookies", path)
	}
	return &session, nil
}

// InstagramConfig configures the client.
type InstagramConfig struct {
	BaseURL string
	Timeout time.Duration
	Session *Session
}

// InstagramClient reads feeds, profiles and media through the private API.
type InstagramClient struct {
	baseURL    string
	session    *Session
	httpClient *http.Client
	feedRetry  ingestion.RetryPolicy
	logger     *slog.Logger
}

// NewInstagramClient creates a client for an exported session.
func NewInstagramClient(cfg InstagramConfig, logger *slog.Logger) *InstagramClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultInstagramAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	session := cfg.Session
	if session == nil {
		session = &Session{}
	}

	return &InstagramClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: session,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		feedRetry: ingestion.FeedRetryPolicy(),
		logger:    logger,
	}
}

// WithFeedRetryPolicy overrides the retry policy used for feed listings.
func (c *InstagramClient) WithFeedRetryPolicy(policy ingestion.RetryPolicy) *InstagramClient {
	c.feedRetry = policy
	return c
}

// RecentPosts lists the latest posts of username, newest first.
func (c *InstagramClient) RecentPosts(ctx context.Context, username string, limit int) ([]models.FetchedPost, error) {
	userID, err := c.userID(ctx, username)
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = ingestion.Retry(ctx, c.feedRetry, func() error {
		var callErr error
		payload, callErr = c.get(ctx, "feed/user/"+userID+"/", url.Values{"count": {strconv.Itoa(limit)}})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed for user %s: %w", userID, err)
	}

	var posts []models.FetchedPost
	for _, item := range gjson.GetBytes(payload, "items").Array() {
		code := item.Get("code").String()
		pk := item.Get("pk").Int()
		if code == "" || pk == 0 {
			continue
		}

		images, videos := mediaURLs(item)
		post := models.FetchedPost{
			Code:      code,
			PK:        pk,
			MediaType: models.MediaType(item.Get("media_type").Int()),
			ImageURLs: images,
			VideoURLs: videos,
			Username:  username,
		}
		if caption := item.Get("caption.text"); caption.Exists() && caption.Type != gjson.Null {
			text := caption.String()
			post.Caption = &text
		}
		if takenAt := item.Get("taken_at").Int(); takenAt > 0 {
			stamp := time.Unix(takenAt, 0).UTC().Format(takenAtLayout)
			post.TakenAt = &stamp
		}
		if location := item.Get("location"); location.Exists() && location.Type != gjson.Null {
			post.Location = json.RawMessage(location.Raw)
		}
		posts = append(posts, post)
	}

	c.logger.Info("fetched recent posts", "username", username, "count", len(posts))
	return posts, nil
}

// RefreshMedia re-reads a post to obtain fresh, unexpired media URLs.
func (c *InstagramClient) RefreshMedia(ctx context.Context, post models.FetchedPost) ([]string, []string, error) {
	payload, err := c.get(ctx, "media/"+strconv.FormatInt(post.PK, 10)+"/info/", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to refresh media for %s: %w", post.Code, err)
	}
	items := gjson.GetBytes(payload, "items").Array()
	if len(items) == 0 {
		return nil, nil, nil
	}
	images, videos := mediaURLs(items[0])
	return images, videos, nil
}

// OpenMedia starts a download of a media URL. The caller closes the body.
func (c *InstagramClient) OpenMedia(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Referer", "https://www.instagram.com/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("media download returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Profile returns the public profile of username.
func (c *InstagramClient) Profile(ctx context.Context, username string) (*models.Profile, error) {
	payload, err := c.get(ctx, "users/"+url.PathEscape(username)+"/usernameinfo/", nil)
	if err != nil {
		return nil, err
	}
	user := gjson.GetBytes(payload, "user")
	if !user.IsObject() {
		return nil, fmt.Errorf("profile %s: %w", username, ErrNotFound)
	}

	var profile models.Profile
	if err := json.Unmarshal([]byte(user.Raw), &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", username, err)
	}
	return &profile, nil
}

// Search returns usernames matching query, best match first.
func (c *InstagramClient) Search(ctx context.Context, query string) ([]string, error) {
	payload, err := c.get(ctx, "users/search/", url.Values{"q": {query}})
	if err != nil {
		return nil, err
	}

	var usernames []string
	for _, user := range gjson.GetBytes(payload, "users").Array() {
		if name := user.Get("username").String(); name != "" {
			usernames = append(usernames, name)
		}
	}
	return usernames, nil
}

func (c *InstagramClient) userID(ctx context.Context, username string) (string, error) {
	payload, err := c.get(ctx, "users/"+url.PathEscape(username)+"/usernameinfo/", nil)
	if err != nil {
		return "", err
	}
	pk := gjson.GetBytes(payload, "user.pk")
	if !pk.Exists() {
		return "", fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	return pk.String(), nil
}

func (c *InstagramClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ingestion.NewRetryableError(fmt.Errorf("instagram request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, ingestion.StatusError(resp, fmt.Errorf("instagram API error: %d - %s", resp.StatusCode, string(body)))
	}
	return body, nil
}

func (c *InstagramClient) authorize(req *http.Request) {
	if c.session.UserAgent != "" {
		req.Header.Set("User-Agent", c.session.UserAgent)
	}
	for key, value := range c.session.Headers {
		req.Header.Set(key, value)
	}
	for name, value := range c.session.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// mediaURLs collects the best image and video URLs of an item, descending into carousels.
func mediaURLs(item gjson.Result) ([]string, []string) {
	var images, videos []string

	switch models.MediaType(item.Get("media_type").Int()) {
	case models.MediaTypePhoto:
		if u := bestURL(item.Get("image_versions2.candidates")); u != "" {
			images = append(images, u)
		}
	case models.MediaTypeVideo:
		if u := bestURL(item.Get("video_versions")); u != "" {
			videos = append(videos, u)
		}
		if u := bestURL(item.Get("image_versions2.candidates")); u != "" {
			images = append(images, u)
		}
	case models.MediaTypeCarousel:
		for _, child := range item.Get("carousel_media").Array() {
			childImages, childVideos := mediaURLs(child)
			images = append(images, childImages...)
			videos = append(videos, childVideos...)
		}
	}
	return images, videos
}

// bestURL returns the URL of the candidate with the largest pixel area.
func bestURL(candidates gjson.Result) string {
	var best string
	bestArea := int64(-1)
	for _, candidate := range candidates.Array() {
		area := candidate.Get("width").Int() * candidate.Get("height").Int()
		if area > bestArea {
			best = candidate.Get("url").String()
			bestArea = area
		}
	}
	return best
}
