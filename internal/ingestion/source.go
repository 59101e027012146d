package ingestion

import (
	"context"
	"io"

	"github.com/STRATINT/eventfeed/internal/models"
)

// FeedSource supplies recent posts and their media for an account.
type FeedSource interface {
	// RecentPosts returns up to limit of the account's latest posts.
	RecentPosts(ctx context.Context, username string, limit int) ([]models.FetchedPost, error)

	// RefreshMedia re-reads a post to obtain fresh image and video URLs.
	// Media URLs are signed and expire, so a failed download is retried
	// against refreshed URLs.
	RefreshMedia(ctx context.Context, post models.FetchedPost) (images []string, videos []string, err error)

	// OpenMedia starts a download. The caller closes the body.
	OpenMedia(ctx context.Context, url string) (io.ReadCloser, error)
}

// FrameExtractor writes a still frame of a downloaded video into mediaDir,
// typically when the video is a static flyer.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, videoPath, mediaDir string) error
}
