package models

import (
	"encoding/json"
	"fmt"
)

// PostKey identifies one unit of work and its storage location.
type PostKey struct {
	Handle    string
	ShortCode string
}

func (k PostKey) String() string {
	return k.Handle + "/" + k.ShortCode
}

// MediaType is Instagram's media type tag.
type MediaType int

const (
	MediaTypePhoto    MediaType = 1
	MediaTypeVideo    MediaType = 2
	MediaTypeCarousel MediaType = 8
)

// Post is the capture record written to post.json. It is never rewritten once saved.
type Post struct {
	PostURL   string          `json:"post_url"`
	Username  string          `json:"username"`
	ShortCode string          `json:"shortcode"`
	MediaPK   int64           `json:"media_pk"`
	Caption   *string         `json:"caption_text"`
	TakenAt   *string         `json:"taken_at"`
	MediaType MediaType       `json:"media_type"`
	Location  json.RawMessage `json:"location"`
}

// CaptionText returns the caption or an empty string.
func (p Post) CaptionText() string {
	if p.Caption == nil {
		return ""
	}
	return *p.Caption
}

// TakenAtText returns the capture timestamp or an empty string.
func (p Post) TakenAtText() string {
	if p.TakenAt == nil {
		return ""
	}
	return *p.TakenAt
}

// PostURL builds the public URL of a post from its short code.
func PostURL(shortCode string) string {
	return fmt.Sprintf("https://www.instagram.com/p/%s/", shortCode)
}

// ProfileURL builds the public profile URL of a handle.
func ProfileURL(handle string) string {
	return fmt.Sprintf("https://www.instagram.com/%s/", handle)
}

// FetchedPost is a post as supplied by the capture collaborator.
type FetchedPost struct {
	Code      string
	PK        int64
	Caption   *string
	TakenAt   *string
	MediaType MediaType
	Location  json.RawMessage
	ImageURLs []string
	VideoURLs []string
	Username  string
}

// Record converts a fetched post into its persisted form.
func (f FetchedPost) Record() Post {
	return Post{
		PostURL:   PostURL(f.Code),
		Username:  f.Username,
		ShortCode: f.Code,
		MediaPK:   f.PK,
		Caption:   f.Caption,
		TakenAt:   f.TakenAt,
		MediaType: f.MediaType,
		Location:  f.Location,
	}
}
