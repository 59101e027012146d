package extraction

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxImages bounds how many images accompany one prompt.
const DefaultMaxImages = 3

const systemPrompt = "You extract event details from Instagram posts. Return strict JSON only."

const instructionPrompt = "Extract event info. If a field is missing, return null. " +
	"Include every DJ name mentioned in the caption or visible in the images. " +
	"Use the post date as context when inferring the event date. " +
	"If the caption indicates the location is only available by DM/PM, " +
	"set location_name to 'DM @<post_author> for location' using the provided post author, " +
	"and leave location_address blank. " +
	"Use the instagram post URL as the fallback info link if no official link is present. " +
	"ticket_link_type must be 'tickets' when the link is for tickets, or 'info' otherwise. " +
	"Return confidence as a number between 0 and 1, where higher means more certain."

const outputSchema = `{"event_name": "string", "date": "YYYY-MM-DD", "start_time": "HH:MM", ` +
	`"end_time": "HH:MM", "location_name": "string", "location_address": "string", ` +
	`"google_maps_link": "string", "djs": [{"name": "string", "link": "string"}], ` +
	`"ticket_or_info_link": "string", "ticket_link_type": "tickets|info", "confidence": "number (0-1)"}`

// textParts are the user message text blocks, in order.
func textParts(req Request) []string {
	return []string{
		instructionPrompt,
		"POST URL: " + req.PostURL,
		"POST DATE: " + req.PostDate,
		"POST AUTHOR: " + req.Author,
		"CAPTION: " + req.Caption,
		"OUTPUT JSON SCHEMA: " + outputSchema,
	}
}

type encodedImage struct {
	MediaType string
	Data      string
}

func (i encodedImage) DataURL() string {
	return "data:" + i.MediaType + ";base64," + i.Data
}

// loadImages base64-encodes up to limit images, skipping unreadable files.
func loadImages(paths []string, limit int) []encodedImage {
	if limit >= 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	images := make([]encodedImage, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		images = append(images, encodedImage{
			MediaType: mediaType(path),
			Data:      base64.StdEncoding.EncodeToString(raw),
		})
	}
	return images
}

func mediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}
