package extraction

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantName string
	}{
		{"plain object", `{"event_name": "Warehouse Night", "date": "2025-03-01"}`, true, "Warehouse Night"},
		{"fenced", "```json\n{\"event_name\": \"Fenced\"}\n```", true, "Fenced"},
		{"prose around object", `Sure! Here it is: {"event_name": "Prose", "djs": ["A"]} hope that helps`, true, "Prose"},
		{"empty text", "", false, ""},
		{"empty object", "{}", false, ""},
		{"no braces", "no event here", false, ""},
		{"reversed braces", "} nope {", false, ""},
		{"array wrapping object", `[{"event_name": "x"}]`, true, "x"},
		{"broken json", `{"event_name": "x",}`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, ok := ParseEvent(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ParseEvent ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && event.EventName != tt.wantName {
				t.Errorf("EventName = %q, want %q", event.EventName, tt.wantName)
			}
		})
	}
}

func TestIsQuotaExhausted(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"openai quota", `{"error": {"code": "insufficient_quota", "type": "insufficient_quota"}}`, true},
		{"anthropic credit", `{"type": "error", "error": {"type": "invalid_request_error", "message": "Your credit balance is too low to access the API."}}`, true},
		{"rate limit", `{"error": {"code": "rate_limit_exceeded"}}`, false},
		{"success body", `{"id": "chatcmpl-1", "choices": []}`, false},
		{"not json", `upstream connect error`, false},
		{"empty", ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsQuotaExhausted([]byte(tt.raw)); got != tt.want {
				t.Errorf("IsQuotaExhausted = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTextPartsOrder(t *testing.T) {
	parts := textParts(Request{
		Caption:  "Friday party",
		PostURL:  "https://www.instagram.com/p/ABC/",
		PostDate: "2025-03-01T20:00:00+00:00",
		Author:   "club",
	})

	want := []string{
		"Extract event info.",
		"POST URL: https://www.instagram.com/p/ABC/",
		"POST DATE: 2025-03-01T20:00:00+00:00",
		"POST AUTHOR: club",
		"CAPTION: Friday party",
		"OUTPUT JSON SCHEMA: {\"event_name\": \"string\"",
	}
	if len(parts) != len(want) {
		t.Fatalf("expected %d parts, got %d", len(want), len(parts))
	}
	for i, prefix := range want {
		if !strings.HasPrefix(parts[i], prefix) {
			t.Errorf("part %d = %q, want prefix %q", i, parts[i], prefix)
		}
	}
	if !strings.Contains(parts[0], "DM @<post_author> for location") {
		t.Error("instructions should describe DM-only locations")
	}
}

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.jpg", "b.JPEG", "c.png", "d.jpg"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		paths = append(paths, path)
	}
	paths = append([]string{filepath.Join(dir, "missing.jpg")}, paths...)

	images := loadImages(paths, DefaultMaxImages)
	if len(images) != 2 {
		t.Fatalf("expected the unreadable file to count toward the limit, got %d images", len(images))
	}
	if images[0].MediaType != "image/jpeg" || images[1].MediaType != "image/jpeg" {
		t.Errorf("unexpected media types: %+v", images)
	}
	if !strings.HasPrefix(images[0].DataURL(), "data:image/jpeg;base64,") {
		t.Errorf("unexpected data URL %q", images[0].DataURL())
	}

	if got := loadImages(paths[3:4], DefaultMaxImages); got[0].MediaType != "image/png" {
		t.Errorf("png should map to image/png, got %s", got[0].MediaType)
	}
}
