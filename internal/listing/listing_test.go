package listing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/STRATINT/eventfeed/internal/logging"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
		date string
		slug string
	}{
		{name: "09-10-2025-night-shift.qmd", ok: true, date: "2025-09-10", slug: "night-shift"},
		{name: "12-31-2024-nye.qmd", ok: true, date: "2024-12-31", slug: "nye"},
		{name: "13-01-2025-bad-month.qmd", ok: false},
		{name: "02-30-2025-no-such-day.qmd", ok: false},
		{name: "09-10-2025-notes.md", ok: false},
		{name: "readme.qmd", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := ParseFilename(tt.name)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if got := entry.Date.Format("2006-01-02"); got != tt.date {
				t.Errorf("date = %s, want %s", got, tt.date)
			}
			if entry.Name != tt.slug {
				t.Errorf("name = %q, want %q", entry.Name, tt.slug)
			}
		})
	}
}

func TestParseWhen(t *testing.T) {
	for in, want := range map[string]When{"upcoming": Upcoming, "Future": Upcoming, "past": Past} {
		got, err := ParseWhen(in)
		if err != nil || got != want {
			t.Errorf("ParseWhen(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseWhen("tomorrow"); err == nil {
		t.Error("expected error for unknown listing")
	}
}

func newEventsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "06-01-2025-zeta.qmd", "### Zeta")
	writeFile(t, dir, "06-01-2025-alpha.qmd", "### Alpha")
	writeFile(t, dir, "06-15-2025-later.qmd", "### Later")
	writeFile(t, dir, "05-31-2025-yesterday.qmd", "### Yesterday")
	writeFile(t, dir, "01-02-2025-winter.qmd", "### Winter")
	writeFile(t, dir, "index.qmd", "not an event")
	return dir
}

func TestIndexUpcoming(t *testing.T) {
	dir := newEventsDir(t)
	tmplDir := t.TempDir()
	writeFile(t, tmplDir, "future_events.header.tmpl", "# Upcoming\n\n")
	writeFile(t, tmplDir, "future_events.footer.tmpl", "<!-- end -->\n")

	today := time.Date(2025, 6, 1, 18, 30, 0, 0, time.Local)
	page, err := Index(dir, tmplDir, Upcoming, today, logging.Discard())
	if err != nil {
		t.Fatalf("Index returned error: %v", err)
	}

	want := "# Upcoming\n\n" +
		"## Sunday June 1, 2025\n\n### Alpha\n\n### Zeta\n\n" +
		"## Sunday June 15, 2025\n\n### Later\n\n" +
		"<!-- end -->\n"
	if page != want {
		t.Errorf("page =\n%q\nwant\n%q", page, want)
	}
}

func TestIndexPastIsNewestFirst(t *testing.T) {
	dir := newEventsDir(t)
	today := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	page, err := Index(dir, "", Past, today, logging.Discard())
	if err != nil {
		t.Fatalf("Index returned error: %v", err)
	}
	yesterday := strings.Index(page, "### Yesterday")
	winter := strings.Index(page, "### Winter")
	if yesterday < 0 || winter < 0 || yesterday > winter {
		t.Errorf("past events out of order:\n%s", page)
	}
	if strings.Contains(page, "Alpha") || strings.Contains(page, "not an event") {
		t.Errorf("past page holds the wrong files:\n%s", page)
	}
}

func TestIndexMissingDirIsEmpty(t *testing.T) {
	page, err := Index(filepath.Join(t.TempDir(), "missing"), "", Upcoming, time.Now(), logging.Discard())
	if err != nil {
		t.Fatalf("Index returned error: %v", err)
	}
	if page != "" {
		t.Errorf("expected empty page, got %q", page)
	}
}
