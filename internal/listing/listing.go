// Package listing assembles the published upcoming and past event pages from
// the rendered MM-DD-YYYY-slug.qmd files.
package listing

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// When selects which half of the calendar an index covers.
type When string

const (
	Upcoming When = "upcoming"
	Past     When = "past"
)

// ParseWhen accepts upcoming, future and past.
func ParseWhen(s string) (When, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "upcoming", "future":
		return Upcoming, nil
	case "past":
		return Past, nil
	default:
		return "", fmt.Errorf("invalid listing %q (want upcoming or past)", s)
	}
}

// templateName is the header/footer stem for the page.
func (w When) templateName() string {
	if w == Past {
		return "past_events"
	}
	return "future_events"
}

var filenamePattern = regexp.MustCompile(`^(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])-(\d{4})-(.+)\.qmd$`)

// Entry is one published event file.
type Entry struct {
	Path string
	Date time.Time
	Name string
}

// ParseFilename reads the date and slug out of a published file name.
func ParseFilename(name string) (Entry, bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return Entry{}, false
	}
	date, err := time.Parse("01-02-2006", m[1]+"-"+m[2]+"-"+m[3])
	if err != nil {
		return Entry{}, false
	}
	return Entry{Date: date, Name: m[4]}, true
}

// Scan lists the published events in dir. Files that do not follow the
// naming scheme are ignored; a missing dir is empty.
func Scan(dir string, logger *slog.Logger) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read events dir: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		entry, ok := ParseFilename(f.Name())
		if !ok {
			logger.Debug("skipping unrecognised file", "file", f.Name())
			continue
		}
		entry.Path = filepath.Join(dir, f.Name())
		entries = append(entries, entry)
	}
	return entries, nil
}

// Select keeps the entries for when, relative to today, in page order:
// upcoming dates ascending, past dates descending, names ascending within a day.
func Select(entries []Entry, when When, today time.Time) []Entry {
	cutoff := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	var out []Entry
	for _, e := range entries {
		past := e.Date.Before(cutoff)
		if past == (when == Past) {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			if when == Past {
				return out[i].Date.After(out[j].Date)
			}
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Heading is the per-day section title.
func Heading(date time.Time) string {
	return "## " + date.Format("Monday January 2, 2006")
}

// Templates are the optional text placed around the listing.
type Templates struct {
	Header string
	Footer string
}

// LoadTemplates reads {future,past}_events.{header,footer}.tmpl from dir.
// Missing files are empty.
func LoadTemplates(dir string, when When) (Templates, error) {
	var t Templates
	if dir == "" {
		return t, nil
	}
	for part, dst := range map[string]*string{"header": &t.Header, "footer": &t.Footer} {
		data, err := os.ReadFile(filepath.Join(dir, when.templateName()+"."+part+".tmpl"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Templates{}, fmt.Errorf("failed to read %s template: %w", part, err)
		}
		*dst = string(data)
	}
	return t, nil
}

// Build concatenates the event bodies under one heading per day.
func Build(entries []Entry, tmpl Templates) (string, error) {
	var b strings.Builder
	b.WriteString(tmpl.Header)

	var current time.Time
	for i, e := range entries {
		if i == 0 || !e.Date.Equal(current) {
			current = e.Date
			b.WriteString(Heading(e.Date))
			b.WriteString("\n\n")
		}
		body, err := os.ReadFile(e.Path)
		if err != nil {
			return "", fmt.Errorf("failed to read event %s: %w", filepath.Base(e.Path), err)
		}
		b.Write(body)
		b.WriteString("\n\n")
	}

	b.WriteString(tmpl.Footer)
	return b.String(), nil
}

// Index scans eventsDir and builds the page for when.
func Index(eventsDir, templatesDir string, when When, today time.Time, logger *slog.Logger) (string, error) {
	entries, err := Scan(eventsDir, logger)
	if err != nil {
		return "", err
	}
	tmpl, err := LoadTemplates(templatesDir, when)
	if err != nil {
		return "", err
	}
	selected := Select(entries, when, today)
	logger.Info("built event index", "when", string(when), "events", len(selected))
	return Build(selected, tmpl)
}
