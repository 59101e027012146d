// Package progress aggregates per-stage counts across the datastore so
// operators can see where the corpus is stuck.
package progress

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/STRATINT/eventfeed/internal/datastore"
	"github.com/STRATINT/eventfeed/internal/metrics"
	"github.com/STRATINT/eventfeed/internal/models"
	"github.com/STRATINT/eventfeed/internal/render"
)

// Counts holds the number of posts that reached each stage.
type Counts struct {
	Downloaded       int
	Analyzed         int
	EventListings    int
	ExtractedSuccess int
	ExtractedFail    int
	Rendered         int
}

// NonEvents is the number of analyzed posts classified as not an event.
func (c Counts) NonEvents() int {
	return max(c.Analyzed-c.EventListings, 0)
}

// ExtractedTotal is the number of posts with a terminal extraction state.
func (c Counts) ExtractedTotal() int {
	return c.ExtractedSuccess + c.ExtractedFail
}

// Collect walks the datastore. Unreadable analysis or event records count as
// absent for the stages that depend on their contents.
func Collect(store *datastore.Store, eventsDir string) (Counts, error) {
	var counts Counts

	posts, err := store.Posts()
	if err != nil {
		return counts, err
	}

	for _, post := range posts {
		if !post.Exists() {
			continue
		}
		counts.Downloaded++

		if post.AnalysisDone() {
			counts.Analyzed++
			if raw, err := post.RawAnalysis(); err == nil && isListing(raw) {
				counts.EventListings++
			}
		}

		switch post.Outcome() {
		case datastore.OutcomeSuccess:
			counts.ExtractedSuccess++
			if raw, err := post.RawEvent(); err == nil && rendered(raw, eventsDir) {
				counts.Rendered++
			}
		case datastore.OutcomeFailed:
			counts.ExtractedFail++
		}
	}
	return counts, nil
}

func isListing(raw []byte) bool {
	if !gjson.ValidBytes(raw) {
		return false
	}
	return gjson.GetBytes(raw, "is_event_listing").Bool() || gjson.GetBytes(raw, "is_event").Bool()
}

// rendered checks for the published file of an event that has both a name and
// a date; without them no filename can be derived.
func rendered(raw []byte, eventsDir string) bool {
	if !gjson.ValidBytes(raw) {
		return false
	}
	event := models.Event{
		EventName: gjson.GetBytes(raw, "event_name").String(),
		Date:      gjson.GetBytes(raw, "date").String(),
	}
	if event.EventName == "" || event.Date == "" {
		return false
	}
	return render.Published(eventsDir, event)
}

// Publish exposes counts as corpus gauges.
func Publish(collector *metrics.Collector, counts Counts) {
	collector.SetCorpus("downloaded", counts.Downloaded)
	collector.SetCorpus("clip_analyzed", counts.Analyzed)
	collector.SetCorpus("clip_event_listings", counts.EventListings)
	collector.SetCorpus("extracted_success", counts.ExtractedSuccess)
	collector.SetCorpus("extracted_fail", counts.ExtractedFail)
	collector.SetCorpus("rendered", counts.Rendered)
}

// Percentage formats numerator/denominator with one decimal, or "n/a" when
// the denominator is not positive.
func Percentage(numerator, denominator int) string {
	if denominator <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", float64(numerator)/float64(denominator)*100)
}

// Table renders counts as a bordered plain-text table.
func Table(c Counts) string {
	downloadedPercent := "n/a"
	if c.Downloaded > 0 {
		downloadedPercent = "100.0%"
	}

	rows := [][4]string{
		{"Downloaded posts", strconv.Itoa(c.Downloaded), downloadedPercent, ""},
		{"CLIP analyzed", strconv.Itoa(c.Analyzed), Percentage(c.Analyzed, c.Downloaded), "of downloaded"},
		{"  - events", strconv.Itoa(c.EventListings), "n/a", "classification result"},
		{"  - non-events", strconv.Itoa(c.NonEvents()), "n/a", "classification result"},
		{"Extracted total", strconv.Itoa(c.ExtractedTotal()), Percentage(c.ExtractedTotal(), c.EventListings), "of CLIP events"},
		{"  - success", strconv.Itoa(c.ExtractedSuccess), "n/a", ""},
		{"  - fail", strconv.Itoa(c.ExtractedFail), "n/a", ""},
		{"Rendered", strconv.Itoa(c.Rendered), Percentage(c.Rendered, c.ExtractedSuccess), "of extracted success"},
	}
	headers := [4]string{"Stage", "Count", "Percent", "Notes"}

	var widths [4]int
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	formatRow := func(v [4]string) string {
		return fmt.Sprintf("| %-*s | %*s | %*s | %-*s |",
			widths[0], v[0], widths[1], v[1], widths[2], v[2], widths[3], v[3])
	}
	border := fmt.Sprintf("+-%s-+-%s-+-%s-+-%s-+",
		strings.Repeat("-", widths[0]), strings.Repeat("-", widths[1]),
		strings.Repeat("-", widths[2]), strings.Repeat("-", widths[3]))

	lines := []string{border, formatRow(headers), border}
	for _, row := range rows {
		lines = append(lines, formatRow(row))
	}
	lines = append(lines, border)
	return strings.Join(lines, "\n")
}
