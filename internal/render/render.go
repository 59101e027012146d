// Package render formats validated events into publishable Quarto records.
package render

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/STRATINT/eventfeed/internal/models"
)

// Template placeholders.
const (
	placeholderName     = "<EVENT NAME>"
	placeholderTime     = "STARTTIME-ENDTIME"
	placeholderDJ       = "* [DJ Name](DJ Link)"
	placeholderLink     = "[Tickets or Info](URL)"
	placeholderLinkAlt  = "[Tickets|Info](URL)"
	emptyPerformerBlock = "*"
)

var (
	djLinePattern       = regexp.MustCompile(`(?m)^[ \t]*\* \[DJ Name\].*$`)
	locationLinePattern = regexp.MustCompile(`(?m)^Location:.*$`)
	metaPattern         = regexp.MustCompile(`^<!--\s*event-meta:\s*(.+?)\s*-->$`)
)

// ErrNoTemplate is returned when none of the candidate template paths exists.
var ErrNoTemplate = errors.New("no event template found")

// LoadTemplate returns the contents of the first existing path.
func LoadTemplate(paths ...string) (string, error) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to read template %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoTemplate, strings.Join(paths, ", "))
}

// Render substitutes the event into template and prefixes the metadata line.
// It is a pure function of its inputs.
func Render(template string, event models.Event, postURL string) string {
	body := Body(template, event)
	return MetaLine(Meta{
		PostURL:    postURL,
		TicketLink: event.TicketOrInfoLink,
		EventDate:  event.Date,
		EventName:  event.EventName,
	}) + "\n" + body
}

// Body renders the template without the metadata line.
func Body(template string, event models.Event) string {
	performers := performerBlock(event.DJs)

	label := "Info"
	if event.TicketLinkType == models.TicketLinkTickets {
		label = "Tickets"
	}
	link := fmt.Sprintf("[%s](%s)", label, event.TicketOrInfoLink)

	out := template
	out = strings.ReplaceAll(out, placeholderName, event.EventName)
	out = strings.ReplaceAll(out, placeholderTime, TimeRange(event.StartTime, event.EndTime))
	out = strings.ReplaceAll(out, placeholderDJ, performers)
	out = djLinePattern.ReplaceAllLiteralString(out, performers)
	out = strings.ReplaceAll(out, placeholderLink, link)
	out = strings.ReplaceAll(out, placeholderLinkAlt, link)

	if dmOnlyLocation(event.LocationName) {
		out = locationLinePattern.ReplaceAllLiteralString(out, event.LocationName)
	}
	return out
}

// TimeRange formats start and end as "start-end". When either bound mentions
// "late" the range collapses to "start-late".
func TimeRange(start, end string) string {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)

	if isLate(start) {
		return "late"
	}
	if isLate(end) {
		end = "late"
	}
	return strings.Trim(start+"-"+end, "-")
}

func isLate(bound string) bool {
	return strings.Contains(strings.ToLower(bound), "late")
}

// performerBlock renders one bullet per distinct performer name. Names compare
// case-insensitively after trimming and the first occurrence wins.
func performerBlock(djs []models.Performer) string {
	seen := make(map[string]struct{}, len(djs))
	var lines []string
	for _, dj := range djs {
		key := strings.ToLower(strings.TrimSpace(dj.Name))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		if dj.Link != "" {
			lines = append(lines, fmt.Sprintf("* [%s](%s)", dj.Name, dj.Link))
		} else {
			lines = append(lines, "* "+dj.Name)
		}
	}
	if len(lines) == 0 {
		return emptyPerformerBlock
	}
	return strings.Join(lines, "\n")
}

// dmOnlyLocation reports a venue that is only disclosed by direct message.
func dmOnlyLocation(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "location") &&
		(strings.Contains(lower, "dm") || strings.Contains(lower, "pm"))
}

// DateLayout is the event date format the extractor is asked for.
const DateLayout = "2006-01-02"

// Filename derives the published file name, MM-DD-YYYY-slug.qmd, from the
// event date and name. It is the idempotency key for rendered output.
// A date that is not YYYY-MM-DD is slugged, so the name never holds a path
// separator.
func Filename(event models.Event) string {
	date := Slug(event.Date)
	if t, err := time.Parse(DateLayout, strings.TrimSpace(event.Date)); err == nil {
		date = t.Format("01-02-2006")
	}
	return strings.Trim(date+"-"+Slug(event.EventName)+".qmd", "-")
}

// Slug lowercases name and collapses every run of non-alphanumeric characters
// into a single hyphen.
func Slug(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(name)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return strings.Join(fields, "-")
}
