package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Meta is the machine-readable summary prefixed to every rendered record.
// Downstream automation reads it instead of parsing the body.
type Meta struct {
	PostURL    string
	TicketLink string
	EventDate  string
	EventName  string
}

// MetaLine formats m as an HTML comment.
func MetaLine(m Meta) string {
	return fmt.Sprintf("<!-- event-meta: post_url=%s; ticket_link=%s; event_date=%s; event_name=%s -->",
		metaValue(m.PostURL), metaValue(m.TicketLink), metaValue(m.EventDate), metaValue(m.EventName))
}

// metaValue keeps values from breaking the key=value list or closing the comment.
func metaValue(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, ";", ",")
	v = strings.ReplaceAll(v, "-->", "--")
	return strings.TrimSpace(v)
}

// ParseMeta parses a metadata line. ok is false when line is not one.
func ParseMeta(line string) (Meta, bool) {
	match := metaPattern.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return Meta{}, false
	}

	fields := make(map[string]string)
	for _, part := range strings.Split(match[1], ";") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if len(fields) == 0 {
		return Meta{}, false
	}

	return Meta{
		PostURL:    fields["post_url"],
		TicketLink: fields["ticket_link"],
		EventDate:  fields["event_date"],
		EventName:  fields["event_name"],
	}, true
}

// ReadMeta returns the first metadata line found in r. It is the entry point
// for automation that consumes the published directory; nothing in this
// module calls it.
func ReadMeta(r io.Reader) (Meta, bool, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "<!--") {
			continue
		}
		if meta, ok := ParseMeta(line); ok {
			return meta, true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return Meta{}, false, fmt.Errorf("failed to read rendered record: %w", err)
	}
	return Meta{}, false, nil
}
