package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Event is the validated, enriched record written to event.json.
type Event struct {
	EventName        string         `json:"event_name"`
	Date             string         `json:"date"`
	StartTime        string         `json:"start_time"`
	EndTime          string         `json:"end_time"`
	LocationName     string         `json:"location_name"`
	LocationAddress  string         `json:"location_address"`
	GoogleMapsLink   string         `json:"google_maps_link"`
	DJs              []Performer    `json:"djs"`
	TicketOrInfoLink string         `json:"ticket_or_info_link"`
	TicketLinkType   TicketLinkType `json:"ticket_link_type"`
	Confidence       Confidence     `json:"confidence"`
}

// TicketLinkType tags the outward link of an event.
type TicketLinkType string

const (
	TicketLinkTickets TicketLinkType = "tickets"
	TicketLinkInfo    TicketLinkType = "info"
)

// Performer is a secondary entity of an event. Name is the dedup key.
type Performer struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

// UnmarshalJSON accepts either {"name","link"} or a bare name string, since
// completion models return both shapes.
func (p *Performer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*p = Performer{Name: name}
		return nil
	}

	type plain Performer
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Performer(v)
	return nil
}

// Confidence is the model's self-reported certainty in [0,1].
type Confidence float64

// UnmarshalJSON accepts numbers, numeric strings and null.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*c = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid confidence %q", raw)
	}
	*c = Confidence(v)
	return nil
}

// Field returns the value of a required-field candidate by its JSON name.
func (e Event) Field(name string) string {
	switch name {
	case "event_name":
		return e.EventName
	case "date":
		return e.Date
	case "start_time":
		return e.StartTime
	case "end_time":
		return e.EndTime
	case "location_name":
		return e.LocationName
	case "location_address":
		return e.LocationAddress
	case "google_maps_link":
		return e.GoogleMapsLink
	case "ticket_or_info_link":
		return e.TicketOrInfoLink
	default:
		return ""
	}
}

// ErrorMarker is the body of event_error.json.
type ErrorMarker struct {
	Error string `json:"error"`
}
