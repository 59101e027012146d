package eventmanager

import (
	"fmt"
	"strings"
	"time"

	"github.com/STRATINT/eventfeed/internal/models"
	"github.com/STRATINT/eventfeed/internal/render"
)

// RequiredFields names the event fields that must be non-empty before an event
// is saved.
type RequiredFields string

const (
	// RequiredMinimal requires a name and a date.
	RequiredMinimal RequiredFields = "minimal"
	// RequiredStrict also requires the venue name and address.
	RequiredStrict RequiredFields = "strict"
)

// ParseRequiredFields validates a policy name. Empty selects RequiredMinimal.
func ParseRequiredFields(name string) (RequiredFields, error) {
	switch RequiredFields(strings.ToLower(strings.TrimSpace(name))) {
	case "", RequiredMinimal:
		return RequiredMinimal, nil
	case RequiredStrict:
		return RequiredStrict, nil
	default:
		return "", fmt.Errorf("unknown required fields policy %q", name)
	}
}

// Fields lists the JSON names of the required fields in check order.
func (r RequiredFields) Fields() []string {
	fields := []string{"event_name", "date"}
	if r == RequiredStrict {
		fields = append(fields, "location_name", "location_address")
	}
	return fields
}

// Missing returns the required fields that are blank in event.
func (r RequiredFields) Missing(event models.Event) []string {
	var missing []string
	for _, field := range r.Fields() {
		if strings.TrimSpace(event.Field(field)) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func missingFieldsReason(missing []string) string {
	return "Missing required fields: " + strings.Join(missing, ", ")
}

// invalidDateReason returns a failure reason when date is not YYYY-MM-DD.
func invalidDateReason(date string) string {
	if _, err := time.Parse(render.DateLayout, date); err != nil {
		return "Invalid date: " + date
	}
	return ""
}
