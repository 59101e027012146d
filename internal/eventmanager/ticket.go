package eventmanager

import (
	"strings"

	"github.com/STRATINT/eventfeed/internal/models"
)

// TicketDomains are the ticketing platforms whose links are published as tickets.
var TicketDomains = []string{
	"eventbrite.com",
	"luma.com",
	"lu.ma",
	"tixr.com",
	"dice.fm",
}

// ChooseTicketLink keeps an extracted link that points at a ticketing platform.
// Anything else falls back to the post itself, tagged as info.
func ChooseTicketLink(postURL, extracted string) (string, models.TicketLinkType) {
	link := strings.TrimSpace(extracted)
	lower := strings.ToLower(link)
	for _, domain := range TicketDomains {
		if link != "" && strings.Contains(lower, domain) {
			return link, models.TicketLinkTickets
		}
	}
	return postURL, models.TicketLinkInfo
}
