package classifier

import (
	"math"
	"regexp"
	"strings"
)

// keywordSaturation is the number of distinct keyword hits that yields a full score.
const keywordSaturation = 6

var tokenPattern = regexp.MustCompile(`[a-zA-Z]{2,}`)

var eventKeywords = map[string]struct{}{}

func init() {
	words := []string{
		"event", "tonight", "tickets", "rsvp", "lineup", "doors", "show", "concert",
		"party", "festival", "live", "dj", "set", "stage", "venue", "dance", "opening",
		"release", "launch",
		"saturday", "friday", "sunday", "monday", "tuesday", "wednesday", "thursday",
		"jan", "january", "feb", "february", "mar", "march", "apr", "april", "may",
		"jun", "june", "jul", "july", "aug", "august", "sep", "sept", "september",
		"oct", "october", "nov", "november", "dec", "december",
	}
	for _, w := range words {
		eventKeywords[w] = struct{}{}
	}
}

// KeywordScore is the fraction of distinct event keywords found in the caption,
// saturating at 1.0 once keywordSaturation keywords match.
func KeywordScore(caption string) float64 {
	if caption == "" {
		return 0
	}

	matches := make(map[string]struct{})
	for _, token := range tokenPattern.FindAllString(strings.ToLower(caption), -1) {
		if _, ok := eventKeywords[token]; ok {
			matches[token] = struct{}{}
		}
	}
	if len(matches) == 0 {
		return 0
	}
	return math.Min(1, float64(len(matches))/keywordSaturation)
}
