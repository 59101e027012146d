package enrichment

import (
	"regexp"
	"strings"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9._]+)`)

// ExtractMentions returns the lowercased @handles in text, deduplicated in
// first-seen order.
func ExtractMentions(text string) []string {
	if text == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var mentions []string
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		handle := strings.ToLower(match[1])
		if _, ok := seen[handle]; ok {
			continue
		}
		seen[handle] = struct{}{}
		mentions = append(mentions, handle)
	}
	return mentions
}

// SelectBestLink picks a performer's outward link: an audio platform first,
// then a listings platform, then anything that is not Instagram itself.
// It returns "" when nothing qualifies.
func SelectBestLink(links []string) string {
	candidates := make([]string, 0, len(links))
	for _, link := range links {
		if link != "" {
			candidates = append(candidates, link)
		}
	}

	preferences := []func(string) bool{
		func(v string) bool { return strings.Contains(v, "soundcloud.com") },
		func(v string) bool { return strings.Contains(v, "residentadvisor") || strings.Contains(v, "ra.co") },
		func(v string) bool { return !strings.Contains(v, "instagram.com") },
	}
	for _, prefer := range preferences {
		for _, link := range candidates {
			if prefer(strings.ToLower(link)) {
				return link
			}
		}
	}
	return ""
}
