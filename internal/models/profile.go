package models

// Profile is the subset of an Instagram user the enrichment engine reads.
type Profile struct {
	Username    string    `json:"username"`
	FullName    string    `json:"full_name"`
	ExternalURL string    `json:"external_url,omitempty"`
	BioLinks    []BioLink `json:"bio_links,omitempty"`
}

// BioLink is one link in a profile's link-in-bio list.
type BioLink struct {
	URL string `json:"url"`
}

// Links returns the external URL followed by the bio link URLs, skipping blanks.
func (p Profile) Links() []string {
	var links []string
	if p.ExternalURL != "" {
		links = append(links, p.ExternalURL)
	}
	for _, link := range p.BioLinks {
		if link.URL != "" {
			links = append(links, link.URL)
		}
	}
	return links
}
