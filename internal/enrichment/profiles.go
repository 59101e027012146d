package enrichment

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/STRATINT/eventfeed/internal/metrics"
	"github.com/STRATINT/eventfeed/internal/models"
	"github.com/STRATINT/eventfeed/internal/profilecache"
	"github.com/STRATINT/eventfeed/internal/social"
)

// Directory is the external identity service used to resolve performers.
type Directory interface {
	// Profile returns the public profile of username, or an error wrapping
	// social.ErrNotFound when the account does not exist.
	Profile(ctx context.Context, username string) (*models.Profile, error)
	// Search returns usernames matching query, best match first.
	Search(ctx context.Context, query string) ([]string, error)
}

// Profiles fetches profiles through the identity cache.
type Profiles struct {
	directory Directory
	cache     *profilecache.Cache
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewProfiles creates a cached profile fetcher. cache may be nil.
func NewProfiles(directory Directory, cache *profilecache.Cache, logger *slog.Logger) *Profiles {
	return &Profiles{directory: directory, cache: cache, logger: logger}
}

// Fetch returns the profile of username, or nil if it is unknown or the lookup
// failed. A known-missing marker suppresses the external call until it expires.
func (p *Profiles) Fetch(ctx context.Context, username string) *models.Profile {
	if p.cache != nil {
		if p.cache.IsMissing(username) {
			p.metrics.RecordProfileLookup("known_missing")
			return nil
		}
		if cached := p.cache.Get(username); cached != nil {
			p.metrics.RecordProfileLookup("cache")
			return cached
		}
	}

	p.metrics.RecordProfileLookup("directory")
	profile, err := p.directory.Profile(ctx, username)
	if err != nil {
		if isNotFound(err) && p.cache != nil {
			if cacheErr := p.cache.SetMissing(username); cacheErr != nil {
				p.logger.Warn("failed to cache missing profile", "username", username, "error", cacheErr)
			}
		}
		p.logger.Debug("profile lookup failed", "username", username, "error", err)
		return nil
	}
	if profile == nil {
		return nil
	}

	if p.cache != nil {
		if err := p.cache.Set(username, *profile); err != nil {
			p.logger.Warn("failed to cache profile", "username", username, "error", err)
		}
	}
	return profile
}

// Links returns the outward links of username's profile.
func (p *Profiles) Links(ctx context.Context, username string) []string {
	profile := p.Fetch(ctx, username)
	if profile == nil {
		return nil
	}
	return profile.Links()
}

// FreshUsers lists unexpired cached profiles.
func (p *Profiles) FreshUsers() []profilecache.FreshUser {
	if p.cache == nil {
		return nil
	}
	return p.cache.FreshUsers()
}

func isNotFound(err error) bool {
	if errors.Is(err, social.ErrNotFound) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "404") || strings.Contains(message, "not found")
}
