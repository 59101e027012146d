// Package enrichment resolves performer names from extracted events to social
// handles and picks an outward link for each.
package enrichment

import (
	"context"
	"log/slog"
	"strings"

	"github.com/STRATINT/eventfeed/internal/metrics"
	"github.com/STRATINT/eventfeed/internal/models"
	"github.com/STRATINT/eventfeed/internal/profilecache"
)

// Engine enriches the performer list of an event.
type Engine struct {
	profiles  *Profiles
	resolvers []Resolver
	logger    *slog.Logger
}

// NewEngine creates an engine. A nil directory disables lookups: every
// performer then links to the profile URL derived from its name.
func NewEngine(directory Directory, cache *profilecache.Cache, logger *slog.Logger) *Engine {
	e := &Engine{
		resolvers: DefaultResolvers(),
		logger:    logger,
	}
	if directory != nil {
		e.profiles = NewProfiles(directory, cache, logger)
	}
	return e
}

// WithResolvers replaces the resolution order.
func (e *Engine) WithResolvers(resolvers ...Resolver) *Engine {
	e.resolvers = resolvers
	return e
}

// WithMetrics counts profile lookups on collector.
func (e *Engine) WithMetrics(collector *metrics.Collector) *Engine {
	if e.profiles != nil {
		e.profiles.metrics = collector
	}
	return e
}

// Enrich fills performer links and appends caption mentions that are not
// already listed. Lookup failures fall back to profile URLs; they never fail
// the event.
func (e *Engine) Enrich(ctx context.Context, djs []models.Performer, caption string) []models.Performer {
	mentions := ExtractMentions(caption)

	if e.profiles == nil {
		for i := range djs {
			handle := strings.TrimSpace(strings.TrimLeft(djs[i].Name, "@"))
			if handle != "" {
				djs[i].Link = models.ProfileURL(handle)
			}
		}
		return djs
	}

	for i := range djs {
		handle, ok := e.resolve(ctx, djs[i].Name, mentions)
		if !ok {
			continue
		}
		djs[i].Link = e.linkFor(ctx, handle)
		e.logger.Debug("performer resolved", "name", djs[i].Name, "handle", handle, "link", djs[i].Link)
	}

	existing := make(map[string]struct{}, len(djs))
	for _, dj := range djs {
		existing[strings.ToLower(dj.Name)] = struct{}{}
	}
	for _, handle := range mentions {
		if _, ok := existing[handle]; ok {
			continue
		}
		djs = append(djs, models.Performer{Name: handle, Link: e.linkFor(ctx, handle)})
	}
	return djs
}

func (e *Engine) resolve(ctx context.Context, name string, mentions []string) (string, bool) {
	lookup := Lookup{
		Name:     strings.TrimSpace(name),
		Mentions: mentions,
		Profiles: e.profiles,
	}
	if lookup.Name == "" {
		return "", false
	}
	for _, resolver := range e.resolvers {
		if handle, ok := resolver.Resolve(ctx, lookup); ok {
			return handle, true
		}
	}
	return "", false
}

// linkFor fetches the handle's profile, which also caches it, and picks the best link.
func (e *Engine) linkFor(ctx context.Context, handle string) string {
	if best := SelectBestLink(e.profiles.Links(ctx, handle)); best != "" {
		return best
	}
	return models.ProfileURL(handle)
}
