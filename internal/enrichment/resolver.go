package enrichment

import (
	"context"
	"regexp"
	"strings"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]`)

// Lookup is what a resolver knows about one performer name.
type Lookup struct {
	// Name is the performer name with surrounding whitespace removed.
	Name     string
	Mentions []string
	Profiles *Profiles
}

// Resolver maps a performer name to a handle. It reports false when it has no answer.
type Resolver interface {
	Resolve(ctx context.Context, lookup Lookup) (string, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, lookup Lookup) (string, bool)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, lookup Lookup) (string, bool) {
	return f(ctx, lookup)
}

// DefaultResolvers returns the resolution order: explicit handle, mention
// substring, mention display name, fresh cache scan, directory search.
func DefaultResolvers() []Resolver {
	return []Resolver{
		ResolverFunc(explicitHandle),
		ResolverFunc(mentionSubstring),
		ResolverFunc(mentionDisplayName),
		ResolverFunc(freshCacheDisplayName),
		ResolverFunc(directorySearch),
	}
}

func explicitHandle(_ context.Context, lookup Lookup) (string, bool) {
	if !strings.HasPrefix(lookup.Name, "@") {
		return "", false
	}
	handle := lookup.Name[1:]
	return handle, handle != ""
}

func mentionSubstring(_ context.Context, lookup Lookup) (string, bool) {
	normalized := nonAlphanumeric.ReplaceAllString(strings.ToLower(lookup.Name), "")
	if normalized == "" {
		return "", false
	}
	for _, handle := range lookup.Mentions {
		if strings.Contains(strings.ReplaceAll(handle, ".", ""), normalized) {
			return handle, true
		}
	}
	return "", false
}

func mentionDisplayName(ctx context.Context, lookup Lookup) (string, bool) {
	name := strings.ToLower(lookup.Name)
	for _, handle := range lookup.Mentions {
		profile := lookup.Profiles.Fetch(ctx, handle)
		if profile == nil {
			continue
		}
		if strings.Contains(strings.ToLower(profile.FullName), name) {
			return handle, true
		}
	}
	return "", false
}

func freshCacheDisplayName(_ context.Context, lookup Lookup) (string, bool) {
	name := strings.ToLower(lookup.Name)
	for _, user := range lookup.Profiles.FreshUsers() {
		if strings.Contains(strings.ToLower(user.User.FullName), name) {
			return user.Username, true
		}
	}
	return "", false
}

func directorySearch(ctx context.Context, lookup Lookup) (string, bool) {
	results, err := lookup.Profiles.directory.Search(ctx, lookup.Name)
	if err != nil || len(results) == 0 || results[0] == "" {
		return "", false
	}
	return results[0], true
}
