package profilecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/STRATINT/eventfeed/internal/datastore"
	"github.com/STRATINT/eventfeed/internal/models"
)

// DefaultTTL is the freshness window for cached profiles and missing markers.
const DefaultTTL = 7 * 24 * time.Hour

// Cache is a TTL-bounded on-disk identity cache with one file per normalized key.
// Stale entries are ignored on read, not deleted.
type Cache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTL sets the freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

type entry struct {
	Timestamp float64         `json:"timestamp"`
	Username  string          `json:"username"`
	User      *models.Profile `json:"user,omitempty"`
	Missing   bool            `json:"missing,omitempty"`
}

// FreshUser is a cached, unexpired profile.
type FreshUser struct {
	Username string
	User     models.Profile
}

// New creates a cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	c := &Cache{
		dir: dir,
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile cache: %w", err)
	}
	return c, nil
}

// Normalize trims and case-folds an identity key. A Caser holds state, so one is
// built per call.
func (c *Cache) Normalize(key string) string {
	return cases.Fold().String(strings.TrimSpace(key))
}

func (c *Cache) path(key string) string {
	normalized := c.Normalize(key)
	if isSafeName(normalized) {
		return filepath.Join(c.dir, normalized+".json")
	}
	sum := sha256.Sum256([]byte(normalized))
	return filepath.Join(c.dir, "h_"+hex.EncodeToString(sum[:16])+".json")
}

// Get returns the cached profile, or nil when absent, stale, corrupt or marked missing.
func (c *Cache) Get(key string) *models.Profile {
	e, ok := c.read(c.path(key))
	if !ok || !c.fresh(e) || e.Missing || e.User == nil {
		return nil
	}
	user := *e.User
	return &user
}

// IsMissing reports whether the key carries an unexpired missing marker.
func (c *Cache) IsMissing(key string) bool {
	e, ok := c.read(c.path(key))
	return ok && e.Missing && c.fresh(e)
}

// Set stores a profile, replacing any previous entry for the key.
func (c *Cache) Set(key string, profile models.Profile) error {
	return c.write(key, entry{User: &profile})
}

// SetMissing records that the identity does not exist.
func (c *Cache) SetMissing(key string) error {
	return c.write(key, entry{Missing: true})
}

// FreshUsers returns every unexpired profile entry, ordered by username.
func (c *Cache) FreshUsers() []FreshUser {
	files, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return nil
	}

	var users []FreshUser
	for _, file := range files {
		e, ok := c.read(file)
		if !ok || e.Missing || e.User == nil || !c.fresh(e) {
			continue
		}
		users = append(users, FreshUser{Username: e.Username, User: *e.User})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

func (c *Cache) fresh(e entry) bool {
	stamp := time.Unix(0, int64(e.Timestamp*float64(time.Second)))
	return c.now().Sub(stamp) < c.ttl
}

func (c *Cache) read(path string) (entry, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return entry{}, false
	}
	return e, true
}

func (c *Cache) write(key string, e entry) error {
	e.Username = c.Normalize(key)
	e.Timestamp = float64(c.now().UnixNano()) / float64(time.Second)

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := datastore.WriteFileAtomic(c.path(key), data); err != nil {
		return fmt.Errorf("failed to write cache entry %q: %w", e.Username, err)
	}
	return nil
}

func isSafeName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
