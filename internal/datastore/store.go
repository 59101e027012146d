package datastore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/STRATINT/eventfeed/internal/models"
)

var (
	// ErrNotFound is returned when a record file does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrClaimed is returned when another worker holds a post's stage lock.
	ErrClaimed = errors.New("post stage already claimed")
)

// ProfileCacheDir is the default identity cache directory name inside the root.
// Dot-prefixed directories are never listed as posts.
const ProfileCacheDir = ".profile_cache"

// Store is the on-disk record store: one directory per (handle, short code).
type Store struct {
	root  string
	locks sync.Map // post dir -> *sync.Mutex
}

// Open resolves and creates the datastore root.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve datastore root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create datastore root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute datastore root.
func (s *Store) Root() string {
	return s.root
}

// ProfileCachePath returns the default identity cache location for this store.
func (s *Store) ProfileCachePath() string {
	return filepath.Join(s.root, ProfileCacheDir)
}

// Post returns the record accessor for a post. Nothing is created on disk.
func (s *Store) Post(key models.PostKey) *PostStore {
	dir := filepath.Join(s.root, key.Handle, key.ShortCode)
	mu, _ := s.locks.LoadOrStore(dir, &sync.Mutex{})
	return newPostStore(key, dir, mu.(*sync.Mutex))
}

// Posts lists every post directory under the root, sorted by handle then short code.
func (s *Store) Posts() ([]*PostStore, error) {
	handles, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list datastore: %w", err)
	}

	var posts []*PostStore
	for _, handle := range handles {
		if !handle.IsDir() || strings.HasPrefix(handle.Name(), ".") {
			continue
		}
		codes, err := os.ReadDir(filepath.Join(s.root, handle.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to list posts for %s: %w", handle.Name(), err)
		}
		for _, code := range codes {
			if !code.IsDir() || strings.HasPrefix(code.Name(), ".") {
				continue
			}
			posts = append(posts, s.Post(models.PostKey{Handle: handle.Name(), ShortCode: code.Name()}))
		}
	}

	sort.Slice(posts, func(i, j int) bool {
		return posts[i].Key().String() < posts[j].Key().String()
	})
	return posts, nil
}

// ValidateKey rejects keys that would escape the datastore root.
func ValidateKey(key models.PostKey) error {
	for _, part := range []string{key.Handle, key.ShortCode} {
		if part == "" || part == "." || part == ".." || strings.HasPrefix(part, ".") {
			return fmt.Errorf("invalid post key %q", key.String())
		}
		if strings.ContainsAny(part, `/\`) {
			return fmt.Errorf("invalid post key %q", key.String())
		}
	}
	return nil
}
