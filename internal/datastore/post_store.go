package datastore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/STRATINT/eventfeed/internal/models"
)

const (
	postFile        = "post.json"
	analysisFile    = "analysis.json"
	eventFile       = "event.json"
	eventErrorFile  = "event_error.json"
	rawResponseFile = "openai_response.json"
	mediaDirName    = "media"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Outcome is the terminal state of the extraction stage for one post.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}

// PostStore reads and writes the records of a single post.
type PostStore struct {
	key models.PostKey
	dir string
	mu  *sync.Mutex
}

func newPostStore(key models.PostKey, dir string, mu *sync.Mutex) *PostStore {
	return &PostStore{key: key, dir: dir, mu: mu}
}

// Key returns the post identity.
func (p *PostStore) Key() models.PostKey { return p.key }

// Dir returns the post directory.
func (p *PostStore) Dir() string { return p.dir }

// MediaDir returns the directory media files are downloaded into.
func (p *PostStore) MediaDir() string { return filepath.Join(p.dir, mediaDirName) }

func (p *PostStore) path(name string) string { return filepath.Join(p.dir, name) }

// EnsureDirs creates the post and media directories.
func (p *PostStore) EnsureDirs() error {
	if err := os.MkdirAll(p.MediaDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create post directories: %w", err)
	}
	return nil
}

// Exists reports whether capture succeeded for the post.
func (p *PostStore) Exists() bool {
	return fileExists(p.path(postFile))
}

// SavePost writes post.json.
func (p *PostStore) SavePost(post models.Post) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.EnsureDirs(); err != nil {
		return err
	}
	return writeJSON(p.path(postFile), post)
}

// LoadPost reads post.json.
func (p *PostStore) LoadPost() (models.Post, error) {
	var post models.Post
	err := readJSON(p.path(postFile), &post)
	return post, err
}

// ListMedia returns the downloaded media files in name order. In-flight temp
// files are never listed.
func (p *PostStore) ListMedia() ([]string, error) {
	entries, err := os.ReadDir(p.MediaDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list media: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(p.MediaDir(), entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// HasMedia reports whether at least one media file is stored.
func (p *PostStore) HasMedia() bool {
	files, err := p.ListMedia()
	return err == nil && len(files) > 0
}

// Images returns the stored still images (jpg, jpeg, png).
func (p *PostStore) Images() ([]string, error) {
	files, err := p.ListMedia()
	if err != nil {
		return nil, err
	}

	var images []string
	for _, file := range files {
		if imageExtensions[strings.ToLower(filepath.Ext(file))] {
			images = append(images, file)
		}
	}
	return images, nil
}

// SaveAnalysis writes analysis.json.
func (p *PostStore) SaveAnalysis(analysis models.Analysis) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return writeJSON(p.path(analysisFile), analysis)
}

// LoadAnalysis reads analysis.json.
func (p *PostStore) LoadAnalysis() (*models.Analysis, error) {
	var analysis models.Analysis
	if err := readJSON(p.path(analysisFile), &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// RawAnalysis returns analysis.json undecoded.
func (p *PostStore) RawAnalysis() ([]byte, error) {
	return p.readRaw(analysisFile)
}

// RawEvent returns event.json undecoded.
func (p *PostStore) RawEvent() ([]byte, error) {
	return p.readRaw(eventFile)
}

func (p *PostStore) readRaw(name string) ([]byte, error) {
	data, err := os.ReadFile(p.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// AnalysisDone reports whether classification was already attempted.
func (p *PostStore) AnalysisDone() bool {
	return fileExists(p.path(analysisFile))
}

// SaveEvent writes event.json and then removes any error marker. event.json
// lands first so a reader never observes neither file.
func (p *PostStore) SaveEvent(event models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := writeJSON(p.path(eventFile), event); err != nil {
		return err
	}
	if err := os.Remove(p.path(eventErrorFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove error marker: %w", err)
	}
	return nil
}

// LoadEvent reads event.json.
func (p *PostStore) LoadEvent() (*models.Event, error) {
	var event models.Event
	if err := readJSON(p.path(eventFile), &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkFailed writes the error marker. It is the only path to event_error.json.
func (p *PostStore) MarkFailed(reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return writeJSON(p.path(eventErrorFile), models.ErrorMarker{Error: reason})
}

// LoadError returns the recorded failure reason.
func (p *PostStore) LoadError() (string, error) {
	var marker models.ErrorMarker
	if err := readJSON(p.path(eventErrorFile), &marker); err != nil {
		return "", err
	}
	return marker.Error, nil
}

// EventAlreadyProcessed reports whether extraction reached a terminal state.
func (p *PostStore) EventAlreadyProcessed() bool {
	return p.Outcome() != OutcomeNone
}

// Outcome returns the extraction terminal state. event.json wins over a marker
// that has not been removed yet.
func (p *PostStore) Outcome() Outcome {
	switch {
	case fileExists(p.path(eventFile)):
		return OutcomeSuccess
	case fileExists(p.path(eventErrorFile)):
		return OutcomeFailed
	default:
		return OutcomeNone
	}
}

// SaveRawResponse stores the raw extraction payload for audit.
func (p *PostStore) SaveRawResponse(raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return WriteFileAtomic(p.path(rawResponseFile), raw)
	}
	buf.WriteByte('\n')
	return WriteFileAtomic(p.path(rawResponseFile), buf.Bytes())
}

// LoadRawResponse returns the stored raw extraction payload.
func (p *PostStore) LoadRawResponse() ([]byte, error) {
	return p.readRaw(rawResponseFile)
}

// Claim takes an exclusive, cross-process lock on one stage of this post. Locks
// older than staleAfter are considered abandoned and reclaimed. The returned
// release func removes the lock.
func (p *PostStore) Claim(stage string, staleAfter time.Duration) (func(), error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create post directory: %w", err)
	}
	lockPath := p.path("." + stage + ".lock")

	release, err := createLock(lockPath)
	if !errors.Is(err, os.ErrExist) {
		return release, err
	}
	if !reclaimStale(lockPath, staleAfter) {
		return nil, ErrClaimed
	}

	release, err = createLock(lockPath)
	if errors.Is(err, os.ErrExist) {
		return nil, ErrClaimed
	}
	return release, err
}

// createLock creates path exclusively. It returns an error matching
// os.ErrExist when the lock is already held.
func createLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create lock: %w", err)
	}
	fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	f.Close()
	return func() { os.Remove(path) }, nil
}

// reclaimStale removes lockPath when it is older than staleAfter. Only the
// holder of the reclaim guard may remove it, and staleness is checked again
// under the guard, so a lock taken after the first check is never removed.
func reclaimStale(lockPath string, staleAfter time.Duration) bool {
	if !lockIsStale(lockPath, staleAfter) {
		return false
	}

	guard := lockPath + ".reclaim"
	releaseGuard, err := createLock(guard)
	if err != nil {
		// Left behind by a reclaimer that died holding it.
		if lockIsStale(guard, staleAfter) {
			os.Remove(guard)
		}
		return false
	}
	defer releaseGuard()

	if !lockIsStale(lockPath, staleAfter) {
		return false
	}
	err = os.Remove(lockPath)
	return err == nil || errors.Is(err, os.ErrNotExist)
}

func lockIsStale(path string, staleAfter time.Duration) bool {
	info, err := os.Stat(path)
	return err == nil && time.Since(info.ModTime()) >= staleAfter
}
