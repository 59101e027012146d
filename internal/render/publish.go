package render

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/STRATINT/eventfeed/internal/datastore"
	"github.com/STRATINT/eventfeed/internal/models"
)

// Publish renders event into dir under its derived filename, replacing any
// previous rendering atomically. It returns the written path.
func Publish(dir, template string, event models.Event, postURL string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create events directory: %w", err)
	}

	path := filepath.Join(dir, Filename(event))
	if err := datastore.WriteFileAtomic(path, []byte(Render(template, event, postURL))); err != nil {
		return "", fmt.Errorf("failed to write rendered event: %w", err)
	}
	return path, nil
}

// Published reports whether event has already been rendered into dir.
func Published(dir string, event models.Event) bool {
	_, err := os.Stat(filepath.Join(dir, Filename(event)))
	return err == nil
}
