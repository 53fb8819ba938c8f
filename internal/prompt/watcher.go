package prompt

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// Watcher observes the workspace directory and fires a debounced callback
// when markdown files change. The assembler itself re-reads on every build;
// the callback exists for downstream consumers (memory re-indexing).
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange func(path string)
	debounce time.Duration
}

// NewWatcher starts watching a workspace directory.
func NewWatcher(workspace string, onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(workspace); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", workspace, err)
	}
	// subdirectories (skills) are watched too, best-effort
	matches, _ := filepath.Glob(filepath.Join(workspace, "*"))
	for _, m := range matches {
		fsw.Add(m)
	}

	return &Watcher{watcher: fsw, onChange: onChange, debounce: 2 * time.Second}, nil
}

// Run consumes events until the context is cancelled. Rapid edit bursts
// collapse into one callback per path.
func (w *Watcher) Run(ctx context.Context) {
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[event.Name] = time.Now()
			L_trace("prompt: workspace change", "path", event.Name, "op", event.Op.String())

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("prompt: watcher error", "error", err)

		case <-ticker.C:
			now := time.Now()
			for path, at := range pending {
				if now.Sub(at) >= w.debounce {
					delete(pending, path)
					L_debug("prompt: workspace file changed", "path", path)
					if w.onChange != nil {
						w.onChange(path)
					}
				}
			}
		}
	}
}
