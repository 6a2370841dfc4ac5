package roster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/doggobot/sentry/internal/embeddings"
)

// Enroller persists reference embeddings for an identity.
type Enroller interface {
	Enroll(ctx context.Context, name string, vecs [][]float32) error
}

// Watcher enrolls whitelist photos dropped into a directory at runtime. Two
// layouts are accepted: a file "<identity>_<anything>.jpg" (or just
// "<identity>.jpg") in the root, or a subdirectory "<identity>/" holding any
// number of photos. Writes are debounced so a photo still being copied is
// only enrolled once it settles.
type Watcher struct {
	dir    string
	embed  *embeddings.Service
	roster Enroller
	log    *slog.Logger
	settle time.Duration
}

// NewWatcher watches dir for new photos. settle is how long a file must stay
// quiet before enrollment; zero means 500ms.
func NewWatcher(dir string, embed *embeddings.Service, roster Enroller, log *slog.Logger, settle time.Duration) *Watcher {
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	return &Watcher{dir: filepath.Clean(dir), embed: embed, roster: roster, log: log, settle: settle}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	// Identity subdirectories created before startup.
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := fw.Add(filepath.Join(w.dir, e.Name())); err != nil {
				w.log.Warn("failed to watch identity directory", "dir", e.Name(), "error", err)
			}
		}
	}
	w.log.Info("watching whitelist directory", "dir", w.dir)

	pending := make(map[string]*time.Timer)
	enrolled := make(chan string)

	schedule := func(path string) {
		if timer, exists := pending[path]; exists {
			timer.Reset(w.settle)
			return
		}
		pending[path] = time.AfterFunc(w.settle, func() {
			w.enroll(ctx, path)
			select {
			case enrolled <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case path := <-enrolled:
			delete(pending, path)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}

			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if err := fw.Add(ev.Name); err != nil {
					w.log.Warn("failed to watch identity directory", "dir", ev.Name, "error", err)
					continue
				}
				// Photos copied in before the watch took effect.
				if files, err := os.ReadDir(ev.Name); err == nil {
					for _, f := range files {
						if !f.IsDir() && isImage(f.Name()) {
							schedule(filepath.Join(ev.Name, f.Name()))
						}
					}
				}
				continue
			}

			if isImage(ev.Name) {
				schedule(ev.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) enroll(ctx context.Context, path string) {
	name := w.identityFor(path)
	if name == "" {
		w.log.Warn("skipping photo with no identity name", "path", path)
		return
	}

	vec, err := w.embed.EmbedSync(ctx, path)
	if err != nil {
		w.log.Error("failed to embed whitelist photo", "path", path, "error", err)
		return
	}

	if err := w.roster.Enroll(ctx, name, [][]float32{vec}); err != nil {
		w.log.Error("failed to enroll identity", "name", name, "error", err)
		return
	}

	w.log.Info("enrolled whitelist photo", "name", name, "path", path)
}

// identityFor resolves a photo path to its identity: the parent directory
// name for photos inside an identity subdirectory, otherwise the filename
// part before the first underscore.
func (w *Watcher) identityFor(path string) string {
	if dir := filepath.Dir(path); dir != w.dir {
		return filepath.Base(dir)
	}
	return identityFromFilename(path)
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

func identityFromFilename(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.Index(base, "_"); i >= 0 {
		base = base[:i]
	}
	return base
}
