// Package watch monitors a drop folder and ingests new files into a
// notebook as sources.
package watch

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/kairoslabs/kairos/internal/logging"
)

// Ingest is called for each new file with the source type inferred
// from the extension. It is expected to submit a background job, not
// block on the ingestion itself.
type Ingest func(sourceType, path string)

// extToType maps drop-folder extensions to source types.
var extToType = map[string]string{
	".pdf":  "pdf",
	".html": "web",
	".htm":  "web",
	".url":  "web",
}

// Watcher ingests files dropped into a directory.
type Watcher struct {
	watcher *fsnotify.Watcher
	ingest  Ingest
}

func New(ingest Ingest) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{watcher: w, ingest: ingest}, nil
}

// Watch monitors dir until ctx is cancelled. Create events for files
// with a recognized extension trigger ingestion; everything else is
// ignored.
func (w *Watcher) Watch(ctx context.Context, dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	logging.Info("Watching drop folder", "dir", dir)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create != fsnotify.Create {
					continue
				}
				typ, ok := extToType[strings.ToLower(filepath.Ext(event.Name))]
				if !ok {
					continue
				}
				logging.Info("Drop folder file detected", "path", event.Name, "type", typ)
				w.ingest(typ, event.Name)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Drop folder watch error", "error", err)
			}
		}
	}()

	return nil
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
