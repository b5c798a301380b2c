package selector

import (
	"context"
	"fmt"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the catalog whenever the file at path changes, swapping
// it into the selector. A malformed catalog is logged and skipped; the
// previous catalog stays active. Watch blocks until ctx is cancelled.
func (s *Selector) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch catalog %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cat, err := LoadCatalog(path)
			if err != nil {
				log.Printf("[selector] catalog reload skipped: %v", err)
				continue
			}
			s.SetCatalog(cat)
			log.Printf("[selector] catalog reloaded: %d models, %d regions", len(cat.Models), len(cat.Regions))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[selector] watch error: %v", err)
		}
	}
}
