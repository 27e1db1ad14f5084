package coordinator

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchWAL observes dbPath's -wal file appearing and disappearing so a
// ModeDirect process can react to a sibling process's coordinator
// takeover/handoff without polling. It blocks until ctx is cancelled; call it
// in its own goroutine. Failure to start the watcher (e.g. the directory
// doesn't exist yet) is logged and treated as non-fatal — WAL handoff
// observation is an optimization, not a correctness requirement.
func WatchWAL(ctx context.Context, dbPath string) {
	walName := filepath.Base(dbPath) + "-wal"
	dir := filepath.Dir(dbPath)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("coordinator: wal watch disabled: %v", err)
		return
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		log.Printf("coordinator: wal watch disabled: %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != walName {
				continue
			}
			switch {
			case evt.Op&fsnotify.Create != 0:
				log.Printf("coordinator: wal file appeared (%s), a sibling process is writing", evt.Name)
			case evt.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				log.Printf("coordinator: wal file cleared (%s), checkpoint completed", evt.Name)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("coordinator: wal watch error: %v", err)
		}
	}
}
