package team

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"octo/internal/logging"
)

// InboxWatcher surfaces new-mail notifications without polling.
type InboxWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchInbox invokes notify whenever the agent's inbox file is
// rewritten. Lock and temp sidecars are ignored.
func (s *Store) WatchInbox(teamName, agent string, notify func()) (*InboxWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(s.inboxesDir(teamName)); err != nil {
		w.Close()
		return nil, err
	}

	target := filepath.Base(s.inboxPath(teamName, agent))
	iw := &InboxWatcher{watcher: w, done: make(chan struct{})}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				// Sidecar .tmp/.lock churn has a different basename,
				// so matching the exact inbox filename filters it out.
				if filepath.Base(ev.Name) != target {
					continue
				}
				// Writers rename over the inbox, which fsnotify
				// reports as Create on most platforms.
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					notify()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logging.Warn("inbox watcher error", "error", err)
			case <-iw.done:
				return
			}
		}
	}()

	return iw, nil
}

func (w *InboxWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
