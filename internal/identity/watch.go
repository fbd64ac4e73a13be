package identity

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/comacode/comacode/internal/logx"
)

// WatchForDeletion watches the identity files in dataDir and logs a
// warning if either is removed while the process is running. Rotation is
// manual: a fresh identity is only generated on next Load, which means a
// process restart. The watcher does not trigger regeneration itself.
func WatchForDeletion(dataDir string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dataDir); err != nil {
		watcher.Close()
		return nil, err
	}

	certPath := filepath.Join(dataDir, certFileName)
	keyPath := filepath.Join(dataDir, keyFileName)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if event.Name == certPath || event.Name == keyPath {
					logx.Log.Warn("identity file removed; restart required to regenerate",
						"path", event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logx.Log.Warn("identity watcher error", "error", err)
			}
		}
	}()

	return watcher, nil
}
