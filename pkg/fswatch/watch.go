// Package fswatch notices cloud-side history changes so that a watching
// pull can rerun without polling.
package fswatch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/lightfold/catsync/pkg/errors"
	"github.com/lightfold/catsync/pkg/revision"
)

// Watch watches for new deltas appended to the chain rooted at cloudPath.
// It sends an event on the returned channel whenever one appears. Bursts
// are combined into a single event, never queued.
func Watch(cloudPath string) (chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	// New chain appends are new files, and fsnotify can't watch files
	// that don't exist yet. Watching the directory covers them all.
	dir := filepath.Dir(cloudPath)
	if err := watcher.Add(dir); err != nil {
		// Close the watcher so that we release the file handlers.
		if err := watcher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file watcher")
		}

		return nil, errors.WithContext(err, fmt.Sprintf("watch %q", dir))
	}
	return combineUpdates(filepath.Base(cloudPath), watcher.Events), nil
}

func combineUpdates(chainBase string, updates <-chan fsnotify.Event) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for event := range updates {
			if !isChainAppend(chainBase, event) {
				continue
			}
			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

// isChainAppend reports whether an event is the metafile commit of a new
// delta in this chain. Payload writes and temp files are noise: the
// metafile is what makes an append durable, so it is the only thing worth
// waking the puller for.
func isChainAppend(chainBase string, event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if !strings.HasPrefix(name, chainBase+"_") {
		return false
	}
	if !strings.HasSuffix(name, revision.MetaSuffix) {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Rename) != 0
}
