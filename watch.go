// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
)

// rescanDelay is how long Watch waits after the last change to a source
// image before rescanning, so that a burst of events causes a single scan.
const rescanDelay = 250 * time.Millisecond

// Watch rescans the source index whenever a source image is created, removed
// or renamed in the source directory, until ctx is done.  Without Watch,
// new source images are still discovered lazily on the first request for
// them; Watch additionally drops removed sources from the index.
//
// Cached derived images are not affected.
func (c *ImageCache) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}
	glog.Infof("watching %s for source images", c.dir)

	timer := time.NewTimer(rescanDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !sourceEvent(event) {
				continue
			}
			glog.V(1).Infof("source image changed: %s", event)
			timer.Reset(rescanDelay)

		case <-timer.C:
			if _, err := c.Rescan(); err != nil {
				glog.Errorf("error rescanning sources: %v", err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			glog.Errorf("source watcher error: %v", err)
		}
	}
}

// sourceEvent reports whether event changes the set of source images.
func sourceEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	_, ok := sourceName(filepath.Base(event.Name))
	return ok
}
