// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestSourceEvent(t *testing.T) {
	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "/src/cat.source.jpg", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/src/cat.source.jpg", Op: fsnotify.Remove}, true},
		{fsnotify.Event{Name: "/src/cat.source.jpg", Op: fsnotify.Rename}, true},
		{fsnotify.Event{Name: "/src/cat.source.jpg", Op: fsnotify.Create | fsnotify.Write}, true},
		{fsnotify.Event{Name: "/src/cat.source.jpg", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/src/cat.source.jpg", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/src/cat.w500.jpg", Op: fsnotify.Create}, false},
		{fsnotify.Event{Name: "/src/.cat.source.jpg.swp", Op: fsnotify.Create}, false},
	}

	for _, tt := range tests {
		if got := sourceEvent(tt.event); got != tt.want {
			t.Errorf("sourceEvent(%v) returned %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestImageCache_Watch(t *testing.T) {
	c, dir := newTestCache(t, new(fakeTransformer), "cat.source.jpg")
	if _, err := c.Rescan(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	// wait for the watcher to start before changing the directory
	time.Sleep(100 * time.Millisecond)

	writeSource(t, dir, "dog.source.png")
	if err := os.Remove(filepath.Join(dir, "cat.source.jpg")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		sources := c.Sources()
		_, hasDog := sources["dog"]
		_, hasCat := sources["cat"]
		if hasDog && !hasCat {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("source index not updated by watcher, have %v", sources)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Watch returned %v, want context.Canceled", err)
	}
}
