// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gregjones/httpcache"
	"golang.org/x/sync/singleflight"
)

// sourceMarker is the name segment that identifies a source image on disk:
// the source for base name "cat" is named "cat.source.<ext>".
const sourceMarker = "source"

// ErrNotFound is returned by ImageCache.Resolve when no source image exists
// for the requested base name.
var ErrNotFound = errors.New("source image not found")

// Cache stores derived image bytes by key.  The interface is compatible with
// httpcache.Cache, so any of its implementations can be used.
type Cache interface {
	// Get returns the stored bytes for key, and whether they were found.
	Get(key string) (data []byte, ok bool)

	// Set stores data for key.
	Set(key string, data []byte)

	// Delete removes the entry for key.
	Delete(key string)
}

// NopCache provides a no-op cache implementation that doesn't actually cache anything.
var NopCache = new(nopCache)

type nopCache struct{}

func (c nopCache) Get(string) ([]byte, bool) { return nil, false }
func (c nopCache) Set(string, []byte)        {}
func (c nopCache) Delete(string)             {}

// ImageCache resolves requested images to the bytes of their derived
// variants, transforming source images on demand and caching the results.
//
// Source images are discovered lazily: the directory is only scanned when a
// base name cannot be found in the current index.  Concurrent requests for
// the same derived image share a single transformation; requests for
// different images proceed independently.
type ImageCache struct {
	dir     string // directory holding source images
	workDir string // directory derived images are written to

	transformer Transformer
	store       Cache

	mu      sync.RWMutex
	sources map[string]string // base name -> source file name

	resolves singleflight.Group
	rescans  singleflight.Group
}

// Options configures an ImageCache.  Zero values select defaults.
type Options struct {
	// WorkDir is where derived images are written.  Defaults to the
	// source directory.
	WorkDir string

	// Transformer produces derived images.  Defaults to a
	// CommandTransformer.
	Transformer Transformer

	// Store holds derived image bytes.  Defaults to an in-memory cache that
	// never evicts entries.
	Store Cache
}

// NewImageCache returns an ImageCache serving source images from dir.
func NewImageCache(dir string, opt Options) (*ImageCache, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("error resolving source directory: %w", err)
	}

	c := &ImageCache{
		dir:         dir,
		workDir:     dir,
		transformer: opt.Transformer,
		store:       opt.Store,
		sources:     make(map[string]string),
	}
	if opt.WorkDir != "" {
		if c.workDir, err = filepath.Abs(opt.WorkDir); err != nil {
			return nil, fmt.Errorf("error resolving work directory: %w", err)
		}
	}
	if c.transformer == nil {
		c.transformer = new(CommandTransformer)
	}
	if c.store == nil {
		c.store = httpcache.NewMemoryCache()
	}
	return c, nil
}

// Dir returns the directory source images are read from.
func (c *ImageCache) Dir() string { return c.dir }

// Resolve returns the bytes of the derived image described by img.
//
// Cached images are returned without any I/O.  Otherwise the source image is
// located (rescanning the source directory if necessary), transformed, and
// the result cached.  ErrNotFound is returned if there is no source for
// img.Name; a *TransformError if the transformation fails.  Failed
// transformations are never cached.
//
// If ctx is done before the image is ready, Resolve returns ctx.Err(); the
// transformation itself runs to completion for any other waiting callers
// and is bounded only by the Transformer's own timeout.
func (c *ImageCache) Resolve(ctx context.Context, img *Image) ([]byte, error) {
	if data, ok := c.store.Get(img.Key); ok {
		requestServedFromCacheCount.Inc()
		return data, nil
	}

	// The transformation is shared by every caller waiting on img.Key, so it
	// must not be canceled when any one of them goes away.
	detached := context.WithoutCancel(ctx)
	ch := c.resolves.DoChan(img.Key, func() (interface{}, error) {
		return c.populate(detached, img)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			glog.V(1).Infof("shared resolution of %s", img.Key)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// populate produces and caches the derived image for img.
func (c *ImageCache) populate(ctx context.Context, img *Image) ([]byte, error) {
	// another caller may have finished populating while we waited
	if data, ok := c.store.Get(img.Key); ok {
		requestServedFromCacheCount.Inc()
		return data, nil
	}

	src, ok := c.source(img.Name)
	if !ok {
		if _, err := c.Rescan(); err != nil {
			return nil, err
		}
		if src, ok = c.source(img.Name); !ok {
			return nil, ErrNotFound
		}
	}

	dst := filepath.Join(c.workDir, img.Key)
	start := time.Now()
	err := c.transformer.Transform(ctx, filepath.Join(c.dir, src), dst, img.Filter)
	imageTransformationSummary.Observe(time.Since(start).Seconds())
	if err != nil {
		transformFailures.Inc()
		var terr *TransformError
		if !errors.As(err, &terr) {
			err = &TransformError{Err: err}
		}
		return nil, err
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("error reading derived image: %w", err)
	}

	c.store.Set(img.Key, data)
	return data, nil
}

// source returns the source file name for the base name.
func (c *ImageCache) source(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src, ok := c.sources[name]
	return src, ok
}

// Sources returns a copy of the current source index, mapping base names to
// source file names.
func (c *ImageCache) Sources() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := make(map[string]string, len(c.sources))
	for k, v := range c.sources {
		m[k] = v
	}
	return m
}

// Rescan rebuilds the source index from the contents of the source
// directory, replacing the previous index entirely.  It returns the number of
// source images found.  Concurrent calls share a single scan.
func (c *ImageCache) Rescan() (int, error) {
	v, err, _ := c.rescans.Do("", func() (interface{}, error) {
		sources, err := scanSources(c.dir)
		if err != nil {
			return 0, err
		}
		c.mu.Lock()
		c.sources = sources
		c.mu.Unlock()

		sourceRescans.Inc()
		glog.V(1).Infof("found %d source images in %s", len(sources), c.dir)
		return len(sources), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// scanSources returns the source images in dir, keyed by base name.
func scanSources(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading source directory: %w", err)
	}

	sources := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := sourceName(e.Name()); ok {
			sources[name] = e.Name()
		}
	}
	return sources, nil
}

// sourceName returns the base name of the source image with the given file
// name, and whether the file name is that of a source image at all.
func sourceName(fileName string) (string, bool) {
	rest, ext := splitLast(fileName, '.')
	if ext == "" {
		return "", false
	}
	name, marker := splitLast(rest, '.')
	if marker != sourceMarker || name == "" || strings.HasPrefix(name, ".") {
		return "", false
	}
	return name, true
}
