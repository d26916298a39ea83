// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// imagefilter starts an HTTP server that serves resized and converted
// variants of the source images in a directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PaulARoy/azurestoragecache"
	"github.com/die-net/lrucache"
	"github.com/die-net/lrucache/twotier"
	"github.com/golang/glog"
	"github.com/gomodule/redigo/redis"
	"github.com/gorilla/mux"
	"github.com/gregjones/httpcache/diskcache"
	rediscache "github.com/gregjones/httpcache/redis"
	"github.com/peterbourgon/diskv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"willnorris.com/go/imagefilter"
	"willnorris.com/go/imagefilter/internal/gcscache"
	"willnorris.com/go/imagefilter/internal/s3cache"
	"willnorris.com/go/imagefilter/third_party/envy"
	"willnorris.com/go/imagefilter/whitelist"
)

const defaultMemorySize = 100

var addr = flag.String("addr", "localhost:8080", "TCP address to listen on")
var dir = flag.String("dir", ".", "directory containing source images")
var workDir = flag.String("workdir", "", "directory derived images are written to (defaults to -dir)")
var whitelistFile = flag.String("whitelist", "", "file listing the only image names that may be requested")
var cache tieredCache
var timeout = flag.Duration("timeout", 0, "time limit for each image transformation")
var transformer = flag.String("transformer", "command", `how images are transformed: "command" (cwebp and convert) or "builtin"`)
var watch = flag.Bool("watch", false, "watch the source directory for added and removed images")
var cwebp = flag.String("cwebp", imagefilter.DefaultWebPCommand, "path of the cwebp program")
var convert = flag.String("convert", imagefilter.DefaultConvertCommand, "path of ImageMagick's convert program")

func init() {
	flag.Var(&cache, "cache", "location to cache derived images; repeat or separate with spaces for tiered caches")
}

func main() {
	envy.Parse("IMAGEFILTER")
	flag.Parse()

	tr, err := newTransformer(*transformer)
	if err != nil {
		glog.Exit(err)
	}

	c, err := imagefilter.NewImageCache(*dir, imagefilter.Options{
		WorkDir:     *workDir,
		Transformer: tr,
		Store:       cache.Cache,
	})
	if err != nil {
		glog.Exit(err)
	}
	n, err := c.Rescan()
	if err != nil {
		glog.Exit(err)
	}
	glog.Infof("serving %d source images from %s", n, c.Dir())

	p := imagefilter.NewServer(c)
	if *whitelistFile != "" {
		set, err := whitelist.Load(*whitelistFile)
		if err != nil {
			glog.Exitf("error loading whitelist: %v", err)
		}
		glog.Infof("loaded %d whitelisted images", len(set))
		p.Authorizers = append(p.Authorizers, set)
	}

	if *watch {
		go func() {
			if err := c.Watch(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
				glog.Errorf("stopped watching sources: %v", err)
			}
		}()
	}

	r := mux.NewRouter().SkipClean(true).UseEncodedPath()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", healthz)
	r.PathPrefix("/images/").Handler(p)

	server := &http.Server{
		Addr:    *addr,
		Handler: r,

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	fmt.Printf("imagefilter listening on %s\n", server.Addr)
	glog.Exit(server.ListenAndServe())
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintln(w, "OK")
}

// newTransformer returns the Transformer with the specified name.
func newTransformer(name string) (imagefilter.Transformer, error) {
	switch name {
	case "command":
		t := &imagefilter.CommandTransformer{
			WebPCommand:    *cwebp,
			ConvertCommand: *convert,
			Timeout:        *timeout,
		}
		for prog, ok := range t.Available() {
			if !ok {
				glog.Warningf("%s not found in PATH; requests needing it will fail", prog)
			}
		}
		return t, nil
	case "builtin":
		return imagefilter.BuiltinTransformer{}, nil
	default:
		return nil, fmt.Errorf("unknown transformer %q", name)
	}
}

// tieredCache allows specifying multiple caches via flags, which will create
// tiered caches using the twotier package.
type tieredCache struct {
	imagefilter.Cache
}

func (tc *tieredCache) String() string {
	return fmt.Sprint(*tc)
}

func (tc *tieredCache) Set(value string) error {
	for _, v := range strings.Fields(value) {
		c, err := parseCache(v)
		if err != nil {
			return err
		}

		if tc.Cache == nil {
			tc.Cache = c
		} else {
			tc.Cache = twotier.New(tc.Cache, c)
		}
	}
	return nil
}

// parseCache parses c returns the specified Cache implementation.
func parseCache(c string) (imagefilter.Cache, error) {
	if c == "" {
		return nil, nil
	}

	if c == "memory" {
		c = fmt.Sprintf("memory:%d", defaultMemorySize)
	}

	u, err := url.Parse(c)
	if err != nil {
		return nil, fmt.Errorf("error parsing cache flag: %w", err)
	}

	switch u.Scheme {
	case "azure":
		return azurestoragecache.New("", "", u.Host)
	case "gcs":
		return gcscache.New(u.Host, strings.TrimPrefix(u.Path, "/"))
	case "memory":
		return lruCache(u.Opaque)
	case "redis":
		conn, err := redis.DialURL(u.String(), redis.DialPassword(os.Getenv("REDIS_PASSWORD")))
		if err != nil {
			return nil, err
		}
		return rediscache.NewWithClient(conn), nil
	case "s3":
		return s3cache.New(u.String())
	case "file":
		return diskCache(u.Path), nil
	default:
		return diskCache(c), nil
	}
}

// lruCache creates an LRU Cache with the specified options of the form
// "maxSize:maxAge".  maxSize is specified in megabytes, maxAge is a duration.
// Derived images never go stale, so maxAge is normally omitted.
func lruCache(options string) (*lrucache.LruCache, error) {
	parts := strings.SplitN(options, ":", 2)
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}

	var age time.Duration
	if len(parts) > 1 {
		age, err = time.ParseDuration(parts[1])
		if err != nil {
			return nil, err
		}
	}

	return lrucache.New(size*1e6, int64(age.Seconds())), nil
}

func diskCache(path string) *diskcache.Cache {
	d := diskv.New(diskv.Options{
		BasePath: path,

		// For file "c0ffee", store file as "c0/ff/c0ffee"
		Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
	})
	return diskcache.NewWithDiskv(d)
}
