// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// Package imagefilter serves resized, quality-adjusted and format-converted
// variants of source images, caching the derived images in memory.  For
// typical use of creating and using a Server, see cmd/imagefilter/main.go.
//
// Source images live in a single directory and are named
// "<name>.source.<ext>".  A request for /images/cat.jpg?width=500 is served
// from cat.source.jpg, resized to 500 pixels wide.
package imagefilter // import "willnorris.com/go/imagefilter"

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

// Server serves image requests.
type Server struct {
	Cache *ImageCache // cache used to resolve images

	// Authorizers are consulted in order before an image is resolved.  A
	// request rejected by any of them is answered with 404 Not Found.
	Authorizers []RequestAuthorizer

	// Timeout bounds the time spent resolving a single request.  Zero
	// means no limit.
	Timeout time.Duration
}

// NewServer constructs a new Server resolving images through cache.
func NewServer(cache *ImageCache) *Server {
	return &Server{Cache: cache}
}

// ServeHTTP handles requests of the form
// GET /images/{name}?width=<w>&height=<h>&quality=<q>&webp.  Only the last
// path segment is significant.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code := http.StatusOK
	defer func() {
		httpRequestsResponseTime.Observe(time.Since(start).Seconds())
		httpResponses.WithLabelValues(strconv.Itoa(code)).Inc()
	}()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		code = http.StatusMethodNotAllowed
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(code)
		return
	}

	for _, a := range s.Authorizers {
		if err := a.AuthorizeRequest(r); err != nil {
			glog.Infof("request for %s not authorized: %v", r.URL.Path, err)
			code = http.StatusNotFound
			w.WriteHeader(code)
			return
		}
	}

	name := path.Base(r.URL.Path)
	if !validName(name) {
		code = http.StatusNotFound
		w.WriteHeader(code)
		return
	}

	img := NewImage(name).WithFilter(ParseFilter(r.URL.RawQuery))

	ctx := r.Context()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	data, err := s.Cache.Resolve(ctx, img)
	if err != nil {
		code = statusCode(err)
		if code == http.StatusNotFound {
			glog.Infof("image %s not served: %v", img.Key, err)
		} else {
			glog.Errorf("error resolving image %s: %v", img.Key, err)
		}
		w.WriteHeader(code)
		return
	}
	glog.Infof("request: %s (%d bytes)", img.Key, len(data))

	w.Header().Set("Content-Type", img.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(code)
	if r.Method == http.MethodGet {
		w.Write(data)
	}
}

// statusCode maps an error returned from ImageCache.Resolve to an HTTP status
// code.  Missing sources and failed transformations are indistinguishable
// to clients, unless the transformation ran out of time.
func statusCode(err error) int {
	var terr *TransformError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrNotFound), errors.As(err, &terr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// validName reports whether name is acceptable as a requested image file
// name.  Names must have a base name and an extension, and must not begin
// with a dot or a dash.
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "-") {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	base, ext := splitLast(name, '.')
	return base != "" && ext != ""
}
