// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"fmt"
	"net/url"
	"strconv"
)

// maxQuality is the highest quality value accepted in a filter query.
const maxQuality = 100

// Filter specifies a transformation to be performed on a source image.
//
// Width takes precedence over Height: only one dimension is ever used, and
// the other is scaled to preserve the aspect ratio of the source.
type Filter struct {
	Width  uint32 // requested width, in pixels; zero means unset
	Height uint32 // requested height, in pixels; zero means unset

	// Quality is the encoder quality (0-100), used only if HasQuality is set.
	Quality    uint8
	HasQuality bool

	// If true, the derived image is converted to webp regardless of the
	// source format.
	WebP bool
}

// resizes reports whether f requests a resize in either dimension.
func (f Filter) resizes() bool {
	return f.Width != 0 || f.Height != 0
}

func (f Filter) String() string {
	s := fmt.Sprintf("%dx%d", f.Width, f.Height)
	if f.HasQuality {
		s += fmt.Sprintf(",q%d", f.Quality)
	}
	if f.WebP {
		s += ",webp"
	}
	return s
}

// ParseFilter parses a query string of the form
// "width=500&height=300&quality=80&webp" into a Filter.
//
// A nil Filter is returned for the empty string.  Malformed query strings
// (bad escapes, non-numeric or out of range values) are treated the same as
// no filter at all and also return nil.  Unrecognized keys are ignored.
func ParseFilter(qs string) *Filter {
	if qs == "" {
		return nil
	}

	values, err := url.ParseQuery(qs)
	if err != nil {
		return nil
	}

	f := new(Filter)
	if v, ok := values["width"]; ok {
		if f.Width, err = parseDimension(v[0]); err != nil {
			return nil
		}
	}
	if v, ok := values["height"]; ok {
		if f.Height, err = parseDimension(v[0]); err != nil {
			return nil
		}
	}
	if v, ok := values["quality"]; ok {
		q, err := strconv.ParseUint(v[0], 10, 8)
		if err != nil || q > maxQuality {
			return nil
		}
		f.Quality = uint8(q)
		f.HasQuality = true
	}
	if _, ok := values["webp"]; ok {
		f.WebP = true
	}

	return f
}

func parseDimension(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}
