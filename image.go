// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"strconv"
	"strings"
)

// Image describes a requested image: the source it is derived from and the
// filter to apply to it.
type Image struct {
	Name   string  // base name, without extension
	Ext    string  // extension of the requested file, without leading dot
	Filter *Filter // optional transformation

	// Key is the file name of the derived image.  It is also used as the
	// key into the derived image cache.
	Key string
}

// NewImage returns the Image for the requested file name, with no filter
// applied.  The name is split into base name and extension at its last dot.
func NewImage(fileName string) *Image {
	name, ext := splitLast(fileName, '.')
	return &Image{
		Name: name,
		Ext:  ext,
		Key:  DerivedKey(name, ext, nil),
	}
}

// WithFilter attaches f to img and recomputes the derived key.  A filter
// attached to a webp image always requests webp output.
func (img *Image) WithFilter(f *Filter) *Image {
	if f != nil && img.Ext == "webp" && !f.WebP {
		c := *f
		c.WebP = true
		f = &c
	}
	img.Filter = f
	img.Key = DerivedKey(img.Name, img.Ext, f)
	return img
}

// OutputExt returns the extension of the derived image.
func (img *Image) OutputExt() string {
	if img.Filter != nil && img.Filter.WebP {
		return "webp"
	}
	return img.Ext
}

// ContentType returns the MIME type of the derived image.
func (img *Image) ContentType() string {
	ext := strings.ToLower(img.OutputExt())
	if ext == "jpg" {
		ext = "jpeg"
	}
	return "image/" + ext
}

// DerivedKey returns the canonical file name of the image derived from the
// source image name.ext by applying f.  The result depends only on its
// arguments, so it is safe to use as a durable cache key.
//
// With no filter the key is simply "name.ext".  Otherwise a suffix records
// the resize (".w<width>" or ".h<height>", width taking precedence) and the
// quality ("q<quality>", preceded by a dot if there was no resize), and the
// extension becomes "webp" when webp output is requested:
//
//	DerivedKey("cat", "jpg", &Filter{Width: 500, Quality: 80, HasQuality: true}) == "cat.w500q80.jpg"
func DerivedKey(name, ext string, f *Filter) string {
	if f == nil {
		return name + "." + ext
	}

	var b strings.Builder
	b.WriteString(name)
	switch {
	case f.Width != 0:
		b.WriteString(".w")
		b.WriteString(strconv.FormatUint(uint64(f.Width), 10))
	case f.Height != 0:
		b.WriteString(".h")
		b.WriteString(strconv.FormatUint(uint64(f.Height), 10))
	}
	if f.HasQuality {
		if !f.resizes() {
			b.WriteByte('.')
		}
		b.WriteByte('q')
		b.WriteString(strconv.FormatUint(uint64(f.Quality), 10))
	}

	b.WriteByte('.')
	if f.WebP {
		b.WriteString("webp")
	} else {
		b.WriteString(ext)
	}
	return b.String()
}

// splitLast splits s around the last instance of sep.  If sep is not
// present, s is returned with an empty suffix.
func splitLast(s string, sep byte) (string, string) {
	i := strings.LastIndexByte(s, sep)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}
