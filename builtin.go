// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp" // register webp format
	"willnorris.com/go/gifresize"
)

// default compression quality of resized jpegs
const defaultQuality = 95

// maxPixels is the maximum number of pixels in a source image the
// BuiltinTransformer will decode.
const maxPixels = 40_000_000

var errUnsupportedOutput = errors.New("webp output is not supported by the builtin transformer")

// BuiltinTransformer transforms images in process, without relying on any
// external programs.  It can read gif, jpeg, png, bmp, tiff and webp
// sources, but only writes the source format back out; requests for webp
// output fail with a *TransformError.
type BuiltinTransformer struct{}

// Transform implements Transformer.
func (BuiltinTransformer) Transform(ctx context.Context, src, dst string, f *Filter) error {
	if f == nil || (!f.WebP && !f.resizes() && !f.HasQuality) {
		if err := copyFile(src, dst); err != nil {
			return &TransformError{Err: err}
		}
		return nil
	}
	if f.WebP {
		return &TransformError{Err: errUnsupportedOutput}
	}

	in, err := os.ReadFile(src)
	if err != nil {
		return &TransformError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &TransformError{Err: err}
	}

	out, err := transformBytes(in, filepath.Ext(dst), *f)
	if err != nil {
		return &TransformError{Err: err}
	}
	if err := os.WriteFile(dst, out, 0o644); err != nil {
		return &TransformError{Err: err}
	}
	return nil
}

// transformBytes applies f to the encoded image img, encoding the result in
// the format indicated by the extension ext.
func transformBytes(img []byte, ext string, f Filter) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("source image too large: %dx%d", cfg.Width, cfg.Height)
	}

	outFormat, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if format == "gif" && outFormat == imaging.GIF {
		fn := func(m image.Image) image.Image { return resize(m, f) }
		if err := gifresize.Process(buf, bytes.NewReader(img), fn); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	m, err := imaging.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}
	m = orient(m, exifOrientation(bytes.NewReader(img)))
	m = resize(m, f)

	quality := defaultQuality
	if f.HasQuality {
		quality = int(f.Quality)
	}
	if err := imaging.Encode(buf, m, outFormat, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resize scales m to the width or height requested by f, preserving its
// aspect ratio.  Images are never scaled beyond their original size.
func resize(m image.Image, f Filter) image.Image {
	b := m.Bounds()
	switch {
	case f.Width != 0:
		if int(f.Width) < b.Dx() {
			return imaging.Resize(m, int(f.Width), 0, imaging.Lanczos)
		}
	case f.Height != 0:
		if int(f.Height) < b.Dy() {
			return imaging.Resize(m, 0, int(f.Height), imaging.Lanczos)
		}
	}
	return m
}

// exifOrientation returns the EXIF orientation of the image in r, or 0 if
// the image has none.
func exifOrientation(r *bytes.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	o, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return o
}

// orient transforms m so that it displays upright, given its EXIF
// orientation value.
func orient(m image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(m)
	case 3:
		return imaging.Rotate180(m)
	case 4:
		return imaging.FlipV(m)
	case 5:
		return imaging.Transpose(m)
	case 6:
		return imaging.Rotate270(m)
	case 7:
		return imaging.Transverse(m)
	case 8:
		return imaging.Rotate90(m)
	}
	return m
}
