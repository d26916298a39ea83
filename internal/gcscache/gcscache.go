// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// Package gcscache provides an imagefilter.Cache implementation that stores
// derived images on Google Cloud Storage.
package gcscache

import (
	"context"
	"errors"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/golang/glog"
)

var ctx = context.Background()

// objectHandle is the subset of *storage.ObjectHandle used by cache.
type objectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
}

// bucketHandle is the subset of *storage.BucketHandle used by cache.
type bucketHandle interface {
	Object(name string) objectHandle
}

type gcsBucket struct {
	*storage.BucketHandle
}

func (b gcsBucket) Object(name string) objectHandle {
	return gcsObject{b.BucketHandle.Object(name)}
}

type gcsObject struct {
	*storage.ObjectHandle
}

func (o gcsObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return o.ObjectHandle.NewReader(ctx)
}

func (o gcsObject) NewWriter(ctx context.Context) io.WriteCloser {
	w := o.ObjectHandle.NewWriter(ctx)
	w.ContentType = contentType(o.ObjectName())
	return w
}

type cache struct {
	bucket bucketHandle
	prefix string
}

// Get returns the derived image stored for key.  Empty objects are treated
// as missing, since no valid image is empty and an interrupted upload may
// leave one behind.
func (c *cache) Get(key string) ([]byte, bool) {
	r, err := c.object(key).NewReader(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			glog.Errorf("error reading from gcs: %v", err)
		}
		return nil, false
	}
	defer r.Close()

	value, err := io.ReadAll(r)
	if err != nil {
		glog.Errorf("error reading from gcs: %v", err)
		return nil, false
	}
	if len(value) == 0 {
		return nil, false
	}

	return value, true
}

func (c *cache) Set(key string, value []byte) {
	w := c.object(key).NewWriter(ctx)
	if _, err := w.Write(value); err != nil {
		glog.Errorf("error writing to gcs: %v", err)
	}
	if err := w.Close(); err != nil {
		glog.Errorf("error closing gcs object writer: %v", err)
	}
}

func (c *cache) Delete(key string) {
	if err := c.object(key).Delete(ctx); err != nil {
		glog.Errorf("error deleting gcs object: %v", err)
	}
}

func (c *cache) object(key string) objectHandle {
	return c.bucket.Object(path.Join(c.prefix, key))
}

// contentType guesses the MIME type of a derived image from its name.
func contentType(name string) string {
	switch ext := path.Ext(name); ext {
	case "":
		return "application/octet-stream"
	case ".jpg", ".JPG":
		return "image/jpeg"
	default:
		return "image/" + ext[1:]
	}
}

// New constructs a Cache storing derived images in the specified GCS bucket.
// If prefix is not empty, objects will be prefixed with that path.
// Credentials should be specified using one of the mechanisms supported for
// Application Default Credentials (see
// https://cloud.google.com/docs/authentication/production)
func New(bucket, prefix string) (*cache, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	return NewWithBucket(gcsBucket{client.Bucket(bucket)}, prefix), nil
}

// NewWithBucket constructs a Cache using the provided bucket handle.
func NewWithBucket(bucket bucketHandle, prefix string) *cache {
	return &cache{
		bucket: bucket,
		prefix: prefix,
	}
}
