// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package gcscache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/storage"
)

// mockObjectHandle implements objectHandle for testing
type mockObjectHandle struct {
	data      []byte
	exists    bool
	readErr   error
	writeErr  error
	deleteErr error
	writeData *bytes.Buffer
}

func (m *mockObjectHandle) NewReader(ctx context.Context) (io.ReadCloser, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	if !m.exists {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

func (m *mockObjectHandle) NewWriter(ctx context.Context) io.WriteCloser {
	if m.writeData == nil {
		m.writeData = &bytes.Buffer{}
	}
	return &mockWriter{buf: m.writeData, err: m.writeErr}
}

func (m *mockObjectHandle) Delete(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.exists = false
	return nil
}

// mockWriter implements io.WriteCloser for testing
type mockWriter struct {
	buf *bytes.Buffer
	err error
}

func (w *mockWriter) Write(p []byte) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	return w.buf.Write(p)
}

func (w *mockWriter) Close() error {
	return w.err
}

// mockBucketHandle implements bucketHandle for testing
type mockBucketHandle struct {
	objects map[string]objectHandle
}

func (b *mockBucketHandle) Object(name string) objectHandle {
	if b.objects == nil {
		b.objects = make(map[string]objectHandle)
	}
	if obj, exists := b.objects[name]; exists {
		return obj
	}
	obj := &mockObjectHandle{exists: false}
	b.objects[name] = obj
	return obj
}

func TestCacheGet(t *testing.T) {
	tests := []struct {
		name   string
		object objectHandle
		want   []byte
		ok     bool
	}{
		{"present", &mockObjectHandle{data: []byte("webp data"), exists: true}, []byte("webp data"), true},
		{"empty", &mockObjectHandle{data: []byte{}, exists: true}, nil, false},
		{"missing", &mockObjectHandle{exists: false}, nil, false},
		{"read error", &mockObjectHandle{readErr: errors.New("read error")}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket := &mockBucketHandle{
				objects: map[string]objectHandle{"derived/cat.w100.webp": tt.object},
			}
			c := NewWithBucket(bucket, "derived")

			got, ok := c.Get("cat.w100.webp")
			if !bytes.Equal(got, tt.want) || ok != tt.ok {
				t.Errorf("Get returned (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCacheSet(t *testing.T) {
	bucket := &mockBucketHandle{}
	c := NewWithBucket(bucket, "derived")

	data := []byte("jpeg data")
	c.Set("cat.q50.jpg", data)

	obj, ok := bucket.objects["derived/cat.q50.jpg"].(*mockObjectHandle)
	if !ok || obj.writeData == nil {
		t.Fatalf("Set did not create object, have %v", bucket.objects)
	}
	if !bytes.Equal(obj.writeData.Bytes(), data) {
		t.Errorf("Set wrote %q, want %q", obj.writeData.Bytes(), data)
	}
}

func TestCacheSetWriteError(t *testing.T) {
	bucket := &mockBucketHandle{
		objects: map[string]objectHandle{
			"cat.jpg": &mockObjectHandle{writeErr: errors.New("write error")},
		},
	}
	c := NewWithBucket(bucket, "")

	// errors are logged, not returned
	c.Set("cat.jpg", []byte("data"))
}

func TestCacheDelete(t *testing.T) {
	obj := &mockObjectHandle{exists: true, data: []byte("data")}
	bucket := &mockBucketHandle{
		objects: map[string]objectHandle{"cat.png": obj},
	}
	c := NewWithBucket(bucket, "")

	c.Delete("cat.png")
	if obj.exists {
		t.Errorf("Delete did not remove object")
	}
	if _, ok := c.Get("cat.png"); ok {
		t.Errorf("Get returned deleted object")
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		name, want string
	}{
		{"derived/cat.jpg", "image/jpeg"},
		{"cat.w10.webp", "image/webp"},
		{"cat.gif", "image/gif"},
		{"cat", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := contentType(tt.name); got != tt.want {
			t.Errorf("contentType(%q) returned %q, want %q", tt.name, got, tt.want)
		}
	}
}
