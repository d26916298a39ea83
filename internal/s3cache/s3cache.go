// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// Package s3cache provides an imagefilter.Cache implementation that stores
// derived images on Amazon S3.
//
// Derived images never change once produced, so objects are written once
// and never expire.  Object names are the derived keys themselves, under an
// optional prefix, so the bucket can also be browsed or served directly.
package s3cache

import (
	"bytes"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/golang/glog"
)

type cache struct {
	s3iface.S3API
	bucket, prefix string
	contentType    func(key string) string
}

func (c *cache) Get(key string) ([]byte, bool) {
	name := c.object(key)
	input := &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &name,
	}

	resp, err := c.GetObject(input)
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() != s3.ErrCodeNoSuchKey {
			glog.Errorf("error fetching from s3: %v", aerr)
		}
		return nil, false
	}
	defer resp.Body.Close()

	value, err := io.ReadAll(resp.Body)
	if err != nil {
		glog.Errorf("error reading s3 object %s: %v", name, err)
		return nil, false
	}
	return value, true
}

func (c *cache) Set(key string, value []byte) {
	name := c.object(key)
	input := &s3.PutObjectInput{
		Body:   aws.ReadSeekCloser(bytes.NewReader(value)),
		Bucket: &c.bucket,
		Key:    &name,
	}
	if c.contentType != nil {
		input.ContentType = aws.String(c.contentType(key))
	}

	if _, err := c.PutObject(input); err != nil {
		glog.Errorf("error writing to s3: %v", err)
	}
}

func (c *cache) Delete(key string) {
	name := c.object(key)
	input := &s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &name,
	}

	if _, err := c.DeleteObject(input); err != nil {
		glog.Errorf("error deleting from s3: %v", err)
	}
}

func (c *cache) object(key string) string {
	return path.Join(c.prefix, key)
}

// contentType guesses the MIME type of a derived image from its key.
func contentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	switch ext {
	case "":
		return "application/octet-stream"
	case ".jpg":
		return "image/jpeg"
	}
	return "image/" + ext[1:]
}

// New constructs a cache configured using the provided URL string.  URL
// should be of the form: "s3://region/bucket/optional-path-prefix".
func New(s string) (*cache, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	region := u.Host
	path := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	bucket := path[0]
	var prefix string
	if len(path) > 1 {
		prefix = path[1]
	}

	config := aws.NewConfig().WithRegion(region)

	// allow overriding some additional config options, mostly useful when
	// working with s3-compatible services other than AWS.
	if v := u.Query().Get("endpoint"); v != "" {
		config = config.WithEndpoint(v)
	}
	if v := u.Query().Get("disableSSL"); v == "1" {
		config = config.WithDisableSSL(true)
	}
	if v := u.Query().Get("s3ForcePathStyle"); v == "1" {
		config = config.WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, err
	}

	return &cache{
		S3API:       s3.New(sess),
		bucket:      bucket,
		prefix:      prefix,
		contentType: contentType,
	}, nil
}
