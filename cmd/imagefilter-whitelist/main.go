// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// The imagefilter-whitelist tool scans a static site for references to
// images and writes the referenced names to a whitelist file, for use with
// imagefilter's -whitelist flag.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/glog"
	"willnorris.com/go/imagefilter/third_party/envy"
	"willnorris.com/go/imagefilter/whitelist"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}

// run builds the whitelist described by the command line arguments.  If no
// output file is named, the whitelist is written to stdout.
func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("imagefilter-whitelist", flag.ContinueOnError)
	root := fs.String("root", ".", "directory containing the site to scan")
	out := fs.String("out", "", "whitelist file to write (default stdout)")
	exts := fs.String("ext", strings.Join(whitelist.DefaultExtensions, ","), "comma separated list of file extensions to scan")
	delims := fs.String("delimiters", whitelist.DefaultDelimiters, "characters ending a referenced path")
	var markers markerList
	fs.Var(&markers, "marker", `text preceding image references, e.g. "images/" (repeatable)`)

	if err := fs.Parse(args); err != nil {
		return err
	}
	envy.ParseFlagSet("IMAGEFILTER_WHITELIST", fs)

	if len(markers) == 0 {
		return errors.New("at least one -marker is required")
	}

	s := whitelist.NewScanner(*root, markers...)
	s.Delimiters = *delims
	for _, e := range strings.Split(*exts, ",") {
		if e = strings.TrimPrefix(strings.TrimSpace(e), "."); e != "" {
			s.Extensions = append(s.Extensions, e)
		}
	}

	if *out == "" {
		return s.Build(stdout)
	}
	return s.BuildFile(*out)
}

// markerList is a flag.Value collecting each use of a repeated flag.
type markerList []string

func (ml *markerList) String() string {
	return strings.Join(*ml, ",")
}

func (ml *markerList) Set(value string) error {
	if value == "" {
		return errors.New("empty marker")
	}
	*ml = append(*ml, value)
	return nil
}
