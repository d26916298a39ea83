// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// Package whitelist discovers which images a static site refers to, and
// restricts image requests to those images.
//
// A Scanner reads the markup, script and style files of a site and extracts
// every path following a marker such as "images/".  The paths are written one
// per line to a whitelist file, which Load reads back into a Set.
package whitelist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
)

// DefaultDelimiters are the characters that end a referenced path.
const DefaultDelimiters = ` />"`

// DefaultExtensions are the extensions of the files a Scanner reads.
var DefaultExtensions = []string{"html", "js", "css"}

// UnterminatedError reports a marker occurrence with no delimiter after it.
type UnterminatedError struct {
	File   string // file being scanned, if any
	Marker string
	Offset int // byte offset of the marker occurrence
}

func (e *UnterminatedError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("no delimiter after %q at offset %d", e.Marker, e.Offset)
	}
	return fmt.Sprintf("%s: no delimiter after %q at offset %d", e.File, e.Marker, e.Offset)
}

// Scanner extracts referenced paths from the text files under a directory.
type Scanner struct {
	Root string // directory to scan

	// Markers precede referenced paths, e.g. "images/".
	Markers []string

	// Delimiters is the set of characters ending a referenced path.
	// Defaults to DefaultDelimiters.
	Delimiters string

	// Extensions of the files to scan, without leading dot.  Defaults to
	// DefaultExtensions.
	Extensions []string
}

// NewScanner returns a Scanner for the files under root with the default
// delimiters and extensions.
func NewScanner(root string, markers ...string) *Scanner {
	return &Scanner{Root: root, Markers: markers}
}

// Files returns the paths of all files under s.Root that have one of the
// scanned extensions, in lexical order.
func (s *Scanner) Files() ([]string, error) {
	exts := s.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	var files []string
	err := filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.TrimPrefix(filepath.Ext(p), ".")
		for _, e := range exts {
			if ext == e {
				files = append(files, p)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing files under %s: %w", s.Root, err)
	}
	return files, nil
}

// Build scans every file under s.Root, writing each referenced path to w
// followed by a newline.  Paths are written in the order they are found and
// are not deduplicated.
//
// A file with an unterminated reference still contributes the paths found
// before it.  Such files are reported in the returned error, which joins
// the errors of every file that could not be fully scanned; scanning always
// continues with the remaining files.
func (s *Scanner) Build(w io.Writer) error {
	files, err := s.Files()
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	var errs []error
	for _, file := range files {
		paths, err := s.scanFile(file)
		glog.V(1).Infof("%s: %d references", file, len(paths))
		for _, p := range paths {
			if _, werr := bw.WriteString(p + "\n"); werr != nil {
				return werr
			}
		}
		if err != nil {
			glog.Warningf("error scanning %s: %v", file, err)
			errs = append(errs, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// BuildFile writes the whitelist to the file at name, replacing any previous
// contents.  See Build for how errors are reported.
func (s *Scanner) BuildFile(name string) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return s.Build(f)
}

// scanFile returns the references in file.
func (s *Scanner) scanFile(file string) ([]string, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	content := string(b)

	delims := s.Delimiters
	if delims == "" {
		delims = DefaultDelimiters
	}

	var all []string
	for _, marker := range s.Markers {
		paths, err := Extract(content, marker, delims)
		all = append(all, paths...)
		if err != nil {
			var uerr *UnterminatedError
			if errors.As(err, &uerr) {
				uerr.File = file
			}
			return all, err
		}
	}
	return all, nil
}

// Extract returns, for every occurrence of marker in content, the text
// following it up to the first of the delimiters.  Occurrences are found
// even when they lie within the text extracted for an earlier one.  If an occurrence is not
// followed by any delimiter, the paths extracted before it are returned
// together with an *UnterminatedError.
func Extract(content, marker, delimiters string) ([]string, error) {
	if marker == "" {
		return nil, nil
	}

	var paths []string
	for i := 0; ; {
		j := strings.Index(content[i:], marker)
		if j < 0 {
			return paths, nil
		}
		start := i + j + len(marker)
		k := strings.IndexAny(content[start:], delimiters)
		if k < 0 {
			return paths, &UnterminatedError{Marker: marker, Offset: i + j}
		}
		paths = append(paths, content[start:start+k])
		// markers may begin inside the text just extracted
		i = start
	}
}

// Set is an in-memory whitelist.  It is not safe to modify a Set while it is
// being used to authorize requests.
type Set map[string]struct{}

// Load reads the whitelist file at name.  Blank lines are ignored.
func Load(name string) (Set, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set := make(Set)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			set[line] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("error reading whitelist %s: %w", name, err)
	}
	return set, nil
}

// Contains reports whether p is in the whitelist.
func (s Set) Contains(p string) bool {
	_, ok := s[p]
	return ok
}

// AuthorizeRequest allows requests whose final path segment is in the
// whitelist.
func (s Set) AuthorizeRequest(req *http.Request) error {
	name := path.Base(req.URL.Path)
	if !s.Contains(name) {
		return fmt.Errorf("%q is not whitelisted", name)
	}
	return nil
}
