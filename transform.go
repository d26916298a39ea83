// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

// Default names of the external programs used by CommandTransformer.
const (
	DefaultWebPCommand    = "cwebp"
	DefaultConvertCommand = "convert"
)

// A Transformer materializes the image derived from src by applying f,
// writing the result to dst.  A nil filter means the source is to be served
// unchanged.
type Transformer interface {
	Transform(ctx context.Context, src, dst string, f *Filter) error
}

// TransformError reports a failed transformation.
type TransformError struct {
	Command []string // argument vector, if an external program was run
	Output  []byte   // combined output of the program
	Err     error
}

func (e *TransformError) Error() string {
	if len(e.Command) == 0 {
		return fmt.Sprintf("transform failed: %v", e.Err)
	}
	msg := fmt.Sprintf("transform %q failed: %v", strings.Join(e.Command, " "), e.Err)
	if out := bytes.TrimSpace(e.Output); len(out) > 0 {
		msg += ": " + string(out)
	}
	return msg
}

func (e *TransformError) Unwrap() error { return e.Err }

// CommandTransformer transforms images by running cwebp (for webp output)
// or ImageMagick's convert (for everything else).  Programs are executed
// directly with an argument vector; no shell is involved.
type CommandTransformer struct {
	WebPCommand    string // defaults to DefaultWebPCommand
	ConvertCommand string // defaults to DefaultConvertCommand

	// Timeout bounds each invocation.  A zero Timeout lets a program run
	// for as long as the request context allows.
	Timeout time.Duration
}

// Transform implements Transformer.
func (t *CommandTransformer) Transform(ctx context.Context, src, dst string, f *Filter) error {
	name, args := t.Args(src, dst, f)
	if name == "" {
		if err := copyFile(src, dst); err != nil {
			return &TransformError{Err: err}
		}
		return nil
	}

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	glog.V(1).Infof("running %s", cmd)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return &TransformError{
			Command: append([]string{name}, args...),
			Output:  out,
			Err:     err,
		}
	}
	return nil
}

// Args returns the program and arguments used to derive dst from src.  An
// empty program name means no program is needed and src is copied to dst
// as-is.
func (t *CommandTransformer) Args(src, dst string, f *Filter) (string, []string) {
	if f == nil {
		return "", nil
	}

	if f.WebP {
		var args []string
		if f.HasQuality {
			args = append(args, "-q", strconv.Itoa(int(f.Quality)))
		}
		switch {
		case f.Width != 0:
			args = append(args, "-resize", strconv.FormatUint(uint64(f.Width), 10), "0")
		case f.Height != 0:
			args = append(args, "-resize", "0", strconv.FormatUint(uint64(f.Height), 10))
		}
		args = append(args, src, "-o", dst)
		return t.webp(), args
	}

	if !f.resizes() && !f.HasQuality {
		return "", nil
	}

	var args []string
	switch {
	case f.Width != 0:
		args = append(args, "-resize", strconv.FormatUint(uint64(f.Width), 10))
	case f.Height != 0:
		args = append(args, "-resize", "x"+strconv.FormatUint(uint64(f.Height), 10))
	}
	if f.HasQuality {
		args = append(args, "-quality", strconv.Itoa(int(f.Quality)))
	}
	args = append(args, src, dst)
	return t.convert(), args
}

// Available reports, for each external program used by t, whether it can
// be found in PATH.
func (t *CommandTransformer) Available() map[string]bool {
	m := make(map[string]bool)
	for _, name := range []string{t.webp(), t.convert()} {
		_, err := exec.LookPath(name)
		m[name] = err == nil
	}
	return m
}

func (t *CommandTransformer) webp() string {
	if t.WebPCommand != "" {
		return t.WebPCommand
	}
	return DefaultWebPCommand
}

func (t *CommandTransformer) convert() string {
	if t.ConvertCommand != "" {
		return t.ConvertCommand
	}
	return DefaultConvertCommand
}

// copyFile copies the contents of src to dst, replacing dst if it exists.
func copyFile(src, dst string) (err error) {
	if src == dst {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
