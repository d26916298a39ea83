// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestCommandTransformer_Args(t *testing.T) {
	tr := new(CommandTransformer)

	tests := []struct {
		filter *Filter
		name   string
		args   []string
	}{
		// no program needed
		{nil, "", nil},
		{&Filter{}, "", nil},

		// convert
		{&Filter{Width: 500}, "convert", []string{"-resize", "500", "/src/cat.source.jpg", "/work/out"}},
		{&Filter{Height: 300}, "convert", []string{"-resize", "x300", "/src/cat.source.jpg", "/work/out"}},
		{&Filter{Width: 500, Height: 300}, "convert", []string{"-resize", "500", "/src/cat.source.jpg", "/work/out"}},
		{&Filter{Quality: 50, HasQuality: true}, "convert", []string{"-quality", "50", "/src/cat.source.jpg", "/work/out"}},
		{&Filter{Width: 500, Quality: 80, HasQuality: true}, "convert", []string{"-resize", "500", "-quality", "80", "/src/cat.source.jpg", "/work/out"}},

		// cwebp
		{&Filter{WebP: true}, "cwebp", []string{"/src/cat.source.jpg", "-o", "/work/out"}},
		{&Filter{Width: 100, WebP: true}, "cwebp", []string{"-resize", "100", "0", "/src/cat.source.jpg", "-o", "/work/out"}},
		{&Filter{Height: 100, WebP: true}, "cwebp", []string{"-resize", "0", "100", "/src/cat.source.jpg", "-o", "/work/out"}},
		{&Filter{Width: 100, Quality: 90, HasQuality: true, WebP: true}, "cwebp", []string{"-q", "90", "-resize", "100", "0", "/src/cat.source.jpg", "-o", "/work/out"}},
	}

	for _, tt := range tests {
		name, args := tr.Args("/src/cat.source.jpg", "/work/out", tt.filter)
		if name != tt.name || !reflect.DeepEqual(args, tt.args) {
			t.Errorf("Args(%v) returned (%q, %q), want (%q, %q)", tt.filter, name, args, tt.name, tt.args)
		}
	}
}

func TestCommandTransformer_Args_CustomCommands(t *testing.T) {
	tr := &CommandTransformer{WebPCommand: "/opt/bin/cwebp", ConvertCommand: "/opt/bin/magick"}

	if name, _ := tr.Args("a", "b", &Filter{WebP: true}); name != "/opt/bin/cwebp" {
		t.Errorf("webp program is %q, want %q", name, "/opt/bin/cwebp")
	}
	if name, _ := tr.Args("a", "b", &Filter{Width: 1}); name != "/opt/bin/magick" {
		t.Errorf("convert program is %q, want %q", name, "/opt/bin/magick")
	}
}

// Paths are passed as single arguments, however unusual they are.
func TestCommandTransformer_Args_NoShell(t *testing.T) {
	tr := new(CommandTransformer)
	src := "/src/cat; rm -rf $HOME.source.jpg"
	dst := "/work/cat $(id).w1.jpg"

	_, args := tr.Args(src, dst, &Filter{Width: 1})
	if got := args[len(args)-2:]; !reflect.DeepEqual(got, []string{src, dst}) {
		t.Errorf("Args returned paths %q, want %q", got, []string{src, dst})
	}
}

func TestCommandTransformer_Transform_Copy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "cat.source.jpg")
	dst := filepath.Join(dir, "cat.jpg")
	data := []byte("not really a jpeg")
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}

	tr := &CommandTransformer{WebPCommand: "does-not-exist", ConvertCommand: "does-not-exist"}
	if err := tr.Transform(context.Background(), src, dst, nil); err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("error reading output: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Transform with nil filter wrote %q, want %q", got, data)
	}
}

func TestCommandTransformer_Transform_Error(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "cat.source.jpg")
	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr := &CommandTransformer{ConvertCommand: "imagefilter-test-no-such-program"}
	err := tr.Transform(context.Background(), src, filepath.Join(dir, "cat.w1.jpg"), &Filter{Width: 1})

	var terr *TransformError
	if !errors.As(err, &terr) {
		t.Fatalf("Transform returned %v, want *TransformError", err)
	}
	if len(terr.Command) == 0 || terr.Command[0] != "imagefilter-test-no-such-program" {
		t.Errorf("TransformError has command %q", terr.Command)
	}
	if _, err := os.Stat(filepath.Join(dir, "cat.w1.jpg")); !os.IsNotExist(err) {
		t.Errorf("failed transform left output file behind: %v", err)
	}
}

func TestCommandTransformer_Transform_MissingSource(t *testing.T) {
	dir := t.TempDir()
	tr := new(CommandTransformer)
	err := tr.Transform(context.Background(), filepath.Join(dir, "missing.source.jpg"), filepath.Join(dir, "missing.jpg"), nil)

	var terr *TransformError
	if !errors.As(err, &terr) {
		t.Fatalf("Transform returned %v, want *TransformError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("TransformError does not wrap os.ErrNotExist: %v", err)
	}
}

func TestCommandTransformer_Available(t *testing.T) {
	tr := &CommandTransformer{WebPCommand: "imagefilter-test-no-such-program", ConvertCommand: "imagefilter-test-no-such-program-either"}
	want := map[string]bool{
		"imagefilter-test-no-such-program":        false,
		"imagefilter-test-no-such-program-either": false,
	}
	if got := tr.Available(); !reflect.DeepEqual(got, want) {
		t.Errorf("Available returned %v, want %v", got, want)
	}
}

func TestTransformError(t *testing.T) {
	tests := []struct {
		err  *TransformError
		want string
	}{
		{
			&TransformError{Err: errors.New("boom")},
			"transform failed: boom",
		},
		{
			&TransformError{Command: []string{"convert", "-resize", "10", "a", "b"}, Err: errors.New("exit status 1")},
			`transform "convert -resize 10 a b" failed: exit status 1`,
		},
		{
			&TransformError{Command: []string{"cwebp"}, Output: []byte("  bad input\n"), Err: errors.New("exit status 255")},
			`transform "cwebp" failed: exit status 255: bad input`,
		},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() returned %q, want %q", got, tt.want)
		}
	}

	err := &TransformError{Err: context.DeadlineExceeded}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("TransformError does not unwrap to its cause")
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old contents, longer"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile returned error: %v", err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "new" {
		t.Errorf("copyFile wrote %q, want %q", got, "new")
	}

	// copying a file onto itself leaves it intact
	if err := copyFile(src, src); err != nil {
		t.Fatalf("copyFile onto itself returned error: %v", err)
	}
	if got, _ := os.ReadFile(src); string(got) != "new" {
		t.Errorf("copyFile onto itself left %q, want %q", got, "new")
	}
}
