// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// Package caddy provides ImageFilter as a Caddy module.
package caddy

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	caddy "github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/peterbourgon/diskv"
	"go.uber.org/zap"
	"willnorris.com/go/imagefilter"
	"willnorris.com/go/imagefilter/whitelist"
)

func init() {
	caddy.RegisterModule(ImageFilter{})
	httpcaddyfile.RegisterHandlerDirective("imagefilter", parseCaddyfile)
}

// ImageFilter serves derived variants of the source images in Dir.
type ImageFilter struct {
	Dir       string `json:"dir,omitempty"`
	WorkDir   string `json:"work_dir,omitempty"`
	Whitelist string `json:"whitelist,omitempty"`
	Cache     string `json:"cache,omitempty"`

	// Transformer is "command" (the default) or "builtin".
	Transformer string         `json:"transformer,omitempty"`
	Timeout     caddy.Duration `json:"timeout,omitempty"`

	logger *zap.Logger
	server *imagefilter.Server
}

// interface guard
var (
	_ caddy.Provisioner           = (*ImageFilter)(nil)
	_ caddyhttp.MiddlewareHandler = (*ImageFilter)(nil)
)

// CaddyModule returns the Caddy module information.
func (ImageFilter) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.imagefilter",
		New: func() caddy.Module { return new(ImageFilter) },
	}
}

func (p *ImageFilter) Provision(ctx caddy.Context) error {
	p.logger = ctx.Logger()

	store, err := parseCache(p.Cache)
	if err != nil {
		return err
	}

	var tr imagefilter.Transformer
	switch p.Transformer {
	case "", "command":
		ct := &imagefilter.CommandTransformer{Timeout: time.Duration(p.Timeout)}
		for prog, ok := range ct.Available() {
			if !ok {
				p.logger.Warn("image program not found in PATH", zap.String("program", prog))
			}
		}
		tr = ct
	case "builtin":
		tr = imagefilter.BuiltinTransformer{}
	default:
		return fmt.Errorf("unknown transformer %q", p.Transformer)
	}

	c, err := imagefilter.NewImageCache(p.Dir, imagefilter.Options{
		WorkDir:     p.WorkDir,
		Transformer: tr,
		Store:       store,
	})
	if err != nil {
		return err
	}
	n, err := c.Rescan()
	if err != nil {
		return err
	}
	p.logger.Info("serving source images", zap.String("dir", c.Dir()), zap.Int("count", n))

	p.server = imagefilter.NewServer(c)
	if p.Whitelist != "" {
		set, err := whitelist.Load(p.Whitelist)
		if err != nil {
			return fmt.Errorf("error loading whitelist: %w", err)
		}
		p.server.Authorizers = append(p.server.Authorizers, set)
	}
	return nil
}

func (p *ImageFilter) ServeHTTP(w http.ResponseWriter, r *http.Request, _ caddyhttp.Handler) error {
	p.server.ServeHTTP(w, r)
	return nil
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	p := new(ImageFilter)

	h.Next() // consume the directive name
	for nesting := h.Nesting(); h.NextBlock(nesting); {
		switch h.Val() {
		case "dir":
			if !h.NextArg() {
				return nil, h.ArgErr()
			}
			p.Dir = h.Val()
		case "work_dir":
			if !h.NextArg() {
				return nil, h.ArgErr()
			}
			p.WorkDir = h.Val()
		case "whitelist":
			if !h.NextArg() {
				return nil, h.ArgErr()
			}
			p.Whitelist = h.Val()
		case "cache":
			if !h.NextArg() {
				return nil, h.ArgErr()
			}
			p.Cache = h.Val()
		case "transformer":
			if !h.NextArg() {
				return nil, h.ArgErr()
			}
			p.Transformer = h.Val()
		case "timeout":
			if !h.NextArg() {
				return nil, h.ArgErr()
			}
			d, err := caddy.ParseDuration(h.Val())
			if err != nil {
				return nil, h.Errf("invalid timeout: %v", err)
			}
			p.Timeout = caddy.Duration(d)
		default:
			return nil, h.Errf("unknown imagefilter option %q", h.Val())
		}
	}
	return p, nil
}

// parseCache parses c returns the specified Cache implementation.  An empty
// value selects the default in-memory cache.
func parseCache(c string) (imagefilter.Cache, error) {
	if c == "" {
		return nil, nil
	}

	u, err := url.Parse(c)
	if err != nil {
		return nil, fmt.Errorf("error parsing cache: %w", err)
	}

	switch u.Scheme {
	case "file":
		return diskCache(u.Path), nil
	default:
		return diskCache(c), nil
	}
}

func diskCache(path string) *diskcache.Cache {
	d := diskv.New(diskv.Options{
		BasePath: path,

		// For file "c0ffee", store file as "c0/ff/c0ffee"
		Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
	})
	return diskcache.NewWithDiskv(d)
}
