// Package storage moves task input and output files between the workspace
// and the locations their URLs name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
)

var (
	// ErrUnsupported is returned for a URL no backend handles.
	ErrUnsupported = errors.New("unsupported url")
	// ErrDenied is returned for a location outside the allowed roots.
	ErrDenied = errors.New("location not allowed")
	// ErrNotRegular is returned when an upload source is not a regular
	// file, symlinks included.
	ErrNotRegular = errors.New("not a regular file")
)

// checkRegular fails unless src is a regular file. It does not follow
// symlinks.
func checkRegular(src string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegular, src)
	}
	return nil
}

// Backend transfers files for one family of URLs.
type Backend interface {
	// Scheme returns the URL scheme the backend handles.
	Scheme() string
	// Get downloads url into the host path dst. With dir set, url names a
	// prefix and every object below it is copied under dst.
	Get(ctx context.Context, url, dst string, dir bool) error
	// Put uploads the regular file src to url.
	Put(ctx context.Context, src, url string) error
	// Locations describes the configured roots, for service info.
	Locations() []string
}

// Mux routes each URL to the backend registered for its scheme.
type Mux struct {
	backends map[string]Backend
}

// NewMux creates a Mux over the given backends.
func NewMux(backends ...Backend) *Mux {
	m := &Mux{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		m.backends[b.Scheme()] = b
	}
	return m
}

func (m *Mux) backend(raw string) (Backend, error) {
	scheme := Scheme(raw)
	b, ok := m.backends[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, raw)
	}
	return b, nil
}

// Get downloads url into dst.
func (m *Mux) Get(ctx context.Context, url, dst string, dir bool) error {
	b, err := m.backend(url)
	if err != nil {
		return err
	}
	return b.Get(ctx, url, dst, dir)
}

// Put uploads src to url.
func (m *Mux) Put(ctx context.Context, src, url string) error {
	b, err := m.backend(url)
	if err != nil {
		return err
	}
	return b.Put(ctx, src, url)
}

// Locations lists the roots of every backend.
func (m *Mux) Locations() []string {
	var out []string
	for _, b := range m.backends {
		out = append(out, b.Locations()...)
	}
	sort.Strings(out)
	return out
}

// Scheme returns the scheme of raw. Bare absolute paths are "file".
func Scheme(raw string) string {
	if strings.HasPrefix(raw, "/") {
		return "file"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Join appends a slash-separated relative path to a URL.
func Join(base, rel string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}
