// SPDX-License-Identifier: Apache-2.0

// Package registry maps page path prefixes to the logical identifiers of the
// internal apps that support credential autofill. A Registry is built once at
// startup and never mutated, so it is safe to share between goroutines.
package registry

import (
	"fmt"
	"strings"
)

// Entry binds a path prefix to an app identifier.
type Entry struct {
	Prefix string
	App    string
}

// Registry is an ordered, immutable list of entries.
type Registry struct {
	entries []Entry
	known   map[string]struct{}
}

// New validates entries and returns a Registry. Order is preserved: the
// first entry whose prefix matches a path wins.
func New(entries ...Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		known:   make(map[string]struct{}, len(entries)),
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Prefix, "/") {
			return nil, fmt.Errorf("registry entry %q: prefix must start with '/'", e.Prefix)
		}
		if e.App == "" {
			return nil, fmt.Errorf("registry entry %q: empty app identifier", e.Prefix)
		}
		r.entries = append(r.entries, e)
		r.known[e.App] = struct{}{}
	}
	return r, nil
}

// Parse builds a Registry from "prefix=app" pairs.
func Parse(pairs []string) (*Registry, error) {
	entries := make([]Entry, 0, len(pairs))
	for _, p := range pairs {
		prefix, app, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			return nil, fmt.Errorf("registry entry %q: want prefix=app", p)
		}
		entries = append(entries, Entry{Prefix: prefix, App: app})
	}
	return New(entries...)
}

// DefaultPairs are the internal apps known out of the box.
var DefaultPairs = []string{
	"/truai=truai",
	"/wiki=wiki",
	"/tracker=tracker",
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := Parse(DefaultPairs)
	if err != nil {
		panic(err)
	}
	return r
}

// Match returns the app for the first entry whose prefix matches path at a
// segment boundary ("/truai" matches "/truai" and "/truai/login" but not
// "/truaix").
func (r *Registry) Match(path string) (string, bool) {
	for _, e := range r.entries {
		if !strings.HasPrefix(path, e.Prefix) {
			continue
		}
		rest := path[len(e.Prefix):]
		if rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#' || strings.HasSuffix(e.Prefix, "/") {
			return e.App, true
		}
	}
	return "", false
}

// Known reports whether app is one of the registered identifiers.
func (r *Registry) Known(app string) bool {
	_, ok := r.known[app]
	return ok
}

// Apps returns the registered identifiers in registry order, without
// duplicates.
func (r *Registry) Apps() []string {
	seen := make(map[string]struct{}, len(r.entries))
	apps := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		if _, dup := seen[e.App]; dup {
			continue
		}
		seen[e.App] = struct{}{}
		apps = append(apps, e.App)
	}
	return apps
}
