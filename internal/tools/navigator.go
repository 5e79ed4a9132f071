package tools

import (
	"context"
	"net/url"
	"strings"
	"sync"
)

// Route names a page of the weather app.
type Route string

const (
	RouteHome    Route = "home"
	RouteSearch  Route = "search"
	RouteCompare Route = "compare"
)

// Routes lists every page in display order.
var Routes = []Route{RouteHome, RouteSearch, RouteCompare}

// ParseRoute maps a page name to a Route, ignoring case and surrounding space.
func ParseRoute(s string) (Route, bool) {
	r := Route(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Routes {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// Path is the app path for the route.
func (r Route) Path() string {
	if r == RouteHome {
		return "/"
	}
	return "/" + string(r)
}

// Navigator moves the host application to a page. Query parameters drive
// the page's behavior (search runs a lookup, compare loads both cities).
type Navigator interface {
	GoTo(ctx context.Context, route Route, query map[string]string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, route Route, query map[string]string) error

func (f NavigatorFunc) GoTo(ctx context.Context, route Route, query map[string]string) error {
	return f(ctx, route, query)
}

// EncodeQuery renders query parameters with sorted keys.
func EncodeQuery(query map[string]string) string {
	if len(query) == 0 {
		return ""
	}
	v := url.Values{}
	for k, val := range query {
		v.Set(k, val)
	}
	return v.Encode()
}

// Link builds a hash-router deep link such as
// https://app.example/#/search?city=Tokyo.
func Link(base string, route Route, query map[string]string) string {
	link := strings.TrimRight(base, "/") + "/#" + route.Path()
	if q := EncodeQuery(query); q != "" {
		link += "?" + q
	}
	return link
}

// Visit is one navigation captured by a Recorder.
type Visit struct {
	Route Route             `json:"route"`
	Path  string            `json:"path"`
	Query map[string]string `json:"query,omitempty"`
}

// Recorder is a Navigator that keeps the navigations it receives.
type Recorder struct {
	mu     sync.Mutex
	visits []Visit
}

func (r *Recorder) GoTo(ctx context.Context, route Route, query map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := make(map[string]string, len(query))
	for k, v := range query {
		q[k] = v
	}
	r.visits = append(r.visits, Visit{Route: route, Path: route.Path(), Query: q})
	return nil
}

// Visits returns a copy of everything recorded so far.
func (r *Recorder) Visits() []Visit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Visit(nil), r.visits...)
}

// Drain returns the recorded visits and clears the recorder.
func (r *Recorder) Drain() []Visit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.visits
	r.visits = nil
	return out
}
