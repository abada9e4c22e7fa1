// Package router owns the route table and path-matching algorithm. The
// table is mutable during registration and frozen before serving begins:
// Freeze publishes an immutable snapshot read lock-free on the hot path.
package router

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/blyfast/blyfast/core/http"
)

// ErrFrozen is returned when a route is registered after Freeze.
var ErrFrozen = errors.New("route table is frozen")

// table is the immutable snapshot published at freeze time.
type table struct {
	// static maps method -> exact path -> route for O(1) lookup.
	static map[string]map[string]*Route
	// dynamic maps method -> routes in registration order, scanned
	// linearly. First match wins, duplicates included.
	dynamic map[string][]*Route
}

// Router resolves (method, path) to a bound route and extracts path
// parameters. Safe for concurrent reads after Freeze.
type Router struct {
	mu     sync.RWMutex
	frozen bool
	build  *table
	all    []*Route

	snapshot atomic.Pointer[table]
	log      zerolog.Logger
}

// New creates an empty router.
func New(log zerolog.Logger) *Router {
	return &Router{
		build: &table{
			static:  make(map[string]map[string]*Route),
			dynamic: make(map[string][]*Route),
		},
		log: log.With().Str("component", "router").Logger(),
	}
}

// AddRoute registers a route. Duplicate (method, pattern) registrations are
// retained; the earlier registration wins at match time. Returns a
// ConfigurationError when the pattern cannot be compiled, or ErrFrozen
// after serving has begun.
func (r *Router) AddRoute(method, path string, handler http.Handler) (*Route, error) {
	rt, err := newRoute(method, path, handler)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil, ErrFrozen
	}

	r.all = append(r.all, rt)
	r.build.dynamic[rt.method] = append(r.build.dynamic[rt.method], rt)

	if rt.static {
		byPath := r.build.static[rt.method]
		if byPath == nil {
			byPath = make(map[string]*Route)
			r.build.static[rt.method] = byPath
		}
		// First registration wins; later duplicates are only reachable
		// if an earlier one is somehow removed, which never happens.
		if _, exists := byPath[rt.normalized]; !exists {
			byPath[rt.normalized] = rt
		}
	}

	return rt, nil
}

// Freeze publishes the current table as an immutable snapshot. Lookups
// after Freeze take no locks. Idempotent.
func (r *Router) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.frozen = true
	r.snapshot.Store(r.build)
	r.log.Debug().Int("routes", len(r.all)).Msg("route table frozen")
}

// Find resolves a request to a route. The static map is probed first; on a
// miss the dynamic list for the method is scanned in registration order.
func (r *Router) Find(method, path string) (*Route, bool) {
	t := r.snapshot.Load()
	if t == nil {
		// Registration phase; lookups are rare here (tests, warmup).
		r.mu.RLock()
		defer r.mu.RUnlock()
		t = r.build
	}

	methodKey := canonicalMethod(method)

	if byPath := t.static[methodKey]; byPath != nil {
		if rt, ok := byPath[path]; ok {
			return rt, true
		}
	}

	for _, rt := range t.dynamic[methodKey] {
		if rt.Matches(methodKey, path) {
			return rt, true
		}
	}

	return nil, false
}

// ResolveParams re-runs the route's matcher against the concrete path and
// maps capture groups positionally to parameter names. A captured value
// that fails sanitization is dropped — the parameter is simply absent
// rather than failing the match. The drop is logged so the permissive
// policy stays visible.
func (r *Router) ResolveParams(path string, rt *Route) map[string]string {
	if len(rt.paramNames) == 0 {
		return nil
	}

	groups := rt.pattern.FindStringSubmatch(path)
	if groups == nil {
		return nil
	}

	params := make(map[string]string, len(rt.paramNames))
	for i, name := range rt.paramNames {
		if i+1 >= len(groups) {
			break
		}
		value := groups[i+1]
		if !sanitizeParam(value) {
			r.log.Warn().
				Str("route", rt.path).
				Str("param", name).
				Msg("dropped suspicious path parameter value")
			continue
		}
		params[name] = value
	}
	return params
}

// Routes returns all registered routes in registration order.
func (r *Router) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Route, len(r.all))
	copy(out, r.all)
	return out
}

// canonicalMethod uppercases an HTTP method without allocating for the
// already-uppercase common case.
func canonicalMethod(method string) string {
	for i := 0; i < len(method); i++ {
		c := method[i]
		if c >= 'a' && c <= 'z' {
			b := []byte(method)
			for j := i; j < len(b); j++ {
				if b[j] >= 'a' && b[j] <= 'z' {
					b[j] -= 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return method
}
