package router

import (
	"regexp"
	"strings"

	"github.com/blyfast/blyfast/core/http"
	"github.com/blyfast/blyfast/core/middleware"
)

// Route binds a (method, path pattern) pair to a handler and its local
// middleware. Routes are created at registration time and immutable once
// the table is frozen.
type Route struct {
	method     string
	path       string
	normalized string
	pattern    *regexp.Regexp
	paramNames []string
	static     bool

	handler    http.Handler
	middleware []middleware.Middleware
}

func newRoute(method, path string, handler http.Handler) (*Route, error) {
	cp, err := compilePath(path)
	if err != nil {
		return nil, err
	}
	return &Route{
		method:     strings.ToUpper(method),
		path:       path,
		normalized: cp.normalized,
		pattern:    cp.pattern,
		paramNames: cp.paramNames,
		static:     cp.static,
		handler:    handler,
	}, nil
}

// Method returns the canonical (uppercase) HTTP method.
func (rt *Route) Method() string { return rt.method }

// Path returns the raw path pattern as registered.
func (rt *Route) Path() string { return rt.path }

// ParamNames returns the parameter names in declared order.
func (rt *Route) ParamNames() []string { return rt.paramNames }

// Static reports whether the pattern contains no parameter or wildcard
// tokens and is eligible for exact-match lookup.
func (rt *Route) Static() bool { return rt.static }

// Handler returns the bound handler.
func (rt *Route) Handler() http.Handler { return rt.handler }

// Middleware returns the route-local middleware in registration order.
func (rt *Route) Middleware() []middleware.Middleware { return rt.middleware }

// Use appends route-local middleware. Only valid before the table freezes.
func (rt *Route) Use(mw ...middleware.Middleware) *Route {
	rt.middleware = append(rt.middleware, mw...)
	return rt
}

// Matches reports whether this route accepts the given method and path.
func (rt *Route) Matches(method, path string) bool {
	if rt.method != strings.ToUpper(method) {
		return false
	}
	if rt.normalized == path {
		return true
	}
	return rt.pattern.MatchString(path)
}
