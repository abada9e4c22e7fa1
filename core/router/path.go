package router

import (
	"fmt"
	"regexp"
	"strings"
)

// ConfigurationError reports a route pattern that cannot be compiled at
// registration time. Registration-time failures are fatal at startup.
type ConfigurationError struct {
	Pattern string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid route pattern %q: %v", e.Pattern, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// compiledPath is the matcher built from a registered path pattern.
type compiledPath struct {
	normalized string
	pattern    *regexp.Regexp
	paramNames []string
	static     bool
}

// compilePath turns a path pattern into an anchored regular expression with
// one capture group per `:name` parameter, in declared order. A bare `*`
// segment matches the rest of the path. Trailing slashes are tolerated on
// the request side.
func compilePath(path string) (*compiledPath, error) {
	normalized := normalizePath(path)

	var paramNames []string
	var b strings.Builder
	b.WriteString("^")

	for _, segment := range strings.Split(normalized, "/") {
		if segment == "" {
			continue
		}

		b.WriteString("/")

		switch {
		case strings.HasPrefix(segment, ":"):
			name := segment[1:]
			if name == "" {
				return nil, &ConfigurationError{Pattern: path, Err: fmt.Errorf("parameter segment missing a name")}
			}
			if strings.ContainsAny(name, ":*") {
				return nil, &ConfigurationError{Pattern: path, Err: fmt.Errorf("parameter name %q contains a wildcard token", name)}
			}
			paramNames = append(paramNames, name)
			b.WriteString("([^/]+)")
		case segment == "*":
			b.WriteString(".*")
		default:
			b.WriteString(regexp.QuoteMeta(segment))
		}
	}

	b.WriteString("/?$")

	pattern, err := regexp.Compile(b.String())
	if err != nil {
		return nil, &ConfigurationError{Pattern: path, Err: err}
	}

	return &compiledPath{
		normalized: normalized,
		pattern:    pattern,
		paramNames: paramNames,
		static:     !strings.Contains(path, ":") && !strings.Contains(path, "*"),
	}, nil
}

// normalizePath ensures a leading slash and strips a trailing slash (except
// for the root path).
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}

// sanitizeParam rejects captured values that smell like path traversal:
// `..`, `//`, backslashes, a leading separator, or control characters.
func sanitizeParam(value string) bool {
	if value == "" {
		return true
	}
	if strings.Contains(value, "..") || strings.Contains(value, "//") || strings.Contains(value, `\`) {
		return false
	}
	if value[0] == '/' {
		return false
	}
	for _, c := range value {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}
