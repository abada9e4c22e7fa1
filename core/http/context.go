package http

import (
	"sync/atomic"

	json "github.com/goccy/go-json"
)

// Handler is the signature for route handlers. A returned error is contained
// at the dispatch boundary and mapped to a server-error response.
type Handler func(ctx *Context) error

// maxInlineParams is the number of path parameters stored without a map.
const maxInlineParams = 4

// Context is the per-request state container shared by middleware and the
// handler. Instances are pooled; exactly one in-flight request owns a
// Context at a time.
type Context struct {
	request  *Request
	response *Response

	// Path parameters: fixed arrays for the common case, map overflow for
	// routes with many parameters.
	paramKeys     [maxInlineParams]string
	paramValues   [maxInlineParams]string
	paramCount    int
	paramOverflow map[string]string

	// attributes is the cross-middleware key/value bag.
	attributes map[string]any

	// gen guards against dangling handles after pool reclaim.
	gen atomic.Uint64
}

// Request returns the request object.
func (c *Context) Request() *Request { return c.request }

// Response returns the response object.
func (c *Context) Response() *Response { return c.response }

// Method returns the HTTP method.
func (c *Context) Method() string { return c.request.Method }

// Path returns the request path.
func (c *Context) Path() string { return c.request.Path }

// Header returns a request header value.
func (c *Context) Header(key string) string { return c.request.Header(key) }

// Query returns a query parameter value.
func (c *Context) Query(key string) string { return c.request.QueryParam(key) }

// Body returns the request body via the transport's lazy accessor.
func (c *Context) Body() ([]byte, error) { return c.request.Body() }

// Bind unmarshals the JSON request body into v.
func (c *Context) Bind(v any) error {
	body, err := c.request.Body()
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// SetParam records a path parameter.
func (c *Context) SetParam(key, value string) {
	if c.paramCount < maxInlineParams {
		c.paramKeys[c.paramCount] = key
		c.paramValues[c.paramCount] = value
		c.paramCount++
		return
	}
	if c.paramOverflow == nil {
		c.paramOverflow = make(map[string]string)
	}
	c.paramOverflow[key] = value
}

// Param returns a path parameter value, or "" when absent.
func (c *Context) Param(key string) string {
	for i := 0; i < c.paramCount; i++ {
		if c.paramKeys[i] == key {
			return c.paramValues[i]
		}
	}
	if c.paramOverflow != nil {
		return c.paramOverflow[key]
	}
	return ""
}

// Params returns all path parameters as a map.
func (c *Context) Params() map[string]string {
	out := make(map[string]string, c.paramCount+len(c.paramOverflow))
	for i := 0; i < c.paramCount; i++ {
		out[c.paramKeys[i]] = c.paramValues[i]
	}
	for k, v := range c.paramOverflow {
		out[k] = v
	}
	return out
}

// Set stores a request attribute for cross-middleware communication.
func (c *Context) Set(key string, value any) {
	if c.attributes == nil {
		c.attributes = make(map[string]any, 8)
	}
	c.attributes[key] = value
}

// Get returns a request attribute.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.attributes[key]
	return v, ok
}

// GetString returns a string attribute, or "" when absent or mistyped.
func (c *Context) GetString(key string) string {
	if v, ok := c.attributes[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ResponseSent reports whether the response has been finalized.
func (c *Context) ResponseSent() bool { return c.response.Sent() }

// JSON finalizes the response with a JSON body.
func (c *Context) JSON(code int, v any) error { return c.response.JSON(code, v) }

// String finalizes the response with a plain-text body.
func (c *Context) String(code int, s string) error { return c.response.String(code, s) }

// Error finalizes the response with a JSON error envelope.
func (c *Context) Error(code int, message string) error { return c.response.Error(code, message) }

// Status sets the response status without finalizing.
func (c *Context) Status(code int) *Response { return c.response.Status(code) }

// Generation returns the current pool generation of this context.
func (c *Context) Generation() uint64 { return c.gen.Load() }

// reset clears all request-scoped state. The generation counter survives.
func (c *Context) reset() {
	c.request.reset()
	c.response.reset()
	for i := 0; i < c.paramCount; i++ {
		c.paramKeys[i] = ""
		c.paramValues[i] = ""
	}
	c.paramCount = 0
	c.paramOverflow = nil
	c.attributes = nil
}
