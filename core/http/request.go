package http

import "net/textproto"

// Request holds an already-parsed request as handed over by the transport
// collaborator. The core never parses wire bytes itself.
type Request struct {
	Method     string
	Path       string
	Proto      string
	RemoteAddr string
	Headers    map[string]string
	Query      map[string]string

	// bodyFn reads the body on first use; the result is memoized so
	// middleware and handler see the same bytes.
	bodyFn   func() ([]byte, error)
	body     []byte
	bodyErr  error
	bodyRead bool
}

// SetBodySource installs the lazy body accessor provided by the transport.
func (r *Request) SetBodySource(fn func() ([]byte, error)) {
	r.bodyFn = fn
	r.body = nil
	r.bodyErr = nil
	r.bodyRead = false
}

// Body returns the request body, reading it from the transport on first call.
func (r *Request) Body() ([]byte, error) {
	if r.bodyRead {
		return r.body, r.bodyErr
	}
	r.bodyRead = true
	if r.bodyFn == nil {
		return nil, nil
	}
	r.body, r.bodyErr = r.bodyFn()
	return r.body, r.bodyErr
}

// Header returns a request header value, or "" when absent. Transports
// populate Headers with canonical MIME keys (X-Request-Id), so a miss on
// the exact key retries with the canonical form.
func (r *Request) Header(key string) string {
	if r.Headers == nil {
		return ""
	}
	if v, ok := r.Headers[key]; ok {
		return v
	}
	return r.Headers[textproto.CanonicalMIMEHeaderKey(key)]
}

// QueryParam returns a query parameter value, or "" when absent.
func (r *Request) QueryParam(key string) string {
	if r.Query == nil {
		return ""
	}
	return r.Query[key]
}

func (r *Request) reset() {
	r.Method = ""
	r.Path = ""
	r.Proto = ""
	r.RemoteAddr = ""
	r.Headers = nil
	r.Query = nil
	r.bodyFn = nil
	r.body = nil
	r.bodyErr = nil
	r.bodyRead = false
}
