package transport

import (
	"io"
	nhttp "net/http"
)

// exchange adapts one net/http request/response pair to the dispatcher's
// collaborator interface. Headers and query are flattened to first values;
// multi-value headers are rare on the hot path and the dispatcher's data
// model is single-valued.
type exchange struct {
	w            nhttp.ResponseWriter
	r            *nhttp.Request
	maxBodyBytes int64
}

func (e *exchange) Method() string     { return e.r.Method }
func (e *exchange) Path() string       { return e.r.URL.Path }
func (e *exchange) Proto() string      { return e.r.Proto }
func (e *exchange) RemoteAddr() string { return e.r.RemoteAddr }

func (e *exchange) Headers() map[string]string {
	out := make(map[string]string, len(e.r.Header))
	for k, vs := range e.r.Header {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

func (e *exchange) Query() map[string]string {
	values := e.r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// Body reads the request body, bounded by the configured limit. The
// dispatcher memoizes the result, so this runs at most once per request.
func (e *exchange) Body() ([]byte, error) {
	body := e.r.Body
	if body == nil {
		return nil, nil
	}
	var rd io.Reader = body
	if e.maxBodyBytes > 0 {
		rd = nhttp.MaxBytesReader(e.w, body, e.maxBodyBytes)
	}
	return io.ReadAll(rd)
}

func (e *exchange) WriteResponse(status int, headers map[string]string, body []byte) error {
	h := e.w.Header()
	for k, v := range headers {
		h.Set(k, v)
	}
	e.w.WriteHeader(status)
	if len(body) == 0 {
		return nil
	}
	_, err := e.w.Write(body)
	return err
}
