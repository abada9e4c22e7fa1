package http

import (
	"errors"
	"sync/atomic"

	json "github.com/goccy/go-json"

	"github.com/blyfast/blyfast/core/pools"
)

// ErrResponseSent is returned when a write is attempted after the response
// has been finalized. The sent flag is monotonic: it never resets within a
// request's lifetime, only on pool reclaim.
var ErrResponseSent = errors.New("response already sent")

// Response accumulates status, headers and body for write-back by the
// transport collaborator. Body bytes live in a pooled buffer.
type Response struct {
	status  int
	headers map[string]string
	body    *[]byte
	sent    atomic.Bool

	buffers *pools.BufferPool
}

// Status sets the response status code. It does not finalize the response.
func (w *Response) Status(code int) *Response {
	w.status = code
	return w
}

// StatusCode returns the status code, defaulting to 200 when unset.
func (w *Response) StatusCode() int {
	if w.status == 0 {
		return 200
	}
	return w.status
}

// SetHeader sets a response header.
func (w *Response) SetHeader(key, value string) *Response {
	if w.headers == nil {
		w.headers = make(map[string]string, 8)
	}
	w.headers[key] = value
	return w
}

// Header returns a previously set response header.
func (w *Response) Header(key string) string {
	if w.headers == nil {
		return ""
	}
	return w.headers[key]
}

// Headers returns the header set for write-back.
func (w *Response) Headers() map[string]string {
	return w.headers
}

// Body returns the accumulated body bytes.
func (w *Response) Body() []byte {
	if w.body == nil {
		return nil
	}
	return *w.body
}

// Sent reports whether the response has been finalized.
func (w *Response) Sent() bool {
	return w.sent.Load()
}

// JSON finalizes the response with a JSON body.
func (w *Response) JSON(code int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.SetHeader("Content-Type", "application/json")
	return w.finalize(code, data)
}

// String finalizes the response with a plain-text body.
func (w *Response) String(code int, s string) error {
	w.SetHeader("Content-Type", "text/plain")
	return w.finalize(code, []byte(s))
}

// Bytes finalizes the response with raw bytes of the given content type.
func (w *Response) Bytes(code int, contentType string, data []byte) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.SetHeader("Content-Type", contentType)
	return w.finalize(code, data)
}

// Error finalizes the response with a JSON error envelope.
func (w *Response) Error(code int, message string) error {
	return w.JSON(code, map[string]any{"error": message})
}

func (w *Response) finalize(code int, data []byte) error {
	if !w.sent.CompareAndSwap(false, true) {
		return ErrResponseSent
	}
	w.status = code
	if len(data) > 0 {
		if w.body == nil {
			w.body = w.buffers.Get(len(data))
		}
		*w.body = append((*w.body)[:0], data...)
	}
	return nil
}

// reset clears mutable state and returns the body buffer to its pool. Only
// called on pool reclaim, which is the one place the sent flag may drop.
func (w *Response) reset() {
	w.status = 0
	w.headers = nil
	if w.body != nil {
		w.buffers.Put(w.body)
		w.body = nil
	}
	w.sent.Store(false)
}
