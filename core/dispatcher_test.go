package core

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blyfast/blyfast/core/http"
	"github.com/blyfast/blyfast/core/middleware"
	"github.com/blyfast/blyfast/core/scheduler"
)

// fakeExchange is an in-memory transport collaborator.
type fakeExchange struct {
	method, path string
	proto        string
	remoteAddr   string
	headers      map[string]string
	query        map[string]string
	body         []byte

	status      int
	respHeaders map[string]string
	respBody    []byte
	writes      int
}

func (e *fakeExchange) Method() string             { return e.method }
func (e *fakeExchange) Path() string               { return e.path }
func (e *fakeExchange) Proto() string              { return e.proto }
func (e *fakeExchange) RemoteAddr() string         { return e.remoteAddr }
func (e *fakeExchange) Headers() map[string]string { return e.headers }
func (e *fakeExchange) Query() map[string]string   { return e.query }
func (e *fakeExchange) Body() ([]byte, error)      { return e.body, nil }

func (e *fakeExchange) WriteResponse(status int, headers map[string]string, body []byte) error {
	e.writes++
	e.status = status
	e.respHeaders = headers
	e.respBody = append([]byte(nil), body...)
	return nil
}

func get(path string) *fakeExchange {
	return &fakeExchange{method: "GET", path: path, proto: "HTTP/1.1", remoteAddr: "127.0.0.1:9"}
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Options{
		Logger: zerolog.Nop(),
		Scheduler: scheduler.Config{
			CorePoolSize:        2,
			MaxPoolSize:         2,
			QueueCapacity:       16,
			KeepAliveTime:       time.Minute,
			PrestartCoreThreads: true,
			CollectMetrics:      true,
		},
		Contexts: http.ContextPoolConfig{WarmupSize: 4},
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.ShutdownNow() })
	return d
}

func TestDispatchHappyPath(t *testing.T) {
	d := newTestDispatcher(t)
	d.GET("/users/:id", func(ctx *http.Context) error {
		return ctx.JSON(200, map[string]string{"id": ctx.Param("id")})
	})
	d.Freeze()

	ex := get("/users/42")
	require.NoError(t, d.Dispatch(context.Background(), ex))

	assert.Equal(t, 200, ex.status)
	assert.Equal(t, 1, ex.writes, "exactly one write-back per request")

	var body map[string]string
	require.NoError(t, json.Unmarshal(ex.respBody, &body))
	assert.Equal(t, "42", body["id"])
}

func TestDispatchUnknownRouteIs404(t *testing.T) {
	d := newTestDispatcher(t)
	d.Freeze()

	ex := get("/nowhere")
	require.NoError(t, d.Dispatch(context.Background(), ex))
	assert.Equal(t, 404, ex.status)

	var body map[string]string
	require.NoError(t, json.Unmarshal(ex.respBody, &body))
	assert.Equal(t, "Not Found", body["error"])
}

func TestDispatchDefaultStatusWhenHandlerSendsNothing(t *testing.T) {
	d := newTestDispatcher(t)
	d.GET("/silent", func(ctx *http.Context) error {
		ctx.Response().SetHeader("X-Marker", "set")
		return nil
	})
	d.Freeze()

	ex := get("/silent")
	require.NoError(t, d.Dispatch(context.Background(), ex))
	assert.Equal(t, 200, ex.status)
	assert.Equal(t, "set", ex.respHeaders["X-Marker"])
	assert.Empty(t, ex.respBody)
}

func TestDispatchHandlerErrorIs500(t *testing.T) {
	d := newTestDispatcher(t)
	boom := errors.New("boom")
	d.GET("/fail", func(*http.Context) error { return boom })
	d.Freeze()

	ex := get("/fail")
	assert.ErrorIs(t, d.Dispatch(context.Background(), ex), boom)
	assert.Equal(t, 500, ex.status)
}

func TestDispatchPanicIs500(t *testing.T) {
	d := newTestDispatcher(t)
	d.GET("/panic", func(*http.Context) error { panic("kaboom") })
	d.Freeze()

	ex := get("/panic")
	err := d.Dispatch(context.Background(), ex)
	require.Error(t, err)
	assert.Equal(t, 500, ex.status)

	// The pipeline keeps serving afterwards.
	d2 := get("/panic")
	_ = d.Dispatch(context.Background(), d2)
	assert.Equal(t, 500, d2.status)
}

func TestDispatchMiddlewareHalt(t *testing.T) {
	d := newTestDispatcher(t)
	d.Use(func(ctx *http.Context) (middleware.Result, error) {
		if err := ctx.Error(401, "Unauthorized"); err != nil {
			return middleware.HaltUnhandled, err
		}
		return middleware.HaltHandled, nil
	})

	handlerRan := false
	d.GET("/private", func(*http.Context) error {
		handlerRan = true
		return nil
	})
	d.Freeze()

	ex := get("/private")
	require.NoError(t, d.Dispatch(context.Background(), ex))
	assert.Equal(t, 401, ex.status)
	assert.False(t, handlerRan)
}

func TestDispatchUnhandledHaltIs500(t *testing.T) {
	d := newTestDispatcher(t)
	d.Use(func(*http.Context) (middleware.Result, error) {
		return middleware.HaltUnhandled, nil
	})
	d.GET("/x", func(*http.Context) error { return nil })
	d.Freeze()

	ex := get("/x")
	err := d.Dispatch(context.Background(), ex)
	assert.ErrorIs(t, err, middleware.ErrUnhandledHalt)
	assert.Equal(t, 500, ex.status)
}

func TestDispatchRouteLocalMiddleware(t *testing.T) {
	d := newTestDispatcher(t)

	var order []string
	d.Use(func(*http.Context) (middleware.Result, error) {
		order = append(order, "global")
		return middleware.Continue, nil
	})
	d.GET("/x", func(*http.Context) error {
		order = append(order, "handler")
		return nil
	}).Use(func(*http.Context) (middleware.Result, error) {
		order = append(order, "local")
		return middleware.Continue, nil
	})
	d.Freeze()

	require.NoError(t, d.Dispatch(context.Background(), get("/x")))
	assert.Equal(t, []string{"global", "local", "handler"}, order)
}

func TestDispatchAfterShutdownIs503(t *testing.T) {
	d := newTestDispatcher(t)
	d.GET("/x", func(ctx *http.Context) error { return ctx.String(200, "ok") })
	d.Freeze()

	require.NoError(t, d.Shutdown(context.Background()))

	ex := get("/x")
	err := d.Dispatch(context.Background(), ex)
	assert.ErrorIs(t, err, scheduler.ErrShutdown)
	assert.Equal(t, 503, ex.status)
}

func TestDispatchRequestBodyReachesHandler(t *testing.T) {
	d := newTestDispatcher(t)
	d.POST("/echo", func(ctx *http.Context) error {
		var in map[string]string
		if err := ctx.Bind(&in); err != nil {
			return ctx.Error(400, "bad body")
		}
		return ctx.JSON(200, in)
	})
	d.Freeze()

	ex := &fakeExchange{
		method: "POST", path: "/echo", proto: "HTTP/1.1",
		body: []byte(`{"k":"v"}`),
	}
	require.NoError(t, d.Dispatch(context.Background(), ex))
	assert.Equal(t, 200, ex.status)
	assert.JSONEq(t, `{"k":"v"}`, string(ex.respBody))
}

func TestRequestHookObservesStatus(t *testing.T) {
	type observed struct {
		method, route string
		status        int
	}
	var events []observed

	d, err := NewDispatcher(Options{
		Logger: zerolog.Nop(),
		Scheduler: scheduler.Config{
			CorePoolSize:        1,
			MaxPoolSize:         1,
			QueueCapacity:       4,
			KeepAliveTime:       time.Minute,
			PrestartCoreThreads: true,
		},
		Contexts: http.ContextPoolConfig{WarmupSize: 1},
		OnRequest: func(method, route string, status int, _ time.Duration) {
			events = append(events, observed{method, route, status})
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.ShutdownNow() })

	d.GET("/users/:id", func(ctx *http.Context) error { return ctx.String(200, "ok") })
	d.Freeze()

	require.NoError(t, d.Dispatch(context.Background(), get("/users/1")))
	require.NoError(t, d.Dispatch(context.Background(), get("/missing")))

	require.Len(t, events, 2)
	assert.Equal(t, observed{"GET", "/users/1", 200}, events[0])
	assert.Equal(t, 404, events[1].status)
}

func TestLocals(t *testing.T) {
	d := newTestDispatcher(t)

	d.SetLocal("db", "conn")
	v, ok := d.Local("db")
	require.True(t, ok)
	assert.Equal(t, "conn", v)

	_, ok = d.Local("missing")
	assert.False(t, ok)
}

func TestRouteLabelTruncation(t *testing.T) {
	assert.Equal(t, "/", routeLabel("/"))
	assert.Equal(t, "/users", routeLabel("/users"))
	assert.Equal(t, "/users/42", routeLabel("/users/42"))
	assert.Equal(t, "/users/42", routeLabel("/users/42/posts/7"))
}
