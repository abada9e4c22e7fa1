// Package core wires the router, middleware chain, scheduler and context
// pool into a single request pipeline. The transport that parses wire bytes
// and writes them back is a collaborator behind the Exchange interface; the
// core never touches sockets.
package core

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/blyfast/blyfast/core/http"
	"github.com/blyfast/blyfast/core/middleware"
	"github.com/blyfast/blyfast/core/router"
	"github.com/blyfast/blyfast/core/scheduler"
)

// Exchange is one request/response pair as seen from the transport. The
// transport parses the request before Dispatch and writes the response after;
// Body is lazy so unread bodies cost nothing.
type Exchange interface {
	Method() string
	Path() string
	Proto() string
	RemoteAddr() string
	Headers() map[string]string
	Query() map[string]string
	Body() ([]byte, error)
	WriteResponse(status int, headers map[string]string, body []byte) error
}

// RequestHook observes completed dispatches; the observability layer hangs
// its collectors here.
type RequestHook func(method, path string, status int, elapsed time.Duration)

// Options configures a Dispatcher.
type Options struct {
	Logger    zerolog.Logger
	Scheduler scheduler.Config
	Contexts  http.ContextPoolConfig
	OnRequest RequestHook
}

// Dispatcher owns the request pipeline: resolve route, acquire a pooled
// context, run the middleware chain and handler on the scheduler, write the
// response back, release the context. Release runs on every path.
type Dispatcher struct {
	log      zerolog.Logger
	router   *router.Router
	chain    *middleware.Chain
	pool     *scheduler.Pool
	contexts *http.ContextPool

	onRequest RequestHook

	localsMu sync.RWMutex
	locals   map[string]any
}

// NewDispatcher builds the pipeline. The scheduler starts immediately;
// routes may be registered until Freeze.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	log := opts.Logger.With().Str("component", "dispatcher").Logger()

	pool, err := scheduler.New(opts.Scheduler, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		log:       log,
		router:    router.New(opts.Logger),
		chain:     middleware.NewChain(),
		pool:      pool,
		contexts:  http.NewContextPool(opts.Contexts),
		onRequest: opts.OnRequest,
		locals:    make(map[string]any),
	}, nil
}

// Use appends a global middleware, run before route-local middleware.
func (d *Dispatcher) Use(mw middleware.Middleware) *Dispatcher {
	d.chain.Use(mw)
	return d
}

// Route registers a handler for an arbitrary method. Pattern compilation
// failures are returned, not deferred to request time.
func (d *Dispatcher) Route(method, path string, h http.Handler) (*router.Route, error) {
	return d.router.AddRoute(method, path, h)
}

// handle backs the fluent verb methods. A bad pattern is a programming
// error caught at startup, so it panics rather than limping along with a
// route that can never match.
func (d *Dispatcher) handle(method, path string, h http.Handler) *router.Route {
	rt, err := d.router.AddRoute(method, path, h)
	if err != nil {
		panic(err)
	}
	return rt
}

// GET registers a GET handler.
func (d *Dispatcher) GET(path string, h http.Handler) *router.Route {
	return d.handle("GET", path, h)
}

// POST registers a POST handler.
func (d *Dispatcher) POST(path string, h http.Handler) *router.Route {
	return d.handle("POST", path, h)
}

// PUT registers a PUT handler.
func (d *Dispatcher) PUT(path string, h http.Handler) *router.Route {
	return d.handle("PUT", path, h)
}

// DELETE registers a DELETE handler.
func (d *Dispatcher) DELETE(path string, h http.Handler) *router.Route {
	return d.handle("DELETE", path, h)
}

// PATCH registers a PATCH handler.
func (d *Dispatcher) PATCH(path string, h http.Handler) *router.Route {
	return d.handle("PATCH", path, h)
}

// HEAD registers a HEAD handler.
func (d *Dispatcher) HEAD(path string, h http.Handler) *router.Route {
	return d.handle("HEAD", path, h)
}

// OPTIONS registers an OPTIONS handler.
func (d *Dispatcher) OPTIONS(path string, h http.Handler) *router.Route {
	return d.handle("OPTIONS", path, h)
}

// Freeze publishes the route table; registration after this fails.
func (d *Dispatcher) Freeze() {
	d.router.Freeze()
}

// SetLocal stores an application-scoped value shared across requests.
func (d *Dispatcher) SetLocal(key string, value any) {
	d.localsMu.Lock()
	d.locals[key] = value
	d.localsMu.Unlock()
}

// Local returns an application-scoped value.
func (d *Dispatcher) Local(key string) (any, bool) {
	d.localsMu.RLock()
	v, ok := d.locals[key]
	d.localsMu.RUnlock()
	return v, ok
}

// Dispatch runs one request through the pipeline and blocks until the
// response has been written to the exchange. ctx bounds the wait, not the
// task: a task already running is not interrupted when ctx expires.
func (d *Dispatcher) Dispatch(ctx context.Context, ex Exchange) error {
	start := time.Now()

	rt, ok := d.router.Find(ex.Method(), ex.Path())
	if !ok {
		d.writeError(ex, 404, "Not Found")
		d.observe(ex, 404, start)
		return nil
	}

	c, _ := d.contexts.Acquire()
	released := false
	defer func() {
		if !released {
			d.contexts.Release(c)
		}
	}()

	d.populate(c, ex)
	for name, value := range d.router.ResolveParams(ex.Path(), rt) {
		c.SetParam(name, value)
	}

	handle, err := d.pool.Submit(func(context.Context) error {
		return d.chain.Run(c, rt.Middleware(), rt.Handler())
	})
	if err != nil {
		status := errorStatus(err)
		d.log.Warn().Err(err).
			Str("method", ex.Method()).
			Str("path", ex.Path()).
			Msg("submission refused")
		d.writeError(ex, status, errorMessage(status))
		d.observe(ex, status, start)
		return err
	}

	select {
	case <-handle.Done():
	case <-ctx.Done():
		// The task still owns the pooled context; hand release off to a
		// watcher so the pool never recycles state under a running task.
		released = true
		go func() {
			<-handle.Done()
			d.contexts.Release(c)
		}()
		d.writeError(ex, 503, errorMessage(503))
		d.observe(ex, 503, start)
		return ctx.Err()
	}

	if taskErr := handle.Err(); taskErr != nil {
		d.log.Error().Err(taskErr).
			Str("method", ex.Method()).
			Str("path", ex.Path()).
			Msg("request pipeline failed")
		if !c.ResponseSent() {
			status := errorStatus(taskErr)
			d.writeError(ex, status, errorMessage(status))
			d.observe(ex, status, start)
			return taskErr
		}
	}

	// A handler that returns nil without finalizing gets the accumulated
	// status (default 200) and whatever headers it set.
	resp := c.Response()
	status := resp.StatusCode()
	if err := ex.WriteResponse(status, resp.Headers(), resp.Body()); err != nil {
		d.log.Warn().Err(err).Msg("response write-back failed")
	}
	d.observe(ex, status, start)
	return nil
}

// populate copies the exchange's parsed request into the pooled context.
func (d *Dispatcher) populate(c *http.Context, ex Exchange) {
	req := c.Request()
	req.Method = ex.Method()
	req.Path = ex.Path()
	req.Proto = ex.Proto()
	req.RemoteAddr = ex.RemoteAddr()
	req.Headers = ex.Headers()
	req.Query = ex.Query()
	req.SetBodySource(ex.Body)
}

func (d *Dispatcher) writeError(ex Exchange, status int, message string) {
	body, _ := json.Marshal(map[string]string{"error": message})
	headers := map[string]string{"Content-Type": "application/json"}
	if err := ex.WriteResponse(status, headers, body); err != nil {
		d.log.Warn().Err(err).Int("status", status).Msg("error write-back failed")
	}
}

func (d *Dispatcher) observe(ex Exchange, status int, start time.Time) {
	if d.onRequest == nil {
		return
	}
	d.onRequest(ex.Method(), routeLabel(ex.Path()), status, time.Since(start))
}

// routeLabel trims a path to its first two segments to bound metric label
// cardinality.
func routeLabel(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	n := 0
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			n++
			if n == 2 {
				return path[:i]
			}
		}
	}
	return path
}

// Router exposes the route table, mainly for introspection.
func (d *Dispatcher) Router() *router.Router { return d.router }

// Scheduler exposes the worker pool for stats collection.
func (d *Dispatcher) Scheduler() *scheduler.Pool { return d.pool }

// ContextPool exposes the context pool for stats collection.
func (d *Dispatcher) ContextPool() *http.ContextPool { return d.contexts }

// Shutdown drains the scheduler gracefully and stops pool maintenance.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	err := d.pool.Shutdown(ctx)
	d.contexts.Close()
	return err
}

// ShutdownNow force-stops the scheduler, returning unexecuted tasks.
func (d *Dispatcher) ShutdownNow() []*scheduler.Task {
	tasks := d.pool.ShutdownNow()
	d.contexts.Close()
	return tasks
}
