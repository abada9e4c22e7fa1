package http

import (
	"time"

	"github.com/blyfast/blyfast/core/pools"
)

// Handle is a generation-tagged reference to a pooled Context. After the
// Context is released, Value fails closed instead of aliasing the next
// request's state.
type Handle struct {
	ctx *Context
	gen uint64
}

// Value returns the Context if the handle is still live.
func (h Handle) Value() (*Context, bool) {
	if h.ctx == nil || h.ctx.gen.Load() != h.gen {
		return nil, false
	}
	return h.ctx, true
}

// ContextPoolConfig configures the context pool.
type ContextPoolConfig struct {
	WarmupSize       int
	TargetHitRate    float64
	AutoOptimize     bool
	OptimizeInterval time.Duration
}

// ContextPool hands out pooled Context instances. Each Context owns its
// Request and Response for life; the triple is recycled together.
type ContextPool struct {
	contexts *pools.SmartPool
	buffers  *pools.BufferPool
}

// NewContextPool creates a warmed context pool.
func NewContextPool(cfg ContextPoolConfig) *ContextPool {
	buffers := pools.NewBufferPool()

	p := &ContextPool{buffers: buffers}
	p.contexts = pools.NewSmartPool(pools.SmartPoolConfig{
		New: func() any {
			return &Context{
				request:  &Request{},
				response: &Response{buffers: buffers},
			}
		},
		Reset: func(obj any) {
			obj.(*Context).reset()
		},
		WarmupSize:    cfg.WarmupSize,
		TargetHitRate: cfg.TargetHitRate,
	})

	if cfg.AutoOptimize {
		interval := cfg.OptimizeInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		p.contexts.StartAutoOptimize(interval)
	}

	return p
}

// Acquire takes a Context from the pool and returns it with a live handle.
func (p *ContextPool) Acquire() (*Context, Handle) {
	ctx := p.contexts.Get().(*Context)
	return ctx, Handle{ctx: ctx, gen: ctx.gen.Load()}
}

// Release invalidates outstanding handles and returns the Context to the
// pool. Must run on every exit path, including error paths.
func (p *ContextPool) Release(ctx *Context) {
	if ctx == nil {
		return
	}
	ctx.gen.Add(1)
	p.contexts.Put(ctx)
}

// Stats returns pool statistics.
func (p *ContextPool) Stats() pools.SmartPoolStats {
	return p.contexts.Stats()
}

// BufferStats returns statistics for the response buffer tiers.
func (p *ContextPool) BufferStats() pools.BufferStats {
	return p.buffers.Stats()
}

// Close stops background optimization.
func (p *ContextPool) Close() {
	p.contexts.StopAutoOptimize()
}
