// Package middleware implements the short-circuiting request filter chain
// that runs between route resolution and handler execution.
package middleware

import (
	"errors"
	"fmt"

	"github.com/blyfast/blyfast/core/http"
)

// Result tells the chain how to proceed after a middleware runs. The
// two-state continue/stop protocol hides whether a halting middleware
// actually produced a response, so the halt case is split in two.
type Result int

const (
	// Continue passes control to the next middleware or the handler.
	Continue Result = iota
	// HaltHandled stops the chain; the middleware has finalized the response.
	HaltHandled
	// HaltUnhandled stops the chain without a response; the dispatcher
	// must supply one.
	HaltUnhandled
)

// ErrUnhandledHalt reports a middleware that stopped the chain without
// finalizing the response. The dispatcher maps it to a server error.
var ErrUnhandledHalt = errors.New("middleware halted without sending a response")

// Middleware is a request filter. It may mutate the Context, short-circuit
// the chain via its Result, or fail with an error.
type Middleware func(ctx *http.Context) (Result, error)

// Chain holds the global middleware, executed before any route-local
// middleware in registration order.
type Chain struct {
	global []Middleware
}

// NewChain creates an empty middleware chain.
func NewChain() *Chain {
	return &Chain{global: make([]Middleware, 0, 8)}
}

// Use appends a global middleware.
func (c *Chain) Use(mw Middleware) *Chain {
	c.global = append(c.global, mw)
	return c
}

// Len returns the number of global middleware.
func (c *Chain) Len() int {
	return len(c.global)
}

// Run executes global middleware, then the route-local middleware, then the
// handler. Ordering is the only consistency mechanism between steps: every
// middleware mutates the one shared Context.
//
// A HaltHandled result ends the run cleanly. A middleware that claims
// HaltHandled without having finalized the response is treated as
// HaltUnhandled: the chain enforces the invariant instead of trusting
// convention.
func (c *Chain) Run(ctx *http.Context, local []Middleware, handler http.Handler) error {
	if err := c.runSlice(ctx, c.global); err != nil {
		return err
	}
	if ctx.ResponseSent() {
		return nil
	}
	if err := c.runSlice(ctx, local); err != nil {
		return err
	}
	if ctx.ResponseSent() {
		return nil
	}
	return handler(ctx)
}

func (c *Chain) runSlice(ctx *http.Context, mws []Middleware) error {
	for i, mw := range mws {
		res, err := mw(ctx)
		if err != nil {
			return fmt.Errorf("middleware %d: %w", i, err)
		}
		switch res {
		case Continue:
			if ctx.ResponseSent() {
				// Response finalized but the middleware asked to
				// continue; stop here, nothing further may write.
				return nil
			}
		case HaltHandled:
			if !ctx.ResponseSent() {
				return fmt.Errorf("middleware %d: %w", i, ErrUnhandledHalt)
			}
			return nil
		case HaltUnhandled:
			return fmt.Errorf("middleware %d: %w", i, ErrUnhandledHalt)
		default:
			return fmt.Errorf("middleware %d: unknown result %d", i, res)
		}
	}
	return nil
}
