package middleware

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blyfast/blyfast/core/http"
)

// Common middleware implementations. Plugins integrate through the same
// Middleware contract and never reach into router or scheduler internals.

// RequestIDHeader is the header carrying the per-request identifier.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request a UUID, stored as an attribute and echoed
// as a response header. An inbound ID from the client is preserved.
func RequestID() Middleware {
	return func(ctx *http.Context) (Result, error) {
		id := ctx.Header(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ctx.Set("request_id", id)
		ctx.Response().SetHeader(RequestIDHeader, id)
		return Continue, nil
	}
}

// Logger emits one structured event per request as it enters the chain.
func Logger(log zerolog.Logger) Middleware {
	return func(ctx *http.Context) (Result, error) {
		log.Info().
			Str("method", ctx.Method()).
			Str("path", ctx.Path()).
			Str("remote", ctx.Request().RemoteAddr).
			Str("request_id", ctx.GetString("request_id")).
			Msg("request")
		return Continue, nil
	}
}

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	AllowOrigin  string
	AllowMethods string
	AllowHeaders string
}

// DefaultCORSConfig allows everything; tighten per deployment.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigin:  "*",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
		AllowHeaders: "Content-Type, Authorization",
	}
}

// CORS sets cross-origin headers and short-circuits preflight requests with
// a finalized 204, exercising the HaltHandled path.
func CORS(cfg CORSConfig) Middleware {
	return func(ctx *http.Context) (Result, error) {
		resp := ctx.Response()
		resp.SetHeader("Access-Control-Allow-Origin", cfg.AllowOrigin)
		resp.SetHeader("Access-Control-Allow-Methods", cfg.AllowMethods)
		resp.SetHeader("Access-Control-Allow-Headers", cfg.AllowHeaders)

		if ctx.Method() == "OPTIONS" {
			if err := resp.Bytes(204, "text/plain", nil); err != nil {
				return HaltUnhandled, err
			}
			return HaltHandled, nil
		}
		return Continue, nil
	}
}

// bucket is a per-client token bucket. Each bucket has its own lock so
// unrelated clients never serialize on shared state.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimit enforces a per-client requests-per-second limit keyed on the
// remote address. Over-limit requests are finalized with 429.
func RateLimit(perSecond float64, burst float64) Middleware {
	var buckets sync.Map // remote addr -> *bucket

	if burst < 1 {
		burst = 1
	}

	return func(ctx *http.Context) (Result, error) {
		key := ctx.Request().RemoteAddr

		v, _ := buckets.LoadOrStore(key, &bucket{tokens: burst, lastRefill: time.Now()})
		b := v.(*bucket)

		b.mu.Lock()
		now := time.Now()
		b.tokens += now.Sub(b.lastRefill).Seconds() * perSecond
		if b.tokens > burst {
			b.tokens = burst
		}
		b.lastRefill = now

		allowed := b.tokens >= 1
		if allowed {
			b.tokens--
		}
		b.mu.Unlock()

		if allowed {
			return Continue, nil
		}
		if err := ctx.Error(429, "Too Many Requests"); err != nil {
			return HaltUnhandled, err
		}
		return HaltHandled, nil
	}
}
