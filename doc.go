// Package blyfast is a high-throughput HTTP request-processing framework
// built around four pieces: a frozen route table matched lock-free, a
// short-circuiting middleware chain, an adaptive worker-pool scheduler with
// an optional circuit breaker, and pooled per-request contexts.
//
// Typical use goes through the app package:
//
//	a, err := app.New(config.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//	a.GET("/users/:id", func(ctx *http.Context) error {
//		return ctx.JSON(200, map[string]string{"id": ctx.Param("id")})
//	})
//	if err := a.Run(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// The core package can also be embedded directly behind a custom transport
// by implementing core.Exchange.
package blyfast
