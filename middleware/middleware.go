// Package middleware provides request-handler decorators for the correlation
// engine. Install them with engine.Handler.Use or manager.Manager.Use.
package middleware

import "github.com/insthync/reqres/engine"

// Chain composes middlewares into one. The first argument runs outermost.
func Chain(middlewares ...engine.Middleware) engine.Middleware {
	return func(next engine.RequestHandlerFunc) engine.RequestHandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
