package middleware

import (
	"github.com/insthync/reqres/engine"
	"github.com/insthync/reqres/message"
	"golang.org/x/time/rate"
)

// RateLimit admits requests through a token bucket of r tokens per second and
// the given burst. Rejected requests are answered with RateLimited and never
// reach the handler.
func RateLimit(r float64, burst int) engine.Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next engine.RequestHandlerFunc) engine.RequestHandlerFunc {
		return func(ctx *engine.RequestContext, respond engine.Responder) error {
			if !limiter.Allow() {
				respond(message.RateLimited, nil, nil)
				return nil
			}
			return next(ctx, respond)
		}
	}
}

// RateLimitPerSender keeps one token bucket per sending peer.
func RateLimitPerSender(r float64, burst int) engine.Middleware {
	limiters := newLimiterSet(r, burst)
	return func(next engine.RequestHandlerFunc) engine.RequestHandlerFunc {
		return func(ctx *engine.RequestContext, respond engine.Responder) error {
			if !limiters.get(ctx.Sender).Allow() {
				respond(message.RateLimited, nil, nil)
				return nil
			}
			return next(ctx, respond)
		}
	}
}
