package middleware

import (
	"errors"
	"fmt"

	"github.com/insthync/reqres/engine"
	"go.uber.org/zap"
)

var ErrPanic = errors.New("middleware: handler panicked")

// Recover turns a handler panic into an error, which makes the engine answer
// with InternalError instead of crashing the process.
func Recover(log *zap.Logger) engine.Middleware {
	return func(next engine.RequestHandlerFunc) engine.RequestHandlerFunc {
		return func(ctx *engine.RequestContext, respond engine.Responder) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("request handler panicked",
						zap.Uint16("type", ctx.Type), zap.Uint32("id", ctx.RequestID), zap.Any("panic", r), zap.StackSkip("stack", 1))
					err = fmt.Errorf("%w: %v", ErrPanic, r)
				}
			}()
			return next(ctx, respond)
		}
	}
}
