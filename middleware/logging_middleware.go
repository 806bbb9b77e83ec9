package middleware

import (
	"time"

	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/engine"
	"github.com/insthync/reqres/message"
	"go.uber.org/zap"
)

// Logging records every request once its response is sent, including replies
// that arrive after the handler returned.
func Logging(log *zap.Logger) engine.Middleware {
	return func(next engine.RequestHandlerFunc) engine.RequestHandlerFunc {
		return func(ctx *engine.RequestContext, respond engine.Responder) error {
			start := time.Now()
			fields := []zap.Field{
				zap.Uint16("type", ctx.Type),
				zap.Uint32("id", ctx.RequestID),
				zap.Stringer("from", ctx.Sender),
				zap.Bool("as_authority", ctx.AsAuthority),
			}
			err := next(ctx, func(code message.ResponseCode, resp codec.Packed, extra codec.ExtraEncoder) {
				log.Info("request handled", append(fields,
					zap.Stringer("code", code), zap.Duration("duration", time.Since(start)))...)
				respond(code, resp, extra)
			})
			if err != nil {
				log.Error("request failed", append(fields, zap.Error(err))...)
			}
			return err
		}
	}
}
