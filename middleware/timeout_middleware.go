package middleware

import (
	"time"

	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/engine"
	"github.com/insthync/reqres/message"
)

// Timeout answers with the Timeout code when the handler has not replied within
// d. A reply arriving later is discarded by the one-shot responder.
func Timeout(d time.Duration) engine.Middleware {
	return func(next engine.RequestHandlerFunc) engine.RequestHandlerFunc {
		return func(ctx *engine.RequestContext, respond engine.Responder) error {
			timer := time.AfterFunc(d, func() {
				respond(message.Timeout, nil, nil)
			})
			err := next(ctx, func(code message.ResponseCode, resp codec.Packed, extra codec.ExtraEncoder) {
				timer.Stop()
				respond(code, resp, extra)
			})
			if err != nil {
				timer.Stop()
			}
			return err
		}
	}
}
