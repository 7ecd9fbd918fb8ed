package middleware

import (
	"net/http"

	"github.com/txix-open/isp-kit/log"
	"request-throttle-service/httperrors"
	"request-throttle-service/request"
)

type HttpError interface {
	WriteError(w http.ResponseWriter) error
	Status() int
}

// ErrorHandler renders handler errors as JSON envelopes. Client errors
// already carry their explanation in the response, so they are logged at
// debug level; everything else is an internal fault.
func ErrorHandler(logger log.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx *request.Context) error {
			err := next.Handle(ctx)
			if err == nil {
				return nil
			}

			httpErr, ok := err.(HttpError)
			if !ok {
				logger.Error(ctx.Context(), err)
				return httperrors.
					New(http.StatusInternalServerError, "internal service error", err).
					WriteError(ctx.ResponseWriter())
			}

			if httpErr.Status() >= http.StatusInternalServerError {
				logger.Error(ctx.Context(), err)
			} else {
				logger.Debug(ctx.Context(), err)
			}

			return httpErr.WriteError(ctx.ResponseWriter())
		})
	}
}
