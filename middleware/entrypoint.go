package middleware

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/log"
	"request-throttle-service/request"
)

const maxRequestBodySize = 1 << 20

// Entrypoint adapts a handler to net/http, wrapping it with the given
// middlewares, the first one outermost. An error escaping the chain is
// logged and otherwise dropped.
func Entrypoint(handler Handler, logger log.Logger, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return http.HandlerFunc(func(writer http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(writer, req.Body, maxRequestBodySize)
		ctx := request.NewContext(req, writer, req.URL.Path)
		err := handler.Handle(ctx)
		if err != nil {
			logger.Error(req.Context(), errors.WithMessage(err, "uncaught error"))
		}
	})
}
