package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/txix-open/isp-kit/log"
	"request-throttle-service/middleware"
)

// NewRouter assembles the administrative http api. The metrics endpoint
// serves the prometheus text format and bypasses the middleware chain,
// everything else goes through it.
func NewRouter(
	logger log.Logger,
	controller Controller,
	stream *Stream,
	metricsRegistry *prometheus.Registry,
) http.Handler {
	wrap := func(handler middleware.Handler) http.Handler {
		return middleware.Entrypoint(
			handler,
			logger,
			middleware.RequestId(),
			middleware.Logger(logger),
			middleware.ErrorHandler(logger),
		)
	}

	router := mux.NewRouter()
	router.Handle("/health", wrap(middleware.HandlerFunc(controller.Health))).
		Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})).
		Methods(http.MethodGet)
	router.Handle("/throttle/stats", wrap(middleware.HandlerFunc(controller.Stats))).
		Methods(http.MethodGet)
	router.Handle("/throttle/limits", wrap(middleware.HandlerFunc(controller.UpdateRateLimit))).
		Methods(http.MethodPost)
	router.Handle("/throttle/breaker/reset", wrap(middleware.HandlerFunc(controller.ResetCircuitBreaker))).
		Methods(http.MethodPost)
	router.Handle("/throttle/history/clear", wrap(middleware.HandlerFunc(controller.ClearHistory))).
		Methods(http.MethodPost)
	router.Handle("/throttle/events", wrap(stream)).
		Methods(http.MethodGet)

	return router
}
