package assembly

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/txix-open/isp-kit/log"
	"request-throttle-service/conf"
	"request-throttle-service/decisionlog"
	"request-throttle-service/journal"
	"request-throttle-service/metrics"
	"request-throttle-service/server"
	"request-throttle-service/throttle"
)

type Locator struct {
	logger log.Logger
}

func NewLocator(logger log.Logger) Locator {
	return Locator{
		logger: logger,
	}
}

type Components struct {
	Handler  http.Handler
	Throttle *throttle.Service
	Stream   *server.Stream
}

// Components builds the throttle, subscribes the configured listeners in a
// fixed order and assembles the http api on top of them.
func (l Locator) Components(config conf.Remote, redisCli redis.UniversalClient) (Components, error) {
	throttleService, err := throttle.New(l.logger, config.Throttle)
	if err != nil {
		return Components{}, errors.WithMessage(err, "new throttle service")
	}

	if config.Logging.DecisionsLog {
		throttleService.Subscribe(decisionlog.New(l.logger))
	}

	metricsRegistry := prometheus.NewRegistry()
	throttleService.Subscribe(metrics.NewListener(metricsRegistry, throttleService))

	if redisCli != nil && config.Journal != nil {
		throttleService.Subscribe(journal.NewListener(redisCli, l.logger, *config.Journal))
	}

	stream := server.NewStream(l.logger, throttleService)
	throttleService.Subscribe(stream)

	controller := server.NewController(throttleService)
	handler := server.NewRouter(l.logger, controller, stream, metricsRegistry)

	return Components{
		Handler:  handler,
		Throttle: throttleService,
		Stream:   stream,
	}, nil
}
