package assembly

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/txix-open/isp-kit/app"
	"github.com/txix-open/isp-kit/http"
	"github.com/txix-open/isp-kit/log"
	"request-throttle-service/conf"
	"request-throttle-service/server"
	"request-throttle-service/throttle"
)

type Assembly struct {
	logger   log.Logger
	cfg      conf.Remote
	server   *http.Server
	redisCli redis.UniversalClient
	throttle *throttle.Service
	stream   *server.Stream
}

func New(logger log.Logger, cfg conf.Remote) (*Assembly, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, errors.WithMessage(err, "validate config")
	}

	var redisCli redis.UniversalClient
	if cfg.Journal != nil {
		redisCli = redisClient(*cfg.Journal)
	}

	locator := NewLocator(logger)
	components, err := locator.Components(cfg, redisCli)
	if err != nil {
		return nil, errors.WithMessage(err, "locate components")
	}

	srv := http.NewServer(logger)
	srv.Upgrade(components.Handler)

	return &Assembly{
		logger:   logger,
		cfg:      cfg,
		server:   srv,
		redisCli: redisCli,
		throttle: components.Throttle,
		stream:   components.Stream,
	}, nil
}

func (a *Assembly) Runners() []app.Runner {
	return []app.Runner{
		app.RunnerFunc(func(ctx context.Context) error {
			a.logger.Info(ctx, "listening", log.String("address", a.cfg.Server.BindAddress))
			return a.server.ListenAndServe(a.cfg.Server.BindAddress)
		}),
	}
}

func (a *Assembly) Closers() []app.Closer {
	return []app.Closer{
		app.CloserFunc(func() error {
			return a.server.Shutdown(context.Background())
		}),
		a.stream,
		a.throttle,
		app.CloserFunc(func() error {
			if a.redisCli != nil {
				return a.redisCli.Close()
			}
			return nil
		}),
	}
}

func redisClient(config conf.Journal) redis.UniversalClient {
	if config.Sentinel != nil {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       config.Sentinel.MasterName,
			SentinelAddrs:    config.Sentinel.Addresses,
			SentinelUsername: config.Sentinel.Username,
			SentinelPassword: config.Sentinel.Password,
			Username:         config.Username,
			Password:         config.Password,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Username: config.Username,
		Password: config.Password,
	})
}
