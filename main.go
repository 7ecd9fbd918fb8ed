package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/app"
	"github.com/txix-open/isp-kit/json"
	"github.com/txix-open/isp-kit/log"
	"request-throttle-service/assembly"
	"request-throttle-service/conf"
)

var (
	version = "1.0.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := log.New(log.WithLevel(log.InfoLevel))
	if err != nil {
		panic(err)
	}

	cfg, err := readConfig()
	if err != nil {
		logger.Fatal(ctx, errors.WithMessage(err, "read config"))
	}
	logger.SetLevel(cfg.Logging.LogLevel)

	asm, err := assembly.New(logger, cfg)
	if err != nil {
		logger.Fatal(ctx, errors.WithMessage(err, "assemble service"))
	}

	runners := asm.Runners()
	runnerErrors := make(chan error, len(runners))
	for _, runner := range runners {
		go func(runner app.Runner) {
			runnerErrors <- runner.Run(ctx)
		}(runner)
	}
	logger.Info(ctx, "service started", log.String("version", version))

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "starting shutdown")
	case err := <-runnerErrors:
		if err != nil {
			logger.Error(context.Background(), errors.WithMessage(err, "service failed"))
		}
	}

	for _, closer := range asm.Closers() {
		err := closer.Close()
		if err != nil {
			logger.Error(context.Background(), errors.WithMessage(err, "close component"))
		}
	}
	logger.Info(context.Background(), "shutdown completed")
}

func readConfig() (conf.Remote, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.json"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return conf.Remote{}, errors.WithMessagef(err, "read config file %s", path)
	}

	cfg := conf.Remote{}
	err = json.Unmarshal(data, &cfg)
	if err != nil {
		return conf.Remote{}, errors.WithMessagef(err, "unmarshal config file %s", path)
	}

	return cfg, nil
}
