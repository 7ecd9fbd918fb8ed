package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/txix-open/isp-kit/log"
	"request-throttle-service/assembly"
	"request-throttle-service/conf"
	"request-throttle-service/domain"
)

const (
	workers         = 8
	checksPerWorker = 200000
	benchRateLimit  = 100000000
	benchBurstLimit = 100000000
)

//nolint
func main() {
	logger, err := log.New(log.WithLevel(log.ErrorLevel))
	if err != nil {
		panic(err)
	}

	config := conf.Remote{
		Throttle: conf.Throttle{
			Categories: []conf.CategoryLimit{{
				Category:   domain.CategoryBulkRead.String(),
				BurstLimit: benchBurstLimit,
				RateLimit:  benchRateLimit,
			}},
		},
		Server:  conf.Server{BindAddress: "127.0.0.1:0"},
		Logging: conf.Logging{LogLevel: log.ErrorLevel},
	}

	components, err := assembly.NewLocator(logger).Components(config, nil)
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	started := time.Now()
	wg := sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < checksPerWorker; i++ {
				_, err := components.Throttle.Check(ctx, domain.CategoryBulkRead, "bench", nil)
				if err != nil {
					panic(err)
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(started)

	total := workers * checksPerWorker
	stats := components.Throttle.Stats()
	fmt.Printf("checks:     %d\n", total)
	fmt.Printf("elapsed:    %s\n", elapsed)
	fmt.Printf("per check:  %s\n", elapsed/time.Duration(total))
	fmt.Printf("rate count: %d\n", stats.Categories[domain.CategoryBulkRead].RateCount)

	_ = components.Stream.Close()
	_ = components.Throttle.Close()
}
