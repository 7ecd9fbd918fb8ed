package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/txix-open/isp-kit/log"
	"golang.org/x/time/rate"
	"request-throttle-service/conf"
	"request-throttle-service/domain"
)

const minuteBucketLayout = "200601021504"

// Listener keeps an aggregated decision journal in redis: cumulative
// per-category verdict counters, per-minute buckets with a TTL and a
// capped stream of denials for incident forensics. The journal is best
// effort. A failed write is logged and dropped, it never influences the
// verdict and never fails the caller.
type Listener struct {
	cli          redis.UniversalClient
	logger       log.Logger
	faultLog     *rate.Limiter
	keyPrefix    string
	ttl          time.Duration
	streamMaxLen int64
}

func NewListener(cli redis.UniversalClient, logger log.Logger, config conf.Journal) *Listener {
	return &Listener{
		cli:          cli,
		logger:       logger,
		faultLog:     rate.NewLimiter(rate.Every(5*time.Second), 1),
		keyPrefix:    config.GetKeyPrefix(),
		ttl:          config.GetTtl(),
		streamMaxLen: config.GetStreamMaxLen(),
	}
}

func (l *Listener) Notify(ctx context.Context, decision domain.Decision) {
	err := l.record(ctx, decision)
	if err != nil && l.faultLog.Allow() {
		l.logger.Error(ctx, "journal: record decision",
			log.String("error", err.Error()),
			log.String("category", decision.Category.String()),
		)
	}
}

func (l *Listener) record(ctx context.Context, decision domain.Decision) error {
	verdict := string(decision.Verdict)

	pipe := l.cli.Pipeline()
	pipe.HIncrBy(ctx, l.totalKey(decision.Category), verdict, 1)

	bucketKey := l.minuteKey(decision.At)
	pipe.HIncrBy(ctx, bucketKey, fmt.Sprintf("%s:%s", decision.Category, verdict), 1)
	pipe.Expire(ctx, bucketKey, l.ttl)

	if decision.Verdict == domain.VerdictDenied {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: l.denialsKey(),
			MaxLen: l.streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"decisionId": decision.Id,
				"category":   decision.Category.String(),
				"reason":     string(decision.Reason),
				"count":      decision.Count,
				"limit":      decision.Limit,
				"operation":  decision.Operation,
				"at":         decision.At.UTC().Format(time.RFC3339Nano),
			},
		})
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return errors.WithMessage(err, "pipeline exec")
	}
	return nil
}

func (l *Listener) totalKey(category domain.Category) string {
	return fmt.Sprintf("%s:total:%s", l.keyPrefix, category)
}

func (l *Listener) minuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", l.keyPrefix, at.UTC().Format(minuteBucketLayout))
}

func (l *Listener) denialsKey() string {
	return fmt.Sprintf("%s:denials", l.keyPrefix)
}
