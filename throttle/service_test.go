package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/txix-open/isp-kit/test"
	"request-throttle-service/conf"
	"request-throttle-service/domain"
)

type manualClock struct {
	lock sync.Mutex
	at   time.Time
}

func newManualClock() *manualClock {
	return &manualClock{
		at: time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC),
	}
}

func (c *manualClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.at
}

func (c *manualClock) Advance(delta time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.at = c.at.Add(delta)
}

func testConfig() conf.Throttle {
	return conf.Throttle{
		Categories: []conf.CategoryLimit{{
			Category:         "authentication",
			BurstLimit:       3,
			BurstWindowInSec: 10,
			RateLimit:        100,
			RateWindowInSec:  60,
		}, {
			Category:         "bulk-read",
			BurstLimit:       100,
			BurstWindowInSec: 10,
			RateLimit:        10,
			RateWindowInSec:  60,
		}},
		BreakerCooldownInSec: 300,
		SweepIntervalInSec:   3600,
	}
}

func newTestService(t *testing.T, config conf.Throttle) (*Service, *require.Assertions, *manualClock) {
	tst, require := test.New(t)
	service, err := New(tst.Logger(), config)
	require.NoError(err)
	t.Cleanup(func() {
		require.NoError(service.Close())
	})

	clock := newManualClock()
	service.now = clock.Now

	return service, require, clock
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	tst, require := test.New(t)

	badConfigs := []conf.Throttle{
		{},
		{Categories: []conf.CategoryLimit{
			{Category: "no-such-category", BurstLimit: 1, RateLimit: 1},
		}},
		{Categories: []conf.CategoryLimit{
			{Category: "authentication", BurstLimit: 0, RateLimit: 10},
		}},
		{Categories: []conf.CategoryLimit{
			{Category: "authentication", BurstLimit: 5, RateLimit: -1},
		}},
		{Categories: []conf.CategoryLimit{
			{Category: "authentication", BurstLimit: 5, RateLimit: 10},
			{Category: "authentication", BurstLimit: 5, RateLimit: 10},
		}},
	}
	for _, config := range badConfigs {
		service, err := New(tst.Logger(), config)
		require.Error(err)
		require.Nil(service)
	}
}

func TestCheckEvictsExpiredEntries(t *testing.T) {
	t.Parallel()
	service, require, clock := newTestService(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
		require.NoError(err)
		clock.Advance(20 * time.Second)
	}

	_, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)

	stamps := service.ledgers[domain.CategoryBulkRead].stamps
	now := clock.Now()
	for i, stamp := range stamps {
		require.LessOrEqual(now.Sub(stamp), time.Minute)
		if i > 0 {
			require.False(stamp.Before(stamps[i-1]))
		}
	}
	require.Len(stamps, 4)
}

func TestBurstLimitPrecedence(t *testing.T) {
	t.Parallel()
	service, require, _ := newTestService(t, testConfig())
	ctx := context.Background()

	verdicts := []domain.Verdict{
		domain.VerdictAllowed,
		domain.VerdictAllowed,
		domain.VerdictAllowedWithWarning,
	}
	for _, expected := range verdicts {
		decision, err := service.Check(ctx, domain.CategoryAuthentication, "sign-in", nil)
		require.NoError(err)
		require.Equal(expected, decision.Verdict)
	}

	decision, err := service.Check(ctx, domain.CategoryAuthentication, "sign-in", nil)
	require.NoError(err)
	require.Equal(domain.VerdictDenied, decision.Verdict)
	require.Equal(domain.ReasonBurstLimitExceeded, decision.Reason)
	require.Equal(3, decision.Count)
	require.Equal(3, decision.Limit)

	require.Equal(3, service.ledgers[domain.CategoryAuthentication].len())
	require.Equal(domain.BreakerClosed, service.breakers[domain.CategoryAuthentication].state)
}

func TestBurstDenialLiftsWhenWindowSlides(t *testing.T) {
	t.Parallel()
	service, require, clock := newTestService(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := service.Check(ctx, domain.CategoryAuthentication, "sign-in", nil)
		require.NoError(err)
	}
	decision, err := service.Check(ctx, domain.CategoryAuthentication, "sign-in", nil)
	require.NoError(err)
	require.Equal(domain.ReasonBurstLimitExceeded, decision.Reason)

	clock.Advance(11 * time.Second)

	decision, err = service.Check(ctx, domain.CategoryAuthentication, "sign-in", nil)
	require.NoError(err)
	require.True(decision.Allowed())
}

func TestWarningThreshold(t *testing.T) {
	t.Parallel()
	service, require, clock := newTestService(t, testConfig())
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		decision, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
		require.NoError(err)
		if i < 8 {
			require.Equal(domain.VerdictAllowed, decision.Verdict, "request %d", i)
			require.Equal(domain.ReasonWithinLimits, decision.Reason)
		} else {
			require.Equal(domain.VerdictAllowedWithWarning, decision.Verdict, "request %d", i)
			require.Equal(domain.ReasonApproachingRateLimit, decision.Reason)
		}
		require.Equal(i, decision.Count)
		require.Equal(10, decision.Limit)
		clock.Advance(100 * time.Millisecond)
	}
}

func TestBreakerTripAndCooldown(t *testing.T) {
	t.Parallel()
	service, require, clock := newTestService(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		decision, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
		require.NoError(err)
		require.True(decision.Allowed())
	}

	decision, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)
	require.Equal(domain.VerdictDenied, decision.Verdict)
	require.Equal(domain.ReasonRateLimitExceeded, decision.Reason)
	require.Equal(10, decision.Count)

	decision, err = service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)
	require.Equal(domain.VerdictDenied, decision.Verdict)
	require.Equal(domain.ReasonCircuitBreakerOpen, decision.Reason)
	require.Equal(10, service.ledgers[domain.CategoryBulkRead].len())

	clock.Advance(4 * time.Minute)
	decision, err = service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)
	require.Equal(domain.ReasonCircuitBreakerOpen, decision.Reason)

	clock.Advance(time.Minute)
	require.Equal(domain.BreakerHalfOpen, service.Stats().Categories[domain.CategoryBulkRead].BreakerState)

	decision, err = service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)
	require.Equal(domain.VerdictAllowed, decision.Verdict)
	require.Equal(domain.BreakerClosed, service.breakers[domain.CategoryBulkRead].state)
}

func TestBreakerRetripWhileHalfOpen(t *testing.T) {
	t.Parallel()
	config := conf.Throttle{
		Categories: []conf.CategoryLimit{{
			Category:         "bulk-write",
			BurstLimit:       100,
			BurstWindowInSec: 10,
			RateLimit:        5,
			RateWindowInSec:  60,
		}},
		BreakerCooldownInSec: 10,
		SweepIntervalInSec:   3600,
	}
	service, require, clock := newTestService(t, config)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := service.Check(ctx, domain.CategoryBulkWrite, "upload", nil)
		require.NoError(err)
	}
	decision, err := service.Check(ctx, domain.CategoryBulkWrite, "upload", nil)
	require.NoError(err)
	require.Equal(domain.ReasonRateLimitExceeded, decision.Reason)

	// cooldown elapses but the ledger is still full, so the probationary
	// request violates the rate limit again and re-arms a fresh cooldown
	clock.Advance(10 * time.Second)
	decision, err = service.Check(ctx, domain.CategoryBulkWrite, "upload", nil)
	require.NoError(err)
	require.Equal(domain.ReasonRateLimitExceeded, decision.Reason)

	clock.Advance(9 * time.Second)
	decision, err = service.Check(ctx, domain.CategoryBulkWrite, "upload", nil)
	require.NoError(err)
	require.Equal(domain.ReasonCircuitBreakerOpen, decision.Reason)
}

func TestResetCircuitBreaker(t *testing.T) {
	t.Parallel()
	service, require, clock := newTestService(t, testConfig())
	ctx := context.Background()

	listener := &recordingListener{}
	service.Subscribe(listener)

	for i := 0; i < 11; i++ {
		_, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
		require.NoError(err)
	}

	clock.Advance(61 * time.Second)
	decision, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)
	require.Equal(domain.ReasonCircuitBreakerOpen, decision.Reason)

	err = service.ResetCircuitBreaker(ctx, domain.CategoryBulkRead)
	require.NoError(err)

	last := listener.decisions[len(listener.decisions)-1]
	require.Equal(domain.VerdictConfigChanged, last.Verdict)
	require.Equal(domain.ReasonCircuitBreakerReset, last.Reason)
	require.Equal("open", last.Details["previousState"])

	decision, err = service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)
	require.Equal(domain.VerdictAllowed, decision.Verdict)
	require.Equal(domain.ReasonWithinLimits, decision.Reason)
}

func TestUpdateRateLimit(t *testing.T) {
	t.Parallel()
	service, require, _ := newTestService(t, testConfig())
	ctx := context.Background()

	listener := &recordingListener{}
	service.Subscribe(listener)

	for i := 0; i < 3; i++ {
		_, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
		require.NoError(err)
	}

	err := service.UpdateRateLimit(ctx, domain.CategoryBulkRead, 3)
	require.NoError(err)

	last := listener.decisions[len(listener.decisions)-1]
	require.Equal(domain.VerdictConfigChanged, last.Verdict)
	require.Equal(domain.ReasonRateLimitUpdated, last.Reason)
	require.Equal(10, last.Details["oldLimit"])
	require.Equal(3, last.Details["newLimit"])

	decision, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)
	require.Equal(domain.VerdictDenied, decision.Verdict)
	require.Equal(domain.ReasonRateLimitExceeded, decision.Reason)
	require.Equal(3, decision.Limit)

	err = service.UpdateRateLimit(ctx, domain.CategoryBulkRead, 0)
	require.ErrorIs(err, domain.ErrInvalidLimit)
	err = service.UpdateRateLimit(ctx, domain.CategoryTelemetry, 10)
	require.ErrorIs(err, domain.ErrUnknownCategory)
}

func TestClearHistory(t *testing.T) {
	t.Parallel()
	service, require, _ := newTestService(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
		require.NoError(err)
	}
	_, err := service.Check(ctx, domain.CategoryAuthentication, "sign-in", nil)
	require.NoError(err)
	require.Equal(domain.BreakerOpen, service.breakers[domain.CategoryBulkRead].state)

	listener := &recordingListener{}
	service.Subscribe(listener)

	err = service.ClearHistory(ctx)
	require.NoError(err)

	require.Len(listener.decisions, 2)
	require.Equal(domain.CategoryAuthentication, listener.decisions[0].Category)
	require.Equal(domain.CategoryBulkRead, listener.decisions[1].Category)
	for _, decision := range listener.decisions {
		require.Equal(domain.VerdictConfigChanged, decision.Verdict)
		require.Equal(domain.ReasonHistoryCleared, decision.Reason)
	}
	require.Equal(1, listener.decisions[0].Details["dropped"])
	require.Equal(10, listener.decisions[1].Details["dropped"])

	require.Equal(0, service.ledgers[domain.CategoryBulkRead].len())
	require.Equal(domain.BreakerClosed, service.breakers[domain.CategoryBulkRead].state)

	decision, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)
	require.Equal(domain.VerdictAllowed, decision.Verdict)
}

func TestStatsMatchesLedgerRecount(t *testing.T) {
	t.Parallel()
	service, require, clock := newTestService(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
		require.NoError(err)
		clock.Advance(7 * time.Second)
	}
	_, err := service.Check(ctx, domain.CategoryAuthentication, "sign-in", nil)
	require.NoError(err)

	snapshot := service.Stats()
	require.Equal(clock.Now(), snapshot.TakenAt)
	require.Len(snapshot.Categories, 2)

	now := clock.Now()
	for category, stats := range snapshot.Categories {
		limit := service.limits[category]
		burstCount := 0
		rateCount := 0
		for _, stamp := range service.ledgers[category].stamps {
			if now.Sub(stamp) <= limit.burstWindow {
				burstCount++
			}
			if now.Sub(stamp) <= limit.rateWindow {
				rateCount++
			}
		}
		require.Equal(burstCount, stats.BurstCount)
		require.Equal(limit.burstLimit, stats.BurstLimit)
		require.Equal(float64(burstCount)/float64(limit.burstLimit)*100, stats.BurstUtilization)
		require.Equal(rateCount, stats.RateCount)
		require.Equal(limit.rateLimit, stats.RateLimit)
		require.Equal(float64(rateCount)/float64(limit.rateLimit)*100, stats.RateUtilization)
		require.Equal(domain.BreakerClosed, stats.BreakerState)
	}
}

func TestSubscribeThroughServiceIsIdempotent(t *testing.T) {
	t.Parallel()
	service, require, _ := newTestService(t, testConfig())
	ctx := context.Background()

	listener := &recordingListener{}
	service.Subscribe(listener)
	service.Subscribe(listener)

	_, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)
	require.Len(listener.decisions, 1)

	service.Unsubscribe(listener)
	_, err = service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)
	require.Len(listener.decisions, 1)
}

func TestListenerMayReadStats(t *testing.T) {
	t.Parallel()
	service, require, _ := newTestService(t, testConfig())
	ctx := context.Background()

	listener := &statsReadingListener{service: service}
	service.Subscribe(listener)

	decision, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
	require.NoError(err)
	require.True(decision.Allowed())
	require.Len(listener.snapshots, 1)
	require.Equal(1, listener.snapshots[0].Categories[domain.CategoryBulkRead].RateCount)
}

type statsReadingListener struct {
	service   *Service
	snapshots []domain.StatsSnapshot
}

func (l *statsReadingListener) Notify(context.Context, domain.Decision) {
	l.snapshots = append(l.snapshots, l.service.Stats())
}

func TestUnknownCategory(t *testing.T) {
	t.Parallel()
	service, require, _ := newTestService(t, testConfig())
	ctx := context.Background()

	_, err := service.Check(ctx, domain.CategoryStorage, "download", nil)
	require.ErrorIs(err, domain.ErrUnknownCategory)

	err = service.ResetCircuitBreaker(ctx, "nonsense")
	require.ErrorIs(err, domain.ErrUnknownCategory)
}

func TestCheckPassesOperationAndDetailsThrough(t *testing.T) {
	t.Parallel()
	service, require, _ := newTestService(t, testConfig())
	ctx := context.Background()

	decision, err := service.Check(ctx, domain.CategoryBulkRead, "list-profiles", map[string]any{
		"collection": "profiles",
	})
	require.NoError(err)
	require.NotEmpty(decision.Id)
	require.Equal("list-profiles", decision.Operation)
	require.Equal("profiles", decision.Details["collection"])
}

func TestClosedServiceRejectsCalls(t *testing.T) {
	t.Parallel()
	tst, require := test.New(t)
	service, err := New(tst.Logger(), testConfig())
	require.NoError(err)

	require.NoError(service.Close())
	require.NoError(service.Close())

	_, err = service.Check(context.Background(), domain.CategoryBulkRead, "list", nil)
	require.ErrorIs(err, domain.ErrThrottleClosed)
	err = service.UpdateRateLimit(context.Background(), domain.CategoryBulkRead, 5)
	require.ErrorIs(err, domain.ErrThrottleClosed)
	err = service.ResetCircuitBreaker(context.Background(), domain.CategoryBulkRead)
	require.ErrorIs(err, domain.ErrThrottleClosed)
	err = service.ClearHistory(context.Background())
	require.ErrorIs(err, domain.ErrThrottleClosed)
}

func TestConcurrentChecks(t *testing.T) {
	t.Parallel()
	service, require, _ := newTestService(t, testConfig())
	ctx := context.Background()

	wg := sync.WaitGroup{}
	allowed := make([]int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				decision, err := service.Check(ctx, domain.CategoryBulkRead, "list", nil)
				if err == nil && decision.Allowed() {
					allowed[worker]++
				}
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, count := range allowed {
		total += count
	}
	require.Equal(10, total)
	require.Equal(10, service.ledgers[domain.CategoryBulkRead].len())
}
