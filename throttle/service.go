package throttle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/log"
	"request-throttle-service/conf"
	"request-throttle-service/domain"
)

const warnThresholdPercent = 80

const (
	OperationUpdateRateLimit     = "update_rate_limit"
	OperationResetCircuitBreaker = "reset_circuit_breaker"
	OperationClearHistory        = "clear_history"
)

type limitConfig struct {
	burstLimit  int
	burstWindow time.Duration
	rateLimit   int
	rateWindow  time.Duration
}

// Service decides whether outbound requests may proceed. Every category
// keeps its own request ledger, limits and circuit breaker; a single
// service instance is shared by all callers and is safe for concurrent
// use. The zero value is not usable, construct it with New.
type Service struct {
	logger   log.Logger
	notifier *notifier
	cooldown time.Duration

	lock     sync.RWMutex
	closed   bool
	limits   map[domain.Category]limitConfig
	ledgers  map[domain.Category]*ledger
	breakers map[domain.Category]*breaker

	stopSweep chan struct{}
	sweepDone chan struct{}

	now func() time.Time
}

func New(logger log.Logger, config conf.Throttle) (*Service, error) {
	if len(config.Categories) == 0 {
		return nil, errors.New("at least one category is required")
	}

	cooldown := config.GetBreakerCooldown()
	limits := make(map[domain.Category]limitConfig, len(config.Categories))
	ledgers := make(map[domain.Category]*ledger, len(config.Categories))
	breakers := make(map[domain.Category]*breaker, len(config.Categories))
	for _, limit := range config.Categories {
		category, err := domain.ParseCategory(limit.Category)
		if err != nil {
			return nil, err
		}
		_, duplicate := limits[category]
		if duplicate {
			return nil, errors.Errorf("category '%s' is configured twice", category)
		}
		if limit.BurstLimit <= 0 {
			return nil, errors.WithMessagef(domain.ErrInvalidLimit, "burst limit for '%s'", category)
		}
		if limit.RateLimit <= 0 {
			return nil, errors.WithMessagef(domain.ErrInvalidLimit, "rate limit for '%s'", category)
		}
		limits[category] = limitConfig{
			burstLimit:  limit.BurstLimit,
			burstWindow: limit.GetBurstWindow(),
			rateLimit:   limit.RateLimit,
			rateWindow:  limit.GetRateWindow(),
		}
		ledgers[category] = &ledger{}
		breakers[category] = newBreaker(cooldown)
	}

	service := &Service{
		logger:    logger,
		notifier:  newNotifier(logger),
		cooldown:  cooldown,
		limits:    limits,
		ledgers:   ledgers,
		breakers:  breakers,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
		now:       time.Now,
	}
	go service.sweepLoop(config.GetSweepInterval())

	return service, nil
}

// Check records an intent to perform a request in the given category and
// returns the verdict. A denied decision is a normal outcome, not an
// error; the error return covers misuse only (unknown category, closed
// service). Only rate limit violations trip the circuit breaker, a burst
// denial leaves both the ledger and the breaker untouched. The
// caller-supplied operation and details end up in the published decision
// untouched.
func (s *Service) Check(
	ctx context.Context,
	category domain.Category,
	operation string,
	details map[string]any,
) (domain.Decision, error) {
	s.lock.Lock()
	decision, err := s.check(category, operation, details)
	s.lock.Unlock()
	if err != nil {
		return domain.Decision{}, err
	}

	s.notifier.publish(ctx, decision)

	return decision, nil
}

func (s *Service) check(
	category domain.Category,
	operation string,
	details map[string]any,
) (domain.Decision, error) {
	if s.closed {
		return domain.Decision{}, domain.ErrThrottleClosed
	}
	limit, ok := s.limits[category]
	if !ok {
		return domain.Decision{}, errors.WithMessagef(domain.ErrUnknownCategory, "'%s'", category)
	}
	now := s.now()
	entries := s.ledgers[category]
	entries.evict(now, limit.rateWindow)

	decision := domain.Decision{
		Id:        uuid.NewString(),
		Category:  category,
		At:        now,
		Operation: operation,
		Details:   details,
	}

	state := s.breakers[category].actualize(now)
	if state == domain.BreakerOpen {
		decision.Verdict = domain.VerdictDenied
		decision.Reason = domain.ReasonCircuitBreakerOpen
		decision.Count = entries.countWithin(now, limit.rateWindow)
		decision.Limit = limit.rateLimit
		return decision, nil
	}

	burstCount := entries.countWithin(now, limit.burstWindow)
	if burstCount >= limit.burstLimit {
		decision.Verdict = domain.VerdictDenied
		decision.Reason = domain.ReasonBurstLimitExceeded
		decision.Count = burstCount
		decision.Limit = limit.burstLimit
		return decision, nil
	}

	rateCount := entries.countWithin(now, limit.rateWindow)
	if rateCount >= limit.rateLimit {
		s.breakers[category].trip(now)
		decision.Verdict = domain.VerdictDenied
		decision.Reason = domain.ReasonRateLimitExceeded
		decision.Count = rateCount
		decision.Limit = limit.rateLimit
		return decision, nil
	}

	entries.append(now)
	if state == domain.BreakerHalfOpen {
		s.breakers[category].onAccepted()
	}

	rateCount++
	burstCount++
	switch {
	case approaching(rateCount, limit.rateLimit):
		decision.Verdict = domain.VerdictAllowedWithWarning
		decision.Reason = domain.ReasonApproachingRateLimit
		decision.Count = rateCount
		decision.Limit = limit.rateLimit
	case approaching(burstCount, limit.burstLimit):
		decision.Verdict = domain.VerdictAllowedWithWarning
		decision.Reason = domain.ReasonApproachingBurstLimit
		decision.Count = burstCount
		decision.Limit = limit.burstLimit
	default:
		decision.Verdict = domain.VerdictAllowed
		decision.Reason = domain.ReasonWithinLimits
		decision.Count = rateCount
		decision.Limit = limit.rateLimit
	}

	return decision, nil
}

// UpdateRateLimit replaces the sliding window rate limit of a category at
// runtime. Recorded history is kept as is, so lowering the limit below
// the current count makes subsequent checks fail until the window slides
// past enough old entries.
func (s *Service) UpdateRateLimit(ctx context.Context, category domain.Category, newLimit int) error {
	if newLimit <= 0 {
		return errors.WithMessagef(domain.ErrInvalidLimit, "%d", newLimit)
	}

	s.lock.Lock()
	decision, err := s.updateRateLimit(category, newLimit)
	s.lock.Unlock()
	if err != nil {
		return err
	}

	s.notifier.publish(ctx, decision)

	return nil
}

func (s *Service) updateRateLimit(category domain.Category, newLimit int) (domain.Decision, error) {
	if s.closed {
		return domain.Decision{}, domain.ErrThrottleClosed
	}
	limit, ok := s.limits[category]
	if !ok {
		return domain.Decision{}, errors.WithMessagef(domain.ErrUnknownCategory, "'%s'", category)
	}
	now := s.now()
	oldLimit := limit.rateLimit
	limit.rateLimit = newLimit
	s.limits[category] = limit

	entries := s.ledgers[category]
	entries.evict(now, limit.rateWindow)

	return domain.Decision{
		Id:        uuid.NewString(),
		Category:  category,
		Verdict:   domain.VerdictConfigChanged,
		Reason:    domain.ReasonRateLimitUpdated,
		Count:     entries.countWithin(now, limit.rateWindow),
		Limit:     newLimit,
		At:        now,
		Operation: OperationUpdateRateLimit,
		Details: map[string]any{
			"oldLimit": oldLimit,
			"newLimit": newLimit,
		},
	}, nil
}

// ResetCircuitBreaker forces the breaker of a category back to closed no
// matter which state it is in. Request history is not touched.
func (s *Service) ResetCircuitBreaker(ctx context.Context, category domain.Category) error {
	s.lock.Lock()
	decision, err := s.resetCircuitBreaker(category)
	s.lock.Unlock()
	if err != nil {
		return err
	}

	s.notifier.publish(ctx, decision)

	return nil
}

func (s *Service) resetCircuitBreaker(category domain.Category) (domain.Decision, error) {
	if s.closed {
		return domain.Decision{}, domain.ErrThrottleClosed
	}
	limit, ok := s.limits[category]
	if !ok {
		return domain.Decision{}, errors.WithMessagef(domain.ErrUnknownCategory, "'%s'", category)
	}
	now := s.now()
	previous := s.breakers[category].actualize(now)
	s.breakers[category].reset()

	entries := s.ledgers[category]

	return domain.Decision{
		Id:        uuid.NewString(),
		Category:  category,
		Verdict:   domain.VerdictConfigChanged,
		Reason:    domain.ReasonCircuitBreakerReset,
		Count:     entries.countWithin(now, limit.rateWindow),
		Limit:     limit.rateLimit,
		At:        now,
		Operation: OperationResetCircuitBreaker,
		Details: map[string]any{
			"previousState": string(previous),
		},
	}, nil
}

// ClearHistory drops all recorded requests and resets the breaker of
// every category. One decision per category is published, in stable
// category order. Meant for test isolation and emergency recovery.
func (s *Service) ClearHistory(ctx context.Context) error {
	s.lock.Lock()
	decisions, err := s.clearHistory()
	s.lock.Unlock()
	if err != nil {
		return err
	}

	for _, decision := range decisions {
		s.notifier.publish(ctx, decision)
	}

	return nil
}

func (s *Service) clearHistory() ([]domain.Decision, error) {
	if s.closed {
		return nil, domain.ErrThrottleClosed
	}
	categories := make([]domain.Category, 0, len(s.ledgers))
	for category := range s.ledgers {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		return categories[i] < categories[j]
	})

	now := s.now()
	decisions := make([]domain.Decision, 0, len(categories))
	for _, category := range categories {
		dropped := s.ledgers[category].clear()
		s.breakers[category].reset()
		decisions = append(decisions, domain.Decision{
			Id:        uuid.NewString(),
			Category:  category,
			Verdict:   domain.VerdictConfigChanged,
			Reason:    domain.ReasonHistoryCleared,
			Count:     0,
			Limit:     s.limits[category].rateLimit,
			At:        now,
			Operation: OperationClearHistory,
			Details: map[string]any{
				"dropped": dropped,
			},
		})
	}

	return decisions, nil
}

// Stats reports the current utilization and breaker state of every
// category. It never mutates anything, expired entries still in the
// ledger are simply not counted and a cooled down breaker is reported
// half-open even though the transition is not applied yet.
func (s *Service) Stats() domain.StatsSnapshot {
	s.lock.RLock()
	defer s.lock.RUnlock()

	now := s.now()
	categories := make(map[domain.Category]domain.CategoryStats, len(s.limits))
	for category, limit := range s.limits {
		entries := s.ledgers[category]
		burstCount := entries.countWithin(now, limit.burstWindow)
		rateCount := entries.countWithin(now, limit.rateWindow)
		categories[category] = domain.CategoryStats{
			BurstCount:       burstCount,
			BurstLimit:       limit.burstLimit,
			BurstUtilization: float64(burstCount) / float64(limit.burstLimit) * 100,
			RateCount:        rateCount,
			RateLimit:        limit.rateLimit,
			RateUtilization:  float64(rateCount) / float64(limit.rateLimit) * 100,
			BreakerState:     s.breakers[category].effectiveState(now),
		}
	}

	return domain.StatsSnapshot{
		TakenAt:    now,
		Categories: categories,
	}
}

// Subscribe registers a listener for all future decisions. Subscribing
// the same listener twice keeps its original position and has no further
// effect.
func (s *Service) Subscribe(listener Listener) {
	s.notifier.subscribe(listener)
}

func (s *Service) Unsubscribe(listener Listener) {
	s.notifier.unsubscribe(listener)
}

// Close stops the background sweeper and makes all subsequent operations
// fail with ErrThrottleClosed. It is safe to call more than once.
func (s *Service) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	s.lock.Unlock()

	close(s.stopSweep)
	<-s.sweepDone

	return nil
}

func approaching(count int, limit int) bool {
	return count*100 >= limit*warnThresholdPercent
}
