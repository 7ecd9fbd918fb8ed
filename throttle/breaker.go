package throttle

import (
	"time"

	"request-throttle-service/domain"
)

// breaker is the per-category circuit breaker. The open -> half-open
// transition is not timer-driven: it is derived from the trip instant on
// the next access, so a manual reset can never race a stale cooldown
// callback.
type breaker struct {
	state     domain.BreakerState
	trippedAt time.Time
	cooldown  time.Duration
}

func newBreaker(cooldown time.Duration) *breaker {
	return &breaker{
		state:    domain.BreakerClosed,
		cooldown: cooldown,
	}
}

// actualize applies the pending open -> half-open transition if the
// cooldown has elapsed and returns the resulting state.
func (b *breaker) actualize(now time.Time) domain.BreakerState {
	b.state = b.effectiveState(now)
	return b.state
}

// effectiveState is the read-only view used by stats.
func (b *breaker) effectiveState(now time.Time) domain.BreakerState {
	if b.state == domain.BreakerOpen && now.Sub(b.trippedAt) >= b.cooldown {
		return domain.BreakerHalfOpen
	}
	return b.state
}

// trip opens the breaker. Tripping while half-open re-arms a fresh
// cooldown.
func (b *breaker) trip(now time.Time) {
	b.state = domain.BreakerOpen
	b.trippedAt = now
}

// onAccepted closes the breaker after a clean probationary request.
func (b *breaker) onAccepted() {
	if b.state == domain.BreakerHalfOpen {
		b.state = domain.BreakerClosed
	}
}

func (b *breaker) reset() {
	b.state = domain.BreakerClosed
	b.trippedAt = time.Time{}
}
