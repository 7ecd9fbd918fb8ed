package domain

import (
	"time"
)

type Verdict string

const (
	VerdictAllowed            Verdict = "allowed"
	VerdictAllowedWithWarning Verdict = "allowed_with_warning"
	VerdictDenied             Verdict = "denied"
	VerdictConfigChanged      Verdict = "config_changed"
)

type Reason string

const (
	ReasonWithinLimits          Reason = "within_limits"
	ReasonApproachingRateLimit  Reason = "approaching_rate_limit"
	ReasonApproachingBurstLimit Reason = "approaching_burst_limit"
	ReasonBurstLimitExceeded    Reason = "burst_limit_exceeded"
	ReasonRateLimitExceeded     Reason = "rate_limit_exceeded"
	ReasonCircuitBreakerOpen    Reason = "circuit_breaker_open"
	ReasonRateLimitUpdated      Reason = "rate_limit_updated"
	ReasonCircuitBreakerReset   Reason = "circuit_breaker_reset"
	ReasonHistoryCleared        Reason = "history_cleared"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Decision describes the outcome of a single throttle check or of a
// configuration change. It is created once and never mutated afterwards.
type Decision struct {
	Id        string
	Category  Category
	Verdict   Verdict
	Reason    Reason
	Count     int
	Limit     int
	At        time.Time
	Operation string
	Details   map[string]any
}

func (d Decision) Allowed() bool {
	return d.Verdict == VerdictAllowed || d.Verdict == VerdictAllowedWithWarning
}
