package throttle

import (
	"time"
)

// ledger keeps the timestamps of accepted calls for one category, oldest
// first. Appends happen in non-decreasing time order, so eviction is a
// plain head trim.
type ledger struct {
	stamps []time.Time
}

func (l *ledger) append(at time.Time) {
	l.stamps = append(l.stamps, at)
}

func (l *ledger) len() int {
	return len(l.stamps)
}

// evict drops entries strictly older than window relative to now and
// reports how many were dropped. An entry exactly on the boundary stays.
func (l *ledger) evict(now time.Time, window time.Duration) int {
	idx := 0
	for idx < len(l.stamps) && now.Sub(l.stamps[idx]) > window {
		idx++
	}
	if idx > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[idx:]...)
	}
	return idx
}

// countWithin counts entries no older than window relative to now without
// modifying the ledger.
func (l *ledger) countWithin(now time.Time, window time.Duration) int {
	count := 0
	for i := len(l.stamps) - 1; i >= 0; i-- {
		if now.Sub(l.stamps[i]) > window {
			break
		}
		count++
	}
	return count
}

func (l *ledger) clear() int {
	dropped := len(l.stamps)
	l.stamps = nil
	return dropped
}
