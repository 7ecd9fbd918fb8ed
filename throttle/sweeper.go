package throttle

import (
	"context"
	"time"

	"github.com/txix-open/isp-kit/log"
)

// sweepLoop trims expired entries from every ledger at the configured
// interval. Check already evicts inline for the category it touches; the
// loop bounds memory for categories that went quiet.
func (s *Service) sweepLoop(interval time.Duration) {
	defer close(s.sweepDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) sweep() {
	now := s.now()
	dropped := 0

	s.lock.Lock()
	if !s.closed {
		for category, entries := range s.ledgers {
			dropped += entries.evict(now, s.limits[category].rateWindow)
		}
	}
	s.lock.Unlock()

	if dropped > 0 {
		s.logger.Debug(context.Background(),
			"throttle: evicted expired request history",
			log.Int("dropped", dropped),
		)
	}
}
