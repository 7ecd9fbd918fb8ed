package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/txix-open/isp-kit/log"
	"golang.org/x/time/rate"
	"request-throttle-service/domain"
)

const (
	faultLogPeriod = 5 * time.Second
	faultLogBurst  = 3
)

// Listener receives every published decision. Implementations must be
// comparable values (pointers are fine): subscription identity is the
// listener value itself.
type Listener interface {
	Notify(ctx context.Context, decision domain.Decision)
}

// notifier fans decisions out to subscribers synchronously, in
// subscription order. A panicking listener is recovered and logged so it
// can neither crash the caller nor starve the remaining listeners; the
// fault logging itself is rate limited to survive a persistently broken
// listener.
type notifier struct {
	logger   log.Logger
	faultLog *rate.Limiter

	lock      sync.Mutex
	listeners []Listener
}

func newNotifier(logger log.Logger) *notifier {
	return &notifier{
		logger:   logger,
		faultLog: rate.NewLimiter(rate.Every(faultLogPeriod), faultLogBurst),
	}
}

func (n *notifier) subscribe(listener Listener) {
	if listener == nil {
		return
	}

	n.lock.Lock()
	defer n.lock.Unlock()

	for _, known := range n.listeners {
		if known == listener {
			return
		}
	}
	n.listeners = append(n.listeners, listener)
}

func (n *notifier) unsubscribe(listener Listener) {
	n.lock.Lock()
	defer n.lock.Unlock()

	for i, known := range n.listeners {
		if known == listener {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *notifier) publish(ctx context.Context, decision domain.Decision) {
	n.lock.Lock()
	snapshot := make([]Listener, len(n.listeners))
	copy(snapshot, n.listeners)
	n.lock.Unlock()

	for _, listener := range snapshot {
		n.notify(ctx, listener, decision)
	}
}

func (n *notifier) notify(ctx context.Context, listener Listener, decision domain.Decision) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if !n.faultLog.Allow() {
			return
		}
		n.logger.Error(ctx, "throttle: listener panicked",
			log.String("category", decision.Category.String()),
			log.String("verdict", string(decision.Verdict)),
			log.String("panic", fmt.Sprintf("%v", r)),
		)
	}()
	listener.Notify(ctx, decision)
}
