package guard

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"request-throttle-service/domain"
)

type Checker interface {
	Check(ctx context.Context, category domain.Category, operation string, details map[string]any) (domain.Decision, error)
}

// RejectedError is returned instead of performing the guarded call when
// the throttle denies it. The full decision is attached so callers can
// inspect the reason and the observed count against the limit.
type RejectedError struct {
	Decision domain.Decision
}

func (e RejectedError) Error() string {
	return fmt.Sprintf(
		"request rejected: category '%s', reason '%s', count %d, limit %d",
		e.Decision.Category, e.Decision.Reason, e.Decision.Count, e.Decision.Limit,
	)
}

// Guard runs callables under throttle protection. The callable is only
// invoked when the check allows it; a denial comes back as RejectedError
// without the callable ever running.
type Guard struct {
	checker Checker
}

func New(checker Checker) Guard {
	return Guard{
		checker: checker,
	}
}

func (g Guard) Do(
	ctx context.Context,
	category domain.Category,
	operation string,
	fn func(ctx context.Context) error,
) error {
	decision, err := g.checker.Check(ctx, category, operation, nil)
	if err != nil {
		return errors.WithMessage(err, "check request")
	}
	if !decision.Allowed() {
		return RejectedError{Decision: decision}
	}
	return fn(ctx)
}
