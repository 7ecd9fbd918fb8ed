package guard

import (
	"context"

	"github.com/redis/go-redis/v9"
	"request-throttle-service/domain"
)

// Hook guards every redis command and pipeline a client issues,
// accounted against a single category. Register it with AddHook on the
// client. Dials are passed through untouched, only commands are
// throttled.
type Hook struct {
	checker  Checker
	category domain.Category
}

func NewHook(checker Checker, category domain.Category) Hook {
	return Hook{
		checker:  checker,
		category: category,
	}
}

func (h Hook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h Hook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		decision, err := h.checker.Check(ctx, h.category, cmd.Name(), nil)
		if err != nil {
			return err
		}
		if !decision.Allowed() {
			err := RejectedError{Decision: decision}
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h Hook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		decision, err := h.checker.Check(ctx, h.category, "pipeline", map[string]any{
			"commands": len(cmds),
		})
		if err != nil {
			return err
		}
		if !decision.Allowed() {
			err := RejectedError{Decision: decision}
			for _, cmd := range cmds {
				cmd.SetErr(err)
			}
			return err
		}
		return next(ctx, cmds)
	}
}
