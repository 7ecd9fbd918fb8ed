package decisionlog

import (
	"context"
	"fmt"

	"github.com/txix-open/isp-kit/log"
	"request-throttle-service/domain"
)

// Listener mirrors every decision into the service log. Denials surface
// at error level, warnings at info level, the rest stays at debug so the
// steady allowed stream doesn't flood production logs.
type Listener struct {
	logger log.Logger
}

func New(logger log.Logger) *Listener {
	return &Listener{
		logger: logger,
	}
}

func (l *Listener) Notify(ctx context.Context, decision domain.Decision) {
	fields := []log.Field{
		log.String("decisionId", decision.Id),
		log.String("category", decision.Category.String()),
		log.String("verdict", string(decision.Verdict)),
		log.String("reason", string(decision.Reason)),
		log.Int("count", decision.Count),
		log.Int("limit", decision.Limit),
	}
	if decision.Operation != "" {
		fields = append(fields, log.String("operation", decision.Operation))
	}
	for key, value := range decision.Details {
		fields = append(fields, log.String(key, fmt.Sprintf("%v", value)))
	}

	switch decision.Verdict {
	case domain.VerdictDenied:
		l.logger.Error(ctx, "request denied", fields...)
	case domain.VerdictAllowedWithWarning:
		l.logger.Info(ctx, "request allowed with warning", fields...)
	default:
		l.logger.Debug(ctx, "throttle decision", fields...)
	}
}
