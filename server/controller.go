package server

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/json"
	"request-throttle-service/domain"
	"request-throttle-service/httperrors"
	"request-throttle-service/request"
)

type Throttle interface {
	Stats() domain.StatsSnapshot
	UpdateRateLimit(ctx context.Context, category domain.Category, newLimit int) error
	ResetCircuitBreaker(ctx context.Context, category domain.Category) error
	ClearHistory(ctx context.Context) error
}

type Controller struct {
	throttle Throttle
}

func NewController(throttle Throttle) Controller {
	return Controller{
		throttle: throttle,
	}
}

// Stats returns the current snapshot of every configured category. An
// optional category parameter (header or query string) narrows the
// snapshot to a single category.
func (c Controller) Stats(ctx *request.Context) error {
	snapshot := c.throttle.Stats()

	name := ctx.Param("category")
	if name == "" {
		return writeJson(ctx, snapshot)
	}

	category, err := domain.ParseCategory(name)
	if err != nil {
		return badRequest(err)
	}
	stats, ok := snapshot.Categories[category]
	if !ok {
		return badRequest(errors.WithMessagef(domain.ErrUnknownCategory, "'%s'", category))
	}
	snapshot.Categories = map[domain.Category]domain.CategoryStats{category: stats}

	return writeJson(ctx, snapshot)
}

// UpdateRateLimit replaces the sustained rate limit of a single category
// and responds with the category state after the change.
func (c Controller) UpdateRateLimit(ctx *request.Context) error {
	req := domain.UpdateRateLimitRequest{}
	err := readJson(ctx, &req)
	if err != nil {
		return err
	}

	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		return badRequest(err)
	}

	err = c.throttle.UpdateRateLimit(ctx.Context(), category, req.NewLimit)
	if err != nil {
		return adminError(err)
	}

	return writeJson(ctx, c.throttle.Stats().Categories[category])
}

// ResetCircuitBreaker forces the breaker of a single category back to the
// closed state and responds with the category state after the reset.
func (c Controller) ResetCircuitBreaker(ctx *request.Context) error {
	req := domain.ResetCircuitBreakerRequest{}
	err := readJson(ctx, &req)
	if err != nil {
		return err
	}

	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		return badRequest(err)
	}

	err = c.throttle.ResetCircuitBreaker(ctx.Context(), category)
	if err != nil {
		return adminError(err)
	}

	return writeJson(ctx, c.throttle.Stats().Categories[category])
}

// ClearHistory drops the request history of all categories at once and
// responds with the emptied snapshot.
func (c Controller) ClearHistory(ctx *request.Context) error {
	err := c.throttle.ClearHistory(ctx.Context())
	if err != nil {
		return adminError(err)
	}

	return writeJson(ctx, c.throttle.Stats())
}

func (c Controller) Health(ctx *request.Context) error {
	return writeJson(ctx, domain.HealthResponse{Status: "ok"})
}

func adminError(err error) error {
	switch {
	case errors.Is(err, domain.ErrUnknownCategory),
		errors.Is(err, domain.ErrInvalidLimit):
		return badRequest(err)
	case errors.Is(err, domain.ErrThrottleClosed):
		return httperrors.New(http.StatusServiceUnavailable, "service is shutting down", err)
	default:
		return err
	}
}

func badRequest(err error) error {
	return httperrors.New(http.StatusBadRequest, err.Error(), err)
}

func readJson(ctx *request.Context, target any) error {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return errors.WithMessage(err, "read request body")
	}
	err = json.Unmarshal(body, target)
	if err != nil {
		return httperrors.New(
			http.StatusBadRequest,
			"invalid request body",
			errors.WithMessage(err, "unmarshal request body"),
		)
	}
	return nil
}

func writeJson(ctx *request.Context, payload any) error {
	writer := ctx.ResponseWriter()
	writer.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(writer).Encode(payload)
	if err != nil {
		return errors.WithMessage(err, "write json response")
	}
	return nil
}
