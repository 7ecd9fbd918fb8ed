package guard

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"request-throttle-service/domain"
)

// Categorizer maps an outgoing request to the throttle category it is
// accounted against.
type Categorizer func(r *http.Request) domain.Category

// RoundTripper guards an http transport. Denied requests never reach the
// network, the caller gets RejectedError from the client instead of a
// response.
type RoundTripper struct {
	next       http.RoundTripper
	checker    Checker
	categorize Categorizer
}

func NewRoundTripper(next http.RoundTripper, checker Checker, categorize Categorizer) RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return RoundTripper{
		next:       next,
		checker:    checker,
		categorize: categorize,
	}
}

func (rt RoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	category := rt.categorize(r)
	operation := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
	decision, err := rt.checker.Check(r.Context(), category, operation, map[string]any{
		"host": r.URL.Host,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "check request")
	}
	if !decision.Allowed() {
		return nil, RejectedError{Decision: decision}
	}
	return rt.next.RoundTrip(r)
}
