package httperrors

import (
	"net/http"

	"github.com/txix-open/isp-kit/json"
)

type HttpError struct {
	statusCode  int
	userMessage string
	err         error
}

func New(statusCode int, userMessage string, internalError error) HttpError {
	return HttpError{
		statusCode:  statusCode,
		userMessage: userMessage,
		err:         internalError,
	}
}

func (e HttpError) Error() string {
	return e.err.Error()
}

// Status reports the HTTP status code the error renders with.
func (e HttpError) Status() int {
	return e.statusCode
}

func (e HttpError) WriteError(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.statusCode)
	data := map[string]any{
		"errorCode":    http.StatusText(e.statusCode),
		"errorMessage": e.userMessage,
	}
	return json.NewEncoder(w).Encode(data)
}
