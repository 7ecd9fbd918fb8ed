package domain

import (
	"github.com/pkg/errors"
)

var (
	ErrUnknownCategory = errors.New("unknown service category")
	ErrThrottleClosed  = errors.New("throttle is closed")
	ErrInvalidLimit    = errors.New("limit must be positive")
)
