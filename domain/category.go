package domain

import (
	"github.com/pkg/errors"
)

// Category identifies a logical class of guarded backend operations
// sharing one set of limits. The set is fixed at startup.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryBulkRead       Category = "bulk-read"
	CategoryBulkWrite      Category = "bulk-write"
	CategoryStorage        Category = "storage"
	CategoryTelemetry      Category = "telemetry"
)

func Categories() []Category {
	return []Category{
		CategoryAuthentication,
		CategoryBulkRead,
		CategoryBulkWrite,
		CategoryStorage,
		CategoryTelemetry,
	}
}

func ParseCategory(value string) (Category, error) {
	category := Category(value)
	for _, known := range Categories() {
		if category == known {
			return category, nil
		}
	}
	return "", errors.WithMessagef(ErrUnknownCategory, "'%s'", value)
}

func (c Category) String() string {
	return string(c)
}
