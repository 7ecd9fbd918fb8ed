package domain

import (
	"time"
)

// CategoryStats describes one category at the instant the snapshot was
// taken. Utilization values are percentages, 0 to 100 and above when the
// recorded count exceeds the limit.
type CategoryStats struct {
	BurstCount       int
	BurstLimit       int
	BurstUtilization float64
	RateCount        int
	RateLimit        int
	RateUtilization  float64
	BreakerState     BreakerState
}

type StatsSnapshot struct {
	TakenAt    time.Time
	Categories map[Category]CategoryStats
}
