package domain

type UpdateRateLimitRequest struct {
	Category string
	NewLimit int
}

type ResetCircuitBreakerRequest struct {
	Category string
}

type HealthResponse struct {
	Status string
}
