package core

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy parameterizes the shared backoff calculation used for batch
// redelivery and recovery re-submission.
type RetryPolicy struct {
	InitialInterval time.Duration
	Coefficient     float64
	MaxInterval     time.Duration
	Jitter          bool
}

// DefaultRetryPolicy matches the worker's batch retry behavior.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		InitialInterval: 30 * time.Second,
		Coefficient:     2.0,
		MaxInterval:     10 * time.Minute,
	}
}

// CalculateBackoff returns the delay before the given 1-based attempt.
// A nil policy falls back to the default.
func CalculateBackoff(policy *RetryPolicy, attempt int) time.Duration {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if attempt < 1 {
		attempt = 1
	}

	initial := policy.InitialInterval
	if initial <= 0 {
		initial = 30 * time.Second
	}
	coeff := policy.Coefficient
	if coeff <= 0 {
		coeff = 2.0
	}

	d := time.Duration(float64(initial) * math.Pow(coeff, float64(attempt-1)))
	if policy.MaxInterval > 0 && (d > policy.MaxInterval || d < 0) {
		d = policy.MaxInterval
	}

	if policy.Jitter {
		// Spread retries across 0.5x..1.5x to avoid thundering herds.
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}

	return d
}
