package utils

import (
	"context"
	"math"
	"math/rand"
	"time"

	"splitpay-backend/models"
)

const (
	// MaxAttempts bounds every internal retry loop.
	MaxAttempts = 3
	retryBase   = 100 * time.Millisecond
)

// Backoff returns the exponential delay for the given attempt with full
// jitter, so concurrent retriers do not stampede.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	} else if attempt > 16 {
		attempt = 16
	}
	delay := time.Duration(math.Min(
		float64(retryBase)*math.Pow(2, float64(attempt)),
		float64(5*time.Second),
	))
	return time.Duration(rand.Int63n(int64(delay) + 1))
}

// Retry runs fn up to MaxAttempts times with backoff between attempts.
// Permanent errors and context cancellation stop the loop immediately.
func Retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if models.IsPermanent(err) {
			return err
		}
		if attempt == MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(attempt)):
		}
	}
	return err
}
