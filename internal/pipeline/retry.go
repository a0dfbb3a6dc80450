package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/redliner/internal/analyze"
)

// MaxRetries bounds analyzer calls per chunk.
const MaxRetries = 3

const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 20 * time.Second
)

// IsRetryable reports whether a failed chunk analysis is worth another call.
// Cancellation of the job itself never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var retryErr *analyze.RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns the wait before retry attempt n (0-indexed): doubling from
// backoffBase, capped at backoffMax, plus up to half again as jitter.
func Backoff(attempt int) time.Duration {
	base := backoffMax
	if attempt < 6 {
		base = min(backoffBase<<uint(attempt), backoffMax)
	}
	return base + time.Duration(rand.Int64N(int64(base)/2+1))
}
