package outbox

import (
	"math"
	"math/rand/v2"
	"time"
)

const maxBackoffShift = 32

// retryDelay returns the full-jitter exponential backoff for the given
// attempt number (1-based): a random duration in (0, min(base*2^(n-1), cap)].
func retryDelay(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	delay := base
	if int64(base) > math.MaxInt64>>shift {
		delay = time.Duration(math.MaxInt64)
	} else {
		delay = base << shift
	}
	if cap > 0 && delay > cap {
		delay = cap
	}

	return time.Duration(rand.Int64N(int64(delay))) + 1
}
