package connectorsdk

import (
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Retry policy for SDK calls: transient failures (transport errors, 5xx)
// back off exponentially with jitter; rate limits honour a server-hinted
// Retry-After when present. Permanent answers (4xx other than 429) are
// never retried.
const (
	defaultMaxAttempts = 3
	backoffBase        = 500 * time.Millisecond
	backoffCap         = 32 * time.Second
)

// retryable reports whether an attempt's outcome warrants another try.
// resp may be nil when the transport itself failed.
func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode >= 500
}

// backoffDelay computes the wait before attempt n (0-based), honouring a
// Retry-After header when the server provided one.
func backoffDelay(n int, resp *http.Response) time.Duration {
	if resp != nil {
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, err := strconv.Atoi(after); err == nil && secs > 0 {
				d := time.Duration(secs) * time.Second
				if d > backoffCap {
					return backoffCap
				}
				return d
			}
		}
	}

	d := backoffBase << n
	if d > backoffCap {
		d = backoffCap
	}
	// Jitter within [d/2, d] keeps simultaneous retriers from thundering
	// together while staying under the cap.
	half := int64(d) / 2
	return time.Duration(half + rand.Int63n(half+1))
}
