package httputil

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/breeze-rmm/swupdate-agent/internal/logging"
)

var log = logging.L("httputil")

// Policy controls how requests are retried.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of delay to randomize (0.3 = ±30%)
}

// DefaultPolicy returns the retry policy used for artifact requests.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// RetryableStatus reports whether a response status is worth retrying.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// StatusError is returned when every attempt ended with a retryable status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed after retries with status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Get issues a GET request, retrying on network errors and retryable
// statuses with exponential backoff. Only the request is retried; once a
// response is returned its body belongs to the caller.
func Get(ctx context.Context, client *http.Client, url string, header http.Header, p Policy) (*http.Response, error) {
	var lastErr error
	delay := p.InitialDelay

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := jitter(delay, p.JitterFrac)
			log.Debug("retrying request", "attempt", attempt, "delay", wait, "url", url)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			delay = time.Duration(float64(delay) * p.BackoffFactor)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, vals := range header {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if !RetryableStatus(resp.StatusCode) {
			return resp, nil
		}
		resp.Body.Close()
		lastErr = &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	log.Warn("all retries exhausted", "url", url, "attempts", p.MaxRetries+1, "error", lastErr)
	return nil, lastErr
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	j := float64(d) * frac * (2*rand.Float64() - 1)
	if r := time.Duration(float64(d) + j); r > 0 {
		return r
	}
	return 0
}
