package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/paper-harvester/internal/metrics"
)

var transientRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// retryTransport retries bodiless GETs that fail with a transient TLS or
// dial timeout. Other requests and errors pass straight through.
type retryTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("retry transport received nil request")
	}
	if req.Method != http.MethodGet || req.Body != nil && req.Body != http.NoBody {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("retry transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	backoff := t.backoff
	if backoff == nil {
		backoff = transientRetryBackoff
	}
	maxAttempts := len(backoff) + 1
	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) {
			return nil, fmt.Errorf("roundtrip non-transient: %w", err)
		}
		if attempt == maxAttempts-1 {
			return nil, fmt.Errorf("roundtrip exhausted %d attempts: %w", maxAttempts, err)
		}
		metrics.ObserveFetchRetry(req.URL.String())
		if err := sleepWithContext(req.Context(), backoff[attempt]); err != nil {
			return nil, fmt.Errorf("roundtrip backoff sleep: %w", err)
		}
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
