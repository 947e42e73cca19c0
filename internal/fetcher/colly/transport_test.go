package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRetryTransportRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{
			{err: context.DeadlineExceeded},
			{resp: httptest.NewRecorder().Result()},
		},
	}
	transport := &retryTransport{base: base, backoff: []time.Duration{time.Millisecond, time.Millisecond}}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/qp", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	if cerr := resp.Body.Close(); cerr != nil {
		t.Fatalf("resp close: %v", cerr)
	}
	if base.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", base.calls)
	}
}

func TestRetryTransportGivesUp(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: errors.New("tls: handshake timeout")}}}
	transport := &retryTransport{base: base, backoff: []time.Duration{time.Millisecond, time.Millisecond}}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/qp", nil)
	_, err := transport.RoundTrip(req)
	if err == nil || !strings.Contains(err.Error(), "exhausted 3 attempts") {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if base.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", base.calls)
	}
}

func TestRetryTransportPassesThroughPermanentErrors(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: errors.New("connection refused")}}}
	transport := &retryTransport{base: base}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/qp", nil)
	if _, err := transport.RoundTrip(req); err == nil {
		t.Fatal("expected error")
	}
	if base.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", base.calls)
	}

	post := httptest.NewRequest(http.MethodPost, "https://example.com/qp", strings.NewReader("x"))
	base.calls = 0
	base.results = []roundTripResult{{err: context.DeadlineExceeded}}
	if _, err := transport.RoundTrip(post); err == nil {
		t.Fatal("expected error")
	}
	if base.calls != 1 {
		t.Fatalf("expected POST not to be retried, got %d attempts", base.calls)
	}
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	defer func() { s.calls++ }()
	if len(s.results) == 0 {
		return nil, context.DeadlineExceeded
	}
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	return res.resp, res.err
}
