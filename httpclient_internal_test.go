package solidapi

import (
	"context"
	"net/http"
	"testing"
)

type captureRoundTripper struct {
	req *http.Request
}

func (c *captureRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	c.req = req
	return &http.Response{StatusCode: http.StatusOK, Request: req}, nil
}

func TestCorrelationTransportForwardsID(t *testing.T) {
	capture := &captureRoundTripper{}
	transport := correlationTransport{base: capture}

	ctx := context.WithValue(context.Background(), ctxKeyCorrelationID, "abc-123")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://upstream.test/", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}

	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if got := capture.req.Header.Get("X-Request-Id"); got != "abc-123" {
		t.Fatalf("X-Request-Id = %q, want abc-123", got)
	}

	// The caller's request must not be mutated.
	if req.Header.Get("X-Request-Id") != "" {
		t.Error("original request was mutated")
	}
}

func TestCorrelationTransportKeepsExplicitID(t *testing.T) {
	capture := &captureRoundTripper{}
	transport := correlationTransport{base: capture}

	ctx := context.WithValue(context.Background(), ctxKeyCorrelationID, "abc-123")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://upstream.test/", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("X-Request-Id", "explicit")

	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if got := capture.req.Header.Get("X-Request-Id"); got != "explicit" {
		t.Fatalf("X-Request-Id = %q, want explicit", got)
	}
}

func TestCorrelationTransportOutsideRequest(t *testing.T) {
	capture := &captureRoundTripper{}
	transport := correlationTransport{base: capture}

	req, err := http.NewRequest(http.MethodGet, "http://upstream.test/", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}

	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if got := capture.req.Header.Get("X-Request-Id"); got != "" {
		t.Fatalf("X-Request-Id = %q, want empty", got)
	}
}
