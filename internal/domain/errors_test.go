package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestStatusErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status    int
		kind      ErrorKind
		transient bool
	}{
		{http.StatusTooManyRequests, KindRateLimited, true},
		{http.StatusBadGateway, KindServer, true},
		{http.StatusGatewayTimeout, KindTimeout, true},
		{http.StatusBadRequest, KindPermanent, false},
		{http.StatusForbidden, KindPermanent, false},
	}
	for _, tc := range cases {
		err := StatusError("send", tc.status, 0, nil)
		if err.Kind != tc.kind {
			t.Fatalf("status %d: expected %s, got %s", tc.status, tc.kind, err.Kind)
		}
		if IsTransient(fmt.Errorf("wrapped: %w", err)) != tc.transient {
			t.Fatalf("status %d: unexpected transient flag", tc.status)
		}
	}
}

func TestIsRateLimitedCarriesRetryAfter(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("post: %w", StatusError("sendMessage", http.StatusTooManyRequests, 7*time.Second, nil))
	wait, ok := IsRateLimited(err)
	if !ok || wait != 7*time.Second {
		t.Fatalf("expected 7s rate limit, got %v %v", wait, ok)
	}

	if _, ok := IsRateLimited(errors.New("plain")); ok {
		t.Fatal("plain errors are not rate limits")
	}
}

func TestTransportErrorTimeout(t *testing.T) {
	t.Parallel()

	if kind := TransportError("get", context.DeadlineExceeded).Kind; kind != KindTimeout {
		t.Fatalf("expected timeout, got %s", kind)
	}
	if kind := TransportError("get", errors.New("connection refused")).Kind; kind != KindNetwork {
		t.Fatalf("expected network, got %s", kind)
	}
}
