package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"auth status", &HTTPError{Status: 401, Body: "unauthorized"}, KindAuth},
		{"auth body", &HTTPError{Status: 400, Body: `{"error":{"code":"invalid_api_key"}}`}, KindAuth},
		{"quota status", &HTTPError{Status: 402, Body: "payment required"}, KindQuota},
		{"quota body", &HTTPError{Status: 400, Body: `{"error":{"code":"insufficient_quota"}}`}, KindQuota},
		{"credits body", &HTTPError{Status: 403, Body: "not enough credits"}, KindQuota},
		{"rate status", &HTTPError{Status: 429, Body: "slow down"}, KindRateLimited},
		{"rate body", &HTTPError{Status: 400, Body: "rate_limit_exceeded"}, KindRateLimited},
		{"server error", &HTTPError{Status: 503, Body: "unavailable"}, KindNetwork},
		{"wrapped http error", fmt.Errorf("chat: %w", &HTTPError{Status: 401, Body: "nope"}), KindAuth},
		{"deadline", context.DeadlineExceeded, KindNetwork},
		{"connection refused", errors.New("dial tcp: connection refused"), KindNetwork},
		{"connection reset", errors.New("read: connection reset by peer"), KindNetwork},
		{"unexpected eof", errors.New("unexpected EOF"), KindNetwork},
		{"plain error", errors.New("something else"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(&HTTPError{Status: 401, Body: "unauthorized"}) {
		t.Error("auth errors must not be retryable")
	}
	if Retryable(&HTTPError{Status: 402, Body: "insufficient_quota"}) {
		t.Error("quota errors must not be retryable")
	}
	if !Retryable(&HTTPError{Status: 502, Body: "bad gateway"}) {
		t.Error("server errors should be retryable")
	}
	if !Retryable(errors.New("dial tcp: connection refused")) {
		t.Error("connection errors should be retryable")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("5"); got != 5*time.Second {
		t.Errorf("ParseRetryAfter(5) = %v", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Errorf("ParseRetryAfter(empty) = %v", got)
	}
	if got := ParseRetryAfter("bogus"); got != 0 {
		t.Errorf("ParseRetryAfter(bogus) = %v", got)
	}
}
