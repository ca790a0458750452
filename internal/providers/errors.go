package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a provider failure for user-facing handling.
type Kind int

const (
	KindUnknown Kind = iota
	KindQuota        // credits/quota exhausted — do not retry
	KindAuth         // invalid or missing credentials — do not retry
	KindRateLimited  // provider-side rate limit — do not retry here
	KindNetwork      // transient transport failure — retryable
)

func (k Kind) String() string {
	switch k {
	case KindQuota:
		return "quota"
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from Retry-After header, 0 if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.Status, truncate(e.Body, 300))
}

// Classify maps an error from a provider call onto the failure taxonomy.
// HTTP status takes precedence; body keywords disambiguate 403-style
// quota responses that some gateways return.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		body := strings.ToLower(httpErr.Body)
		switch {
		case httpErr.Status == http.StatusUnauthorized || strings.Contains(body, "invalid_api_key"):
			return KindAuth
		case httpErr.Status == http.StatusPaymentRequired || strings.Contains(body, "insufficient_quota") || strings.Contains(body, "credits"):
			return KindQuota
		case httpErr.Status == http.StatusTooManyRequests || strings.Contains(body, "rate_limit_exceeded"):
			return KindRateLimited
		case httpErr.Status >= 500:
			return KindNetwork
		default:
			return KindUnknown
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	// url.Error wrapping connection resets etc. surfaces as syscall errors.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "timeout") || strings.Contains(msg, "eof") {
		return KindNetwork
	}

	return KindUnknown
}

// Retryable reports whether an error should be retried with backoff.
// Only transient transport failures qualify; auth, quota and rate-limit
// failures are surfaced immediately.
func Retryable(err error) bool {
	return Classify(err) == KindNetwork
}

// ParseRetryAfter parses a Retry-After header value (seconds form only).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
