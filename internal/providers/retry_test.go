package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxElapsed:  time.Second,
	}
}

func TestRetryDoSucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	got, err := RetryDo(context.Background(), fastRetryConfig(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("dial tcp: connection refused")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryDo() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("RetryDo() = %q, want ok", got)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryDoGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	_, err := RetryDo(context.Background(), fastRetryConfig(), func() (string, error) {
		attempts++
		return "", errors.New("read: connection reset by peer")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryDoDoesNotRetryPermanentErrors(t *testing.T) {
	for _, status := range []int{401, 402, 429} {
		attempts := 0
		_, err := RetryDo(context.Background(), fastRetryConfig(), func() (int, error) {
			attempts++
			return 0, &HTTPError{Status: status, Body: "no"}
		})
		if err == nil {
			t.Fatalf("status %d: expected error", status)
		}
		if attempts != 1 {
			t.Errorf("status %d: attempts = %d, want 1", status, attempts)
		}
	}
}

func TestRetryDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryDo(ctx, fastRetryConfig(), func() (string, error) {
		return "", errors.New("connection refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
