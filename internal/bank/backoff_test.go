package bank

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDoubles(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{-1, 100 * time.Millisecond},
	}
	for _, c := range cases {
		if got := Backoff(c.attempt); got != c.want {
			t.Errorf("Backoff(%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}

func TestWithRetryStopsOnNonContention(t *testing.T) {
	calls := 0
	sentinel := errors.New("boom")
	err := withRetry(context.Background(), nil, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestWithRetryRetriesContention(t *testing.T) {
	calls := 0
	retries := 0
	err := withRetry(context.Background(), func() { retries++ }, func() error {
		calls++
		if calls < 3 {
			return ErrContention
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if retries != 2 {
		t.Fatalf("expected 2 retry observations, got %d", retries)
	}
}

func TestWithRetryEscalatesToUnavailable(t *testing.T) {
	calls := 0
	start := time.Now()
	err := withRetry(context.Background(), nil, func() error {
		calls++
		return ErrContention
	})
	elapsed := time.Since(start)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable after exhaustion, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected 5 calls, got %d", calls)
	}
	// The final failure returns without sleeping, so only four backoff
	// delays (100+200+400+800ms) are spent.
	if elapsed >= Backoff(4)+1500*time.Millisecond {
		t.Fatalf("exhaustion path slept after the last attempt: took %s", elapsed)
	}
}
