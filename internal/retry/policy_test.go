package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"candlecache/internal/errs"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{MaxRetries: maxRetries, BaseDelay: time.Microsecond, Classify: DefaultClassify}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := fastPolicy(3).Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errs.Transient("op", errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Fatalf("attempts=%d want 3", attempts)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	t.Parallel()

	attempts := 0
	wantErr := errs.Transient("op", errors.New("still down"))
	err := fastPolicy(2).Do(context.Background(), func() error {
		attempts++
		return wantErr
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// MaxRetries retries on top of the initial attempt.
	if attempts != 3 {
		t.Fatalf("attempts=%d want 3", attempts)
	}
}

func TestDoPermanentFailsImmediately(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := fastPolicy(5).Do(context.Background(), func() error {
		attempts++
		return errs.Permanent("op", errors.New("unknown symbol"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts=%d want 1: permanent errors must not retry", attempts)
	}
}

func TestDoUntaggedErrorsRetry(t *testing.T) {
	t.Parallel()

	// DefaultClassify treats untagged errors as transient.
	attempts := 0
	_ = fastPolicy(1).Do(context.Background(), func() error {
		attempts++
		return errors.New("plain")
	})
	if attempts != 2 {
		t.Fatalf("attempts=%d want 2", attempts)
	}
}

func TestDoRespectsContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxRetries: 3, BaseDelay: time.Hour, Classify: DefaultClassify}
	err := p.Do(ctx, func() error {
		return errs.Transient("op", errors.New("flaky"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestDelayDoubles(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Fatalf("Delay(%d)=%s want %s", tc.attempt, got, tc.want)
		}
	}
}
