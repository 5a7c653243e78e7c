package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	cases := []struct {
		err  error
		want Kind
	}{
		{Validation("op", base), KindValidation},
		{Transient("op", base), KindTransient},
		{Permanent("op", base), KindPermanent},
		{Storage("op", base), KindStorage},
		{Subscription("op", base), KindSubscription},
		{base, KindUnknown},
		{nil, KindUnknown},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v)=%v want %v", tc.err, got, tc.want)
		}
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	t.Parallel()

	inner := Transient("fetch", errors.New("reset"))
	wrapped := fmt.Errorf("chunk 3: %w", inner)
	if KindOf(wrapped) != KindTransient {
		t.Fatal("classification must survive fmt.Errorf wrapping")
	}
	if !IsTransient(wrapped) {
		t.Fatal("IsTransient must see through wrapping")
	}
}

func TestErrorMessageIncludesOp(t *testing.T) {
	t.Parallel()

	err := Storage("UpsertBatch", errors.New("disk full"))
	if got := err.Error(); got != "UpsertBatch: disk full" {
		t.Fatalf("Error()=%q", got)
	}
	if !errors.Is(err, err.Err) {
		t.Fatal("Unwrap must expose the underlying error")
	}
}
