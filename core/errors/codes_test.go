package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCodesMatchWireValues(t *testing.T) {
	cases := map[*Error]Code{
		ErrAlreadyInitialized: 1,
		ErrNotInitialized:     2,
		ErrBountyExists:       3,
		ErrBountyNotFound:     4,
		ErrFundsNotLocked:     5,
		ErrDeadlineNotPassed:  6,
		ErrUnauthorized:       7,
		ErrAmountBelowMinimum: 8,
		ErrAmountAboveMaximum: 9,
		ErrInvalidBatchSize:   10,
		ErrBatchSizeMismatch:  11,
		ErrDuplicateBountyID:  12,
	}
	for err, want := range cases {
		if err.Code != want {
			t.Fatalf("%s: expected code %d, got %d", err.Code, want, err.Code)
		}
	}
}

func TestWrappedErrorKeepsCode(t *testing.T) {
	wrapped := fmt.Errorf("lock 7: %w", ErrBountyExists.Wrapf("id %d", 7))
	if !stderrors.Is(wrapped, ErrBountyExists) {
		t.Fatalf("expected errors.Is to match BountyExists")
	}
	code, ok := CodeOf(wrapped)
	if !ok || code != CodeBountyExists {
		t.Fatalf("expected code %d, got %d (ok=%v)", CodeBountyExists, code, ok)
	}
	if stderrors.Is(wrapped, ErrBountyNotFound) {
		t.Fatalf("unexpected match against a different code")
	}
}

func TestCodeOfUncoded(t *testing.T) {
	if _, ok := CodeOf(stderrors.New("disk full")); ok {
		t.Fatalf("plain errors must not report a code")
	}
	if Is(nil, CodeBountyExists) {
		t.Fatalf("nil error must not match")
	}
}

func TestCodeString(t *testing.T) {
	if got := CodeDuplicateBountyID.String(); got != "DuplicateBountyId" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := Code(999).String(); got != "Code(999)" {
		t.Fatalf("unexpected fallback name %q", got)
	}
}
