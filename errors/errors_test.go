package errors_test

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/wasm-toolkit/errors"
)

func TestErrorMessageIncludesOffset(t *testing.T) {
	err := errors.Malformed(42, "bad %s", "leb128")
	msg := err.Error()
	if !strings.Contains(msg, "bad leb128") {
		t.Errorf("missing detail: %q", msg)
	}
	if !strings.Contains(msg, "offset 42") {
		t.Errorf("missing offset: %q", msg)
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  *errors.Error
		kind errors.Kind
	}{
		{errors.Malformed(0, "x"), errors.KindMalformed},
		{errors.Unsupported(0, "x"), errors.KindUnsupported},
		{errors.Invalid(0, "x"), errors.KindInvalid},
		{errors.LimitExceeded(0, "memories", 1), errors.KindLimitExceeded},
	}
	for _, tt := range tests {
		if tt.err.Kind != tt.kind {
			t.Errorf("expected kind %s, got %s", tt.kind, tt.err.Kind)
		}
		if !errors.IsKind(tt.err, tt.kind) {
			t.Errorf("IsKind(%s) = false", tt.kind)
		}
	}
}

func TestLimitExceededMessages(t *testing.T) {
	if got := errors.LimitExceeded(0, "memories", 1).Error(); !strings.Contains(got, "multiple memories") {
		t.Errorf("unexpected message for cap 1: %q", got)
	}
	if got := errors.LimitExceeded(0, "types", 1000000).Error(); !strings.Contains(got, "types count exceeds limit of 1000000") {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := errors.Invalid(9, "index out of range")
	if !stderrors.Is(err, errors.Invalid(0, "")) {
		t.Error("expected Is to match on kind")
	}
	if stderrors.Is(err, errors.Malformed(0, "")) {
		t.Error("expected Is to reject a different kind")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := errors.Wrap(errors.KindMalformed, 3, cause, "decode failed")
	if !stderrors.Is(err, cause) {
		t.Error("expected wrapped cause to be findable")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("missing cause in message: %q", err.Error())
	}
}

func TestOffsetOf(t *testing.T) {
	if got := errors.OffsetOf(errors.Invalid(17, "x")); got != 17 {
		t.Errorf("got %d, want 17", got)
	}
	if got := errors.OffsetOf(stderrors.New("plain")); got != -1 {
		t.Errorf("got %d, want -1 for foreign error", got)
	}
}
