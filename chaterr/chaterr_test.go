package chaterr

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKindSentinelsMatchSpecificErrors(t *testing.T) {
	err := fmt.Errorf("remove member abc: %w", ErrCannotRemoveCreator)

	if !errors.Is(err, ErrCannotRemoveCreator) {
		t.Errorf("Expected errors.Is to match the specific sentinel")
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Expected errors.Is to match the kind sentinel")
	}
	if errors.Is(err, ErrNotMember) {
		t.Errorf("Different specific sentinels of the same kind must not match")
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("Different kinds must not match")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrRoomNotFound, KindNotFound},
		{fmt.Errorf("x: %w", ErrAlreadyMember), KindConflict},
		{IO("poll", os.ErrPermission), KindIO},
		{Decode("result", "bad json", nil), KindDecode},
		{fmt.Errorf("create: %w", Invalid("create chatroom", "creator required")), KindInvalid},
		{errors.New("plain"), KindUnknown},
		{nil, KindUnknown},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIOKeepsCause(t *testing.T) {
	err := IO("submit", os.ErrNotExist)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected wrapped cause to be reachable")
	}
	if !Retryable(err) {
		t.Errorf("Expected I/O failure to be retryable")
	}
	if UserFacing(err) {
		t.Errorf("I/O failure must not be user facing")
	}
	if IO("submit", nil) != nil {
		t.Errorf("Expected IO(nil) to be nil")
	}
}

func TestUserFacing(t *testing.T) {
	for _, err := range []error{ErrUserNotFound, ErrDuplicateUser, ErrNotMember} {
		if !UserFacing(err) {
			t.Errorf("Expected %v to be user facing", err)
		}
		if Retryable(err) {
			t.Errorf("Expected %v not to be retryable", err)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: KindIO, Op: "poll 10.0.0.5:9000", Err: os.ErrClosed}
	want := "poll 10.0.0.5:9000: " + os.ErrClosed.Error()
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
	if ErrNotFound.Error() != "not_found" {
		t.Errorf("Expected kind name for bare sentinel, got %q", ErrNotFound.Error())
	}
}

func TestInvalidArgument(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Invalid("submit", "empty node address"))

	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected errors.Is to match the invalid kind")
	}
	if !UserFacing(err) {
		t.Errorf("Expected invalid argument to be user facing")
	}
	if Retryable(err) {
		t.Errorf("Expected invalid argument not to be retryable")
	}

	var e *Error
	if !errors.As(err, &e) || e.Msg != "empty node address" {
		t.Errorf("Expected message to survive wrapping, got %v", e)
	}
	if KindInvalid.String() != "invalid_argument" {
		t.Errorf("Unexpected kind name %q", KindInvalid.String())
	}
}
